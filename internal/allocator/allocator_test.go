package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/glass-allocation/internal/adas"
	"github.com/example/glass-allocation/internal/eligibility"
	"github.com/example/glass-allocation/internal/models"
	"github.com/example/glass-allocation/internal/storage"
)

type fakeDirectory struct{ shops []models.Shop }

func (f *fakeDirectory) All() []models.Shop { return f.shops }

type fakeDetector struct {
	res adas.Result
	err error
}

func (f *fakeDetector) RequiresCalibration(ctx context.Context, v models.VehicleInfo, damageType, damageLocation string) (adas.Result, error) {
	return f.res, f.err
}

type recDispatcher struct{ notified []models.JobOffer }

func (r *recDispatcher) Notify(ctx context.Context, offer models.JobOffer) error {
	r.notified = append(r.notified, offer)
	return nil
}

type eventRecorder struct{ events []models.OfferEvent }

func (r *eventRecorder) Publish(ctx context.Context, ev models.OfferEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func allQualified(ctx context.Context, shopID string, st models.ServiceType, damageType, vehicleMake string) (bool, error) {
	return true, nil
}

func newService(shops []models.Shop, det adas.Result) (*Service, *storage.MemoryStore, *recDispatcher, *eventRecorder) {
	store := storage.NewMemoryStore()
	disp := &recDispatcher{}
	ev := &eventRecorder{}
	svc := &Service{
		Directory: &fakeDirectory{shops: shops},
		Qualify:   allQualified,
		Detector:  &fakeDetector{res: det},
		Dispatch:  disp,
		Store:     store,
		Events:    ev,
	}
	return svc, store, disp, ev
}

func eligibleShop(id string, mut func(*models.Shop)) models.Shop {
	s := models.Shop{
		ID:                id,
		Name:              "shop " + id,
		InsuranceApproved: true,
		ServiceCapability: models.CapabilityBoth,
		RepairTypes:       models.RepairBoth,
		Metrics:           models.ShopMetrics{PerformanceTier: models.TierStandard},
	}
	if mut != nil {
		mut(&s)
	}
	return s
}

func replacementRequest(id string) models.ServiceRequest {
	return models.ServiceRequest{
		ID:          id,
		ServiceType: models.ServiceReplacement,
		DamageType:  "windshield_crack",
		Vehicle:     models.VehicleInfo{Make: "Subaru", Model: "Outback", Year: 2021},
		InsurerName: "acme",
		JobStatus:   models.JobScheduled,
	}
}

// The replacement+ADAS scenario: six capability-matched shops, two of
// them ADAS-capable, one of those preferred by the insurer.
func TestAllocateReplacementWithADAS(t *testing.T) {
	shops := []models.Shop{
		eligibleShop("s1", nil),
		eligibleShop("s2", nil),
		eligibleShop("s3", func(s *models.Shop) {
			s.ADASCalibration = true
			// deliberately weak metrics so only preference can rank it first
			s.Metrics.ResponseTimeMinutes = 120
		}),
		eligibleShop("s4", nil),
		eligibleShop("s5", func(s *models.Shop) {
			s.ADASCalibration = true
			s.Metrics.PerformanceTier = models.TierPlatinum
			s.Metrics.AcceptanceRate = 1
		}),
		eligibleShop("s6", nil),
	}
	svc, store, disp, ev := newService(shops, adas.Result{Required: true, Reason: "camera behind glass"})
	_ = store.UpsertPreferredShop(context.Background(), models.PreferredShopRelation{InsurerName: "acme", ShopID: "s3", IsActive: true})

	offers, err := svc.Allocate(context.Background(), replacementRequest("r1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected exactly 2 offers, got %d", len(offers))
	}
	if offers[0].ShopID != "s3" || !offers[0].IsPreferredShop {
		t.Fatalf("preferred shop must rank first regardless of raw metrics, got %+v", offers[0])
	}
	for _, o := range offers {
		if o.OfferedPrice != 500 {
			t.Fatalf("expected price 350+150=500, got %f", o.OfferedPrice)
		}
		if !o.ExpiresAt.Equal(o.OfferedAt.Add(24 * time.Hour)) {
			t.Fatalf("expected 24h TTL, got %s -> %s", o.OfferedAt, o.ExpiresAt)
		}
		if !o.RequiresADAS || o.Status != models.OfferOffered {
			t.Fatalf("offer flags wrong: %+v", o)
		}
	}
	if len(disp.notified) != 2 {
		t.Fatalf("expected a notification per offer, got %d", len(disp.notified))
	}
	if len(ev.events) != 2 || ev.events[0].Type != models.EventOfferCreated {
		t.Fatalf("expected offer_created events, got %+v", ev.events)
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	shops := []models.Shop{
		eligibleShop("a", func(s *models.Shop) { s.Metrics.AcceptanceRate = 0.4 }),
		eligibleShop("b", nil),
		eligibleShop("c", nil), // equal score with b, directory order must hold
		eligibleShop("d", func(s *models.Shop) { s.Metrics.PerformanceTier = models.TierGold }),
	}
	run := func() []models.JobOffer {
		svc, _, _, _ := newService(shops, adas.Result{})
		offers, err := svc.Allocate(context.Background(), models.ServiceRequest{
			ID:          "r1",
			ServiceType: models.ServiceRepair,
			DamageType:  "stone_chip",
		})
		if err != nil {
			t.Fatal(err)
		}
		return offers
	}
	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("batch sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ShopID != second[i].ShopID || first[i].Score != second[i].Score {
			t.Fatalf("run differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	// b and c tie; directory order decides
	if first[2].ShopID != "b" || first[3].ShopID != "c" {
		t.Fatalf("equal scores must keep directory order, got %s then %s", first[2].ShopID, first[3].ShopID)
	}
}

func TestAllocateCapsAtTopFive(t *testing.T) {
	var shops []models.Shop
	for i := 0; i < 7; i++ {
		shops = append(shops, eligibleShop(fmt.Sprintf("s%d", i), nil))
	}
	svc, _, _, _ := newService(shops, adas.Result{})
	offers, err := svc.Allocate(context.Background(), models.ServiceRequest{ID: "r1", ServiceType: models.ServiceRepair})
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 5 {
		t.Fatalf("expected 5 offers, got %d", len(offers))
	}
	if offers[0].OfferedPrice != 80 {
		t.Fatalf("repair base price must be 80, got %f", offers[0].OfferedPrice)
	}
}

type flakyStore struct {
	*storage.MemoryStore
	failShopID string
}

func (f *flakyStore) CreateOffer(ctx context.Context, o *models.JobOffer) error {
	if o.ShopID == f.failShopID {
		return errors.New("constraint violation")
	}
	return f.MemoryStore.CreateOffer(ctx, o)
}

func TestAllocatePartialPersistenceFailure(t *testing.T) {
	shops := []models.Shop{eligibleShop("good1", nil), eligibleShop("bad", nil), eligibleShop("good2", nil)}
	svc, _, _, _ := newService(shops, adas.Result{})
	svc.Store = &flakyStore{MemoryStore: storage.NewMemoryStore(), failShopID: "bad"}

	offers, err := svc.Allocate(context.Background(), models.ServiceRequest{ID: "r1", ServiceType: models.ServiceRepair})
	if err != nil {
		t.Fatalf("partial failure must not abort the batch: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected the 2 persisted offers, got %d", len(offers))
	}
	for _, o := range offers {
		if o.ShopID == "bad" {
			t.Fatalf("failed row must not appear in the result")
		}
	}
}

func TestAllocateReservationBlocksDoubleRun(t *testing.T) {
	svc, store, _, _ := newService([]models.Shop{eligibleShop("s1", nil)}, adas.Result{})
	ok, err := store.TryReserveAllocation(context.Background(), "r1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("seed reservation failed: ok=%v err=%v", ok, err)
	}
	_, err = svc.Allocate(context.Background(), models.ServiceRequest{ID: "r1", ServiceType: models.ServiceRepair})
	if !errors.Is(err, ErrAllocationInProgress) {
		t.Fatalf("expected ErrAllocationInProgress, got %v", err)
	}
}

func TestAllocatePropagatesEligibilityErrors(t *testing.T) {
	// replacement request against a repair-only directory
	shops := []models.Shop{eligibleShop("s1", func(s *models.Shop) { s.ServiceCapability = models.CapabilityRepairOnly })}
	svc, _, _, _ := newService(shops, adas.Result{})
	_, err := svc.Allocate(context.Background(), models.ServiceRequest{ID: "r1", ServiceType: models.ServiceReplacement})
	if !errors.Is(err, eligibility.ErrNoEligibleShops) {
		t.Fatalf("expected ErrNoEligibleShops, got %v", err)
	}

	svc2, _, _, _ := newService([]models.Shop{eligibleShop("s1", nil)}, adas.Result{})
	svc2.Qualify = func(ctx context.Context, shopID string, st models.ServiceType, damageType, vehicleMake string) (bool, error) {
		return false, nil
	}
	_, err = svc2.Allocate(context.Background(), models.ServiceRequest{ID: "r2", ServiceType: models.ServiceRepair})
	if !errors.Is(err, eligibility.ErrNoQualifiedShops) {
		t.Fatalf("expected ErrNoQualifiedShops, got %v", err)
	}
}

func TestAllocateDetectorFailureIsHard(t *testing.T) {
	svc, _, _, _ := newService([]models.Shop{eligibleShop("s1", nil)}, adas.Result{})
	svc.Detector = &fakeDetector{err: errors.New("detector unavailable")}
	_, err := svc.Allocate(context.Background(), models.ServiceRequest{ID: "r1", ServiceType: models.ServiceRepair})
	if err == nil {
		t.Fatalf("detector failure must abort allocation")
	}
}

// Concurrent allocations for one insurer share the preferred-shop cache;
// run with -race to catch an unsynchronized install.
func TestAllocateConcurrentSharesPreferredCache(t *testing.T) {
	shops := []models.Shop{eligibleShop("s1", nil), eligibleShop("s2", nil)}
	store := storage.NewMemoryStore()
	if err := store.UpsertPreferredShop(context.Background(), models.PreferredShopRelation{
		InsurerName: "acme", ShopID: "s1", IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	svc := &Service{
		Directory: &fakeDirectory{shops: shops},
		Qualify:   allQualified,
		Detector:  &fakeDetector{},
		Store:     store,
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := replacementRequest(fmt.Sprintf("r%d", i))
			offers, err := svc.Allocate(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			if len(offers) != 2 || !offers[0].IsPreferredShop {
				errs <- fmt.Errorf("request r%d: unexpected batch %+v", i, offers)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
