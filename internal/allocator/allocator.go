// Package allocator runs the end-to-end allocation for one service
// request: eligibility filtering, scoring, ranking, offer creation and
// shop notification.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/glass-allocation/internal/adas"
	"github.com/example/glass-allocation/internal/dispatch"
	"github.com/example/glass-allocation/internal/eligibility"
	"github.com/example/glass-allocation/internal/models"
	"github.com/example/glass-allocation/internal/observability"
	"github.com/example/glass-allocation/internal/scoring"
	"github.com/example/glass-allocation/internal/storage"
)

// Placeholder business constants, not computed estimates. Callers must
// not read market pricing into them.
const (
	BaseReplacementPrice = 350.0
	BaseRepairPrice      = 80.0
	ADASUpcharge         = 150.0
)

const (
	DefaultTopN     = 5
	DefaultOfferTTL = 24 * time.Hour

	preferredCacheTTL = time.Minute

	// reservationTTL bounds how long a crashed allocation can block
	// re-allocation of the same request.
	reservationTTL = 30 * time.Second
)

// ErrAllocationInProgress: another allocation batch for the same request
// holds the reservation. Re-allocation is an explicit caller decision,
// never an accidental double run.
var ErrAllocationInProgress = errors.New("allocation already in progress for request")

// Directory is the shop-directory query the allocator consumes.
type Directory interface {
	All() []models.Shop
}

// EventSink receives offer_created entries for the append-only log.
type EventSink interface {
	Publish(ctx context.Context, ev models.OfferEvent) error
}

type Service struct {
	Directory Directory
	Qualify   eligibility.QualifyFunc
	Detector  adas.Detector
	Dispatch  dispatch.Dispatcher
	Store     storage.AllocationStore
	Events    EventSink // optional
	Logger    *slog.Logger

	TopN     int
	OfferTTL time.Duration
	Clock    func() time.Time

	prefOnce  sync.Once
	preferred *preferredCache
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Allocate produces the ranked offer batch for one request.
//
// A detector failure aborts the allocation: defaulting to "no
// calibration needed" on a vehicle that needs it is not a risk this
// system accepts. A failed persistence write for one offer only skips
// that candidate; the batch returns whatever was actually created.
func (s *Service) Allocate(ctx context.Context, req models.ServiceRequest) ([]models.JobOffer, error) {
	if !req.ServiceType.Valid() {
		return nil, fmt.Errorf("unknown service type %q", req.ServiceType)
	}
	start := s.now()

	reserved, err := s.Store.TryReserveAllocation(ctx, req.ID, reservationTTL)
	if err != nil {
		return nil, fmt.Errorf("reserve allocation: %w", err)
	}
	if !reserved {
		return nil, ErrAllocationInProgress
	}
	defer func() { _ = s.Store.ReleaseAllocation(ctx, req.ID) }()

	det, err := s.Detector.RequiresCalibration(ctx, req.Vehicle, req.DamageType, req.DamageLocation)
	if err != nil {
		return nil, fmt.Errorf("adas detection: %w", err)
	}

	preferredIDs := s.preferredFor(ctx, req.InsurerName)

	eligible, err := eligibility.Filter(ctx, eligibility.Criteria{
		ServiceType:  req.ServiceType,
		DamageType:   req.DamageType,
		RequiresADAS: det.Required,
		VehicleMake:  req.Vehicle.Make,
	}, s.Directory.All(), s.Qualify)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		shop      models.Shop
		score     float64
		preferred bool
	}
	cands := make([]candidate, 0, len(eligible))
	for _, shop := range eligible {
		pref := preferredIDs[shop.ID]
		cands = append(cands, candidate{
			shop:      shop,
			preferred: pref,
			score: scoring.Score(scoring.Input{
				Shop:         shop,
				Preferred:    pref,
				RequiresADAS: det.Required,
				Replacement:  req.ServiceType == models.ServiceReplacement,
				CustomerLoc:  req.CustomerLoc,
			}),
		})
	}
	// stable keeps directory order on equal scores, which makes ranking
	// deterministic for identical inputs
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	topN := s.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	if len(cands) > topN {
		cands = cands[:topN]
	}

	now := s.now()
	price := basePrice(req.ServiceType)
	if det.Required {
		price += ADASUpcharge
	}

	created := make([]models.JobOffer, 0, len(cands))
	for _, c := range cands {
		offer := models.JobOffer{
			ID:                  uuid.NewString(),
			RequestID:           req.ID,
			ShopID:              c.shop.ID,
			ShopName:            c.shop.Name,
			OfferedPrice:        price,
			EstimatedCompletion: estimatedCompletion(req.ServiceType, det.Required),
			Status:              models.OfferOffered,
			OfferedAt:           now,
			ExpiresAt:           now.Add(s.offerTTLOrDefault()),
			RequiresADAS:        det.Required,
			IsPreferredShop:     c.preferred,
			Score:               c.score,
		}
		if err := s.Store.CreateOffer(ctx, &offer); err != nil {
			// one bad row must not abort the rest of the batch
			s.log().Error("offer persistence failed, skipping candidate",
				"request_id", req.ID, "shop_id", c.shop.ID, "error", err)
			continue
		}
		observability.OffersCreatedTotal.Inc()
		if s.Dispatch != nil {
			if err := s.Dispatch.Notify(ctx, offer); err != nil {
				s.log().Warn("shop notification failed", "shop_id", c.shop.ID, "offer_id", offer.ID, "error", err)
			}
		}
		s.publish(ctx, models.OfferEvent{
			ID:        uuid.NewString(),
			Type:      models.EventOfferCreated,
			OfferID:   offer.ID,
			RequestID: req.ID,
			ShopID:    c.shop.ID,
			At:        now,
		})
		created = append(created, offer)
	}

	observability.AllocationsTotal.Inc()
	observability.AllocationLatency.Observe(s.now().Sub(start).Seconds())
	return created, nil
}

// preferredFor resolves the insurer's preferred shop ids, empty when
// there is no insurer, no profile, or the relation store is unreachable.
// Preference is a ranking bias, not a capability: losing it degrades the
// ordering, never the allocation.
func (s *Service) preferredFor(ctx context.Context, insurer string) map[string]bool {
	if insurer == "" {
		return map[string]bool{}
	}
	// one Service serves all requests, so the cache install must not race
	s.prefOnce.Do(func() { s.preferred = newPreferredCache(preferredCacheTTL) })
	if ids, ok := s.preferred.Get(insurer); ok {
		return ids
	}
	ids, err := s.Store.PreferredShopIDs(ctx, insurer)
	if err != nil {
		s.log().Warn("preferred shop lookup failed, scoring without preference", "insurer", insurer, "error", err)
		return map[string]bool{}
	}
	s.preferred.Set(insurer, ids)
	return ids
}

func (s *Service) offerTTLOrDefault() time.Duration {
	if s.OfferTTL > 0 {
		return s.OfferTTL
	}
	return DefaultOfferTTL
}

func (s *Service) publish(ctx context.Context, ev models.OfferEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.log().Error("offer event publish failed", "event", string(ev.Type), "offer_id", ev.OfferID, "error", err)
	}
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func basePrice(t models.ServiceType) float64 {
	if t == models.ServiceReplacement {
		return BaseReplacementPrice
	}
	return BaseRepairPrice
}

func estimatedCompletion(t models.ServiceType, requiresADAS bool) time.Duration {
	d := time.Hour
	if t == models.ServiceReplacement {
		d = 3 * time.Hour
	}
	if requiresADAS {
		d += time.Hour
	}
	return d
}
