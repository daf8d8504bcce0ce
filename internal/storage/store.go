package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/glass-allocation/internal/models"
)

var (
	// ErrNotFound: no row for the given id.
	ErrNotFound = errors.New("not found")
	// ErrActiveOfferExists guards the at-most-one-active-offer invariant
	// per (request, shop) pair.
	ErrActiveOfferExists = errors.New("active offer already exists for request/shop pair")
	// ErrStatusConflict: a guarded conditional write lost a race, the row
	// no longer holds the expected status.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// AllocationStore is the persistence boundary of the allocation core:
// service requests, job offers, the append-only status audit log,
// preferred-shop relations and the short-lived per-request allocation
// reservation.
type AllocationStore interface {
	SaveRequest(ctx context.Context, r *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)

	CreateOffer(ctx context.Context, o *models.JobOffer) error
	GetOffer(ctx context.Context, id string) (*models.JobOffer, error)
	OffersByRequest(ctx context.Context, requestID string) ([]models.JobOffer, error)
	// ResolveOffer transitions an offer out of offered iff it is still
	// offered; losers of the race get ErrStatusConflict.
	ResolveOffer(ctx context.Context, id string, to models.OfferStatus, reason string, at time.Time) (*models.JobOffer, error)
	// ExpireDueOffers physically rewrites offers past their deadline.
	// Optional sweep; readers never depend on it having run.
	ExpireDueOffers(ctx context.Context, now time.Time) (int, error)
	HasAcceptedOffer(ctx context.Context, requestID string) (bool, error)

	// ApplyTransition writes the new job status iff the row still holds
	// from (ErrStatusConflict otherwise) and appends the audit row in the
	// same atomic step: either both land or neither does.
	ApplyTransition(ctx context.Context, requestID string, from, to models.JobStatus, at time.Time, audit *models.JobStatusAudit) error
	AuditTrail(ctx context.Context, requestID string) ([]models.JobStatusAudit, error)

	PreferredShopIDs(ctx context.Context, insurer string) (map[string]bool, error)
	UpsertPreferredShop(ctx context.Context, rel models.PreferredShopRelation) error

	// TryReserveAllocation takes the per-request allocation reservation;
	// false means another allocation for the request is still running.
	TryReserveAllocation(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	ReleaseAllocation(ctx context.Context, requestID string) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*models.ServiceRequest
	offers    map[string]*models.JobOffer
	audits    map[string][]models.JobStatusAudit
	preferred map[string][]models.PreferredShopRelation
	reserved  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.ServiceRequest),
		offers:    make(map[string]*models.JobOffer),
		audits:    make(map[string][]models.JobStatusAudit),
		preferred: make(map[string][]models.PreferredShopRelation),
		reserved:  make(map[string]time.Time),
	}
}

func (m *MemoryStore) SaveRequest(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateOffer(ctx context.Context, o *models.JobOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.offers {
		if ex.RequestID == o.RequestID && ex.ShopID == o.ShopID && ex.Status == models.OfferOffered {
			return ErrActiveOfferExists
		}
	}
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOffer(ctx context.Context, id string) (*models.JobOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) OffersByRequest(ctx context.Context, requestID string) ([]models.JobOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.JobOffer
	for _, o := range m.offers {
		if o.RequestID == requestID {
			out = append(out, *o)
		}
	}
	sortOffers(out)
	return out, nil
}

func (m *MemoryStore) ResolveOffer(ctx context.Context, id string, to models.OfferStatus, reason string, at time.Time) (*models.JobOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != models.OfferOffered {
		return nil, ErrStatusConflict
	}
	o.Status = to
	o.DeclineReason = reason
	if to != models.OfferExpired {
		t := at
		o.RespondedAt = &t
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ExpireDueOffers(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.offers {
		if o.Status == models.OfferOffered && now.After(o.ExpiresAt) {
			o.Status = models.OfferExpired
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) HasAcceptedOffer(ctx context.Context, requestID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.offers {
		if o.RequestID == requestID && o.Status == models.OfferAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, requestID string, from, to models.JobStatus, at time.Time, audit *models.JobStatusAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if r.JobStatus != from {
		return ErrStatusConflict
	}
	r.JobStatus = to
	r.UpdatedAt = at
	switch to {
	case models.JobInProgress:
		t := at
		r.JobStartedAt = &t
	case models.JobCompleted:
		t := at
		r.JobCompletedAt = &t
	}
	m.audits[requestID] = append(m.audits[requestID], *audit)
	return nil
}

func (m *MemoryStore) AuditTrail(ctx context.Context, requestID string) ([]models.JobStatusAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.JobStatusAudit, len(m.audits[requestID]))
	copy(out, m.audits[requestID])
	return out, nil
}

func (m *MemoryStore) PreferredShopIDs(ctx context.Context, insurer string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool)
	for _, rel := range m.preferred[insurer] {
		if rel.IsActive {
			out[rel.ShopID] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertPreferredShop(ctx context.Context, rel models.PreferredShopRelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rels := m.preferred[rel.InsurerName]
	for i, ex := range rels {
		if ex.ShopID == rel.ShopID {
			rels[i] = rel
			return nil
		}
	}
	m.preferred[rel.InsurerName] = append(rels, rel)
	return nil
}

func (m *MemoryStore) TryReserveAllocation(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if until, ok := m.reserved[requestID]; ok && now.Before(until) {
		return false, nil
	}
	m.reserved[requestID] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) ReleaseAllocation(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, requestID)
	return nil
}

// sortOffers orders by descending score then offer id so listings are
// stable regardless of map iteration.
func sortOffers(offers []models.JobOffer) {
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].Score != offers[j].Score {
			return offers[i].Score > offers[j].Score
		}
		return offers[i].ID < offers[j].ID
	})
}
