// Package lifecycle owns the two state machines of the core: offer
// resolution (offered -> accepted/declined/expired, all terminal) and the
// job on a service request (scheduled -> in_progress -> completed, with
// cancellation from the two non-terminal states). Every mutation is
// validated here before anything touches the store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/glass-allocation/internal/models"
	"github.com/example/glass-allocation/internal/observability"
	"github.com/example/glass-allocation/internal/storage"
)

// ErrAlreadyResolved: the offer was accepted, declined or expired before
// this action landed. The caller should refresh, not retry.
var ErrAlreadyResolved = errors.New("offer already resolved")

// ErrNoAcceptedOffer guards the cross-model invariant: a job cannot
// complete while no offer for it is accepted.
var ErrNoAcceptedOffer = errors.New("job has no accepted offer")

// InvalidTransitionError reports an out-of-order job status change. It
// carries both statuses verbatim because these are always programming or
// UI bugs and get surfaced for diagnosis, never retried.
type InvalidTransitionError struct {
	From models.JobStatus
	To   models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

// jobTransitions is the single source of truth for job status legality.
var jobTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobScheduled:  {models.JobInProgress, models.JobCancelled},
	models.JobInProgress: {models.JobCompleted, models.JobCancelled},
	models.JobCompleted:  {},
	models.JobCancelled:  {},
}

func CanTransition(from, to models.JobStatus) bool {
	for _, t := range jobTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// EventSink receives append-only offer lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, ev models.OfferEvent) error
}

// SlotReleaser frees the time slot a job occupied. Called before the
// cancel transition is written, so a failed release aborts the
// cancellation with the job status unchanged.
type SlotReleaser interface {
	Release(ctx context.Context, requestID string) error
}

type Machine struct {
	Store  storage.AllocationStore
	Events EventSink    // optional
	Slots  SlotReleaser // optional
	Clock  func() time.Time
	Logger *slog.Logger
}

func (m *Machine) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// RespondToOffer applies a shop's accept or decline. The write is a
// guarded conditional: whoever resolves the offer first wins, everyone
// else gets ErrAlreadyResolved. An offer past its deadline resolves as
// expired here even if no sweep rewrote the row.
func (m *Machine) RespondToOffer(ctx context.Context, offerID string, decision models.OfferStatus, reason string) (*models.JobOffer, error) {
	if decision != models.OfferAccepted && decision != models.OfferDeclined {
		return nil, fmt.Errorf("decision must be accepted or declined, got %q", decision)
	}
	offer, err := m.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if eff := offer.EffectiveStatus(now); eff != models.OfferOffered {
		if eff == models.OfferExpired && offer.Status == models.OfferOffered {
			m.materializeExpiry(ctx, offer, now)
		}
		return nil, ErrAlreadyResolved
	}
	resolved, err := m.Store.ResolveOffer(ctx, offerID, decision, reason, now)
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, err
	}
	observability.OffersResolvedTotal.WithLabelValues(string(decision)).Inc()
	m.publish(ctx, models.OfferEvent{
		ID:              uuid.NewString(),
		Type:            eventTypeFor(decision),
		OfferID:         resolved.ID,
		RequestID:       resolved.RequestID,
		ShopID:          resolved.ShopID,
		ResponseMinutes: now.Sub(resolved.OfferedAt).Minutes(),
		At:              now,
	})
	return resolved, nil
}

// TransitionJob applies one job status change, validated against the
// adjacency table before any write, and appends an immutable audit row.
func (m *Machine) TransitionJob(ctx context.Context, requestID string, to models.JobStatus, actor, notes string) (*models.JobStatusAudit, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown job status %q", to)
	}
	req, err := m.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	from := req.JobStatus
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}
	if to == models.JobCompleted {
		accepted, err := m.Store.HasAcceptedOffer(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if !accepted {
			return nil, ErrNoAcceptedOffer
		}
	}
	now := m.now()
	// release before the write: a failed release aborts the cancellation
	// with the stored status unchanged
	if to == models.JobCancelled && m.Slots != nil {
		if err := m.Slots.Release(ctx, requestID); err != nil {
			return nil, fmt.Errorf("release slot for cancelled job %s: %w", requestID, err)
		}
	}
	audit := &models.JobStatusAudit{
		ID:        uuid.NewString(),
		RequestID: requestID,
		OldStatus: from,
		NewStatus: to,
		Actor:     actor,
		Notes:     notes,
		At:        now,
	}
	// status write and audit append land atomically or not at all
	if err := m.Store.ApplyTransition(ctx, requestID, from, to, now, audit); err != nil {
		return nil, err
	}
	observability.JobTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	return audit, nil
}

// ExpireDue physically rewrites offers past their deadline. Optional:
// readers already treat overdue offers as expired.
func (m *Machine) ExpireDue(ctx context.Context) (int, error) {
	n, err := m.Store.ExpireDueOffers(ctx, m.now())
	if err == nil && n > 0 {
		observability.OffersExpiredTotal.Add(float64(n))
	}
	return n, err
}

func (m *Machine) materializeExpiry(ctx context.Context, offer *models.JobOffer, now time.Time) {
	if _, err := m.Store.ResolveOffer(ctx, offer.ID, models.OfferExpired, "", now); err != nil {
		// someone else resolved it first, nothing to record
		return
	}
	observability.OffersExpiredTotal.Inc()
	m.publish(ctx, models.OfferEvent{
		ID:        uuid.NewString(),
		Type:      models.EventOfferExpired,
		OfferID:   offer.ID,
		RequestID: offer.RequestID,
		ShopID:    offer.ShopID,
		At:        now,
	})
}

func (m *Machine) publish(ctx context.Context, ev models.OfferEvent) {
	if m.Events == nil {
		return
	}
	if err := m.Events.Publish(ctx, ev); err != nil && m.Logger != nil {
		m.Logger.Error("offer event publish failed", "event", string(ev.Type), "offer_id", ev.OfferID, "error", err)
	}
}

func eventTypeFor(decision models.OfferStatus) models.OfferEventType {
	if decision == models.OfferAccepted {
		return models.EventOfferAccepted
	}
	return models.EventOfferDeclined
}
