// Package stats folds the append-only offer event stream into per-shop
// rolling performance metrics. Keeping this as an aggregation over
// history, instead of counters the allocator mutates in place, makes the
// scorer's inputs reproducible from the log.
package stats

import (
	"strconv"
	"sync"

	"github.com/example/glass-allocation/internal/models"
)

type shopTotals struct {
	offered         int64
	accepted        int64
	declined        int64
	expired         int64
	responseMinutes float64
	responses       int64
}

type Aggregator struct {
	mu     sync.Mutex
	totals map[string]*shopTotals
}

func NewAggregator() *Aggregator {
	return &Aggregator{totals: make(map[string]*shopTotals)}
}

func (a *Aggregator) Apply(ev models.OfferEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.totals[ev.ShopID]
	if !ok {
		t = &shopTotals{}
		a.totals[ev.ShopID] = t
	}
	switch ev.Type {
	case models.EventOfferCreated:
		t.offered++
	case models.EventOfferAccepted:
		t.accepted++
		t.responses++
		t.responseMinutes += ev.ResponseMinutes
	case models.EventOfferDeclined:
		t.declined++
		t.responses++
		t.responseMinutes += ev.ResponseMinutes
	case models.EventOfferExpired:
		t.expired++
	}
}

// Snapshot is the aggregated read model for one shop.
type Snapshot struct {
	JobsOffered         int64
	JobsAccepted        int64
	AcceptanceRate      float64 // accepted / offered, 0..1
	MeanResponseMinutes float64
}

func (a *Aggregator) Snapshot(shopID string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.totals[shopID]
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{JobsOffered: t.offered, JobsAccepted: t.accepted}
	if t.offered > 0 {
		s.AcceptanceRate = float64(t.accepted) / float64(t.offered)
	}
	if t.responses > 0 {
		s.MeanResponseMinutes = t.responseMinutes / float64(t.responses)
	}
	return s, true
}

// Fields renders the snapshot into the shop metadata hash layout the
// allocator's Redis directory reads back.
func (s Snapshot) Fields() map[string]interface{} {
	return map[string]interface{}{
		"jobs_offered":     strconv.FormatInt(s.JobsOffered, 10),
		"jobs_accepted":    strconv.FormatInt(s.JobsAccepted, 10),
		"acceptance_rate":  strconv.FormatFloat(s.AcceptanceRate, 'f', -1, 64),
		"response_minutes": strconv.FormatFloat(s.MeanResponseMinutes, 'f', -1, 64),
	}
}
