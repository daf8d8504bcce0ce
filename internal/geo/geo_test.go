package geo

import (
	"math"
	"testing"

	"github.com/example/glass-allocation/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Tallinn -> Tartu, roughly 165 km as the crow flies
	d := Haversine(59.437, 24.7536, 58.3776, 26.729)
	if math.Abs(d-165) > 5 {
		t.Fatalf("expected ~165 km, got %f", d)
	}
}

func TestHaversinePropagatesNaN(t *testing.T) {
	d := Haversine(math.NaN(), 0, 0, 0)
	if !math.IsNaN(d) {
		t.Fatalf("expected NaN to propagate, got %f", d)
	}
}

func TestIndexAllPreservesInsertionOrder(t *testing.T) {
	idx := NewIndex()
	for _, id := range []string{"s3", "s1", "s2"} {
		idx.Upsert(models.Shop{ID: id})
	}
	idx.Upsert(models.Shop{ID: "s1", Name: "renamed"}) // update must not reorder
	all := idx.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 shops, got %d", len(all))
	}
	want := []string{"s3", "s1", "s2"}
	for i, s := range all {
		if s.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], s.ID)
		}
	}
	if all[1].Name != "renamed" {
		t.Fatalf("expected upsert to update in place")
	}
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Shop{ID: "far", Loc: &models.Coord{Lat: 1, Lon: 1}})
	idx.Upsert(models.Shop{ID: "near", Loc: &models.Coord{Lat: 0.01, Lon: 0.01}})
	idx.Upsert(models.Shop{ID: "nocoord"})
	got := idx.Nearby(0, 0, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 shops, got %d", len(got))
	}
	if got[0].ID != "near" || got[1].ID != "far" {
		t.Fatalf("expected [near far], got [%s %s]", got[0].ID, got[1].ID)
	}
}
