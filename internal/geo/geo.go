package geo

import (
	"math"
	"sync"

	"github.com/example/glass-allocation/internal/models"
)

// ShopDirectory is the minimal interface the allocator and handlers need.
type ShopDirectory interface {
	All() []models.Shop
	Nearby(lat, lon float64, limit int) []models.Shop
	Upsert(s models.Shop)
}

type Index struct {
	mu    sync.RWMutex
	shops map[string]models.Shop
	order []string
}

func NewIndex() *Index {
	return &Index{shops: make(map[string]models.Shop)}
}

func (g *Index) Upsert(s models.Shop) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.shops[s.ID]; !ok {
		g.order = append(g.order, s.ID)
	}
	g.shops[s.ID] = s
}

// All returns shops in insertion order. The allocator relies on this
// order being stable so that equal-score ranking is deterministic.
func (g *Index) All() []models.Shop {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Shop, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.shops[id])
	}
	return out
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon float64, limit int) []models.Shop {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		s    models.Shop
		dist float64
	}
	arr := make([]pair, 0, len(g.shops))
	for _, id := range g.order {
		s := g.shops[id]
		if s.Loc == nil {
			continue
		}
		dist := Haversine(lat, lon, s.Loc.Lat, s.Loc.Lon)
		arr = append(arr, pair{s, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Shop, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].s)
	}
	return out
}

// Haversine distance in kilometers
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
