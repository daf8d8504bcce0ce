// Package scoring ranks eligible shops for the allocator. The score is
// an additive blend of insurer preference, performance tier, historical
// behaviour, capability bonuses and a capped distance penalty.
package scoring

import (
	"github.com/example/glass-allocation/internal/geo"
	"github.com/example/glass-allocation/internal/models"
)

// Preferred shops must always outrank non-preferred ones. The sum of
// every other bonus tops out around 290, so 1000 keeps preference a hard
// priority while staying blendable with the quality signals.
const (
	PreferredShopBonus = 1000.0

	tierPlatinumBonus = 100.0
	tierGoldBonus     = 75.0
	tierSilverBonus   = 50.0
	tierStandardBonus = 25.0

	acceptanceWeight   = 50.0
	responseTimeCeil   = 50.0
	qualityWeight      = 8.0
	defaultQuality     = 5.0
	partsBonus         = 20.0
	adasBonus          = 30.0
	distanceRateKm     = 2.0
	distancePenaltyCap = 50.0
)

// Input carries everything the formula needs for one shop.
type Input struct {
	Shop         models.Shop
	Preferred    bool
	RequiresADAS bool
	Replacement  bool
	CustomerLoc  *models.Coord
}

func Score(in Input) float64 {
	score := 0.0
	if in.Preferred {
		score += PreferredShopBonus
	}
	score += tierBonus(in.Shop.Metrics.PerformanceTier)
	score += in.Shop.Metrics.AcceptanceRate * acceptanceWeight
	if r := responseTimeCeil - in.Shop.Metrics.ResponseTimeMinutes; r > 0 {
		score += r
	}
	quality := defaultQuality
	if in.Shop.Metrics.QualityScore != nil {
		quality = *in.Shop.Metrics.QualityScore
	}
	score += quality * qualityWeight
	if in.Replacement && in.Shop.StocksSpareParts {
		score += partsBonus
	}
	if in.RequiresADAS && in.Shop.ADASCalibration {
		score += adasBonus
	}
	if in.CustomerLoc != nil && in.Shop.Loc != nil {
		d := geo.Haversine(in.CustomerLoc.Lat, in.CustomerLoc.Lon, in.Shop.Loc.Lat, in.Shop.Loc.Lon)
		penalty := d * distanceRateKm
		if penalty > distancePenaltyCap {
			penalty = distancePenaltyCap
		}
		score -= penalty
	}
	return score
}

func tierBonus(t models.PerformanceTier) float64 {
	switch t {
	case models.TierPlatinum:
		return tierPlatinumBonus
	case models.TierGold:
		return tierGoldBonus
	case models.TierSilver:
		return tierSilverBonus
	default:
		return tierStandardBonus
	}
}
