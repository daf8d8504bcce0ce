package scoring

import (
	"testing"

	"github.com/example/glass-allocation/internal/models"
)

func baseShop() models.Shop {
	return models.Shop{
		ID:                "s1",
		InsuranceApproved: true,
		Metrics:           models.ShopMetrics{PerformanceTier: models.TierStandard},
	}
}

func TestScoreBaseline(t *testing.T) {
	// standard tier 25, acceptance 0, response bonus 50, default quality 5*8
	got := Score(Input{Shop: baseShop()})
	want := 25.0 + 50.0 + 40.0
	if got != want {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestScoreTierBonuses(t *testing.T) {
	cases := []struct {
		tier  models.PerformanceTier
		bonus float64
	}{
		{models.TierPlatinum, 100},
		{models.TierGold, 75},
		{models.TierSilver, 50},
		{models.TierStandard, 25},
		{models.PerformanceTier("unknown"), 25},
	}
	for _, c := range cases {
		s := baseShop()
		s.Metrics.PerformanceTier = c.tier
		got := Score(Input{Shop: s}) - Score(Input{Shop: baseShop()})
		if got != c.bonus-25 {
			t.Fatalf("tier %s: expected delta %f, got %f", c.tier, c.bonus-25, got)
		}
	}
}

func TestScoreResponseTimeFloorsAtZero(t *testing.T) {
	s := baseShop()
	s.Metrics.ResponseTimeMinutes = 500
	slow := Score(Input{Shop: s})
	s.Metrics.ResponseTimeMinutes = 50
	atCeil := Score(Input{Shop: s})
	if slow != atCeil {
		t.Fatalf("response bonus must floor at 0: %f vs %f", slow, atCeil)
	}
}

func TestScoreMissingQualityDefaultsToFive(t *testing.T) {
	rated := baseShop()
	q := 5.0
	rated.Metrics.QualityScore = &q
	if Score(Input{Shop: rated}) != Score(Input{Shop: baseShop()}) {
		t.Fatalf("unrated shop must score as quality 5")
	}
}

func TestScorePartsBonusOnlyForReplacement(t *testing.T) {
	s := baseShop()
	s.StocksSpareParts = true
	repair := Score(Input{Shop: s, Replacement: false})
	replacement := Score(Input{Shop: s, Replacement: true})
	if replacement-repair != 20 {
		t.Fatalf("expected +20 parts bonus, got %f", replacement-repair)
	}
}

func TestScoreADASBonusNeedsBothSides(t *testing.T) {
	s := baseShop()
	s.ADASCalibration = true
	without := Score(Input{Shop: s})
	with := Score(Input{Shop: s, RequiresADAS: true})
	if with-without != 30 {
		t.Fatalf("expected +30 ADAS bonus, got %f", with-without)
	}
	plain := baseShop()
	if Score(Input{Shop: plain, RequiresADAS: true}) != Score(Input{Shop: plain}) {
		t.Fatalf("ADAS bonus must require shop capability")
	}
}

func TestScoreDistancePenaltyCapsAtFifty(t *testing.T) {
	near := baseShop()
	near.Loc = &models.Coord{Lat: 0, Lon: 0}
	far := baseShop()
	far.Loc = &models.Coord{Lat: 10, Lon: 10} // way past 25 km
	loc := &models.Coord{Lat: 0, Lon: 0}

	atHome := Score(Input{Shop: near, CustomerLoc: loc})
	remote := Score(Input{Shop: far, CustomerLoc: loc})
	if atHome-remote != 50 {
		t.Fatalf("expected capped penalty of 50, got %f", atHome-remote)
	}
	// no penalty when either coordinate is missing
	if Score(Input{Shop: baseShop(), CustomerLoc: loc}) != Score(Input{Shop: baseShop()}) {
		t.Fatalf("penalty must need both coordinates")
	}
}

func TestPreferredShopAlwaysDominates(t *testing.T) {
	worst := baseShop()
	worst.Metrics = models.ShopMetrics{PerformanceTier: models.TierStandard}
	zero := 0.0
	worst.Metrics.QualityScore = &zero
	worst.Metrics.ResponseTimeMinutes = 999
	worst.Loc = &models.Coord{Lat: 50, Lon: 50}

	best := baseShop()
	best.Metrics.PerformanceTier = models.TierPlatinum
	best.Metrics.AcceptanceRate = 1
	five := 5.0
	best.Metrics.QualityScore = &five
	best.StocksSpareParts = true
	best.ADASCalibration = true
	best.Loc = &models.Coord{Lat: 0, Lon: 0}
	loc := &models.Coord{Lat: 0, Lon: 0}

	preferred := Score(Input{Shop: worst, Preferred: true, RequiresADAS: true, Replacement: true, CustomerLoc: loc})
	maxed := Score(Input{Shop: best, Preferred: false, RequiresADAS: true, Replacement: true, CustomerLoc: loc})
	if preferred <= maxed {
		t.Fatalf("preferred shop with worst metrics (%f) must outrank maxed-out shop (%f)", preferred, maxed)
	}
}
