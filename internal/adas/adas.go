// Package adas decides whether a vehicle needs camera recalibration
// after glass work. The allocator only sees the bool-plus-reason
// contract, so the heuristic can be swapped for a VIN-backed service
// without touching allocation logic.
package adas

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/glass-allocation/internal/models"
)

// Result is the detector's answer. Reason is human-readable and ends up
// in the offer notification shown to the shop.
type Result struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason"`
}

// Detector is the interface used by the allocator to get calibration requirements.
type Detector interface {
	RequiresCalibration(ctx context.Context, v models.VehicleInfo, damageType, damageLocation string) (Result, error)
}

// firstADASYear maps a make to the model year from which windshield
// mounted driver-assist cameras became common across the lineup.
var firstADASYear = map[string]int{
	"audi":          2016,
	"bmw":           2015,
	"ford":          2017,
	"honda":         2015,
	"hyundai":       2017,
	"kia":           2017,
	"mazda":         2016,
	"mercedes-benz": 2014,
	"nissan":        2016,
	"skoda":         2017,
	"subaru":        2013,
	"tesla":         2014,
	"toyota":        2015,
	"volkswagen":    2016,
	"volvo":         2015,
}

// HeuristicDetector infers calibration needs from make/year tables and
// damage position. It deliberately leans towards requiring calibration:
// a wasted calibration slot is cheaper than a miscalibrated camera.
type HeuristicDetector struct{}

func NewHeuristicDetector() *HeuristicDetector { return &HeuristicDetector{} }

func (d *HeuristicDetector) RequiresCalibration(ctx context.Context, v models.VehicleInfo, damageType, damageLocation string) (Result, error) {
	loc := strings.ToLower(damageLocation)
	if strings.Contains(loc, "camera") || strings.Contains(loc, "sensor") {
		return Result{Required: true, Reason: "damage located in the camera/sensor zone"}, nil
	}
	year, known := firstADASYear[strings.ToLower(strings.TrimSpace(v.Make))]
	if !known || v.Year == 0 || v.Year < year {
		return Result{Required: false, Reason: "vehicle predates windshield-mounted ADAS for this make"}, nil
	}
	if models.IsChipDamage(damageType) && !strings.Contains(loc, "top") {
		// a chip away from the camera zone is repaired in place, glass stays put
		return Result{Required: false, Reason: "chip repair outside the camera zone, glass not replaced"}, nil
	}
	return Result{
		Required: true,
		Reason:   fmt.Sprintf("%s %s (%d) carries windshield-mounted ADAS, calibration required after glass work", v.Make, v.Model, v.Year),
	}, nil
}
