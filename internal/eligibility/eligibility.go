// Package eligibility narrows the shop directory to the shops allowed to
// receive an offer for one request: insurance approval, service
// capability, repair-type match, ADAS capability, then technician
// qualification.
package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/glass-allocation/internal/models"
)

// ErrNoEligibleShops: nothing in the directory matches the request's
// capability filters. ErrNoQualifiedShops: capability matched somewhere
// but no shop holds qualified technicians. Callers message these
// differently, so they must stay distinguishable.
var (
	ErrNoEligibleShops  = errors.New("no eligible shops for request")
	ErrNoQualifiedShops = errors.New("no shops with qualified technicians for request")
)

// QualifyFunc asks the external qualification service whether a shop has
// technicians qualified for the combination.
type QualifyFunc func(ctx context.Context, shopID string, serviceType models.ServiceType, damageType, vehicleMake string) (bool, error)

// Criteria is the slice of a ServiceRequest the filter cares about.
type Criteria struct {
	ServiceType  models.ServiceType
	DamageType   string
	RequiresADAS bool
	VehicleMake  string
}

// Filter returns the subset of shops eligible for the request, in the
// order they appeared in the directory. A qualification service error is
// a hard failure, never treated as "not qualified".
func Filter(ctx context.Context, c Criteria, shops []models.Shop, qualify QualifyFunc) ([]models.Shop, error) {
	capable := make([]models.Shop, 0, len(shops))
	for _, s := range shops {
		if !s.InsuranceApproved {
			continue
		}
		if !s.ServiceCapability.Covers(c.ServiceType) {
			continue
		}
		if models.IsChipDamage(c.DamageType) && s.RepairTypes != models.RepairChip && s.RepairTypes != models.RepairBoth {
			continue
		}
		if models.IsCrackDamage(c.DamageType) && s.RepairTypes != models.RepairCrack && s.RepairTypes != models.RepairBoth {
			continue
		}
		if c.RequiresADAS && !s.ADASCalibration {
			continue
		}
		capable = append(capable, s)
	}
	if len(capable) == 0 {
		return nil, ErrNoEligibleShops
	}

	qualified := make([]models.Shop, 0, len(capable))
	for _, s := range capable {
		ok, err := qualify(ctx, s.ID, c.ServiceType, c.DamageType, c.VehicleMake)
		if err != nil {
			return nil, fmt.Errorf("qualification check for shop %s: %w", s.ID, err)
		}
		if ok {
			qualified = append(qualified, s)
		}
	}
	if len(qualified) == 0 {
		return nil, ErrNoQualifiedShops
	}
	return qualified, nil
}
