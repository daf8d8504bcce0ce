package models

import "strings"

// ServiceType is the kind of glass work requested.
type ServiceType string

const (
	ServiceRepair      ServiceType = "repair"
	ServiceReplacement ServiceType = "replacement"
)

func (s ServiceType) Valid() bool {
	return s == ServiceRepair || s == ServiceReplacement
}

// ServiceCapability is what a shop is able to perform.
type ServiceCapability string

const (
	CapabilityRepairOnly      ServiceCapability = "repair_only"
	CapabilityReplacementOnly ServiceCapability = "replacement_only"
	CapabilityBoth            ServiceCapability = "both"
)

// Covers reports whether the capability satisfies the requested service.
func (c ServiceCapability) Covers(s ServiceType) bool {
	switch s {
	case ServiceRepair:
		return c == CapabilityRepairOnly || c == CapabilityBoth
	case ServiceReplacement:
		return c == CapabilityReplacementOnly || c == CapabilityBoth
	}
	return false
}

// RepairTypes is the class of damage a shop can repair.
type RepairTypes string

const (
	RepairChip  RepairTypes = "chip_repair"
	RepairCrack RepairTypes = "crack_repair"
	RepairBoth  RepairTypes = "both_repairs"
)

// IsChipDamage and IsCrackDamage classify free-form damage type strings
// coming from customer damage reports ("stone_chip", "windshield_crack", ...).
func IsChipDamage(damageType string) bool {
	return strings.Contains(strings.ToLower(damageType), "chip")
}

func IsCrackDamage(damageType string) bool {
	return strings.Contains(strings.ToLower(damageType), "crack")
}

// PerformanceTier buckets shops by historical performance.
type PerformanceTier string

const (
	TierPlatinum PerformanceTier = "platinum"
	TierGold     PerformanceTier = "gold"
	TierSilver   PerformanceTier = "silver"
	TierStandard PerformanceTier = "standard"
)

// OfferStatus is the lifecycle state of a JobOffer. Everything past
// offered is terminal.
type OfferStatus string

const (
	OfferOffered  OfferStatus = "offered"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

func (s OfferStatus) Terminal() bool { return s != OfferOffered }

// JobStatus is the lifecycle state of the job on a ServiceRequest.
type JobStatus string

const (
	JobScheduled  JobStatus = "scheduled"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobScheduled, JobInProgress, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// OfferEventType tags entries in the append-only offer lifecycle log.
type OfferEventType string

const (
	EventOfferCreated  OfferEventType = "offer_created"
	EventOfferAccepted OfferEventType = "offer_accepted"
	EventOfferDeclined OfferEventType = "offer_declined"
	EventOfferExpired  OfferEventType = "offer_expired"
)
