package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type VehicleInfo struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

// ServiceRequest is a customer damage report, conceptually an appointment.
// Its JobStatus evolves independently of the offers allocated against it.
type ServiceRequest struct {
	ID             string      `json:"id"`
	CustomerID     string      `json:"customer_id"`
	ServiceType    ServiceType `json:"service_type"`
	DamageType     string      `json:"damage_type"`
	DamageLocation string      `json:"damage_location,omitempty"`
	DamageSeverity string      `json:"damage_severity,omitempty"`
	Vehicle        VehicleInfo `json:"vehicle"`
	CustomerLoc    *Coord      `json:"customer_loc,omitempty"`
	InsurerName    string      `json:"insurer_name,omitempty"`
	JobStatus      JobStatus   `json:"job_status"`
	JobStartedAt   *time.Time  `json:"job_started_at,omitempty"`
	JobCompletedAt *time.Time  `json:"job_completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ShopMetrics is a read model of rolling performance numbers. The
// allocator never writes these; they are aggregated downstream from the
// offer event stream.
type ShopMetrics struct {
	AcceptanceRate      float64         `json:"acceptance_rate"` // 0..1
	ResponseTimeMinutes float64         `json:"response_time_minutes"`
	QualityScore        *float64        `json:"quality_score,omitempty"` // 0..5, nil means unrated
	PerformanceTier     PerformanceTier `json:"performance_tier"`
	JobsOffered         int64           `json:"jobs_offered"`
	JobsAccepted        int64           `json:"jobs_accepted"`
}

type Shop struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Address           string            `json:"address,omitempty"`
	Loc               *Coord            `json:"loc,omitempty"`
	ServiceCapability ServiceCapability `json:"service_capability"`
	RepairTypes       RepairTypes       `json:"repair_types"`
	ADASCalibration   bool              `json:"adas_calibration_capability"`
	InsuranceApproved bool              `json:"insurance_approved"`
	StocksSpareParts  bool              `json:"stocks_spare_parts"`
	Metrics           ShopMetrics       `json:"metrics"`
}

// JobOffer is the allocation unit: a time-bounded proposal to one shop
// for one request. Once a terminal status is written the row is frozen.
type JobOffer struct {
	ID                  string        `json:"id"`
	RequestID           string        `json:"request_id"`
	ShopID              string        `json:"shop_id"`
	ShopName            string        `json:"shop_name"`
	OfferedPrice        float64       `json:"offered_price"`
	EstimatedCompletion time.Duration `json:"estimated_completion"`
	Status              OfferStatus   `json:"status"`
	OfferedAt           time.Time     `json:"offered_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
	RequiresADAS        bool          `json:"requires_adas_calibration"`
	IsPreferredShop     bool          `json:"is_preferred_shop"`
	Score               float64       `json:"score"`
	DeclineReason       string        `json:"decline_reason,omitempty"`
	RespondedAt         *time.Time    `json:"responded_at,omitempty"`
}

// EffectiveStatus is the status a reader must act on: an offer still
// stored as offered past its deadline reads as expired even if no sweep
// has rewritten the row yet.
func (o *JobOffer) EffectiveStatus(now time.Time) OfferStatus {
	if o.Status == OfferOffered && now.After(o.ExpiresAt) {
		return OfferExpired
	}
	return o.Status
}

// PreferredShopRelation links an insurer to a shop it has pre-approved.
// Owned by the insurer-management side; the allocator only reads it.
type PreferredShopRelation struct {
	InsurerName   string `json:"insurer_name"`
	ShopID        string `json:"shop_id"`
	PriorityLevel int    `json:"priority_level"`
	IsActive      bool   `json:"is_active"`
}

// QualificationResult is the qualification service's answer for one shop.
type QualificationResult struct {
	Qualified       bool `json:"qualified"`
	TechnicianCount int  `json:"technician_count"`
}

// JobStatusAudit is one immutable row in the job transition log.
type JobStatusAudit struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	OldStatus JobStatus `json:"old_status"`
	NewStatus JobStatus `json:"new_status"`
	Actor     string    `json:"actor"`
	Notes     string    `json:"notes,omitempty"`
	At        time.Time `json:"at"`
}

// OfferEvent is one entry in the append-only offer lifecycle log.
// Shop performance metrics are aggregations over this stream, never
// in-place counter updates.
type OfferEvent struct {
	ID              string         `json:"id"`
	Type            OfferEventType `json:"type"`
	OfferID         string         `json:"offer_id"`
	RequestID       string         `json:"request_id"`
	ShopID          string         `json:"shop_id"`
	ResponseMinutes float64        `json:"response_minutes,omitempty"`
	At              time.Time      `json:"at"`
}
