package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/glass-allocation/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.ServiceRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO service_requests(id, customer_id, service_type, damage_type, damage_location, damage_severity, vehicle_make, vehicle_model, vehicle_year, customer_lat, customer_lon, insurer_name, job_status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET job_status=EXCLUDED.job_status, updated_at=EXCLUDED.updated_at`,
		r.ID, r.CustomerID, string(r.ServiceType), r.DamageType, r.DamageLocation, r.DamageSeverity,
		r.Vehicle.Make, r.Vehicle.Model, r.Vehicle.Year, nullCoord(r.CustomerLoc, true), nullCoord(r.CustomerLoc, false),
		r.InsurerName, string(r.JobStatus), r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, customer_id, service_type, damage_type, damage_location, damage_severity, vehicle_make, vehicle_model, vehicle_year, customer_lat, customer_lon, insurer_name, job_status, job_started_at, job_completed_at, created_at, updated_at
		FROM service_requests WHERE id=$1`, id)
	var r models.ServiceRequest
	var lat, lon sql.NullFloat64
	var started, completed sql.NullTime
	err := row.Scan(&r.ID, &r.CustomerID, &r.ServiceType, &r.DamageType, &r.DamageLocation, &r.DamageSeverity,
		&r.Vehicle.Make, &r.Vehicle.Model, &r.Vehicle.Year, &lat, &lon, &r.InsurerName, &r.JobStatus,
		&started, &completed, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		r.CustomerLoc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	if started.Valid {
		r.JobStartedAt = &started.Time
	}
	if completed.Valid {
		r.JobCompletedAt = &completed.Time
	}
	return &r, nil
}

func (p *PostgresStore) CreateOffer(ctx context.Context, o *models.JobOffer) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO job_offers(id, request_id, shop_id, shop_name, offered_price, estimated_completion_minutes, status, offered_at, expires_at, requires_adas_calibration, is_preferred_shop, score)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.RequestID, o.ShopID, o.ShopName, o.OfferedPrice, int(o.EstimatedCompletion.Minutes()),
		string(o.Status), o.OfferedAt, o.ExpiresAt, o.RequiresADAS, o.IsPreferredShop, o.Score)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		// partial unique index on (request_id, shop_id) where status='offered'
		return ErrActiveOfferExists
	}
	return err
}

const offerColumns = `id, request_id, shop_id, shop_name, offered_price, estimated_completion_minutes, status, offered_at, expires_at, requires_adas_calibration, is_preferred_shop, score, decline_reason, responded_at`

func scanOffer(row interface{ Scan(dest ...any) error }) (*models.JobOffer, error) {
	var o models.JobOffer
	var minutes int
	var reason sql.NullString
	var responded sql.NullTime
	err := row.Scan(&o.ID, &o.RequestID, &o.ShopID, &o.ShopName, &o.OfferedPrice, &minutes, &o.Status,
		&o.OfferedAt, &o.ExpiresAt, &o.RequiresADAS, &o.IsPreferredShop, &o.Score, &reason, &responded)
	if err != nil {
		return nil, err
	}
	o.EstimatedCompletion = time.Duration(minutes) * time.Minute
	o.DeclineReason = reason.String
	if responded.Valid {
		o.RespondedAt = &responded.Time
	}
	return &o, nil
}

func (p *PostgresStore) GetOffer(ctx context.Context, id string) (*models.JobOffer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM job_offers WHERE id=$1`, id)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (p *PostgresStore) OffersByRequest(ctx context.Context, requestID string) ([]models.JobOffer, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM job_offers WHERE request_id=$1 ORDER BY score DESC, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.JobOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ResolveOffer(ctx context.Context, id string, to models.OfferStatus, reason string, at time.Time) (*models.JobOffer, error) {
	var responded any
	if to != models.OfferExpired {
		responded = at
	}
	row := p.db.QueryRowContext(ctx, `UPDATE job_offers SET status=$1, decline_reason=NULLIF($2,''), responded_at=$3
		WHERE id=$4 AND status='offered' RETURNING `+offerColumns, string(to), reason, responded, id)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		// row missing or already resolved; look again to tell the two apart
		if _, getErr := p.GetOffer(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStatusConflict
	}
	return o, err
}

func (p *PostgresStore) ExpireDueOffers(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE job_offers SET status='expired' WHERE status='offered' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) HasAcceptedOffer(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM job_offers WHERE request_id=$1 AND status='accepted')`, requestID).Scan(&exists)
	return exists, err
}

// ApplyTransition runs the guarded status update and the audit insert in
// one transaction so a failure on either leaves both untouched.
func (p *PostgresStore) ApplyTransition(ctx context.Context, requestID string, from, to models.JobStatus, at time.Time, audit *models.JobStatusAudit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `UPDATE service_requests SET job_status=$1, updated_at=$2`
	switch to {
	case models.JobInProgress:
		q += `, job_started_at=$2`
	case models.JobCompleted:
		q += `, job_completed_at=$2`
	}
	q += ` WHERE id=$3 AND job_status=$4`
	res, err := tx.ExecContext(ctx, q, string(to), at, requestID, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := p.GetRequest(ctx, requestID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO job_status_audit(id, request_id, old_status, new_status, actor, notes, at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		audit.ID, audit.RequestID, string(audit.OldStatus), string(audit.NewStatus), audit.Actor, audit.Notes, audit.At); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) AuditTrail(ctx context.Context, requestID string) ([]models.JobStatusAudit, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, request_id, old_status, new_status, actor, notes, at FROM job_status_audit WHERE request_id=$1 ORDER BY at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.JobStatusAudit
	for rows.Next() {
		var a models.JobStatusAudit
		if err := rows.Scan(&a.ID, &a.RequestID, &a.OldStatus, &a.NewStatus, &a.Actor, &a.Notes, &a.At); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PreferredShopIDs(ctx context.Context, insurer string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT shop_id FROM preferred_shops WHERE insurer_name=$1 AND is_active`, insurer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertPreferredShop(ctx context.Context, rel models.PreferredShopRelation) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO preferred_shops(insurer_name, shop_id, priority_level, is_active)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (insurer_name, shop_id) DO UPDATE SET priority_level=EXCLUDED.priority_level, is_active=EXCLUDED.is_active`,
		rel.InsurerName, rel.ShopID, rel.PriorityLevel, rel.IsActive)
	return err
}

func (p *PostgresStore) TryReserveAllocation(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := p.db.ExecContext(ctx, `INSERT INTO allocation_locks(request_id, expires_at) VALUES($1,$2)
		ON CONFLICT (request_id) DO UPDATE SET expires_at=EXCLUDED.expires_at
		WHERE allocation_locks.expires_at < $3`, requestID, now.Add(ttl), now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) ReleaseAllocation(ctx context.Context, requestID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM allocation_locks WHERE request_id=$1`, requestID)
	return err
}

func nullCoord(c *models.Coord, lat bool) any {
	if c == nil {
		return nil
	}
	if lat {
		return c.Lat
	}
	return c.Lon
}
