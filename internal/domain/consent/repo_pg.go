package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/portal/internal/platform/apperr"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const columns = `id, patient_id, requester_id, requester_name, purpose,
	requested_data_types, granted_data_types, range_start, range_end,
	duration_days, status, message, signature,
	requested_at, responded_at, expires_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, req *ConsentRequest) error {
	req.ID = uuid.New()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO consent_request (
			id, patient_id, requester_id, requester_name, purpose,
			requested_data_types, range_start, range_end,
			duration_days, status, message, signature, requested_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13
		)`,
		req.ID, req.PatientID, req.RequesterID, req.RequesterName, req.Purpose,
		dataTypeStrings(req.RequestedDataTypes), req.RangeStart, req.RangeEnd,
		req.DurationDays, req.Status, req.Message, req.Signature, req.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent request: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	return scanConsent(r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM consent_request WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ConsentRequest, int, error) {
	return r.list(ctx, `patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *repoPG) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*ConsentRequest, int, error) {
	return r.list(ctx, `requester_id = $1`, []interface{}{requesterID}, limit, offset)
}

func (r *repoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*ConsentRequest, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM consent_request WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count consent requests: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM consent_request WHERE %s ORDER BY requested_at DESC LIMIT $%d OFFSET $%d`,
		columns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consent requests: %w", err)
	}
	defer rows.Close()

	var reqs []*ConsentRequest
	for rows.Next() {
		req, err := scanConsentRow(rows)
		if err != nil {
			return nil, 0, err
		}
		reqs = append(reqs, req)
	}
	return reqs, total, rows.Err()
}

func (r *repoPG) ListByPair(ctx context.Context, patientID, requesterID string) ([]*ConsentRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM consent_request
		 WHERE patient_id = $1 AND requester_id = $2
		 ORDER BY requested_at DESC`, patientID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list consent requests by pair: %w", err)
	}
	defer rows.Close()

	var reqs []*ConsentRequest
	for rows.Next() {
		req, err := scanConsentRow(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (r *repoPG) MarkResponded(ctx context.Context, id uuid.UUID, status Status, granted []DataType, respondedAt time.Time, expiresAt *time.Time, message, signature *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consent_request SET
			status = $2, granted_data_types = $3, responded_at = $4,
			expires_at = $5, message = COALESCE($6, message),
			signature = $7, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, status, dataTypeStrings(granted), respondedAt, expiresAt, message, signature,
	)
	if err != nil {
		return false, fmt.Errorf("mark consent responded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkRevoked(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	// >= keeps the guard consistent with EffectiveStatus, which still
	// reads approved at the expiry instant itself.
	tag, err := r.pool.Exec(ctx, `
		UPDATE consent_request SET status = 'revoked', updated_at = NOW()
		WHERE id = $1 AND status = 'approved' AND expires_at >= $2`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark consent revoked: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// -- scanning --

func scanConsent(row pgx.Row) (*ConsentRequest, error) {
	return scanConsentRow(row)
}

func scanConsentRow(row pgx.Row) (*ConsentRequest, error) {
	var req ConsentRequest
	var requested, granted []string
	err := row.Scan(
		&req.ID, &req.PatientID, &req.RequesterID, &req.RequesterName, &req.Purpose,
		&requested, &granted, &req.RangeStart, &req.RangeEnd,
		&req.DurationDays, &req.Status, &req.Message, &req.Signature,
		&req.RequestedAt, &req.RespondedAt, &req.ExpiresAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("consent request")
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent request: %w", err)
	}
	req.RequestedDataTypes = toDataTypes(requested)
	req.GrantedDataTypes = toDataTypes(granted)
	return &req, nil
}

func dataTypeStrings(types []DataType) []string {
	if types == nil {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func toDataTypes(in []string) []DataType {
	if in == nil {
		return nil
	}
	out := make([]DataType, len(in))
	for i, s := range in {
		out[i] = DataType(s)
	}
	return out
}
