package records

import (
	"context"
	"errors"
	"fmt"

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

const columns = `id, patient_id, uploader_id, category, title, summary,
	record_date, file_url, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, rec *HealthRecord) error {
	rec.ID = uuid.New()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO health_record (
			id, patient_id, uploader_id, category, title, summary,
			record_date, file_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.PatientID, rec.UploaderID, rec.Category, rec.Title,
		rec.Summary, rec.RecordDate, rec.FileURL,
	)
	if err != nil {
		return fmt.Errorf("insert health record: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*HealthRecord, error) {
	return scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM health_record WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, f Filter, limit, offset int) ([]*HealthRecord, int, error) {
	where := `patient_id = $1`
	args := []interface{}{patientID}
	if f.Category != "" {
		where += ` AND category = $2`
		args = append(args, f.Category)
	}

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM health_record WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count health records: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM health_record WHERE %s ORDER BY record_date DESC, id DESC`,
		columns, where)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list health records: %w", err)
	}
	defer rows.Close()

	var recs []*HealthRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, rec *HealthRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE health_record SET
			title = $2, summary = $3, record_date = $4, file_url = $5,
			updated_at = NOW()
		WHERE id = $1`,
		rec.ID, rec.Title, rec.Summary, rec.RecordDate, rec.FileURL,
	)
	if err != nil {
		return fmt.Errorf("update health record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("health record")
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM health_record WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete health record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("health record")
	}
	return nil
}

func scanRecord(row pgx.Row) (*HealthRecord, error) {
	var rec HealthRecord
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.UploaderID, &rec.Category,
		&rec.Title, &rec.Summary, &rec.RecordDate, &rec.FileURL,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("health record")
	}
	if err != nil {
		return nil, fmt.Errorf("scan health record: %w", err)
	}
	return &rec, nil
}
