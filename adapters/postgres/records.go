package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fuel-pricing/core/record"
)

var _ record.Store = (*RecordRepo)(nil)

// RecordRepo persists calculation records. Rows are insert-only; the
// primary key on the content-derived id rejects a second write.
type RecordRepo struct {
	db Querier
}

// NewRecordRepository builds the record repository over a pool or transaction
func NewRecordRepository(db Querier) *RecordRepo {
	return &RecordRepo{db: db}
}

// Put inserts a sealed record
func (r *RecordRepo) Put(ctx context.Context, rec *record.Record) error {
	if !rec.Sealed() {
		return fmt.Errorf("record %s is not sealed", rec.ID)
	}
	body, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	meta := rec.Meta(int64(len(body)))

	var source *string
	if meta.SourceID != "" {
		id := string(meta.SourceID)
		source = &id
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO calculation_records (id, content_hash, created_at, airport_id, source_calculation_id, row_count, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(meta.ID), meta.ContentHash, meta.CreatedAt, meta.AirportID, source, meta.Rows, body,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("record %s: %w", rec.ID, record.ErrImmutabilityViolation)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get reads a record and verifies the stored hash against its body
func (r *RecordRepo) Get(ctx context.Context, id record.ID) (*record.Record, error) {
	var (
		hash string
		body []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT content_hash, body FROM calculation_records WHERE id = $1`, string(id),
	).Scan(&hash, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, record.ErrNotFound)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	rec, err := record.Decode(body)
	if err != nil {
		return nil, err
	}
	if rec.ContentHash.Hex() != hash {
		return nil, fmt.Errorf("record %s: %w", id, record.ErrHashMismatch)
	}
	return rec, nil
}

// List returns metadata newest first
func (r *RecordRepo) List(ctx context.Context, filter record.ListFilter) ([]record.Metadata, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, content_hash, created_at, airport_id, source_calculation_id, row_count, octet_length(body)
		FROM calculation_records
		WHERE $1 = '' OR airport_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2::int, 0)`, filter.AirportID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []record.Metadata
	for rows.Next() {
		var (
			m         record.Metadata
			id        string
			source    *string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &m.ContentHash, &createdAt, &m.AirportID, &source, &m.Rows, &m.Size); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		m.ID = record.ID(id)
		m.CreatedAt = createdAt.UTC()
		if source != nil {
			m.SourceID = record.ID(*source)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
