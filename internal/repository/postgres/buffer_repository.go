package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
)

// BufferRepository persists message buffers in Postgres.
//
// The table carries UNIQUE (business_id, contact_phone); rows are deleted
// once processed, so the constraint enforces at most one live buffer per
// contact.
type BufferRepository struct {
	db *sqlx.DB
}

// NewBufferRepository constructs the repository.
func NewBufferRepository(db *sqlx.DB) *BufferRepository {
	return &BufferRepository{db: db}
}

// Append creates or extends the open buffer for (business, contact) in a
// single upsert. The expiry always moves forward to now + window: a sliding
// window, every message resets the countdown. A text fragment equal to the
// last one already buffered is not appended again (providers redeliver
// webhooks), though it still slides the expiry.
func (r *BufferRepository) Append(ctx context.Context, businessID uuid.UUID, contactPhone string, fragment domain.MessageFragment, expiresAt time.Time) (*domain.MessageBuffer, error) {
	frag, err := json.Marshal([]domain.MessageFragment{fragment})
	if err != nil {
		return nil, fmt.Errorf("buffers: marshal fragment: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO message_buffers (
		id, business_id, contact_phone, fragments, expires_at, processing_until, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, NULL, $6, $6)
	ON CONFLICT (business_id, contact_phone) DO UPDATE SET
		fragments = CASE
			WHEN $7::text <> '' AND message_buffers.fragments->-1->>'text' = $7::text
				THEN message_buffers.fragments
			ELSE message_buffers.fragments || EXCLUDED.fragments
		END,
		expires_at = EXCLUDED.expires_at,
		updated_at = EXCLUDED.updated_at
	RETURNING id, business_id, contact_phone, fragments, expires_at, processing_until, created_at, updated_at`

	var rec bufferRecord
	if err := r.db.QueryRowxContext(ctx, query,
		uuid.New(), businessID, contactPhone, frag, expiresAt, now, fragment.Text,
	).StructScan(&rec); err != nil {
		return nil, fmt.Errorf("buffers: append: %w", err)
	}

	return rec.toModel()
}

// FindExpired returns buffers past their window with no live claim.
func (r *BufferRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.MessageBuffer, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, business_id, contact_phone, fragments, expires_at, processing_until, created_at, updated_at
		FROM message_buffers
		WHERE expires_at <= $1 AND (processing_until IS NULL OR processing_until < $1)
		ORDER BY expires_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("buffers: select expired: %w", err)
	}
	defer rows.Close()

	var results []*domain.MessageBuffer
	for rows.Next() {
		var rec bufferRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("buffers: scan: %w", err)
		}
		buf, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		results = append(results, buf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buffers: rows err: %w", err)
	}

	return results, nil
}

// Claim sets processing_until only if the buffer is still expired and
// unclaimed. Zero rows affected means another worker owns it.
func (r *BufferRepository) Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE message_buffers
		SET processing_until = $1, updated_at = $2
		WHERE id = $3 AND expires_at <= $2 AND (processing_until IS NULL OR processing_until < $2)`,
		until, now, id)
	if err != nil {
		return false, fmt.Errorf("buffers: claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("buffers: claim rows affected: %w", err)
	}
	return affected == 1, nil
}

// ReleaseClaim clears the claim so a future sweep retries the buffer.
func (r *BufferRepository) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE message_buffers SET processing_until = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("buffers: release claim: %w", err)
	}
	return nil
}

// Delete removes a processed or discarded buffer.
func (r *BufferRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM message_buffers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("buffers: delete: %w", err)
	}
	return nil
}

type bufferRecord struct {
	ID              uuid.UUID    `db:"id"`
	BusinessID      uuid.UUID    `db:"business_id"`
	ContactPhone    string       `db:"contact_phone"`
	Fragments       []byte       `db:"fragments"`
	ExpiresAt       time.Time    `db:"expires_at"`
	ProcessingUntil sql.NullTime `db:"processing_until"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r bufferRecord) toModel() (*domain.MessageBuffer, error) {
	var fragments []domain.MessageFragment
	if err := json.Unmarshal(r.Fragments, &fragments); err != nil {
		return nil, fmt.Errorf("buffers: unmarshal fragments: %w", err)
	}

	buf := &domain.MessageBuffer{
		ID:           r.ID,
		BusinessID:   r.BusinessID,
		ContactPhone: r.ContactPhone,
		Fragments:    fragments,
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ProcessingUntil.Valid {
		t := r.ProcessingUntil.Time
		buf.ProcessingUntil = &t
	}
	return buf, nil
}
