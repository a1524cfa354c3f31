package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
)

// ContactRepository persists per-business contacts.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Upsert records an inbound touch from the contact, keeping the most
// recent sender name when one was provided.
func (r *ContactRepository) Upsert(ctx context.Context, businessID uuid.UUID, phone, name string, lastInboundAt time.Time) error {
	query := `INSERT INTO contacts (business_id, phone, name, bot_muted, last_inbound_at, created_at)
	VALUES ($1, $2, $3, FALSE, $4, $4)
	ON CONFLICT (business_id, phone) DO UPDATE SET
		name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
		last_inbound_at = EXCLUDED.last_inbound_at`

	if _, err := r.db.ExecContext(ctx, query, businessID, phone, name, lastInboundAt); err != nil {
		return fmt.Errorf("contacts: upsert: %w", err)
	}
	return nil
}

// Get fetches a contact by business and phone.
func (r *ContactRepository) Get(ctx context.Context, businessID uuid.UUID, phone string) (*domain.Contact, error) {
	var rec contactRecord
	err := r.db.QueryRowxContext(ctx, `SELECT business_id, phone, name, bot_muted, last_inbound_at, last_nudge_at, created_at
		FROM contacts WHERE business_id = $1 AND phone = $2`, businessID, phone).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contacts: get: %w", err)
	}
	return rec.toModel(), nil
}

// MarkNudged stamps the contact after an inactivity nudge was sent.
func (r *ContactRepository) MarkNudged(ctx context.Context, businessID uuid.UUID, phone string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE contacts SET last_nudge_at = $1 WHERE business_id = $2 AND phone = $3`,
		at, businessID, phone); err != nil {
		return fmt.Errorf("contacts: mark nudged: %w", err)
	}
	return nil
}

// InactivityRepository joins contacts against inactivity settings.
type InactivityRepository struct {
	db *sqlx.DB
}

// NewInactivityRepository constructs the repository.
func NewInactivityRepository(db *sqlx.DB) *InactivityRepository {
	return &InactivityRepository{db: db}
}

// ListDue returns contacts whose last inbound message is older than their
// business threshold and who have not been nudged since.
func (r *InactivityRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]repository.InactiveContact, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT c.business_id, c.phone, c.name, c.bot_muted, c.last_inbound_at, c.last_nudge_at, c.created_at,
			s.enabled, s.threshold_seconds, s.message
		FROM contacts c
		JOIN inactivity_settings s ON s.business_id = c.business_id
		WHERE s.enabled = TRUE
			AND c.bot_muted = FALSE
			AND c.last_inbound_at < $1 - make_interval(secs => s.threshold_seconds)
			AND (c.last_nudge_at IS NULL OR c.last_nudge_at < c.last_inbound_at)
		ORDER BY c.last_inbound_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("inactivity: list due: %w", err)
	}
	defer rows.Close()

	var results []repository.InactiveContact
	for rows.Next() {
		var rec inactiveRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("inactivity: scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inactivity: rows err: %w", err)
	}
	return results, nil
}

type contactRecord struct {
	BusinessID    uuid.UUID    `db:"business_id"`
	Phone         string       `db:"phone"`
	Name          string       `db:"name"`
	BotMuted      bool         `db:"bot_muted"`
	LastInboundAt time.Time    `db:"last_inbound_at"`
	LastNudgeAt   sql.NullTime `db:"last_nudge_at"`
	CreatedAt     time.Time    `db:"created_at"`
}

func (r contactRecord) toModel() *domain.Contact {
	contact := &domain.Contact{
		BusinessID:    r.BusinessID,
		Phone:         r.Phone,
		Name:          r.Name,
		BotMuted:      r.BotMuted,
		LastInboundAt: r.LastInboundAt,
		CreatedAt:     r.CreatedAt,
	}
	if r.LastNudgeAt.Valid {
		t := r.LastNudgeAt.Time
		contact.LastNudgeAt = &t
	}
	return contact
}

type inactiveRecord struct {
	contactRecord
	Enabled          bool   `db:"enabled"`
	ThresholdSeconds int64  `db:"threshold_seconds"`
	Message          string `db:"message"`
}

func (r inactiveRecord) toModel() repository.InactiveContact {
	return repository.InactiveContact{
		Contact: *r.contactRecord.toModel(),
		Settings: domain.InactivitySettings{
			BusinessID: r.BusinessID,
			Enabled:    r.Enabled,
			Threshold:  time.Duration(r.ThresholdSeconds) * time.Second,
			Message:    r.Message,
		},
	}
}
