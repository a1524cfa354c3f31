package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/whatsapp-reply-pipeline/internal/domain"
)

// ReminderRepository persists scheduled follow-up messages.
type ReminderRepository struct {
	db *sqlx.DB
}

// NewReminderRepository constructs the repository.
func NewReminderRepository(db *sqlx.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Create inserts a reminder.
func (r *ReminderRepository) Create(ctx context.Context, reminder *domain.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `INSERT INTO reminders (id, business_id, contact_phone, message, due_at, claimed_until, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)`,
		reminder.ID, reminder.BusinessID, reminder.ContactPhone, reminder.Message, reminder.DueAt, reminder.CreatedAt,
	); err != nil {
		return fmt.Errorf("reminders: create: %w", err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due, unclaimed reminders. The
// UPDATE ... RETURNING is the only mutual exclusion across processes.
func (r *ReminderRepository) ClaimDue(ctx context.Context, now, until time.Time, limit int) ([]domain.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `UPDATE reminders SET claimed_until = $1
		WHERE id IN (
			SELECT id FROM reminders
			WHERE due_at <= $2 AND (claimed_until IS NULL OR claimed_until < $2)
			ORDER BY due_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, business_id, contact_phone, message, due_at, claimed_until, created_at`,
		until, now, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: claim due: %w", err)
	}
	defer rows.Close()

	var results []domain.Reminder
	for rows.Next() {
		var rec reminderRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("reminders: scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: rows err: %w", err)
	}
	return results, nil
}

// Release clears the claim so a future catch-up retries the reminder.
func (r *ReminderRepository) Release(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE reminders SET claimed_until = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("reminders: release: %w", err)
	}
	return nil
}

// Delete removes a delivered reminder.
func (r *ReminderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("reminders: delete: %w", err)
	}
	return nil
}

type reminderRecord struct {
	ID           uuid.UUID    `db:"id"`
	BusinessID   uuid.UUID    `db:"business_id"`
	ContactPhone string       `db:"contact_phone"`
	Message      string       `db:"message"`
	DueAt        time.Time    `db:"due_at"`
	ClaimedUntil sql.NullTime `db:"claimed_until"`
	CreatedAt    time.Time    `db:"created_at"`
}

func (r reminderRecord) toModel() domain.Reminder {
	reminder := domain.Reminder{
		ID:           r.ID,
		BusinessID:   r.BusinessID,
		ContactPhone: r.ContactPhone,
		Message:      r.Message,
		DueAt:        r.DueAt,
		CreatedAt:    r.CreatedAt,
	}
	if r.ClaimedUntil.Valid {
		t := r.ClaimedUntil.Time
		reminder.ClaimedUntil = &t
	}
	return reminder
}
