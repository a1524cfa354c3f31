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

// BusinessRepository reads tenant metadata.
type BusinessRepository struct {
	db *sqlx.DB
}

// NewBusinessRepository constructs the repository.
func NewBusinessRepository(db *sqlx.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// Get fetches a business by id.
func (r *BusinessRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	var rec businessRecord
	err := r.db.QueryRowxContext(ctx, `SELECT id, name, time_zone, bot_enabled, custom_prompt, webhook_url, created_at, updated_at
		FROM businesses WHERE id = $1`, id).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("businesses: get: %w", err)
	}
	return rec.toModel(), nil
}

// GetInstance fetches the WhatsApp instance attached to a business.
func (r *BusinessRepository) GetInstance(ctx context.Context, businessID uuid.UUID) (*domain.WhatsAppInstance, error) {
	var rec instanceRecord
	err := r.db.QueryRowxContext(ctx, `SELECT id, business_id, phone_number, status, created_at
		FROM whatsapp_instances WHERE business_id = $1`, businessID).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("businesses: get instance: %w", err)
	}
	return &domain.WhatsAppInstance{
		ID:          rec.ID,
		BusinessID:  rec.BusinessID,
		PhoneNumber: rec.PhoneNumber,
		Status:      domain.InstanceStatus(rec.Status),
		CreatedAt:   rec.CreatedAt,
	}, nil
}

type businessRecord struct {
	ID           uuid.UUID      `db:"id"`
	Name         string         `db:"name"`
	TimeZone     string         `db:"time_zone"`
	BotEnabled   bool           `db:"bot_enabled"`
	CustomPrompt sql.NullString `db:"custom_prompt"`
	WebhookURL   sql.NullString `db:"webhook_url"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r businessRecord) toModel() *domain.Business {
	return &domain.Business{
		ID:           r.ID,
		Name:         r.Name,
		TimeZone:     r.TimeZone,
		BotEnabled:   r.BotEnabled,
		CustomPrompt: r.CustomPrompt.String,
		WebhookURL:   r.WebhookURL.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type instanceRecord struct {
	ID          uuid.UUID `db:"id"`
	BusinessID  uuid.UUID `db:"business_id"`
	PhoneNumber string    `db:"phone_number"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}
