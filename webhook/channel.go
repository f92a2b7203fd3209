package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// Channel types.
const (
	TypeShopify     = "SHOPIFY"
	TypeWooCommerce = "WOOCOMMERCE"
)

// Channel statuses.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Channel is a storefront integration whose webhook secret we hold.
type Channel struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Type           string    `db:"type" json:"type"`
	Status         string    `db:"status" json:"status"`
	WebhookSecret  *string   `db:"webhook_secret" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// ChannelStore is the SQL layer of channels.
type ChannelStore struct {
	db *store.DB
}

// NewChannelStore returns a ChannelStore over |db|.
func NewChannelStore(db *store.DB) *ChannelStore { return &ChannelStore{db: db} }

// Insert persists |c|.
func (s *ChannelStore) Insert(ctx context.Context, q store.Querier, c *Channel) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO channels (id, organization_id, type, status, webhook_secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		c.ID, c.OrganizationID, c.Type, c.Status, c.WebhookSecret, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}
	return nil
}

// GetByID loads a channel without a tenant filter. Verification resolves the
// tenant FROM the channel; callers that require a particular tenant compare
// afterwards and surface NotFound, never the owning organization.
func (s *ChannelStore) GetByID(ctx context.Context, q store.Querier, id string) (*Channel, error) {
	var c Channel
	var err = q.GetContext(ctx, &c, q.Rebind(`SELECT * FROM channels WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("CHANNEL_NOT_FOUND", fmt.Sprintf("channel %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading channel: %w", err)
	}
	return &c, nil
}

// SetStatus updates the status of a channel.
func (s *ChannelStore) SetStatus(ctx context.Context, q store.Querier, id, status string) error {
	var _, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE channels SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("updating channel status: %w", err)
	}
	return nil
}
