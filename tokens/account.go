package tokens

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidemark/keel/crypto"
	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// Account statuses.
const (
	AccountActive      = "ACTIVE"
	AccountNeedsReauth = "NEEDS_REAUTH"
)

// Account is a carrier account whose API credentials we hold, envelope
// encrypted at rest.
type Account struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Carrier        string    `db:"carrier" json:"carrier"`
	AccountNumber  string    `db:"account_number" json:"accountNumber"`
	TestMode       bool      `db:"test_mode" json:"testMode"`
	Credentials    string    `db:"credentials" json:"-"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Credentials is the decrypted credential document of an Account.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// SealCredentials encrypts |creds| into the account.
func (a *Account) SealCredentials(box *crypto.Box, creds Credentials) error {
	var doc, err = json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if a.Credentials, err = box.EncryptToString(doc); err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}
	return nil
}

// OpenCredentials decrypts the account's credential document.
func (a *Account) OpenCredentials(box *crypto.Box) (Credentials, error) {
	var creds Credentials
	if a.Credentials == "" {
		return creds, errors.New("account has no credentials")
	}
	var doc, err = box.DecryptFromString(a.Credentials)
	if err != nil {
		return creds, err
	}
	if err = json.Unmarshal(doc, &creds); err != nil {
		return creds, fmt.Errorf("unmarshaling credentials: %w", err)
	}
	return creds, nil
}

// AccountStore is the SQL layer of shipping accounts.
type AccountStore struct {
	db *store.DB
}

// NewAccountStore returns an AccountStore over |db|.
func NewAccountStore(db *store.DB) *AccountStore { return &AccountStore{db: db} }

// Insert persists |a|.
func (s *AccountStore) Insert(ctx context.Context, q store.Querier, a *Account) error {
	var now = time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	if a.Status == "" {
		a.Status = AccountActive
	}
	var _, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO shipping_accounts
			(id, organization_id, carrier, account_number, test_mode, credentials,
			 status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.OrganizationID, a.Carrier, a.AccountNumber, a.TestMode,
		a.Credentials, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting shipping account: %w", err)
	}
	return nil
}

// Get loads an account of the organization, or NotFound.
func (s *AccountStore) Get(ctx context.Context, q store.Querier, orgID, id string) (*Account, error) {
	var a Account
	var err = q.GetContext(ctx, &a, q.Rebind(
		`SELECT * FROM shipping_accounts WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("SHIPPING_ACCOUNT_NOT_FOUND",
			fmt.Sprintf("shipping account %s not found", id))
	} else if err != nil {
		return nil, fmt.Errorf("loading shipping account: %w", err)
	}
	return &a, nil
}

// List returns the organization's accounts, ordered by carrier.
func (s *AccountStore) List(ctx context.Context, q store.Querier, orgID string) ([]Account, error) {
	var accounts []Account
	var err = q.SelectContext(ctx, &accounts, q.Rebind(
		`SELECT * FROM shipping_accounts WHERE organization_id = ? ORDER BY carrier, id`), orgID)
	if err != nil {
		return nil, fmt.Errorf("listing shipping accounts: %w", err)
	}
	return accounts, nil
}

// SetStatus updates the status of an account.
func (s *AccountStore) SetStatus(ctx context.Context, q store.Querier, id, status string) error {
	var _, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE shipping_accounts SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating shipping account status: %w", err)
	}
	return nil
}
