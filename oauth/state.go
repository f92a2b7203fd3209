// Package oauth hardens the carrier OAuth callback flow: single-use
// anti-CSRF states, a per-IP callback rate limit, HTTPS enforcement and a
// redirect-origin allow-list.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidemark/keel/errs"
)

// stateTTL bounds how long an issued state may be redeemed.
const stateTTL = 600 * time.Second

var statePattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// StatePayload is the context stored against an issued state and returned to
// the callback redeeming it.
type StatePayload struct {
	OrganizationID string            `json:"organization_id"`
	Provider       string            `json:"provider"`
	RedirectURL    string            `json:"redirect_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	IP             string            `json:"ip,omitempty"`
}

// StateStore issues and redeems single-use OAuth states.
type StateStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStateStore returns a StateStore over |rdb|.
func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{rdb: rdb, now: time.Now}
}

// Issue generates a fresh state, stores |payload| against it, and returns
// the state for inclusion in the provider authorization URL.
func (s *StateStore) Issue(ctx context.Context, payload StatePayload) (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	var state = hex.EncodeToString(buf[:])

	payload.CreatedAt = s.now().UTC()
	var doc, err = json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding oauth state payload: %w", err)
	}
	if err := s.rdb.Set(ctx, stateKey(state), doc, stateTTL).Err(); err != nil {
		return "", fmt.Errorf("storing oauth state: %w", err)
	}
	statesIssuedCounter.Inc()
	return state, nil
}

// Every refused redemption surfaces the same error, so a caller cannot
// distinguish unknown from expired from malformed states.
func errInvalidState() *errs.Error {
	return errs.Validation("INVALID_STATE", "state", "invalid or expired state")
}

// Consume redeems |state| exactly once and returns its payload. A store
// failure is a hard failure: an unverifiable state is never accepted.
func (s *StateStore) Consume(ctx context.Context, state string) (*StatePayload, error) {
	if !statePattern.MatchString(state) {
		statesConsumedCounter.WithLabelValues("malformed").Inc()
		return nil, errInvalidState()
	}

	var doc, err = s.rdb.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		statesConsumedCounter.WithLabelValues("unknown").Inc()
		return nil, errInvalidState()
	} else if err != nil {
		statesConsumedCounter.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}

	var payload StatePayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		statesConsumedCounter.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decoding oauth state payload: %w", err)
	}
	// The key TTL already bounds redemption; the payload timestamp re-checks
	// it against clock or store drift.
	if s.now().Sub(payload.CreatedAt) > stateTTL {
		statesConsumedCounter.WithLabelValues("expired").Inc()
		return nil, errInvalidState()
	}
	statesConsumedCounter.WithLabelValues("ok").Inc()
	return &payload, nil
}

func stateKey(state string) string { return "oauth:state:" + state }
