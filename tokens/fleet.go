// Package tokens maintains the fleet of carrier OAuth bearer tokens: one
// cached token per shipping account, refreshed through the carrier's
// client-credentials endpoint with stampede protection.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tidemark/keel/crypto"
	"github.com/tidemark/keel/store"
)

const (
	fetchTimeout     = 15 * time.Second
	lockExpiry       = 30 * time.Second
	refreshLead      = 300 * time.Second
	ttlFloor         = 60 * time.Second
	defaultExpiresIn = 3600
)

// CacheKey names the cached token of one account.
func CacheKey(carrier, accountID string) string {
	return fmt.Sprintf("%s:token:%s", strings.ToLower(carrier), accountID)
}

// Fleet produces bearer tokens for shipping accounts. Tokens are cached in
// Redis until shortly before expiry; concurrent acquisitions for the same
// account collapse into a single upstream fetch.
type Fleet struct {
	rdb      *redis.Client
	db       *store.DB
	accounts *AccountStore
	box      *crypto.Box
	client   *http.Client

	mu        sync.RWMutex
	endpoints map[string]Endpoints
	flights   singleflight.Group
}

// NewFleet wires a Fleet over |rdb| and |db|, opening account credentials
// with |box|. FEDEX and DHL endpoints are built in.
func NewFleet(rdb *redis.Client, db *store.DB, box *crypto.Box) *Fleet {
	return &Fleet{
		rdb:       rdb,
		db:        db,
		accounts:  NewAccountStore(db),
		box:       box,
		client:    &http.Client{Timeout: fetchTimeout},
		endpoints: builtinEndpoints(),
	}
}

// Accounts exposes the SQL layer of shipping accounts.
func (f *Fleet) Accounts() *AccountStore { return f.accounts }

// RegisterCarrier adds or replaces the token endpoints of a carrier.
func (f *Fleet) RegisterCarrier(carrier string, endpoints Endpoints) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints[carrier] = endpoints
}

// AccessToken returns a valid bearer token for |account|, from cache when
// possible. Cache outages degrade to fetch-through.
func (f *Fleet) AccessToken(ctx context.Context, account *Account) (string, error) {
	var key = CacheKey(account.Carrier, account.ID)

	if token, ok := f.cachedToken(ctx, key); ok {
		cacheCounter.WithLabelValues("hit").Inc()
		return token, nil
	}
	cacheCounter.WithLabelValues("miss").Inc()

	// Concurrent fetches for the same account collapse into one flight. The
	// timer forgets a flight still running at the lock expiry, so a wedged
	// fetch does not block fresh acquisitions forever.
	var token, err, _ = f.flights.Do(account.ID, func() (interface{}, error) {
		var timer = time.AfterFunc(lockExpiry, func() { f.flights.Forget(account.ID) })
		defer timer.Stop()

		// Another flight may have landed a token since the cache miss.
		if token, ok := f.cachedToken(ctx, key); ok {
			cacheCounter.WithLabelValues("hit").Inc()
			return token, nil
		}
		return f.fetch(ctx, account, key)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// HandleUnauthorized recovers from a downstream 401: the cached token is
// evicted and a fresh one fetched. Callers retry the rejected call at most
// once with the returned token.
func (f *Fleet) HandleUnauthorized(ctx context.Context, account *Account) (string, error) {
	var key = CacheKey(account.Carrier, account.ID)
	if err := f.rdb.Del(ctx, key).Err(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"key":   key,
		}).Warn("failed to evict cached token")
	}
	return f.AccessToken(ctx, account)
}

func (f *Fleet) cachedToken(ctx context.Context, key string) (string, bool) {
	var token, err = f.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	} else if err != nil {
		cacheCounter.WithLabelValues("error").Inc()
		log.WithFields(log.Fields{
			"error": err,
			"key":   key,
		}).Warn("token cache read failed, fetching through")
		return "", false
	}
	return token, token != ""
}

// fetch acquires a token from the carrier and caches it. Failures are
// classified; carrier credential rejections additionally flag the account.
func (f *Fleet) fetch(ctx context.Context, account *Account, key string) (string, error) {
	var fail = func(kind Kind, status int, msg string, cause error) (string, error) {
		fetchesCounter.WithLabelValues(account.Carrier, string(kind)).Inc()
		return "", &Error{
			Kind:       kind,
			Carrier:    account.Carrier,
			AccountID:  account.ID,
			StatusCode: status,
			Message:    msg,
			cause:      cause,
		}
	}

	f.mu.RLock()
	var endpoints, registered = f.endpoints[account.Carrier]
	f.mu.RUnlock()
	if !registered {
		return fail(KindRequestFailed, 0, "no token endpoint registered for carrier", nil)
	}

	creds, err := account.OpenCredentials(f.box)
	if err != nil {
		return fail(KindMissingCredentials, 0, "account credentials are missing or unreadable", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return fail(KindMissingCredentials, 0, "account credentials are incomplete", nil)
	}

	var form = url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoints.ForTestMode(account.TestMode), strings.NewReader(form.Encode()))
	if err != nil {
		return fail(KindRequestFailed, 0, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fail(KindTimeout, 0, "token request timed out", err)
		}
		return fail(KindNetworkError, 0, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(KindNetworkError, resp.StatusCode, "reading token response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		f.markNeedsReauth(ctx, account)
		return fail(KindNeedsReauth, resp.StatusCode, "carrier rejected the credentials", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fail(KindRateLimited, resp.StatusCode, "carrier is rate limiting token requests", nil)
	case resp.StatusCode >= 500:
		return fail(KindServerError, resp.StatusCode, "carrier token endpoint errored", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fail(KindRequestFailed, resp.StatusCode, "carrier refused the token request", nil)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err = json.Unmarshal(body, &parsed); err != nil {
		return fail(KindInvalidResponse, resp.StatusCode, "token response is not valid JSON", err)
	}
	if parsed.AccessToken == "" {
		return fail(KindEmptyToken, resp.StatusCode, "token response carries no access_token", nil)
	}
	if parsed.ExpiresIn <= 0 {
		parsed.ExpiresIn = defaultExpiresIn
	}

	// Refresh well before the real expiry, but keep even short-lived tokens
	// around for a minute.
	var ttl = time.Duration(parsed.ExpiresIn)*time.Second - refreshLead
	if ttl < ttlFloor {
		ttl = ttlFloor
	}
	if err = f.rdb.Set(ctx, key, parsed.AccessToken, ttl).Err(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"key":   key,
		}).Warn("token cache write failed")
	}
	fetchesCounter.WithLabelValues(account.Carrier, "ok").Inc()
	return parsed.AccessToken, nil
}

func (f *Fleet) markNeedsReauth(ctx context.Context, account *Account) {
	account.Status = AccountNeedsReauth
	if err := f.accounts.SetStatus(ctx, f.db, account.ID, AccountNeedsReauth); err != nil {
		log.WithFields(log.Fields{
			"error":   err,
			"account": account.ID,
		}).Error("failed to flag account for reauthorization")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
