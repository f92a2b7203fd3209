package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/errs"
)

// Callback budget per source IP.
const (
	rateLimit  = 10
	rateWindow = 60 * time.Second
)

// Limiter bounds OAuth callbacks per source IP. On store failure it fails
// open: an outage must not block legitimate callbacks.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter returns a Limiter over |rdb|.
func NewLimiter(rdb *redis.Client) *Limiter { return &Limiter{rdb: rdb} }

// Allow admits one callback from |ip|, or returns a Forbidden error naming
// the seconds until the window resets.
func (l *Limiter) Allow(ctx context.Context, ip string) error {
	var key = rateKey(ip)

	var count, err = l.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.WithFields(log.Fields{"error": err, "ip": ip}).
			Warn("oauth rate limit store unavailable, permitting callback")
		return nil
	}
	// First touch of a fresh window arms its expiry.
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, rateWindow).Err(); err != nil {
			log.WithFields(log.Fields{"error": err, "ip": ip}).
				Warn("arming oauth rate limit expiry failed")
		}
	}
	if count <= rateLimit {
		return nil
	}

	var retry = rateWindow
	if ttl, err := l.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		retry = ttl
	}
	callbacksLimitedCounter.Inc()
	return errs.Forbidden("RATE_LIMITED", fmt.Sprintf(
		"rate limit exceeded, retry in %d seconds", int64((retry+time.Second-1)/time.Second)))
}

// rateKey sanitizes |ip| into a store-safe key segment. IPv6 colons and any
// other key-hostile runes become underscores.
func rateKey(ip string) string {
	var sanitized = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, ip)
	return "oauth:ratelimit:" + sanitized
}
