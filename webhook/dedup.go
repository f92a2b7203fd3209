package webhook

import (
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/minio/highwayhash"
)

// dedupHashKey keys payload digests. Fixed so digests stay stable across
// restarts; the digest guards against redelivery, not an adversary.
var dedupHashKey, _ = hex.DecodeString("9d2f8a41c6e07b53aa1284fd90ce6b37415f88d2c3a9e06b7d54f1e28c0a9b63")

type dedupKey struct {
	channelID string
	digest    uint64
}

// Dedup suppresses redelivered webhook payloads. Storefront platforms retry
// deliveries aggressively; a payload already seen on the same channel within
// the window is reported as a duplicate rather than processed again. Payloads
// are held only as 64-bit digests, never as bytes.
type Dedup struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   *lru.Cache[dedupKey, time.Time]
}

// NewDedup returns a Dedup remembering up to |capacity| deliveries
// for |window| each.
func NewDedup(capacity int, window time.Duration) (*Dedup, error) {
	var seen, err = lru.New[dedupKey, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &Dedup{window: window, now: time.Now, seen: seen}, nil
}

// Seen reports whether |payload| was already delivered on |channelID| within
// the window, and marks it as delivered otherwise.
func (d *Dedup) Seen(channelID string, payload []byte) bool {
	var key = dedupKey{
		channelID: channelID,
		digest:    highwayhash.Sum64(payload, dedupHashKey),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var now = d.now()
	if at, ok := d.seen.Get(key); ok && now.Sub(at) <= d.window {
		duplicatesCounter.Inc()
		return true
	}
	d.seen.Add(key, now)
	return false
}
