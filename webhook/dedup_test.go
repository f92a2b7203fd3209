package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupSuppressesRedelivery(t *testing.T) {
	var d, err = NewDedup(16, time.Minute)
	require.NoError(t, err)

	var payload = []byte(`{"id":1}`)
	require.False(t, d.Seen("ch-1", payload))
	require.True(t, d.Seen("ch-1", payload))

	// The same payload on another channel is a distinct delivery.
	require.False(t, d.Seen("ch-2", payload))
	require.False(t, d.Seen("ch-1", []byte(`{"id":2}`)))
}

func TestDedupWindowExpiry(t *testing.T) {
	var d, err = NewDedup(16, time.Minute)
	require.NoError(t, err)

	var now = time.Now()
	d.now = func() time.Time { return now }

	var payload = []byte(`{"id":1}`)
	require.False(t, d.Seen("ch-1", payload))

	now = now.Add(30 * time.Second)
	require.True(t, d.Seen("ch-1", payload))

	// Duplicates do not extend the window: past it the delivery is new again.
	now = now.Add(45 * time.Second)
	require.False(t, d.Seen("ch-1", payload))
	require.True(t, d.Seen("ch-1", payload))
}

func TestDedupEvictsOldestAtCapacity(t *testing.T) {
	var d, err = NewDedup(2, time.Minute)
	require.NoError(t, err)

	require.False(t, d.Seen("ch-1", []byte(`a`)))
	require.False(t, d.Seen("ch-1", []byte(`b`)))
	require.False(t, d.Seen("ch-1", []byte(`c`)))

	// `a` was evicted and is treated as unseen.
	require.False(t, d.Seen("ch-1", []byte(`a`)))
	require.True(t, d.Seen("ch-1", []byte(`c`)))
}
