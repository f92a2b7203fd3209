package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	var key, err = ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)

	var plaintext = []byte(`{"access_token":"shhh","expires_in":3599}`)
	envelope, err := box.EncryptToString(plaintext)
	require.NoError(t, err)

	// Envelope has the iv:tag:ciphertext shape.
	require.Len(t, strings.Split(envelope, ":"), 3)

	recovered, err := box.DecryptFromString(envelope)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestEnvelopeIsNonDeterministic(t *testing.T) {
	var box = mustBox(t)

	one, err := box.EncryptToString([]byte("same plaintext"))
	require.NoError(t, err)
	two, err := box.EncryptToString([]byte("same plaintext"))
	require.NoError(t, err)

	require.NotEqual(t, one, two)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	var box = mustBox(t)

	envelope, err := box.EncryptToString([]byte("credential material"))
	require.NoError(t, err)

	// Flip a character inside the ciphertext segment.
	var parts = strings.Split(envelope, ":")
	var ct = []byte(parts[2])
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	parts[2] = string(ct)

	_, err = box.DecryptFromString(strings.Join(parts, ":"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecryptUnderWrongKey(t *testing.T) {
	var box = mustBox(t)

	envelope, err := box.EncryptToString([]byte("credential material"))
	require.NoError(t, err)

	otherKey, err := ParseKey(strings.Repeat("cd", 32))
	require.NoError(t, err)
	other, err := NewBox(otherKey)
	require.NoError(t, err)

	_, err = other.DecryptFromString(envelope)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecryptMalformedEnvelopes(t *testing.T) {
	var box = mustBox(t)

	var cases = []struct {
		name     string
		envelope string
		expect   string
	}{
		{"two segments", "aGk=:aGk=", "expected 3 segments"},
		{"four segments", "aGk=:aGk=:aGk=:aGk=", "expected 3 segments"},
		{"bad base64 iv", "!!!:aGk=:aGk=", "malformed envelope IV"},
		{"short iv", "aGk=:aGk=:aGk=", "IV must be 12 bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = box.DecryptFromString(tc.envelope)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expect)
			require.NotErrorIs(t, err, ErrAuthFailed)
		})
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	var _, err = ParseKey("deadbeef")
	require.Error(t, err)
	require.Contains(t, err.Error(), "64 hex characters")

	_, err = ParseKey(strings.Repeat("zz", 32))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid hex")
}

func mustBox(t *testing.T) *Box {
	t.Helper()
	var key, err = ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}
