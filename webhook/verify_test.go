package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/store"
)

func sign(secret string, payload []byte) string {
	var mac = hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type webhookHarness struct {
	db  *store.DB
	v   *Verifier
	ctx context.Context
}

// verifierHarness opens a fresh database holding one active shopify channel
// ch-shop of org-1 with secret "s".
func verifierHarness(t *testing.T) *webhookHarness {
	t.Helper()
	var db, err = store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	var v = NewVerifier(db)
	var secret = "s"
	require.NoError(t, v.Channels().Insert(context.Background(), db, &Channel{
		ID:             "ch-shop",
		OrganizationID: "org-1",
		Type:           TypeShopify,
		Status:         StatusActive,
		WebhookSecret:  &secret,
	}))
	return &webhookHarness{db: db, v: v, ctx: context.Background()}
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	var h = verifierHarness(t)
	var payload = []byte(`{"id":12345}`)
	var req = VerifyRequest{
		ChannelID:   "ch-shop",
		ChannelType: TypeShopify,
		Signature:   sign("s", payload),
		Payload:     payload,
	}

	var result = h.v.Verify(h.ctx, req)
	require.True(t, result.Valid)
	require.Equal(t, "ch-shop", result.ChannelID)
	require.Equal(t, "org-1", result.OrganizationID)
	require.Empty(t, result.Err)

	// Redelivery of the same signed payload verifies again.
	result = h.v.Verify(h.ctx, req)
	require.True(t, result.Valid)
}

func TestVerifyRejectsAlteredPayload(t *testing.T) {
	var h = verifierHarness(t)
	var payload = []byte(`{"id":12345}`)

	var result = h.v.Verify(h.ctx, VerifyRequest{
		ChannelID:   "ch-shop",
		ChannelType: TypeShopify,
		Signature:   sign("s", payload),
		Payload:     []byte(`{"id":12346}`),
	})
	require.False(t, result.Valid)
	require.Equal(t, http.StatusUnauthorized, result.StatusCode)
	require.Equal(t, "invalid signature", result.Err)
}

func TestVerifyRefusals(t *testing.T) {
	var h = verifierHarness(t)
	var payload = []byte(`{"id":12345}`)

	var cases = []struct {
		name   string
		req    VerifyRequest
		status int
		errMsg string
	}{
		{
			name: "missing signature",
			req: VerifyRequest{
				ChannelID: "ch-shop", ChannelType: TypeShopify, Payload: payload,
			},
			status: http.StatusUnauthorized,
			errMsg: "missing signature",
		},
		{
			name: "unknown channel",
			req: VerifyRequest{
				ChannelID: "ch-nope", ChannelType: TypeShopify,
				Signature: sign("s", payload), Payload: payload,
			},
			status: http.StatusNotFound,
			errMsg: "channel not found",
		},
		{
			name: "channel type mismatch",
			req: VerifyRequest{
				ChannelID: "ch-shop", ChannelType: TypeWooCommerce,
				Signature: sign("s", payload), Payload: payload,
			},
			status: http.StatusBadRequest,
			errMsg: "channel type mismatch",
		},
		{
			// A truncated signature must fail cleanly, not panic.
			name: "short signature",
			req: VerifyRequest{
				ChannelID: "ch-shop", ChannelType: TypeShopify,
				Signature: "YQ==", Payload: payload,
			},
			status: http.StatusUnauthorized,
			errMsg: "invalid signature",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var result = h.v.Verify(h.ctx, tc.req)
			require.False(t, result.Valid)
			require.Equal(t, tc.status, result.StatusCode)
			require.Equal(t, tc.errMsg, result.Err)
		})
	}
}

func TestVerifyInactiveChannel(t *testing.T) {
	var h = verifierHarness(t)
	require.NoError(t, h.v.Channels().SetStatus(h.ctx, h.db, "ch-shop", StatusInactive))

	var payload = []byte(`{"id":12345}`)
	var result = h.v.Verify(h.ctx, VerifyRequest{
		ChannelID:   "ch-shop",
		ChannelType: TypeShopify,
		Signature:   sign("s", payload),
		Payload:     payload,
	})
	require.False(t, result.Valid)
	require.Equal(t, http.StatusForbidden, result.StatusCode)
	require.Equal(t, "channel is inactive", result.Err)
}

func TestVerifyMissingSecret(t *testing.T) {
	var h = verifierHarness(t)
	require.NoError(t, h.v.Channels().Insert(h.ctx, h.db, &Channel{
		ID:             "ch-bare",
		OrganizationID: "org-1",
		Type:           TypeWooCommerce,
		Status:         StatusActive,
	}))

	var payload = []byte(`{"order":1}`)
	var result = h.v.Verify(h.ctx, VerifyRequest{
		ChannelID:   "ch-bare",
		ChannelType: TypeWooCommerce,
		Signature:   sign("s", payload),
		Payload:     payload,
	})
	require.False(t, result.Valid)
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.Equal(t, "webhook secret not configured", result.Err)
}

func TestVerifyForOrg(t *testing.T) {
	var h = verifierHarness(t)
	var payload = []byte(`{"id":12345}`)
	var req = VerifyRequest{
		ChannelID:   "ch-shop",
		ChannelType: TypeShopify,
		Signature:   sign("s", payload),
		Payload:     payload,
	}

	var result = h.v.VerifyForOrg(h.ctx, req, "org-1")
	require.True(t, result.Valid)
	require.Equal(t, "org-1", result.OrganizationID)

	result = h.v.VerifyForOrg(h.ctx, req, "org-2")
	require.False(t, result.Valid)
	require.Equal(t, http.StatusForbidden, result.StatusCode)
	require.Equal(t, "organization mismatch", result.Err)
}

func TestSignatureHeaders(t *testing.T) {
	var header = http.Header{}
	header.Set(ShopifyHeader, "sig-a")

	require.Equal(t, "sig-a", SignatureFromHeader(header, TypeShopify))
	require.Empty(t, SignatureFromHeader(header, TypeWooCommerce))
	require.Empty(t, SignatureFromHeader(header, "UNKNOWN"))

	name, ok := SignatureHeader(TypeWooCommerce)
	require.True(t, ok)
	require.Equal(t, WooCommerceHeader, name)
	_, ok = SignatureHeader("UNKNOWN")
	require.False(t, ok)
}
