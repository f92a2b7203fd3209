// Package webhook proves that inbound storefront webhooks originate from a
// channel whose secret we hold: HMAC-SHA256 over the raw payload bytes,
// compared in constant time.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// VerifyRequest carries one inbound webhook to verify. Payload must be the
// raw transmitted bytes: a re-serialized body will not match the HMAC.
type VerifyRequest struct {
	ChannelID   string
	ChannelType string
	Signature   string
	Payload     []byte
}

// Result is the verification outcome. StatusCode and Err are set when Valid
// is false; Err names the failure without echoing secret material.
type Result struct {
	Valid          bool   `json:"valid"`
	ChannelID      string `json:"channelId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	StatusCode     int    `json:"statusCode,omitempty"`
	Err            string `json:"error,omitempty"`
}

// Verifier checks webhook signatures against channel secrets.
type Verifier struct {
	db       *store.DB
	channels *ChannelStore
}

// NewVerifier returns a Verifier over |db|.
func NewVerifier(db *store.DB) *Verifier {
	return &Verifier{db: db, channels: NewChannelStore(db)}
}

// Channels exposes the SQL layer of channels.
func (v *Verifier) Channels() *ChannelStore { return v.channels }

// Verify checks |req| against the channel's secret. The tenant is resolved
// from the channel itself.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) Result {
	return v.verify(ctx, req, "")
}

// VerifyForOrg is Verify with an expected owning organization. A channel of
// another organization fails with 403.
func (v *Verifier) VerifyForOrg(ctx context.Context, req VerifyRequest, orgID string) Result {
	return v.verify(ctx, req, orgID)
}

func (v *Verifier) verify(ctx context.Context, req VerifyRequest, expectedOrg string) Result {
	var refuse = func(status int, reason, outcome string) Result {
		verificationsCounter.WithLabelValues(req.ChannelType, outcome).Inc()
		return Result{Valid: false, StatusCode: status, Err: reason}
	}

	if req.Signature == "" {
		return refuse(http.StatusUnauthorized, "missing signature", "missing_signature")
	}

	var channel, err = v.channels.GetByID(ctx, v.db, req.ChannelID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return refuse(http.StatusNotFound, "channel not found", "unknown_channel")
		}
		log.WithFields(log.Fields{
			"error":   err,
			"channel": req.ChannelID,
		}).Error("webhook channel lookup failed")
		return refuse(http.StatusInternalServerError, "channel lookup failed", "error")
	}
	if expectedOrg != "" && channel.OrganizationID != expectedOrg {
		return refuse(http.StatusForbidden, "organization mismatch", "org_mismatch")
	}
	if channel.Status != StatusActive {
		return refuse(http.StatusForbidden, "channel is inactive", "inactive")
	}
	if channel.Type != req.ChannelType {
		return refuse(http.StatusBadRequest, "channel type mismatch", "type_mismatch")
	}
	if channel.WebhookSecret == nil || *channel.WebhookSecret == "" {
		return refuse(http.StatusInternalServerError, "webhook secret not configured", "misconfigured")
	}

	var mac = hmac.New(sha256.New, []byte(*channel.WebhookSecret))
	mac.Write(req.Payload)
	var expected = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !timingSafeEqual([]byte(expected), []byte(req.Signature)) {
		return refuse(http.StatusUnauthorized, "invalid signature", "invalid_signature")
	}

	verificationsCounter.WithLabelValues(req.ChannelType, "valid").Inc()
	return Result{
		Valid:          true,
		ChannelID:      channel.ID,
		OrganizationID: channel.OrganizationID,
	}
}

// timingSafeEqual compares signatures without leaking the mismatch position.
// Unequal lengths still burn one comparison against a same-length dummy, so
// length probing costs as much as a full comparison.
func timingSafeEqual(expected, provided []byte) bool {
	if len(expected) != len(provided) {
		var dummy = make([]byte, len(expected))
		hmac.Equal(expected, dummy)
		return false
	}
	return hmac.Equal(expected, provided)
}
