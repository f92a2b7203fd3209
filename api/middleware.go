package api

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/auth"
	"github.com/tidemark/keel/errs"
)

// Authenticator verifies the Authorization bearer token of every request and
// attaches the Tenant it asserts.
func Authenticator(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token, ok = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				respondError(w, r, errs.Unauthorized("MISSING_TOKEN",
					"authorization bearer token required"))
				return
			}
			tenant, err := auth.VerifyToken(key, token)
			if err != nil {
				respondError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithTenant(r.Context(), tenant)))
		})
	}
}

// maxWebhookBody bounds captured webhook payloads.
const maxWebhookBody = 1 << 20

type bodyKey struct{}

// CaptureBody buffers the raw request body and stashes it in the request
// context. Signature verification must run over the exact transmitted bytes,
// so webhook handlers read the capture instead of re-decoding.
func CaptureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body, err = io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			respondError(w, r, errs.Validation("UNREADABLE_BODY", "", "request body could not be read"))
			return
		}
		if len(body) > maxWebhookBody {
			respond(w, http.StatusRequestEntityTooLarge, errorBody{Error: errorDetail{
				Code: "BODY_TOO_LARGE", Message: "request body exceeds the webhook size limit",
			}})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, body)))
	})
}

// CapturedBody returns the body buffered by CaptureBody, or nil.
func CapturedBody(ctx context.Context) []byte {
	var body, _ = ctx.Value(bodyKey{}).([]byte)
	return body
}

// ClientIP is the requester's address, preferring the first X-Forwarded-For
// hop recorded by the fronting proxy over the raw peer address.
func ClientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		return strings.TrimSpace(v)
	}
	var host, _, err = net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one line per completed request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var started = time.Now()
		var recorder = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		requestsCounter.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": recorder.status,
			"took":   time.Since(started),
		}).Debug("handled request")
	})
}
