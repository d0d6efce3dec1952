package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/modelforge/scoregate/internal/api/response"
	"github.com/modelforge/scoregate/internal/identity"
)

// Request headers carrying the caller's credentials.
const (
	HeaderIdentity  = "X-Identity"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

const maxBodyBytes = 1 << 20

// Auth verifies the signature-plus-timestamp credentials on each request
// against the configured allowlist. When disabled it passes everything
// through untouched: the operational escape hatch for closed environments.
type Auth struct {
	verifier *identity.Verifier
	enabled  bool
}

// NewAuth creates the auth middleware. verifier may be nil when enabled is
// false.
func NewAuth(v *identity.Verifier, enabled bool) *Auth {
	return &Auth{verifier: v, enabled: enabled}
}

// Authenticate validates the request's identity headers and signature over
// the body. The body is rewound before the next handler sees it.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		id := r.Header.Get(HeaderIdentity)
		ts := r.Header.Get(HeaderTimestamp)
		sig := r.Header.Get(HeaderSignature)
		if id == "" || ts == "" || sig == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing identity credentials", nil)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "Unreadable request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := a.verifier.Verify(id, ts, sig, body); err != nil {
			// The reason stays in the log; the caller just gets a 401.
			slog.Warn("request rejected", "identity", id, "reason", err)
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Identity verification failed", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
	})
}
