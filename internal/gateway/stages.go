package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/notice"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// MsgSessionExpired is the notice raised when the server rejects the
// session.
const MsgSessionExpired = "Token expired, please login again"

// TokenSource yields the current session token ("" when logged out).
type TokenSource interface {
	Token() string
}

// SessionClearer ends the current session.
type SessionClearer interface {
	ClearToken()
}

// BearerToken attaches the session token as a bearer credential. Requests
// made without a session (login itself) pass through untouched.
func BearerToken(tokens TokenSource) OutboundFunc {
	return func(req *http.Request) error {
		if tok := tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		return nil
	}
}

type requestIDKey struct{}

// WithRequestID returns a context whose API calls carry id, so an upstream
// call can be matched to the front end request that caused it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the ID set by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID stamps each request with a correlation ID: the caller's header
// if set, else the one carried by the request context, else a fresh one.
func RequestID() OutboundFunc {
	return func(req *http.Request) error {
		if req.Header.Get(RequestIDHeader) != "" {
			return nil
		}
		id := RequestIDFrom(req.Context())
		if id == "" {
			id = uuid.New().String()
		}
		req.Header.Set(RequestIDHeader, id)
		return nil
	}
}

// SessionExpiry ends the session when the server answers 401. It clears
// the session and raises a notice synchronously, then hands the original
// failure back so the caller's own error handling still runs. Every other
// outcome passes through untouched.
func SessionExpiry(session SessionClearer, notifier notice.Notifier) InboundFunc {
	return func(_ *http.Response, failure error) error {
		var te *apierror.TransportError
		if failure == nil || !errors.As(failure, &te) {
			return failure
		}
		if te.StatusCode() != http.StatusUnauthorized {
			return failure
		}
		session.ClearToken()
		notifier.Notify(notice.LevelError, MsgSessionExpired)
		return failure
	}
}
