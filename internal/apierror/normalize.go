package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Classification groups failures by what the user can do about them.
type Classification int

const (
	Unknown Classification = iota
	Network
	ClientRequest
	Unauthorized
	Forbidden
	NotFound
	ServerFault
)

var classificationNames = map[Classification]string{
	Unknown:       "unknown",
	Network:       "network",
	ClientRequest: "client_request",
	Unauthorized:  "unauthorized",
	Forbidden:     "forbidden",
	NotFound:      "not_found",
	ServerFault:   "server_fault",
}

func (c Classification) String() string {
	if s, ok := classificationNames[c]; ok {
		return s
	}
	return "unknown"
}

// MarshalText renders the classification by name in JSON views.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

const (
	MsgNetwork    = "Network error — please check your connection"
	MsgUnexpected = "An unexpected error occurred"
)

// NormalizedError is the canonical (message, classification) pair shown to
// the user for one failure. Field is set when the server named the offending
// input and a FieldHint mapped it onto the form.
type NormalizedError struct {
	Message        string         `json:"message"`
	Classification Classification `json:"classification"`
	Field          string         `json:"field,omitempty"`
}

// FieldHint maps server-side field names onto form field names.
type FieldHint map[string]string

func (h FieldHint) resolve(serverField string) string {
	if serverField == "" || h == nil {
		return ""
	}
	return h[serverField]
}

// classify returns the classification and generic text for a status code.
func classify(status int) (Classification, string) {
	switch status {
	case http.StatusBadRequest:
		return ClientRequest, "Invalid request parameters"
	case http.StatusUnauthorized:
		return Unauthorized, "Invalid credentials"
	case http.StatusForbidden:
		return Forbidden, "Access forbidden"
	case http.StatusNotFound:
		return NotFound, "Resource not found"
	case http.StatusInternalServerError:
		return ServerFault, "Internal server error"
	default:
		return Unknown, fmt.Sprintf("Request failed with status %d", status)
	}
}

// Normalize maps any failure to a NormalizedError. Rules, first match wins:
//
//  1. a plain string is returned verbatim
//  2. a TransportError without a response is a network failure
//  3. otherwise the status code picks the classification and generic text
//  4. for 401/403 the first structured error item replaces the text
//  5. for other statuses the first error item, then the flat message,
//     replaces the text
//  6. any other error yields its own message
//  7. anything else yields a generic fallback
//
// Server-supplied messages always outrank generic status text.
func Normalize(failure any, hints ...FieldHint) NormalizedError {
	var hint FieldHint
	if len(hints) > 0 {
		hint = hints[0]
	}

	switch f := failure.(type) {
	case nil:
		return NormalizedError{Message: MsgUnexpected, Classification: Unknown}
	case string:
		return NormalizedError{Message: f, Classification: Unknown}
	case error:
		var te *TransportError
		if errors.As(f, &te) {
			if te == nil {
				return NormalizedError{Message: MsgUnexpected, Classification: Unknown}
			}
			return normalizeTransport(te, hint)
		}
		return NormalizedError{Message: f.Error(), Classification: Unknown}
	default:
		return NormalizedError{Message: MsgUnexpected, Classification: Unknown}
	}
}

func normalizeTransport(te *TransportError, hint FieldHint) NormalizedError {
	if te.Response == nil {
		return NormalizedError{Message: MsgNetwork, Classification: Network}
	}

	class, text := classify(te.Response.StatusCode)
	env := te.Response.Envelope
	out := NormalizedError{Message: text, Classification: class}

	if item, ok := env.FirstItem(); ok {
		out.Message = item.Message
		out.Field = hint.resolve(item.Field)
		return out
	}
	if class == Unauthorized || class == Forbidden {
		return out
	}
	if env.Message != "" {
		out.Message = env.Message
	}
	return out
}
