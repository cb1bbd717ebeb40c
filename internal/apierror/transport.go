// Package apierror defines the failure raised by the request gateway and
// maps any failure into the single message and classification shown to the
// user.
package apierror

import (
	"encoding/json"
	"fmt"
)

// Item is one entry of the server's structured error list.
type Item struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Envelope is the failure body returned by every endpoint of the clinic API:
//
//	{"success": false, "message": "...", "error": [{"field": "...", "message": "..."}]}
//
// Both "message" and "error" are optional.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Errors  []Item `json:"error,omitempty"`
}

// UnmarshalJSON tolerates an "error" member that is not a list (a bare
// string or object); such members are ignored rather than failing the
// decode.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Success = raw.Success
	e.Message = raw.Message
	e.Errors = nil
	if len(raw.Error) > 0 {
		var items []Item
		if err := json.Unmarshal(raw.Error, &items); err == nil {
			e.Errors = items
		}
	}
	return nil
}

// FirstItem returns the first structured error item.
func (e Envelope) FirstItem() (Item, bool) {
	if len(e.Errors) == 0 {
		return Item{}, false
	}
	return e.Errors[0], true
}

// Response is the part of a failed HTTP exchange the normalizer inspects.
type Response struct {
	StatusCode int
	Envelope   Envelope
}

// TransportError is raised by the gateway for every failed exchange. A nil
// Response means no response arrived at all (aborted, timed out, DNS or
// connection failure).
type TransportError struct {
	Method   string
	URL      string
	Response *Response
	Err      error
}

// NewNetworkError wraps a failure that produced no response.
func NewNetworkError(method, url string, err error) *TransportError {
	return &TransportError{Method: method, URL: url, Err: err}
}

// NewStatusError builds the error for a non-2xx response. The body is
// decoded into the failure envelope on a best-effort basis.
func NewStatusError(method, url string, status int, body []byte) *TransportError {
	resp := &Response{StatusCode: status}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &resp.Envelope)
	}
	return &TransportError{
		Method:   method,
		URL:      url,
		Response: resp,
		Err:      fmt.Errorf("request failed with status %d", status),
	}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode returns the response status, or 0 when no response arrived.
func (e *TransportError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
