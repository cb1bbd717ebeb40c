// Package gateway is the single pipeline every call to the clinic API goes
// through. Outbound stages decorate the request (bearer token, request ID);
// inbound stages observe the outcome and may react to it (session expiry).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicweb/internal/apierror"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// ErrInvalidResponse is returned when a 2xx body cannot be decoded.
var ErrInvalidResponse = errors.New("invalid response structure")

// OutboundFunc decorates a request before it is sent. Returning an error
// aborts the call before anything goes on the wire.
type OutboundFunc func(req *http.Request) error

// InboundFunc observes the outcome of an exchange. failure is nil for 2xx
// responses; resp is nil when no response arrived. The returned error
// replaces failure for the caller, so a stage that only reacts returns
// failure unchanged.
type InboundFunc func(resp *http.Response, failure error) error

// Gateway sends JSON requests to the clinic API.
type Gateway struct {
	base     *url.URL
	client   *http.Client
	outbound []OutboundFunc
	inbound  []InboundFunc
	logger   zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-request timeout of the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.client.Timeout = d }
}

// WithLogger sets the exchange logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithOutbound appends outbound stages, run in order.
func WithOutbound(stages ...OutboundFunc) Option {
	return func(g *Gateway) { g.outbound = append(g.outbound, stages...) }
}

// WithInbound appends inbound stages, run in order.
func WithInbound(stages ...InboundFunc) Option {
	return func(g *Gateway) { g.inbound = append(g.inbound, stages...) }
}

// New creates a gateway for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", baseURL)
	}
	g := &Gateway{
		base:   u,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// URL resolves an API path (optionally with a query string) against the
// base URL.
func (g *Gateway) URL(path string) string {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return g.base.String() + "/" + strings.TrimLeft(path, "/")
	}
	u := *g.base
	u.Path = g.base.Path + "/" + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String()
}

// dataEnvelope is the success body shape: {"data": ...}.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// Do sends a JSON request and decodes the "data" member of a 2xx body into
// out (when out is non-nil). It returns the response status, or 0 when no
// response arrived. Failures are *apierror.TransportError values after the
// inbound stages have seen them.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) (int, error) {
	target := g.URL(path)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, stage := range g.outbound {
		if err := stage(req); err != nil {
			return 0, fmt.Errorf("prepare request: %w", err)
		}
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logExchange(req, 0, start, err)
		return 0, g.runInbound(nil, apierror.NewNetworkError(method, target, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		g.logExchange(req, resp.StatusCode, start, err)
		return 0, g.runInbound(nil, apierror.NewNetworkError(method, target, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := apierror.NewStatusError(method, target, resp.StatusCode, raw)
		g.logExchange(req, resp.StatusCode, start, failure)
		return resp.StatusCode, g.runInbound(resp, failure)
	}

	g.logExchange(req, resp.StatusCode, start, nil)
	if err := g.runInbound(resp, nil); err != nil {
		return resp.StatusCode, err
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	var env dataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return resp.StatusCode, fmt.Errorf("%w: missing data", ErrInvalidResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return resp.StatusCode, nil
}

func (g *Gateway) runInbound(resp *http.Response, failure error) error {
	for _, stage := range g.inbound {
		failure = stage(resp, failure)
	}
	return failure
}

func (g *Gateway) logExchange(req *http.Request, status int, start time.Time, err error) {
	evt := g.logger.Debug()
	if err != nil {
		evt = g.logger.Warn().Err(err)
	}
	evt.
		Str("request_id", req.Header.Get(RequestIDHeader)).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", status).
		Dur("latency", time.Since(start)).
		Msg("api request")
}
