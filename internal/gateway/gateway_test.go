package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/notice"
	"github.com/ehr/clinicweb/internal/session"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) (*Gateway, *session.Store, *notice.Recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := session.Open(context.Background(), session.NewMemoryStorage())
	rec := &notice.Recorder{}
	g, err := New(srv.URL+"/api/v1",
		WithOutbound(RequestID(), BearerToken(store)),
		WithInbound(SessionExpiry(store, rec)),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g, store, rec
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "::"} {
		if _, err := New(u); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestGateway_URL(t *testing.T) {
	g, _ := New("http://localhost:8000/api/v1/")
	tests := map[string]string{
		"/login":                   "http://localhost:8000/api/v1/login",
		"patients":                 "http://localhost:8000/api/v1/patients",
		"/patients/5":              "http://localhost:8000/api/v1/patients/5",
		"/patients?page=2&limit=5": "http://localhost:8000/api/v1/patients?page=2&limit=5",
	}
	for in, want := range tests {
		if got := g.URL(in); got != want {
			t.Errorf("URL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGateway_AttachesBearerWhenLoggedIn(t *testing.T) {
	var gotAuth, gotRID string
	g, store, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRID = r.Header.Get(RequestIDHeader)
		w.Write([]byte(`{"data":{"ok":true}}`))
	})
	store.SetToken("T1")

	if _, err := g.Do(context.Background(), http.MethodGet, "/patients", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer T1" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotRID == "" {
		t.Error("expected request ID header")
	}
}

func TestGateway_NoTokenPassesThroughUntouched(t *testing.T) {
	var sawAuth bool
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		w.Write([]byte(`{"data":{"token":"T1"}}`))
	})

	var out struct {
		Token string `json:"token"`
	}
	status, err := g.Do(context.Background(), http.MethodPost, "/login", map[string]string{"email": "a@b.com"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawAuth {
		t.Error("expected no Authorization header without a session")
	}
	if status != http.StatusOK || out.Token != "T1" {
		t.Errorf("unexpected status %d out %+v", status, out)
	}
}

func TestGateway_401ClearsSessionAndNotifiesThenReraises(t *testing.T) {
	g, store, rec := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"error occured","error":[{"message":"invalid credentials"}]}`))
	})
	store.SetToken("T1")

	status, err := g.Do(context.Background(), http.MethodGet, "/patients", nil, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
	var te *apierror.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T %v", err, err)
	}
	if store.IsAuthenticated() {
		t.Error("expected session cleared before Do returns")
	}
	notices := rec.Notices()
	if len(notices) != 1 || notices[0].Message != MsgSessionExpired || notices[0].Level != notice.LevelError {
		t.Errorf("expected exactly one expiry notice, got %+v", notices)
	}
	if got := apierror.Normalize(err); got.Message != "invalid credentials" {
		t.Errorf("caller normalization should still see server message, got %q", got.Message)
	}
}

func TestGateway_OtherFailuresHaveNoSideEffects(t *testing.T) {
	for _, status := range []int{400, 403, 404, 500, 502} {
		g, store, rec := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		store.SetToken("T1")

		_, err := g.Do(context.Background(), http.MethodGet, "/patients", nil, nil)
		var te *apierror.TransportError
		if !errors.As(err, &te) || te.StatusCode() != status {
			t.Errorf("status %d: unexpected error %v", status, err)
		}
		if !store.IsAuthenticated() {
			t.Errorf("status %d: session must survive", status)
		}
		if n := rec.Notices(); len(n) != 0 {
			t.Errorf("status %d: unexpected notices %+v", status, n)
		}
	}
}

func TestGateway_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	g, err := New(base)
	if err != nil {
		t.Fatal(err)
	}
	status, err := g.Do(context.Background(), http.MethodGet, "/patients", nil, nil)
	if status != 0 {
		t.Errorf("expected status 0, got %d", status)
	}
	if got := apierror.Normalize(err); got.Classification != apierror.Network {
		t.Errorf("expected network classification, got %+v", got)
	}
}

func TestGateway_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	g, _, rec := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Do(ctx, http.MethodGet, "/patients", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if len(rec.Notices()) != 0 {
		t.Error("cancellation must not raise notices")
	}
}

func TestGateway_InvalidSuccessBody(t *testing.T) {
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	})
	var out map[string]any
	_, err := g.Do(context.Background(), http.MethodGet, "/patients", nil, &out)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestGateway_OutboundErrorAbortsBeforeSend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	g, _ := New(srv.URL, WithOutbound(func(*http.Request) error { return errors.New("no") }))
	if _, err := g.Do(context.Background(), http.MethodGet, "/x", nil, nil); err == nil {
		t.Error("expected error")
	}
	if called {
		t.Error("request must not be sent")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	RequestID()(req)
	if req.Header.Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected existing ID kept, got %q", req.Header.Get(RequestIDHeader))
	}
}

func TestRequestID_FromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRequestID(req.Context(), "front-1"))
	RequestID()(req)
	if got := req.Header.Get(RequestIDHeader); got != "front-1" {
		t.Errorf("expected context ID, got %q", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	RequestID()(bare)
	if bare.Header.Get(RequestIDHeader) == "" {
		t.Error("expected a generated ID")
	}
}
