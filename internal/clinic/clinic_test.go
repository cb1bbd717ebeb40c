package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/form"
	"github.com/ehr/clinicweb/internal/gateway"
	"github.com/ehr/clinicweb/internal/notice"
	"github.com/ehr/clinicweb/internal/session"
)

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

type harness struct {
	client *Client
	store  *session.Store
	rec    *notice.Recorder
	hits   atomic.Int32
}

func newHarness(t *testing.T, h http.HandlerFunc) *harness {
	t.Helper()
	hs := &harness{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hs.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	hs.store = session.Open(context.Background(), session.NewMemoryStorage())
	hs.rec = &notice.Recorder{}
	g, err := gateway.New(srv.URL+"/api/v1",
		gateway.WithOutbound(gateway.BearerToken(hs.store)),
		gateway.WithInbound(gateway.SessionExpiry(hs.store, hs.rec)),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	hs.client = NewClient(g)
	return hs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestLoginForm_StoresToken(t *testing.T) {
	var got map[string]string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"token": "T1"}})
	})

	c := NewLoginForm(h.client, h.store, h.rec, zerolog.Nop())
	c.Fill(map[string]string{"email": "a@b.com", "password": "x"})
	res, err := c.Submit(context.Background())
	if err != nil || !res.OK {
		t.Fatalf("expected success, got %+v %v", res, err)
	}
	if diff := cmp.Diff(map[string]string{"email": "a@b.com", "password": "x"}, got); diff != "" {
		t.Errorf("login body (-want +got):\n%s", diff)
	}
	if !h.store.IsAuthenticated() || h.store.Token() != "T1" {
		t.Errorf("expected token T1, got %q", h.store.Token())
	}
	if n := h.rec.Notices(); len(n) != 1 || n[0].Message != MsgLoginSuccess {
		t.Errorf("unexpected notices %+v", n)
	}
}

func TestLoginForm_RejectsBadEmailLocally(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	c := NewLoginForm(h.client, h.store, h.rec, zerolog.Nop())
	c.Fill(map[string]string{"email": "not-an-email"})

	res, _ := c.Submit(context.Background())
	want := map[string]string{"email": "Please enter a valid email", "password": "Password is required"}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
	if h.hits.Load() != 0 {
		t.Error("invalid form reached the server")
	}
}

func TestLoginForm_UnauthorizedClearsSession(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   []map[string]string{{"message": "invalid credentials"}},
		})
	})
	h.store.SetToken("stale")

	c := NewLoginForm(h.client, h.store, h.rec, zerolog.Nop())
	c.Fill(map[string]string{"email": "a@b.com", "password": "wrong"})
	res, _ := c.Submit(context.Background())

	if res.Failure == nil || res.Failure.Message != "invalid credentials" {
		t.Fatalf("expected normalized message, got %+v", res.Failure)
	}
	if res.Failure.Classification != apierror.Unauthorized {
		t.Errorf("classification %s", res.Failure.Classification)
	}
	if h.store.IsAuthenticated() {
		t.Error("expected session cleared on 401")
	}
	if c.Last() != form.Failed {
		t.Errorf("last = %s", c.Last())
	}
}

func TestLogin_MissingTokenIsInvalid(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{}})
	})
	if _, err := h.client.Login(context.Background(), "a@b.com", "x"); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestAddPatientForm_EmptyGenderBlocksSubmit(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	c := NewAddPatientForm(h.client, h.rec, zerolog.Nop(), fixedNow)
	c.Fill(map[string]string{"name": "Jane", "dob": "1990-02-03", "gender": "", "address": "1 Main St", "phone": "0812345678"})

	res, _ := c.Submit(context.Background())
	if diff := cmp.Diff(map[string]string{"gender": "Gender is required"}, res.Errors); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
	if h.hits.Load() != 0 {
		t.Error("blocked submit reached the server")
	}
}

func TestAddPatientForm_CreatedResetsAndNotifiesOnce(t *testing.T) {
	var got NewPatient
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T1" {
			t.Errorf("missing bearer, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "patient created"})
	})
	h.store.SetToken("T1")

	c := NewAddPatientForm(h.client, h.rec, zerolog.Nop(), fixedNow)
	c.Fill(map[string]string{"name": "Jane Doe", "dob": "1990-02-03", "gender": "Female", "address": "1 Main St", "phone": "(021) 555 0101"})
	res, err := c.Submit(context.Background())
	if err != nil || !res.OK {
		t.Fatalf("expected success, got %+v %v", res, err)
	}

	want := NewPatient{FullName: "Jane Doe", DOB: "1990-02-03", Gender: "Female", Address: "1 Main St", Phone: "(021) 555 0101"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
	for f, v := range c.View().Values {
		if v != "" {
			t.Errorf("field %s not reset: %q", f, v)
		}
	}
	n := h.rec.Notices()
	if len(n) != 1 || n[0].Level != notice.LevelSuccess || n[0].Message != MsgPatientAdded {
		t.Errorf("expected one success notice, got %+v", n)
	}
}

func TestAddPatient_Non201IsFailure(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	if err := h.client.AddPatient(context.Background(), NewPatient{}); !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestAddPatientForm_ServerFieldErrorPinned(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   []map[string]string{{"field": "Phone", "message": "invalid input on field Phone"}},
		})
	})
	c := NewAddPatientForm(h.client, h.rec, zerolog.Nop(), fixedNow)
	c.Fill(map[string]string{"name": "Jane", "dob": "1990-02-03", "gender": "Male", "address": "x", "phone": "0812345678"})
	c.Submit(context.Background())

	if got := c.View().Errors["phone"]; got != "invalid input on field Phone" {
		t.Errorf("expected phone error, got %q", got)
	}
	if h.store.IsAuthenticated() {
		t.Error("unexpected session")
	}
}

func TestPatientSchema_FutureDOB(t *testing.T) {
	c := NewAddPatientForm(NewClient(nil), nil, zerolog.Nop(), fixedNow)
	c.Fill(map[string]string{"name": "Jane", "dob": "2030-01-01", "gender": "Male", "address": "x", "phone": "0812345678"})
	res, _ := c.Submit(context.Background())
	if res.Errors["dob"] != "Date of Birth cannot be in the future" {
		t.Errorf("unexpected errors %v", res.Errors)
	}
}

func TestListPatients_QueryAndDecode(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"page": 2, "limit": 5, "count_data": 1,
			"data": []map[string]any{{"patient_id": 7, "full_name": "Jane", "gender": "Female"}},
		}})
	})
	page, err := h.client.ListPatients(context.Background(), 2, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := PatientPage{Page: 2, Limit: 5, CountData: 1, Data: []PatientRecord{{ID: 7, FullName: "Jane", Gender: "Female"}}}
	if diff := cmp.Diff(want, page); diff != "" {
		t.Errorf("page (-want +got):\n%s", diff)
	}
	if page.Data[0].Path() != "/patient/7" {
		t.Errorf("row path %q", page.Data[0].Path())
	}
}

func TestGetPatient(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/patients/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"patient_id": 7, "full_name": "Jane"}})
	})
	p, err := h.client.GetPatient(context.Background(), 7)
	if err != nil || p.ID != 7 || p.FullName != "Jane" {
		t.Errorf("got %+v %v", p, err)
	}
}
