// Package clinic is the client for the clinic records API: login, patient
// creation and patient reads, plus the schemas and form wiring of the
// screens that call them.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ErrUnexpectedStatus is returned when a call succeeds with a status the
// endpoint does not document.
var ErrUnexpectedStatus = errors.New("error occured")

// ErrNoToken is returned when a login succeeds without a token.
var ErrNoToken = errors.New("invalid response structure")

// Doer sends one JSON request; the gateway implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, body, out any) (int, error)
}

// PatientRecord is a patient as returned by the API.
type PatientRecord struct {
	ID       int    `json:"patient_id"`
	FullName string `json:"full_name"`
	DOB      string `json:"dob"`
	Gender   string `json:"gender"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

// Path is the front-end route of the record's detail view.
func (p PatientRecord) Path() string {
	return "/patient/" + strconv.Itoa(p.ID)
}

// NewPatient is the creation payload.
type NewPatient struct {
	FullName string `json:"full_name"`
	DOB      string `json:"dob"`
	Gender   string `json:"gender"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

// PatientPage is one page of the patient listing.
type PatientPage struct {
	Page      int             `json:"page"`
	Limit     int             `json:"limit"`
	CountData int             `json:"count_data"`
	Data      []PatientRecord `json:"data"`
}

// Client calls the clinic API through a Doer.
type Client struct {
	api Doer
}

// NewClient creates a Client.
func NewClient(api Doer) *Client {
	return &Client{api: api}
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if _, err := c.api.Do(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("login: %w", ErrNoToken)
	}
	return out.Token, nil
}

// AddPatient creates a patient. Only 201 Created counts as success.
func (c *Client) AddPatient(ctx context.Context, p NewPatient) error {
	status, err := c.api.Do(ctx, http.MethodPost, "/patients", p, nil)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return ErrUnexpectedStatus
	}
	return nil
}

// ListPatients fetches one page of patients. Zero page or limit leaves the
// server default in place.
func (c *Client) ListPatients(ctx context.Context, page, limit int) (PatientPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/patients"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var out PatientPage
	if _, err := c.api.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return PatientPage{}, err
	}
	if out.Data == nil {
		out.Data = []PatientRecord{}
	}
	return out, nil
}

// GetPatient fetches one patient.
func (c *Client) GetPatient(ctx context.Context, id int) (PatientRecord, error) {
	var out PatientRecord
	if _, err := c.api.Do(ctx, http.MethodGet, "/patients/"+strconv.Itoa(id), nil, &out); err != nil {
		return PatientRecord{}, err
	}
	return out, nil
}
