// Package form drives one data-entry form through validation and
// submission: Idle -> Submitting -> (Success | Failed) -> Idle.
package form

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/notice"
	"github.com/ehr/clinicweb/internal/validation"
)

// ErrBusy is returned when the form is touched while a submission is in
// flight. Submissions are not idempotent on the server, so a second submit
// is refused rather than queued.
var ErrBusy = errors.New("form: submission already in progress")

// State is the controller's position in the submit cycle.
type State int

const (
	Idle State = iota
	Submitting
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SubmitFunc sends validated values to the server.
type SubmitFunc func(ctx context.Context, values map[string]string) error

// Config describes one form type.
type Config struct {
	Name           string
	Schema         *validation.Schema
	Submit         SubmitFunc
	Notifier       notice.Notifier
	SuccessMessage string
	// ResetOnSuccess restores default values after a successful submit
	// (creation forms).
	ResetOnSuccess bool
	// Hint maps server field names onto form fields so server-side field
	// errors can be pinned to the right input.
	Hint   apierror.FieldHint
	Logger zerolog.Logger
}

// Result reports what one Submit call did.
type Result struct {
	// Sent is true when the request reached the transport.
	Sent bool
	OK   bool
	// Errors holds validation errors when the submit was blocked locally.
	Errors  map[string]string
	Failure *apierror.NormalizedError
}

// View is a copy of the form state for rendering.
type View struct {
	Values     map[string]string `json:"values"`
	Errors     map[string]string `json:"errors"`
	Submitting bool              `json:"submitting"`
	Last       State             `json:"last"`
}

// Controller owns the state of one mounted form.
type Controller struct {
	mu    sync.Mutex
	cfg   Config
	form  *validation.FormState
	state State
	last  State
}

// New mounts a form with default values.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:  cfg,
		form: validation.NewFormState(cfg.Schema),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Last returns the outcome of the most recent submission that reached the
// server (Success or Failed), or Idle when none has.
func (c *Controller) Last() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// View returns a snapshot for rendering.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	values, errs := c.form.Snapshot()
	return View{Values: values, Errors: errs, Submitting: c.form.Submitting, Last: c.last}
}

// Change records an input change. Inputs are disabled while submitting.
func (c *Controller) Change(field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form.Submitting {
		return ErrBusy
	}
	c.form.Change(field, value)
	return nil
}

// Fill replaces the whole form with a post, in schema order. A field the
// post omits is back at its default (""), never left over from an earlier
// post.
func (c *Controller) Fill(values map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.form.Submitting {
		return ErrBusy
	}
	// Set every value first so a record rule sees the whole post.
	fields := c.cfg.Schema.Fields()
	for _, field := range fields {
		c.form.Values[field] = values[field]
	}
	for _, field := range fields {
		c.form.Change(field, values[field])
	}
	return nil
}

// Submit validates the whole form and, when valid, sends it. Validation
// failures never reach the transport. Server failures are normalized and
// surfaced as an error notice; the controller always ends back in Idle.
func (c *Controller) Submit(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.form.Submitting {
		c.mu.Unlock()
		return Result{}, ErrBusy
	}
	if !c.form.Validate() {
		_, errs := c.form.Snapshot()
		c.mu.Unlock()
		c.cfg.Logger.Debug().Str("form", c.cfg.Name).Int("errors", len(errs)).Msg("submit blocked by validation")
		return Result{Errors: errs}, nil
	}
	c.form.Submitting = true
	c.state = Submitting
	values, _ := c.form.Snapshot()
	c.mu.Unlock()

	err := c.cfg.Submit(ctx, values)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.form.Submitting = false

	if err != nil {
		c.last = Failed
		n := apierror.Normalize(err, c.cfg.Hint)
		if n.Field != "" && c.cfg.Schema.Has(n.Field) {
			c.form.Errors[n.Field] = n.Message
		}
		c.notify(notice.LevelError, n.Message)
		c.cfg.Logger.Info().Str("form", c.cfg.Name).Str("classification", n.Classification.String()).Msg("submit failed")
		c.state = Idle
		return Result{Sent: true, Failure: &n}, nil
	}

	c.last = Success
	if c.cfg.ResetOnSuccess {
		c.form.Reset()
	} else {
		c.form.Errors = make(map[string]string)
	}
	if c.cfg.SuccessMessage != "" {
		c.notify(notice.LevelSuccess, c.cfg.SuccessMessage)
	}
	c.cfg.Logger.Info().Str("form", c.cfg.Name).Msg("submit succeeded")
	c.state = Idle
	return Result{Sent: true, OK: true}, nil
}

func (c *Controller) notify(level notice.Level, msg string) {
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.Notify(level, msg)
	}
}
