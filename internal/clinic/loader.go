package clinic

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MsgLoadFailed is shown when a read view cannot load its data.
const MsgLoadFailed = "Failed to load patient data"

// Snapshot is the render state of a read view.
type Snapshot[T any] struct {
	Data    T      `json:"data"`
	Loading bool   `json:"loading"`
	Err     string `json:"error,omitempty"`
}

// Loader runs cancellable fetches for one read view. Starting a fetch
// cancels the one in flight, and Close cancels the current one (the view
// went away). A fetch only writes state while it is still the current,
// uncancelled fetch, so late results are dropped.
type Loader[T any] struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  Snapshot[T]
	logger zerolog.Logger
}

// NewLoader creates a loader in the loading state, as a freshly mounted
// view is.
func NewLoader[T any](logger zerolog.Logger) *Loader[T] {
	return &Loader[T]{
		state:  Snapshot[T]{Loading: true},
		logger: logger,
	}
}

// Load runs fetch under a context derived from parent and returns the
// resulting snapshot. Cancellation never produces an error state.
func (l *Loader[T]) Load(parent context.Context, fetch func(context.Context) (T, error)) Snapshot[T] {
	ctx, cancel := context.WithCancel(parent)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	mine := l.gen
	l.cancel = cancel
	l.state.Loading = true
	l.mu.Unlock()

	data, err := fetch(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if mine != l.gen {
		// Superseded or closed; the newer owner decides the state.
		return l.state
	}
	l.cancel = nil
	defer cancel()

	if ctx.Err() != nil {
		l.state.Loading = false
		return l.state
	}
	if err != nil {
		l.logger.Warn().Err(err).Msg("read view fetch failed")
		l.state.Err = MsgLoadFailed
		l.state.Loading = false
		return l.state
	}
	l.state.Data = data
	l.state.Err = ""
	l.state.Loading = false
	return l.state
}

// Close cancels the fetch in flight and settles loading to false.
func (l *Loader[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.state.Loading = false
}

// Snapshot returns the current state.
func (l *Loader[T]) Snapshot() Snapshot[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// PatientList loads the patient listing.
type PatientList = Loader[PatientPage]

// PatientDetail loads one patient record.
type PatientDetail = Loader[PatientRecord]

// NewPatientList mounts a listing view.
func NewPatientList(logger zerolog.Logger) *PatientList {
	return NewLoader[PatientPage](logger)
}

// NewPatientDetail mounts a detail view.
func NewPatientDetail(logger zerolog.Logger) *PatientDetail {
	return NewLoader[PatientRecord](logger)
}
