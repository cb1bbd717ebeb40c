// Package session holds the client's authentication token. The token is the
// single source of truth for whether the user is logged in; it is mirrored
// into durable storage so a restarted client comes back logged in without a
// round trip.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultStorageTimeout = 5 * time.Second

// Store is the process-wide session. Only SetToken and ClearToken mutate it.
// Storage failures never surface to callers: a failed read restores a
// logged-out session, a failed write or delete is logged.
type Store struct {
	mu      sync.RWMutex
	token   string
	storage Storage
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used for the expiry check on restore.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithStorageTimeout bounds each storage call.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// Open creates the store and restores any token persisted in storage. A
// token that decodes as an expired JWT is discarded.
func Open(ctx context.Context, storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		logger:  zerolog.Nop(),
		timeout: defaultStorageTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token, ok, err := s.storage.Load(ctx, TokenKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("session restore failed, starting logged out")
		return
	}
	if !ok || token == "" {
		return
	}
	if claims, err := ParseClaims(token); err == nil && claims.Expired(s.now()) {
		s.logger.Info().Msg("persisted session token expired, discarding")
		if err := s.storage.Delete(ctx, TokenKey); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete expired session token")
		}
		return
	}
	s.token = token
	s.logger.Debug().Msg("session restored")
}

// SetToken stores token in memory and durable storage. Repeating the call
// with the current token is a no-op. An empty token clears the session.
func (s *Store) SetToken(token string) {
	if token == "" {
		s.ClearToken()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		return
	}
	s.token = token

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.storage.Save(ctx, TokenKey, token); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist session token")
	}
}

// ClearToken removes the token from memory and durable storage. Safe to
// call when already cleared.
func (s *Store) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.storage.Delete(ctx, TokenKey); err != nil {
		s.logger.Warn().Err(err).Msg("failed to delete persisted session token")
	}
}

// Token returns the current token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a token is held.
func (s *Store) IsAuthenticated() bool {
	return s.Token() != ""
}

// Close releases the storage backend.
func (s *Store) Close() error {
	return s.storage.Close()
}

// Pinger is implemented by storage backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the storage backend. Backends without a health check are
// always healthy.
func (s *Store) Ping(ctx context.Context) error {
	p, ok := s.storage.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return p.Ping(ctx)
}

// StatsReporter is implemented by pooled storage backends.
type StatsReporter interface {
	Stats() PoolStats
}

// PoolStats returns the backend's connection pool usage. ok is false when
// the backend keeps no pool.
func (s *Store) PoolStats() (stats PoolStats, ok bool) {
	r, ok := s.storage.(StatsReporter)
	if !ok {
		return PoolStats{}, false
	}
	return r.Stats(), true
}
