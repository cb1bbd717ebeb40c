// Package notice holds the transient user-visible messages ("toasts") raised
// by forms and by the request gateway, and an Echo handler that lets the
// front end drain them.
package notice

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Notice Types
// ---------------------------------------------------------------------------

// Level is the severity shown with a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice is a single message waiting to be shown.
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier is implemented by anything that can surface a notice.
type Notifier interface {
	Notify(level Level, message string)
}

// ---------------------------------------------------------------------------
// Center
// ---------------------------------------------------------------------------

// defaultCapacity bounds the pending queue; the oldest notices are dropped
// first when nobody drains.
const defaultCapacity = 64

// Center queues notices until the front end drains them.
type Center struct {
	mu       sync.Mutex
	pending  []Notice
	capacity int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCenter creates an empty notice center.
func NewCenter(logger zerolog.Logger) *Center {
	return &Center{
		capacity: defaultCapacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Notify queues a notice.
func (c *Center) Notify(level Level, message string) {
	n := Notice{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		CreatedAt: c.now().UTC(),
	}

	c.mu.Lock()
	c.pending = append(c.pending, n)
	if over := len(c.pending) - c.capacity; over > 0 {
		c.pending = append([]Notice(nil), c.pending[over:]...)
	}
	c.mu.Unlock()

	evt := c.logger.Info()
	if level == LevelError {
		evt = c.logger.Warn()
	}
	evt.Str("notice_id", n.ID).Str("level", string(level)).Msg(message)
}

// Pending returns a copy of the queued notices without removing them.
func (c *Center) Pending() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notice, len(c.pending))
	copy(out, c.pending)
	return out
}

// Drain removes and returns every queued notice, oldest first.
func (c *Center) Drain() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

// ---------------------------------------------------------------------------
// Recorder (test double)
// ---------------------------------------------------------------------------

// Recorder is a Notifier that only records calls.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records the call.
func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Message: message})
}

// Notices returns a copy of recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes the center to the front end.
type Handler struct {
	center *Center
}

// NewHandler creates a Handler.
func NewHandler(c *Center) *Handler {
	return &Handler{center: c}
}

// RegisterRoutes mounts GET /notices.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/notices", h.HandleDrain)
}

// HandleDrain returns and clears the pending notices.
func (h *Handler) HandleDrain(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"notices": h.center.Drain(),
	})
}
