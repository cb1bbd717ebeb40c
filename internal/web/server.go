// Package web serves the local front end: the login screen, the patient
// screens and the notice feed, each behind the navigation guard that fits
// it. Screens are served as JSON view models.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicweb/internal/clinic"
	"github.com/ehr/clinicweb/internal/form"
	"github.com/ehr/clinicweb/internal/navigation"
	"github.com/ehr/clinicweb/internal/notice"
)

// Session is what the front end needs from the session store.
type Session interface {
	navigation.Authenticator
	clinic.TokenSetter
	ClearToken()
	Ping(ctx context.Context) error
}

// Config wires a Server.
type Config struct {
	Client  *clinic.Client
	Session Session
	Notices *notice.Center
	Logger  zerolog.Logger
	// Backend names the session storage backend for /health.
	Backend string
	Now     func() time.Time
}

type Server struct {
	echo    *echo.Echo
	client  *clinic.Client
	session Session
	notices *notice.Center
	logger  zerolog.Logger
	backend string

	mu         sync.Mutex
	login      *form.Controller
	addPatient *form.Controller

	// views holds the loaders of requests still being served.
	viewsMu sync.Mutex
	views   map[view]struct{}
}

// view is a mounted screen whose fetch can be aborted.
type view interface {
	Close()
}

// New builds the server and registers every route.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notices == nil {
		cfg.Notices = notice.NewCenter(cfg.Logger)
	}
	s := &Server{
		echo:    echo.New(),
		client:  cfg.Client,
		session: cfg.Session,
		notices: cfg.Notices,
		logger:  cfg.Logger,
		backend: cfg.Backend,
		views:   make(map[view]struct{}),
	}
	s.login = clinic.NewLoginForm(s.client, s.session, s.notices, s.logger)
	s.addPatient = clinic.NewAddPatientForm(s.client, s.notices, s.logger, cfg.Now)

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(s.logger, s.notices))
	e.Use(RequestID())
	e.Use(Logger(s.logger, s.session))
	e.Use(SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	anonymous := navigation.RequireAnonymous(s.session, navigation.HomePath)
	session := navigation.RequireSession(s.session, navigation.LoginPath)

	e.GET("/health", s.handleHealth)
	notice.NewHandler(s.notices).RegisterRoutes(e)

	e.GET("/login", s.handleLoginView, anonymous)
	e.POST("/login", s.handleLoginSubmit, anonymous)

	e.GET("/", s.handleHome, session)
	e.GET("/patient", s.handleListPatients, session)
	e.GET("/patient/new", s.handleAddPatientView, session)
	e.POST("/patient/new", s.handleAddPatientSubmit, session)
	e.GET("/patient/:id", s.handleShowPatient, session)
	e.POST("/logout", s.handleLogout, session)

	e.RouteNotFound("/*", navigation.Fallback(navigation.HomePath))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops in-flight fetches and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unmountAll()
	return s.echo.Shutdown(ctx)
}

// mount registers v for the lifetime of one request. The returned func
// unmounts and closes it.
func (s *Server) mount(v view) func() {
	s.viewsMu.Lock()
	s.views[v] = struct{}{}
	s.viewsMu.Unlock()
	return func() {
		s.viewsMu.Lock()
		delete(s.views, v)
		s.viewsMu.Unlock()
		v.Close()
	}
}

// unmountAll aborts every in-flight fetch.
func (s *Server) unmountAll() {
	s.viewsMu.Lock()
	views := s.views
	s.views = make(map[view]struct{})
	s.viewsMu.Unlock()
	for v := range views {
		v.Close()
	}
}

func (s *Server) loginForm() *form.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login
}

// remountLogin gives the next login screen a fresh form, so credentials of
// an earlier session never prefill it.
func (s *Server) remountLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.login = clinic.NewLoginForm(s.client, s.session, s.notices, s.logger)
}
