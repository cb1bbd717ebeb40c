// Package navigation gates regions of the front end on session state. Both
// guards read the session on every request; nothing is cached, so clearing
// the session makes the very next protected navigation redirect.
package navigation

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Authenticator reports whether a session is active.
type Authenticator interface {
	IsAuthenticated() bool
}

// Kind selects which region a guard protects.
type Kind int

const (
	// SessionOnly regions require a logged-in user.
	SessionOnly Kind = iota
	// AnonymousOnly regions (the login form) are for logged-out users.
	AnonymousOnly
)

// Decision is the outcome of one guard evaluation.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Decide is the pure guard rule. target is where a refused navigation is
// sent.
func Decide(kind Kind, authenticated bool, target string) Decision {
	switch kind {
	case SessionOnly:
		if !authenticated {
			return Decision{RedirectTo: target}
		}
	case AnonymousOnly:
		if authenticated {
			return Decision{RedirectTo: target}
		}
	}
	return Decision{Allow: true}
}

// RequireSession renders the wrapped region only for logged-in users and
// redirects everyone else to loginPath.
func RequireSession(session Authenticator, loginPath string) echo.MiddlewareFunc {
	return guard(SessionOnly, session, loginPath)
}

// RequireAnonymous renders the wrapped region only for logged-out users and
// redirects everyone else to homePath.
func RequireAnonymous(session Authenticator, homePath string) echo.MiddlewareFunc {
	return guard(AnonymousOnly, session, homePath)
}

// guard redirects with 303 See Other: the browser replaces the refused
// navigation with a GET of the target, so there is no history entry to go
// back to.
func guard(kind Kind, session Authenticator, target string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := Decide(kind, session.IsAuthenticated(), target)
			if !d.Allow {
				return c.Redirect(http.StatusSeeOther, d.RedirectTo)
			}
			return next(c)
		}
	}
}

// Fallback handles unknown routes by sending them home.
func Fallback(homePath string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, homePath)
	}
}
