package web

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/gateway"
	"github.com/ehr/clinicweb/internal/navigation"
	"github.com/ehr/clinicweb/internal/notice"
)

const RequestIDHeader = gateway.RequestIDHeader

// RequestID tags every request with an ID, reusing the browser's when sent.
// The ID also rides on the request context, so the API calls a screen
// makes carry the same X-Request-ID as the screen request itself.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set("request_id", rid)
			c.SetRequest(req.WithContext(gateway.WithRequestID(req.Context(), rid)))
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// Logger writes one line per screen request, with the route and whether a
// session was present when the response went out.
func Logger(logger zerolog.Logger, auth navigation.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			rid, _ := c.Get("request_id").(string)
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Int("status", c.Response().Status).
				Bool("authenticated", auth.IsAuthenticated()).
				Dur("latency", time.Since(start)).
				Msg("screen")

			return nil
		}
	}
}

// Recovery turns a panicking handler into a 500 and tells the user through
// the notice feed, the same way a failed request is reported.
func Recovery(logger zerolog.Logger, n notice.Notifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("screen handler panicked")

				n.Notify(notice.LevelError, apierror.MsgUnexpected)
				err = echo.NewHTTPError(http.StatusInternalServerError, apierror.MsgUnexpected)
			}()
			return next(c)
		}
	}
}

// SecurityHeaders sets response headers for a front end that shows patient
// data and is only ever served to the local browser.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			// Patient data must not linger in browser caches.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
