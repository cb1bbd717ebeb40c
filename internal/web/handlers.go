package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/clinic"
	"github.com/ehr/clinicweb/internal/form"
	"github.com/ehr/clinicweb/internal/navigation"
	"github.com/ehr/clinicweb/internal/session"
	"github.com/ehr/clinicweb/pkg/pagination"
)

// formPage is the view model of a form screen.
type formPage struct {
	Form    form.View                 `json:"form"`
	Failure *apierror.NormalizedError `json:"failure,omitempty"`
}

type patientRow struct {
	ID       int    `json:"id"`
	FullName string `json:"full_name"`
	Gender   string `json:"gender"`
	Path     string `json:"path"`
}

// listPage is the view model of the patient listing.
type listPage struct {
	Page      int              `json:"page"`
	Limit     int              `json:"limit"`
	CountData int              `json:"count_data"`
	Pages     int              `json:"pages"`
	Rows      []patientRow     `json:"rows"`
	Links     pagination.Links `json:"links"`
	Loading   bool             `json:"loading"`
	Error     string           `json:"error,omitempty"`
}

type detailPage struct {
	Patient *clinic.PatientRecord `json:"patient,omitempty"`
	Loading bool                  `json:"loading"`
	Error   string                `json:"error,omitempty"`
}

// poolReporter is implemented by session stores over a pooled backend.
type poolReporter interface {
	PoolStats() (session.PoolStats, bool)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.session.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":          "unhealthy",
			"error":           err.Error(),
			"session_backend": s.backend,
		})
	}
	body := map[string]interface{}{
		"status":          "ok",
		"authenticated":   s.session.IsAuthenticated(),
		"session_backend": s.backend,
		"pending_notices": len(s.notices.Pending()),
	}
	if pr, ok := s.session.(poolReporter); ok {
		if stats, ok := pr.PoolStats(); ok {
			body["pool"] = stats
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleHome(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"links": map[string]string{
			"patients":    "/patient",
			"add_patient": "/patient/new",
			"logout":      "/logout",
		},
	})
}

func (s *Server) handleLoginView(c echo.Context) error {
	return c.JSON(http.StatusOK, formPage{Form: s.loginForm().View()})
}

func (s *Server) handleLoginSubmit(c echo.Context) error {
	ctl := s.loginForm()
	res, err := submit(c, ctl)
	if err != nil {
		return err
	}
	if res.OK {
		s.remountLogin()
		return c.Redirect(http.StatusSeeOther, navigation.HomePath)
	}
	// A rejected login stays on the login screen whatever the status.
	return c.JSON(http.StatusUnprocessableEntity, formPage{Form: ctl.View(), Failure: res.Failure})
}

func (s *Server) handleAddPatientView(c echo.Context) error {
	return c.JSON(http.StatusOK, formPage{Form: s.addPatient.View()})
}

func (s *Server) handleAddPatientSubmit(c echo.Context) error {
	res, err := submit(c, s.addPatient)
	if err != nil {
		return err
	}
	page := formPage{Form: s.addPatient.View(), Failure: res.Failure}
	switch {
	case res.OK:
		return c.JSON(http.StatusCreated, page)
	case res.Failure == nil:
		return c.JSON(http.StatusUnprocessableEntity, page)
	case !s.session.IsAuthenticated():
		return c.Redirect(http.StatusSeeOther, navigation.LoginPath)
	}
	return c.JSON(failureStatus(res.Failure.Classification), page)
}

func (s *Server) handleListPatients(c echo.Context) error {
	params := pagination.FromContext(c)

	list := clinic.NewPatientList(s.logger)
	defer s.mount(list)()
	snap := list.Load(c.Request().Context(), func(ctx context.Context) (clinic.PatientPage, error) {
		return s.client.ListPatients(ctx, params.Page, params.Limit)
	})
	if !s.session.IsAuthenticated() {
		return c.Redirect(http.StatusSeeOther, navigation.LoginPath)
	}

	out := listPage{
		Page:      snap.Data.Page,
		Limit:     snap.Data.Limit,
		CountData: snap.Data.CountData,
		Rows:      make([]patientRow, 0, len(snap.Data.Data)),
		Loading:   snap.Loading,
		Error:     snap.Err,
	}
	if snap.Err == "" && !snap.Loading {
		out.Pages = params.Pages(snap.Data.CountData)
		out.Links = params.Links("/patient", snap.Data.CountData)
	}
	for _, p := range snap.Data.Data {
		out.Rows = append(out.Rows, patientRow{ID: p.ID, FullName: p.FullName, Gender: p.Gender, Path: p.Path()})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleShowPatient(c echo.Context) error {
	var id int
	if err := echo.PathParamsBinder(c).MustInt("id", &id).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient id must be an integer")
	}

	detail := clinic.NewPatientDetail(s.logger)
	defer s.mount(detail)()
	snap := detail.Load(c.Request().Context(), func(ctx context.Context) (clinic.PatientRecord, error) {
		return s.client.GetPatient(ctx, id)
	})
	if !s.session.IsAuthenticated() {
		return c.Redirect(http.StatusSeeOther, navigation.LoginPath)
	}

	out := detailPage{Loading: snap.Loading, Error: snap.Err}
	if snap.Err == "" && snap.Data.ID == id {
		rec := snap.Data
		out.Patient = &rec
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleLogout(c echo.Context) error {
	s.unmountAll()
	s.session.ClearToken()
	s.remountLogin()
	return c.Redirect(http.StatusSeeOther, navigation.LoginPath)
}

// submit fills ctl from the posted values (JSON or form encoded) and
// submits it.
func submit(c echo.Context, ctl *form.Controller) (form.Result, error) {
	values := map[string]string{}
	if err := c.Bind(&values); err != nil {
		return form.Result{}, echo.NewHTTPError(http.StatusBadRequest, "invalid form body")
	}
	if err := ctl.Fill(values); err != nil {
		return form.Result{}, busy(err)
	}
	res, err := ctl.Submit(c.Request().Context())
	if err != nil {
		return form.Result{}, busy(err)
	}
	return res, nil
}

func busy(err error) error {
	if errors.Is(err, form.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, "a submission is already in progress")
	}
	return err
}

// failureStatus picks the response status for a failed submission.
func failureStatus(cls apierror.Classification) int {
	switch cls {
	case apierror.Network, apierror.ServerFault, apierror.Unknown:
		return http.StatusBadGateway
	case apierror.Forbidden:
		return http.StatusForbidden
	}
	return http.StatusUnprocessableEntity
}
