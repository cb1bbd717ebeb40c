package clinic

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicweb/internal/apierror"
	"github.com/ehr/clinicweb/internal/form"
	"github.com/ehr/clinicweb/internal/notice"
	"github.com/ehr/clinicweb/internal/validation"
)

// DateLayout is the wire format of dates of birth.
const DateLayout = "2006-01-02"

const (
	MsgLoginSuccess = "Login successful!"
	MsgPatientAdded = "Patient Data Succesfully Added"
)

// LoginSchema validates the login form.
var LoginSchema = validation.NewSchema(
	validation.Rule{Field: "email", Checks: []validation.Check{
		validation.Required("Email is required"),
		validation.Email("Please enter a valid email"),
	}},
	validation.Rule{Field: "password", Checks: []validation.Check{
		validation.Required("Password is required"),
	}},
)

// PatientSchema validates the add-patient form. now anchors the
// date-of-birth record rule.
func PatientSchema(now func() time.Time) *validation.Schema {
	return validation.NewSchema(
		validation.Rule{Field: "name", Checks: []validation.Check{
			validation.Required("Name is required"),
			validation.MaxLen(255, "Name is too long"),
		}},
		validation.Rule{Field: "dob", Checks: []validation.Check{
			validation.Required("Date of Birth is required"),
			validation.Date(DateLayout, "Date of Birth must be in YYYY-MM-DD format"),
		}},
		validation.Rule{Field: "gender", Checks: []validation.Check{
			validation.Required("Gender is required"),
			validation.OneOf("Gender must be Male or Female", "Male", "Female"),
		}},
		validation.Rule{Field: "address", Checks: []validation.Check{
			validation.Required("Address is required"),
		}},
		validation.Rule{Field: "phone", Checks: []validation.Check{
			validation.Required("Phone is required"),
			validation.Phone("Please enter a valid phone number"),
		}},
	).WithRecordRule(func(v map[string]string) map[string]string {
		dob, err := time.Parse(DateLayout, v["dob"])
		if err != nil {
			return nil
		}
		if dob.After(now()) {
			return map[string]string{"dob": "Date of Birth cannot be in the future"}
		}
		return nil
	})
}

// serverFields maps the API's field names (JSON and Go struct spellings
// both appear in its validation errors) onto form fields.
var serverFields = apierror.FieldHint{
	"email":     "email",
	"Email":     "email",
	"password":  "password",
	"Password":  "password",
	"full_name": "name",
	"FullName":  "name",
	"dob":       "dob",
	"DOB":       "dob",
	"gender":    "gender",
	"Gender":    "gender",
	"address":   "address",
	"Address":   "address",
	"phone":     "phone",
	"Phone":     "phone",
}

// TokenSetter receives the token of a successful login.
type TokenSetter interface {
	SetToken(token string)
}

// NewLoginForm mounts the login form. A successful submit stores the token.
func NewLoginForm(c *Client, session TokenSetter, n notice.Notifier, logger zerolog.Logger) *form.Controller {
	return form.New(form.Config{
		Name:   "login",
		Schema: LoginSchema,
		Submit: func(ctx context.Context, v map[string]string) error {
			token, err := c.Login(ctx, v["email"], v["password"])
			if err != nil {
				return err
			}
			session.SetToken(token)
			return nil
		},
		Notifier:       n,
		SuccessMessage: MsgLoginSuccess,
		Hint:           serverFields,
		Logger:         logger,
	})
}

// NewAddPatientForm mounts the add-patient form. It resets after every
// successful creation.
func NewAddPatientForm(c *Client, n notice.Notifier, logger zerolog.Logger, now func() time.Time) *form.Controller {
	return form.New(form.Config{
		Name:   "add-patient",
		Schema: PatientSchema(now),
		Submit: func(ctx context.Context, v map[string]string) error {
			return c.AddPatient(ctx, NewPatient{
				FullName: v["name"],
				DOB:      v["dob"],
				Gender:   v["gender"],
				Address:  v["address"],
				Phone:    v["phone"],
			})
		},
		Notifier:       n,
		SuccessMessage: MsgPatientAdded,
		ResetOnSuccess: true,
		Hint:           serverFields,
		Logger:         logger,
	})
}
