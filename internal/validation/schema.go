// Package validation implements declarative per-field and whole-record
// validation for data-entry forms, plus the incremental form state that
// decides when on-change feedback is shown.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Check is a single predicate on a field value with the message reported
// when the predicate fails.
type Check struct {
	Valid   func(value string) bool
	Message string
}

// Rule is the ordered list of checks for one field. The first failing check
// decides the field's message.
type Rule struct {
	Field  string
	Checks []Check
}

// RecordRule validates the whole record (cross-field constraints). It
// returns field -> message for every field it rejects.
type RecordRule func(values map[string]string) map[string]string

// Schema is the immutable validation definition of one form type.
type Schema struct {
	rules  []Rule
	index  map[string]int
	record RecordRule
}

// NewSchema builds a schema from field rules in display order. A later rule
// for a field already present replaces the earlier one.
func NewSchema(rules ...Rule) *Schema {
	s := &Schema{index: make(map[string]int, len(rules))}
	for _, r := range rules {
		checks := append([]Check(nil), r.Checks...)
		if i, ok := s.index[r.Field]; ok {
			s.rules[i] = Rule{Field: r.Field, Checks: checks}
			continue
		}
		s.index[r.Field] = len(s.rules)
		s.rules = append(s.rules, Rule{Field: r.Field, Checks: checks})
	}
	return s
}

// WithRecordRule returns a copy of the schema carrying rr as its
// whole-record rule.
func (s *Schema) WithRecordRule(rr RecordRule) *Schema {
	cp := &Schema{
		rules:  s.rules,
		index:  s.index,
		record: rr,
	}
	return cp
}

// Fields returns the schema's field names in display order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Field
	}
	return out
}

// Has reports whether the schema defines a rule for field.
func (s *Schema) Has(field string) bool {
	_, ok := s.index[field]
	return ok
}

// Defaults returns a fresh value set with every field set to "".
func (s *Schema) Defaults() map[string]string {
	out := make(map[string]string, len(s.rules))
	for _, r := range s.rules {
		out[r.Field] = ""
	}
	return out
}

// ---------------------------------------------------------------------------
// Stock checks
// ---------------------------------------------------------------------------

var phonePattern = regexp.MustCompile(`^\+?[0-9(][0-9 ()-]{5,19}$`)

// checker is shared by every stock check; validator.Validate is safe for
// concurrent use once its custom tags are registered.
var checker = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("validation: register phone: %v", err))
	}
	return v
}

// tagCheck builds a check that passes when value satisfies the validator tag.
func tagCheck(tag, msg string) Check {
	return Check{
		Valid:   func(v string) bool { return checker.Var(v, tag) == nil },
		Message: msg,
	}
}

// Required rejects empty and whitespace-only values.
func Required(msg string) Check {
	return Check{
		Valid:   func(v string) bool { return checker.Var(strings.TrimSpace(v), "required") == nil },
		Message: msg,
	}
}

// Email accepts a bare address ("a@b.com"); display-name forms are rejected.
func Email(msg string) Check {
	return tagCheck("required,email", msg)
}

// Date accepts values that parse with the given time layout.
func Date(layout, msg string) Check {
	return tagCheck("required,datetime="+layout, msg)
}

// OneOf accepts only the listed values (exact match).
func OneOf(msg string, allowed ...string) Check {
	quoted := make([]string, len(allowed))
	for i, a := range allowed {
		if strings.ContainsAny(a, " \t") {
			a = "'" + a + "'"
		}
		quoted[i] = a
	}
	return tagCheck("oneof="+strings.Join(quoted, " "), msg)
}

// MaxLen rejects values longer than n characters.
func MaxLen(n int, msg string) Check {
	return tagCheck(fmt.Sprintf("max=%d", n), msg)
}

// Phone accepts digits with optional leading "+", spaces, dashes and
// parentheses.
func Phone(msg string) Check {
	return tagCheck("required,phone", msg)
}
