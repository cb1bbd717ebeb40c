package validation

// FormState is the mutable state of one mounted form.
//
// Incremental validation is armed by the first failed Validate: until Errors
// is non-empty, Change only records values. Once armed, Change re-validates
// the changed field within the same call, so an entry in Errors always
// reflects the field's last value.
type FormState struct {
	Values     map[string]string
	Errors     map[string]string
	Submitting bool

	schema *Schema
}

// NewFormState returns a form state with every schema field set to "".
func NewFormState(s *Schema) *FormState {
	return &FormState{
		Values: s.Defaults(),
		Errors: make(map[string]string),
		schema: s,
	}
}

// Armed reports whether on-change validation is active.
func (f *FormState) Armed() bool {
	return len(f.Errors) > 0
}

// Change sets field to value and, when armed, re-validates that field only.
// Entries for other fields are never touched.
func (f *FormState) Change(field, value string) {
	f.Values[field] = value
	if !f.Armed() || !f.schema.Has(field) {
		return
	}
	if msg, ok := f.fieldError(field); ok {
		f.Errors[field] = msg
		return
	}
	delete(f.Errors, field)
}

// Validate runs full-form validation, replaces Errors with the result and
// reports whether the form is valid.
func (f *FormState) Validate() bool {
	f.Errors = ValidateForm(f.schema, f.Values)
	return len(f.Errors) == 0
}

// Reset restores default values and clears errors, disarming incremental
// validation.
func (f *FormState) Reset() {
	f.Values = f.schema.Defaults()
	f.Errors = make(map[string]string)
	f.Submitting = false
}

// Snapshot returns copies of the values and errors safe to hand to
// renderers.
func (f *FormState) Snapshot() (values, errs map[string]string) {
	values = make(map[string]string, len(f.Values))
	for k, v := range f.Values {
		values[k] = v
	}
	errs = make(map[string]string, len(f.Errors))
	for k, v := range f.Errors {
		errs[k] = v
	}
	return values, errs
}

// fieldError returns the message for field under the current values, with
// the field rule taking precedence over the record rule.
func (f *FormState) fieldError(field string) (string, bool) {
	if msg, ok := ValidateField(f.schema, field, f.Values[field]); !ok {
		return msg, true
	}
	if f.schema.record != nil {
		if msg, ok := f.schema.record(f.Values)[field]; ok {
			return msg, true
		}
	}
	return "", false
}
