package validation

// ValidateField runs only field's rule against value. It returns the first
// failing check's message and false, or "" and true when the value passes.
// Fields without a rule always pass.
func ValidateField(s *Schema, field, value string) (string, bool) {
	i, ok := s.index[field]
	if !ok {
		return "", true
	}
	for _, c := range s.rules[i].Checks {
		if !c.Valid(value) {
			return c.Message, false
		}
	}
	return "", true
}

// ValidateForm runs every field rule and then the record rule, returning the
// complete error set. An empty map means the record is valid. When a field
// rule and the record rule both reject a field, the field rule's message is
// kept.
func ValidateForm(s *Schema, values map[string]string) map[string]string {
	errs := make(map[string]string)
	for _, r := range s.rules {
		if msg, ok := ValidateField(s, r.Field, values[r.Field]); !ok {
			errs[r.Field] = msg
		}
	}
	if s.record != nil {
		for field, msg := range s.record(values) {
			if _, taken := errs[field]; taken {
				continue
			}
			errs[field] = msg
		}
	}
	return errs
}
