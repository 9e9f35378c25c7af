package model

// ValidationResult collects error messages per field. The zero value is
// ready to use and valid.
type ValidationResult struct {
	errs   map[string][]string
	fields []string // insertion order, keeps output stable
}

// NewValidationResult returns an empty result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{}
}

// Add records msg against field.
func (r *ValidationResult) Add(field, msg string) {
	if r.errs == nil {
		r.errs = map[string][]string{}
	}
	if _, ok := r.errs[field]; !ok {
		r.fields = append(r.fields, field)
	}
	r.errs[field] = append(r.errs[field], msg)
}

// Merge appends every error of other into r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, f := range other.fields {
		for _, msg := range other.errs[f] {
			r.Add(f, msg)
		}
	}
}

// Valid is true iff no errors were recorded.
func (r *ValidationResult) Valid() bool {
	return r == nil || len(r.errs) == 0
}

// Errors returns a copy of the field to messages mapping.
func (r *ValidationResult) Errors() map[string][]string {
	if r.Valid() {
		return nil
	}
	out := make(map[string][]string, len(r.errs))
	for f, msgs := range r.errs {
		out[f] = append([]string(nil), msgs...)
	}
	return out
}

// For returns the messages recorded for field.
func (r *ValidationResult) For(field string) []string {
	if r == nil {
		return nil
	}
	return r.errs[field]
}

// Fields returns field names in the order they first failed.
func (r *ValidationResult) Fields() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.fields...)
}

// All flattens every message in field order.
func (r *ValidationResult) All() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, f := range r.fields {
		out = append(out, r.errs[f]...)
	}
	return out
}
