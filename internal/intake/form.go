// Package intake holds the patient intake form model that the browser page
// renders, one per UI surface.
package intake

import (
	"strings"
	"sync"
)

// Form field names
const (
	FieldLastName    = "last_name"
	FieldFirstName   = "first_name"
	FieldIDNumber    = "id_number"
	FieldPhone       = "phone"
	FieldDateOfBirth = "date_of_birth"
	FieldAddress     = "address"
	FieldCity        = "city"
	FieldGender      = "gender"
)

// Fields lists every form field in display order
var Fields = []string{
	FieldLastName,
	FieldFirstName,
	FieldIDNumber,
	FieldPhone,
	FieldDateOfBirth,
	FieldAddress,
	FieldCity,
	FieldGender,
}

func isField(name string) bool {
	for _, f := range Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Form holds field values and their validation error decorations
type Form struct {
	mu     sync.RWMutex
	values map[string]string
	errors map[string]string
}

// Snapshot is a copy of the form state
type Snapshot struct {
	Values map[string]string `json:"values"`
	Errors map[string]string `json:"errors,omitempty"`
}

// NewForm creates an empty form
func NewForm() *Form {
	values := make(map[string]string, len(Fields))
	for _, f := range Fields {
		values[f] = ""
	}
	return &Form{values: values, errors: make(map[string]string)}
}

// SetValue writes one field. Unknown fields are ignored.
func (f *Form) SetValue(field, value string) {
	if !isField(field) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[field] = value
}

// Update writes several fields at once, e.g. staff edits from the page
func (f *Form) Update(values map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range values {
		if isField(k) {
			f.values[k] = v
		}
	}
}

// Value returns one field
func (f *Form) Value(field string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values[field]
}

// ClearErrors removes the error decoration of the given fields
func (f *Form) ClearErrors(fields ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.errors, field)
	}
}

// Snapshot returns a copy of values and errors
func (f *Form) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := Snapshot{
		Values: make(map[string]string, len(f.values)),
		Errors: make(map[string]string, len(f.errors)),
	}
	for k, v := range f.values {
		s.Values[k] = v
	}
	for k, v := range f.errors {
		s.Errors[k] = v
	}
	return s
}

func (f *Form) trimmed() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func (f *Form) setErrors(errs map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = errs
}

// Registry keeps one form per UI surface
type Registry struct {
	mu    sync.Mutex
	forms map[string]*Form
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{forms: make(map[string]*Form)}
}

// Form returns the form of surfaceID, creating it on first use
func (r *Registry) Form(surfaceID string) *Form {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.forms[surfaceID]
	if !ok {
		f = NewForm()
		r.forms[surfaceID] = f
	}
	return f
}

// Reset replaces the form of surfaceID with an empty one
func (r *Registry) Reset(surfaceID string) *Form {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := NewForm()
	r.forms[surfaceID] = f
	return f
}
