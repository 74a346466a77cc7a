// Package autofill normalizes extracted card fields and writes them into
// the intake form of a surface.
package autofill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/internal/intake"
	"github.com/medflow/intake-capture/pkg/logger"
)

// Target is the form the mapper writes to
type Target interface {
	SetValue(field, value string)
	ClearErrors(fields ...string)
}

// TargetResolver finds the form of a surface
type TargetResolver interface {
	Target(surfaceID string) (Target, error)
}

// ErrNoTarget is returned when a surface has no form to fill
var ErrNoTarget = errors.New("no intake form for surface")

// mapping lists, per form field, the source keys tried in order. The
// extraction workflow answers with the French names of the original page.
var mapping = []struct {
	field   string
	sources []string
}{
	{intake.FieldLastName, []string{"last_name", "nom"}},
	{intake.FieldFirstName, []string{"first_name", "prenom"}},
	{intake.FieldIDNumber, []string{"id_number", "cin"}},
	{intake.FieldDateOfBirth, []string{"date_of_birth", "date_naissance"}},
	{intake.FieldAddress, []string{"address", "adresse"}},
	{intake.FieldCity, []string{"city", "ville"}},
	{intake.FieldGender, []string{"gender", "sexe"}},
}

// Result reports what a mapping wrote
type Result struct {
	Values   map[string]string `json:"values"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Mapper translates ExtractedFields into form values
type Mapper struct {
	targets TargetResolver
	log     *logger.Logger
}

// New creates a mapper writing to the forms found by targets
func New(targets TargetResolver, log *logger.Logger) *Mapper {
	return &Mapper{targets: targets, log: log.WithComponent("autofill")}
}

// Map normalizes fields into form values. Every mapped form field gets a
// value: absent sources give "", dates become YYYY-MM-DD, gender is F, M
// or "". Malformed dates are blanked and reported as warnings.
func Map(fields domain.ExtractedFields) Result {
	res := Result{Values: make(map[string]string, len(mapping))}
	for _, m := range mapping {
		raw := lookup(fields, m.sources)
		switch m.field {
		case intake.FieldDateOfBirth:
			v, ok := NormalizeDate(raw)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: unrecognized date format %q", m.field, raw))
			}
			res.Values[m.field] = v
		case intake.FieldGender:
			res.Values[m.field] = NormalizeGender(raw)
		default:
			res.Values[m.field] = raw
		}
	}
	return res
}

// Apply maps fields onto the form of surfaceID and clears the error
// decorations of every field it wrote
func (m *Mapper) Apply(ctx context.Context, surfaceID string, fields domain.ExtractedFields) (*Result, error) {
	if m.targets == nil {
		return nil, ErrNoTarget
	}
	target, err := m.targets.Target(surfaceID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNoTarget
	}

	res := Map(fields)
	touched := make([]string, 0, len(res.Values))
	for _, mp := range mapping {
		target.SetValue(mp.field, res.Values[mp.field])
		touched = append(touched, mp.field)
	}
	target.ClearErrors(touched...)

	for _, w := range res.Warnings {
		m.log.Warn().Str("surface_id", surfaceID).Str("field", intake.FieldDateOfBirth).Msg(w)
	}
	m.log.Info().
		Str("surface_id", surfaceID).
		Int("fields", len(touched)).
		Msg("form autofilled")
	return &res, nil
}

func lookup(fields domain.ExtractedFields, keys []string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return v
		}
	}
	return ""
}

// NormalizeDate turns DD/MM/YYYY into YYYY-MM-DD. Empty input gives ""
// without complaint; anything else than a 1-2 digit day and month and a
// 4 digit year gives "" and false.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return "", false
	}
	for _, p := range parts {
		if !isDigits(p) {
			return "", false
		}
	}
	if len(parts[0]) > 2 || len(parts[1]) > 2 || len(parts[2]) != 4 {
		return "", false
	}
	day, month, year := pad2(parts[0]), pad2(parts[1]), parts[2]
	return year + "-" + month + "-" + day, true
}

// NormalizeGender keeps F and M and drops anything else
func NormalizeGender(s string) string {
	switch strings.TrimSpace(s) {
	case "F":
		return "F"
	case "M":
		return "M"
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// Forms adapts an intake.Registry to a TargetResolver
type Forms struct {
	Registry *intake.Registry
}

// Target returns the surface's form
func (f Forms) Target(surfaceID string) (Target, error) {
	if f.Registry == nil || surfaceID == "" {
		return nil, ErrNoTarget
	}
	return f.Registry.Form(surfaceID), nil
}
