/*
Package factory converts JSON payloads into domain types.

PURPOSE:
  The admin UI and the demo scenarios describe pools, rate plans and
  contract versions as JSON. This package decodes those payloads,
  validates their shape with struct tags, and builds the inventory and
  contract types. Domain rules (overlaps, capacity, attrition
  completeness) stay in the domain packages; this layer only rejects
  payloads that cannot be turned into a domain value at all.

JSON SCHEMA (pool wizard):
  {
    "name": "Seaside summer block",
    "supplier_id": "sup-1",
    "pool_type": "committed",
    "valid_from": "2025-06-01",
    "valid_to": "2025-09-30",
    "total_capacity": 100,
    "capacity_unit": "rooms",
    "cutoff_days": 3,
    "variants": [
      {"variant_id": "std", "capacity_weight": "1.0", "priority": 10, "auto_allocate": true},
      {"variant_id": "suite", "capacity_weight": "1.5", "priority": 20}
    ]
  }

VALIDATION:
  Unknown fields are rejected. Field errors come back as one
  *generic.ValidationError keyed by JSON field name, so the API maps them
  to 400 like any other client error.

SEE ALSO:
  - presets.go: Ready-made payloads for demos and tests
  - api/handlers.go: Where payloads are decoded
*/
package factory

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	// Decimals validate as numbers so gt/gte/lte tags apply to them.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Decode reads one JSON value into dest and validates it.
func Decode(r io.Reader, dest any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", generic.ErrValidation, err)
	}
	return Validate(dest)
}

// Parse is Decode over a string.
func Parse(jsonStr string, dest any) error {
	return Decode(strings.NewReader(jsonStr), dest)
}

// Validate runs the struct tags of v.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", generic.ErrValidation, err)
	}
	ve := generic.NewValidationError()
	for _, fe := range errs {
		ve.Add(fieldPath(fe), validationMessage(fe))
	}
	return ve
}

// fieldPath drops the root struct name: "PoolJSON.variants[1].variant_id"
// becomes "variants[1].variant_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	}
	return "is invalid"
}

// =============================================================================
// SHARED PIECES
// =============================================================================

// PeriodJSON is an inclusive date range.
type PeriodJSON struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

func (p PeriodJSON) toPeriod() (generic.Period, error) {
	return parsePeriod(p.Start, p.End)
}

func periodJSON(p generic.Period) PeriodJSON {
	return PeriodJSON{Start: p.Start.String(), End: p.End.String()}
}

func parsePeriod(from, to string) (generic.Period, error) {
	start, err := parseDate(from)
	if err != nil {
		return generic.Period{}, err
	}
	end, err := parseDate(to)
	if err != nil {
		return generic.Period{}, err
	}
	return generic.NewPeriod(start, end), nil
}

func parseDate(s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, fmt.Errorf("%w: bad date %q", generic.ErrValidation, s)
	}
	return tp, nil
}

func parseOptionalDate(s *string) (*generic.TimePoint, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	tp, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func formatOptionalDate(tp *generic.TimePoint) *string {
	if tp == nil {
		return nil
	}
	s := tp.String()
	return &s
}
