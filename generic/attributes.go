/*
attributes.go - Typed attribute schemas and their registry

PURPOSE:
  Pools and contracts carry category-specific details (a hotel pool knows
  its star rating and board basis, an event block knows its venue). Those
  details are stored as a free-form map but validated against a versioned
  schema registered per category, so a typo'd key or a string where a
  number belongs is rejected before it is persisted.

HOW IT WORKS:
  1. Domain packages define their AttributeSchema values
  2. Domain packages register them on init()
  3. Factory/API validate incoming maps with ValidateAttributes

USAGE:
  // In inventory/types.go
  func init() {
      generic.RegisterSchema(HotelSchema)
  }

  attrs := generic.Attributes{Category: "hotel", Values: map[string]any{"stars": 4}}
  if err := generic.ValidateAttributes(attrs); err != nil { ... }

SEE ALSO:
  - inventory/types.go: Pool category schemas
  - contract/version.go: Contract terms schema
*/
package generic

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

type AttributeKind string

const (
	AttrString  AttributeKind = "string"
	AttrInt     AttributeKind = "int"
	AttrDecimal AttributeKind = "decimal"
	AttrBool    AttributeKind = "bool"
	AttrDate    AttributeKind = "date"
	AttrEnum    AttributeKind = "enum"
)

type AttributeField struct {
	Name     string
	Kind     AttributeKind
	Required bool
	Enum     []string // allowed values when Kind == AttrEnum
}

// AttributeSchema describes the allowed keys of one category.
type AttributeSchema struct {
	Category string
	Version  int
	Fields   []AttributeField
}

func (s AttributeSchema) field(name string) (AttributeField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return AttributeField{}, false
}

// Attributes is a category-tagged value map. An empty Category means the
// record carries no typed details.
type Attributes struct {
	Category      string         `json:"category,omitempty"`
	SchemaVersion int            `json:"schema_version,omitempty"`
	Values        map[string]any `json:"values,omitempty"`
}

// IsEmpty reports whether no category was attached.
func (a Attributes) IsEmpty() bool { return a.Category == "" && len(a.Values) == 0 }

// =============================================================================
// SCHEMA REGISTRY
// =============================================================================

var (
	schemaRegistry = make(map[string]AttributeSchema)
	schemaMu       sync.RWMutex
)

// RegisterSchema adds a category schema to the global registry.
// Call this from domain package init() functions.
func RegisterSchema(s AttributeSchema) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaRegistry[s.Category] = s
}

// LookupSchema finds a registered schema by category.
func LookupSchema(category string) (AttributeSchema, bool) {
	schemaMu.RLock()
	defer schemaMu.RUnlock()
	s, ok := schemaRegistry[category]
	return s, ok
}

// ListSchemas returns all registered schemas sorted by category.
func ListSchemas() []AttributeSchema {
	schemaMu.RLock()
	defer schemaMu.RUnlock()
	result := make([]AttributeSchema, 0, len(schemaRegistry))
	for _, s := range schemaRegistry {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateAttributes checks attrs against its category schema. Unknown
// categories, unknown keys, missing required keys and wrongly typed values
// are all reported in one ValidationError.
func ValidateAttributes(attrs Attributes) error {
	if attrs.IsEmpty() {
		return nil
	}
	verr := NewValidationError()
	schema, ok := LookupSchema(attrs.Category)
	if !ok {
		verr.Add("attributes.category", fmt.Sprintf("unknown category %q", attrs.Category))
		return verr
	}
	if attrs.SchemaVersion != 0 && attrs.SchemaVersion > schema.Version {
		verr.Add("attributes.schema_version", fmt.Sprintf("version %d is newer than %d", attrs.SchemaVersion, schema.Version))
	}

	for _, f := range schema.Fields {
		if _, present := attrs.Values[f.Name]; f.Required && !present {
			verr.Add("attributes."+f.Name, "is required")
		}
	}
	for key, val := range attrs.Values {
		f, known := schema.field(key)
		if !known {
			verr.Add("attributes."+key, "is not defined for category "+attrs.Category)
			continue
		}
		if msg := checkKind(f, val); msg != "" {
			verr.Add("attributes."+key, msg)
		}
	}
	return verr.OrNil()
}

func checkKind(f AttributeField, val any) string {
	switch f.Kind {
	case AttrString:
		if _, ok := val.(string); !ok {
			return "must be a string"
		}
	case AttrBool:
		if _, ok := val.(bool); !ok {
			return "must be a boolean"
		}
	case AttrInt:
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			if v != math.Trunc(v) {
				return "must be an integer"
			}
		default:
			return "must be an integer"
		}
	case AttrDecimal:
		switch v := val.(type) {
		case int, int32, int64, float64:
		case string:
			if _, err := decimal.NewFromString(v); err != nil {
				return "must be a decimal"
			}
		default:
			return "must be a decimal"
		}
	case AttrDate:
		s, ok := val.(string)
		if !ok {
			return "must be a YYYY-MM-DD date"
		}
		if _, err := time.Parse(DateLayout, s); err != nil {
			return "must be a YYYY-MM-DD date"
		}
	case AttrEnum:
		s, ok := val.(string)
		if !ok {
			return "must be one of the allowed values"
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %v", f.Enum)
	}
	return ""
}
