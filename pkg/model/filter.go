package model

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidFilter = goerr.New("invalid metadata filter")
)

type FieldType string

const (
	FieldTypeInteger FieldType = "integer"
	FieldTypeString  FieldType = "string"
)

// MetadataField declares a filterable attribute of embedded documents
type MetadataField struct {
	Name        string
	Type        FieldType
	Description string
	Values      []string
	Min         int
	Max         int
}

// MetadataFields lists every attribute a metadata filter may reference
var MetadataFields = []MetadataField{
	{
		Name:        ColumnTermYear,
		Type:        FieldTypeInteger,
		Description: "The year the employee quit or was terminated, year from 2019 to 2024",
		Min:         2019,
		Max:         2024,
	},
	{
		Name:        ColumnTermMonth,
		Type:        FieldTypeInteger,
		Description: "The month the employee quit or was terminated, month from 1 to 12",
		Min:         1,
		Max:         12,
	},
	{
		Name:        ColumnJobTitle,
		Type:        FieldTypeString,
		Description: "The job title of the terminated employee",
		Values:      JobTitles,
	},
	{
		Name:        ColumnBusinessUnit,
		Type:        FieldTypeString,
		Description: "The department or business unit the terminated employee was located in",
		Values:      BusinessUnits,
	},
	{
		Name:        ColumnGender,
		Type:        FieldTypeString,
		Description: "The gender of the terminated employee",
		Values:      Genders,
	},
	{
		Name:        ColumnSentiment,
		Type:        FieldTypeString,
		Description: "The sentiment of the main quit reason",
		Values:      Sentiments,
	},
	{
		Name:        ColumnNPS,
		Type:        FieldTypeInteger,
		Description: "The employee net promoter score, integer from 1 to 10",
		Min:         1,
		Max:         10,
	},
}

// LookupField returns the declared metadata field with the given name
func LookupField(name string) (*MetadataField, bool) {
	for i := range MetadataFields {
		if MetadataFields[i].Name == name {
			return &MetadataFields[i], true
		}
	}
	return nil, false
}

type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Ops is the full set of supported comparison operators
var Ops = []Op{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn}

func (o Op) ordering() bool {
	return o == OpGt || o == OpGte || o == OpLt || o == OpLte
}

// Condition compares one metadata field. Value is int or string for scalar
// operators and []int or []string for OpIn.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

// Filter is a conjunction of conditions. An empty filter matches every document.
type Filter struct {
	Conditions []Condition `json:"conditions"`
}

// NewCondition parses raw text values according to the declared field type
func NewCondition(field string, op Op, raw ...string) (Condition, error) {
	def, ok := LookupField(field)
	if !ok {
		return Condition{}, goerr.Wrap(ErrInvalidFilter, "unknown field", goerr.V("field", field))
	}
	if len(raw) == 0 {
		return Condition{}, goerr.Wrap(ErrInvalidFilter, "no value", goerr.V("field", field))
	}

	parse := func(s string) (any, error) {
		s = strings.TrimSpace(s)
		if def.Type == FieldTypeString {
			return s, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, goerr.Wrap(ErrInvalidFilter, "not an integer", goerr.V("field", field), goerr.V("value", s))
		}
		return n, nil
	}

	cond := Condition{Field: field, Op: op}
	if op != OpIn {
		v, err := parse(raw[0])
		if err != nil {
			return Condition{}, err
		}
		cond.Value = v
		return cond, cond.Validate()
	}

	switch def.Type {
	case FieldTypeInteger:
		values := make([]int, 0, len(raw))
		for _, s := range raw {
			v, err := parse(s)
			if err != nil {
				return Condition{}, err
			}
			values = append(values, v.(int))
		}
		cond.Value = values
	default:
		values := make([]string, 0, len(raw))
		for _, s := range raw {
			values = append(values, strings.TrimSpace(s))
		}
		cond.Value = values
	}
	return cond, cond.Validate()
}

// Validate checks the condition against the declared metadata fields
func (c Condition) Validate() error {
	def, ok := LookupField(c.Field)
	if !ok {
		return goerr.Wrap(ErrInvalidFilter, "unknown field", goerr.V("field", c.Field))
	}
	if !slices.Contains(Ops, c.Op) {
		return goerr.Wrap(ErrInvalidFilter, "unknown operator", goerr.V("op", c.Op))
	}
	if def.Type == FieldTypeString && c.Op.ordering() {
		return goerr.Wrap(ErrInvalidFilter, "ordering operator on string field",
			goerr.V("field", c.Field), goerr.V("op", c.Op))
	}

	checkInt := func(v int) error {
		if v < def.Min || v > def.Max {
			return goerr.Wrap(ErrInvalidFilter, "value out of range",
				goerr.V("field", c.Field), goerr.V("value", v),
				goerr.V("min", def.Min), goerr.V("max", def.Max))
		}
		return nil
	}
	checkString := func(v string) error {
		if !slices.Contains(def.Values, v) {
			return goerr.Wrap(ErrInvalidFilter, "value not allowed",
				goerr.V("field", c.Field), goerr.V("value", v))
		}
		return nil
	}

	switch v := c.Value.(type) {
	case int:
		if c.Op == OpIn || def.Type != FieldTypeInteger {
			break
		}
		// ordering operators may legitimately point just outside the range
		if c.Op.ordering() {
			return nil
		}
		return checkInt(v)
	case string:
		if c.Op == OpIn || def.Type != FieldTypeString {
			break
		}
		return checkString(v)
	case []int:
		if c.Op != OpIn || def.Type != FieldTypeInteger || len(v) == 0 {
			break
		}
		for _, n := range v {
			if err := checkInt(n); err != nil {
				return err
			}
		}
		return nil
	case []string:
		if c.Op != OpIn || def.Type != FieldTypeString || len(v) == 0 {
			break
		}
		for _, s := range v {
			if err := checkString(s); err != nil {
				return err
			}
		}
		return nil
	}

	return goerr.Wrap(ErrInvalidFilter, "value type does not match field",
		goerr.V("field", c.Field), goerr.V("op", c.Op), goerr.V("value", c.Value))
}

// IsEmpty returns true if the filter has no condition
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.Conditions) == 0
}

// Validate checks every condition of the filter
func (f *Filter) Validate() error {
	if f.IsEmpty() {
		return nil
	}
	for _, c := range f.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Match reports whether metadata satisfies every condition of the filter
func (f *Filter) Match(metadata map[string]any) bool {
	if f.IsEmpty() {
		return true
	}
	for _, c := range f.Conditions {
		if !c.Match(metadata[c.Field]) {
			return false
		}
	}
	return true
}

// Match reports whether a single metadata value satisfies the condition
func (c Condition) Match(actual any) bool {
	if actual == nil {
		return false
	}

	switch want := c.Value.(type) {
	case int:
		got, ok := ToInt(actual)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			return got == want
		case OpNe:
			return got != want
		case OpGt:
			return got > want
		case OpGte:
			return got >= want
		case OpLt:
			return got < want
		case OpLte:
			return got <= want
		}
	case string:
		got, ok := actual.(string)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			return got == want
		case OpNe:
			return got != want
		}
	case []int:
		got, ok := ToInt(actual)
		return ok && c.Op == OpIn && slices.Contains(want, got)
	case []string:
		got, ok := actual.(string)
		return ok && c.Op == OpIn && slices.Contains(want, got)
	}

	return false
}

func (f *Filter) String() string {
	if f.IsEmpty() {
		return "(none)"
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " AND ")
}

// ToInt converts a metadata value decoded from a backend into int
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case float32:
		return ToInt(float64(n))
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
