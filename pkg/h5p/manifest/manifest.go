// Package manifest validates decoded h5p.json and library.json documents
// against ordered rule tables.
package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// Rule is one field requirement: a Pattern, Boolean, Nested or Enum.
type Rule interface {
	check(value any, field, context string, diags *h5p.Diagnostics) bool
}

// Field pairs a property name with its rule.
type Field struct {
	Name string
	Rule Rule
}

// Schema is an ordered rule table. Order only affects diagnostic order.
type Schema []Field

// Pattern requires a string or number whose string form contains a match.
type Pattern struct {
	re *regexp.Regexp
}

// Match compiles expr into a Pattern rule. It panics on a bad expression,
// rule tables are package level.
func Match(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

func (p Pattern) check(value any, field, context string, diags *h5p.Diagnostics) bool {
	s, ok := stringify(value)
	if !ok {
		diags.Errorf(h5p.KindManifest, "Invalid data provided for %s in %s. String or number expected.", field, context)
		return false
	}
	if !p.re.MatchString(s) {
		diags.Errorf(h5p.KindManifest, "Invalid data provided for %s in %s. %q does not match %s.", field, context, s, p.re)
		return false
	}
	return true
}

// Boolean requires a JSON boolean.
type Boolean struct{}

func (Boolean) check(value any, field, context string, diags *h5p.Diagnostics) bool {
	if _, ok := value.(bool); !ok {
		diags.Errorf(h5p.KindManifest, "Invalid data provided for %s in %s. Boolean expected.", field, context)
		return false
	}
	return true
}

// Nested applies a required schema to an object, or to every object of a list.
type Nested Schema

func (n Nested) check(value any, field, context string, diags *h5p.Diagnostics) bool {
	switch v := value.(type) {
	case map[string]any:
		return validateRequired(v, Schema(n), context, diags)
	case []any:
		valid := true
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				diags.Errorf(h5p.KindManifest, "Invalid data provided for %s in %s. Object expected.", field, context)
				valid = false
				continue
			}
			valid = validateRequired(obj, Schema(n), context, diags) && valid
		}
		return valid
	}
	diags.Errorf(h5p.KindManifest, "Invalid data provided for %s in %s.", field, context)
	return false
}

// Enum requires the value, or every element of a list value, to be a member
// of a fixed set.
type Enum []string

func (e Enum) check(value any, field, context string, diags *h5p.Diagnostics) bool {
	var values []any
	switch v := value.(type) {
	case []any:
		values = v
	default:
		values = []any{v}
	}
	valid := true
	for _, item := range values {
		s, _ := stringify(item)
		if !e.contains(s) {
			diags.Errorf(h5p.KindManifest, "Illegal option %s for %s in %s.", s, field, context)
			valid = false
		}
	}
	return valid
}

func (e Enum) contains(s string) bool {
	for _, allowed := range e {
		if allowed == s {
			return true
		}
	}
	return false
}

// Validate checks data against the required and optional schemas, appending a
// diagnostic for every violation. It never stops early.
func Validate(data map[string]any, required, optional Schema, context string, diags *h5p.Diagnostics) bool {
	valid := validateRequired(data, required, context, diags)
	return validateOptional(data, optional, context, diags) && valid
}

func validateRequired(data map[string]any, schema Schema, context string, diags *h5p.Diagnostics) bool {
	valid := true
	for _, f := range schema {
		value, ok := data[f.Name]
		if !ok {
			diags.Errorf(h5p.KindManifest, "The required property %s is missing from %s.", f.Name, context)
			valid = false
			continue
		}
		valid = f.Rule.check(value, f.Name, context, diags) && valid
	}
	return valid
}

func validateOptional(data map[string]any, schema Schema, context string, diags *h5p.Diagnostics) bool {
	valid := true
	for _, f := range schema {
		value, ok := data[f.Name]
		if !ok {
			continue
		}
		valid = f.Rule.check(value, f.Name, context, diags) && valid
	}
	return valid
}

func stringify(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return fmt.Sprint(value), false
}

// Decode parses a manifest document keeping numbers as json.Number so
// version fields are validated in their original textual form.
func Decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("manifest is not a JSON object")
	}
	return data, nil
}
