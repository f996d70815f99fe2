// Package semantics validates content parameters against a library's
// semantics tree and checks content files against extension whitelists.
package semantics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// Kind is a semantics field type.
type Kind string

const (
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindList    Kind = "list"
	KindGroup   Kind = "group"
	KindFile    Kind = "file"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
	KindSelect  Kind = "select"
	KindLibrary Kind = "library"
)

// Known reports whether k has a validator.
func (k Kind) Known() bool {
	switch k {
	case KindText, KindNumber, KindBoolean, KindList, KindGroup,
		KindFile, KindImage, KindVideo, KindAudio, KindSelect, KindLibrary:
		return true
	}
	return false
}

// Regexp is a text field pattern with JavaScript style modifiers.
type Regexp struct {
	Pattern   string `json:"pattern"`
	Modifiers string `json:"modifiers,omitempty"`
}

// Expr returns the pattern in Go syntax with the supported modifiers (i, m, s)
// turned into inline flags.
func (r *Regexp) Expr() string {
	var flags strings.Builder
	for _, m := range r.Modifiers {
		switch m {
		case 'i', 'm', 's':
			flags.WriteRune(m)
		}
	}
	if flags.Len() == 0 {
		return r.Pattern
	}
	return "(?" + flags.String() + ")" + r.Pattern
}

type SelectOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Field is one node of a semantics tree.
type Field struct {
	Name     string
	Type     Kind
	Label    string
	Optional bool
	Default  json.RawMessage

	// text
	MaxLength *int
	Tags      []string
	Font      map[string]json.RawMessage
	Regexp    *Regexp

	// number
	Min      *float64
	Max      *float64
	Step     *float64
	Decimals *int

	// select
	Multiple bool
	Options  []SelectOption

	// library
	Libraries []string

	// list
	Item *Field

	// group
	Fields       []*Field
	IsSubContent bool

	ExtraAttributes []string
}

type rawField struct {
	Name            string                     `json:"name"`
	Type            Kind                       `json:"type"`
	Label           string                     `json:"label"`
	Optional        h5p.FlexBool               `json:"optional"`
	Default         json.RawMessage            `json:"default"`
	MaxLength       *int                       `json:"maxLength"`
	Tags            []string                   `json:"tags"`
	Font            map[string]json.RawMessage `json:"font"`
	Regexp          *Regexp                    `json:"regexp"`
	Min             *float64                   `json:"min"`
	Max             *float64                   `json:"max"`
	Step            *float64                   `json:"step"`
	Decimals        *int                       `json:"decimals"`
	Multiple        h5p.FlexBool               `json:"multiple"`
	Options         json.RawMessage            `json:"options"`
	Field           *Field                     `json:"field"`
	Fields          []*Field                   `json:"fields"`
	IsSubContent    h5p.FlexBool               `json:"isSubContent"`
	ExtraAttributes []string                   `json:"extraAttributes"`
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var raw rawField
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Field{
		Name:            raw.Name,
		Type:            raw.Type,
		Label:           raw.Label,
		Optional:        bool(raw.Optional),
		Default:         raw.Default,
		MaxLength:       raw.MaxLength,
		Tags:            raw.Tags,
		Font:            raw.Font,
		Regexp:          raw.Regexp,
		Min:             raw.Min,
		Max:             raw.Max,
		Step:            raw.Step,
		Decimals:        raw.Decimals,
		Multiple:        bool(raw.Multiple),
		Item:            raw.Field,
		Fields:          raw.Fields,
		IsSubContent:    bool(raw.IsSubContent),
		ExtraAttributes: raw.ExtraAttributes,
	}

	if len(raw.Options) == 0 || bytes.Equal(raw.Options, []byte("null")) {
		return nil
	}
	if raw.Type == KindLibrary {
		if err := json.Unmarshal(raw.Options, &f.Libraries); err != nil {
			return fmt.Errorf("field %s: library options: %w", raw.Name, err)
		}
		return nil
	}

	var options []struct {
		Value json.RawMessage `json:"value"`
		Label string          `json:"label"`
	}
	if err := json.Unmarshal(raw.Options, &options); err != nil {
		return fmt.Errorf("field %s: select options: %w", raw.Name, err)
	}
	for _, o := range options {
		var value string
		if err := json.Unmarshal(o.Value, &value); err != nil {
			value = string(bytes.TrimSpace(o.Value))
		}
		f.Options = append(f.Options, SelectOption{Value: value, Label: o.Label})
	}
	return nil
}

// Parse decodes a semantics.json document. Empty input yields no fields.
func Parse(raw []byte) ([]*Field, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var fields []*Field
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid semantics: %w", err)
	}
	return fields, nil
}

// copyrightField is the fixed schema every file-like copyright block is
// validated against.
var copyrightField = &Field{
	Name: "copyright",
	Type: KindGroup,
	Fields: []*Field{
		{Name: "title", Type: KindText, Optional: true},
		{Name: "author", Type: KindText, Optional: true},
		{Name: "year", Type: KindText, Optional: true},
		{Name: "source", Type: KindText, Optional: true, Regexp: &Regexp{Pattern: `^http[s]?://.+`, Modifiers: "i"}},
		{Name: "license", Type: KindSelect, Default: json.RawMessage(`"U"`), Options: []SelectOption{
			{Value: "U", Label: "Undisclosed"},
			{Value: "CC BY", Label: "Attribution 4.0"},
			{Value: "CC BY-SA", Label: "Attribution-ShareAlike 4.0"},
			{Value: "CC BY-ND", Label: "Attribution-NoDerivs 4.0"},
			{Value: "CC BY-NC", Label: "Attribution-NonCommercial 4.0"},
			{Value: "CC BY-NC-SA", Label: "Attribution-NonCommercial-ShareAlike 4.0"},
			{Value: "CC BY-NC-ND", Label: "Attribution-NonCommercial-NoDerivs 4.0"},
			{Value: "GNU GPL", Label: "General Public License v3"},
			{Value: "PD", Label: "Public Domain"},
			{Value: "ODC PDDL", Label: "Public Domain Dedication and Licence"},
			{Value: "CC PDM", Label: "Public Domain Mark"},
			{Value: "C", Label: "Copyright"},
		}},
	},
}
