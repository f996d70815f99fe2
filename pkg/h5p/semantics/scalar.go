package semantics

import (
	"html"
	"math"
	"strconv"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

func (v *Validator) validateNumber(value any, field *Field) float64 {
	n, ok := value.(float64)
	if !ok {
		v.diags.Errorf(h5p.KindContent, "Invalid value for number field %s, using 0.", field.Name)
		n = 0
	}

	if field.Min != nil && n < *field.Min {
		n = *field.Min
	}
	if field.Max != nil && n > *field.Max {
		n = *field.Max
	}

	if field.Step != nil && *field.Step > 0 {
		base := 0.0
		if field.Min != nil {
			base = *field.Min
		}
		// Floor modulo, so negative values step down as well.
		step := *field.Step
		if rest := n - base - step*math.Floor((n-base)/step); rest != 0 {
			n -= rest
		}
	}

	if field.Decimals != nil {
		scale := math.Pow(10, float64(*field.Decimals))
		n = math.Round(n*scale) / scale
	} else {
		n = math.Trunc(n)
	}
	return n
}

func (v *Validator) validateBoolean(value any, field *Field) (any, bool) {
	if _, ok := value.(bool); !ok {
		v.diags.Errorf(h5p.KindContent, "Invalid value for boolean field %s.", field.Name)
		return nil, false
	}
	return value, true
}

func (v *Validator) validateSelect(value any, field *Field, optional bool) any {
	strict := len(field.Options) > 0

	if field.Multiple {
		list, ok := value.([]any)
		if !ok {
			list = []any{value}
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			s := scalarString(item)
			if strict && !optional && !hasOption(field.Options, s) {
				v.diags.Errorf(h5p.KindContent, "Invalid selected option %q in multi-select %s.", s, field.Name)
				continue
			}
			out = append(out, html.EscapeString(s))
		}
		return out
	}

	if list, ok := value.([]any); ok {
		value = nil
		if len(list) > 0 {
			value = list[0]
		}
	}
	s := scalarString(value)
	if strict && !optional && !hasOption(field.Options, s) {
		v.diags.Errorf(h5p.KindContent, "Invalid selected option %q in select %s.", s, field.Name)
		s = field.Options[0].Value
	}
	return html.EscapeString(s)
}

func hasOption(options []SelectOption, value string) bool {
	for _, o := range options {
		if o.Value == value {
			return true
		}
	}
	return false
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}
