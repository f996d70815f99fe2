package semantics

import (
	"bytes"
	"encoding/json"
	"html"
	"regexp"

	"github.com/microcosm-cc/bluemonday"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

var (
	styleableTags = []string{"span", "p", "div"}

	lengthValue = regexp.MustCompile(`(?i)^[0-9.]+(em|px|%)$`)
	colorValue  = regexp.MustCompile(`(?i)^(#[a-f0-9]{3}[a-f0-9]{3}?|rgba?\([0-9, ]+\))$`)

	fontStyles = []struct {
		key      string
		property string
		value    *regexp.Regexp
	}{
		{"size", "font-size", lengthValue},
		{"family", "font-family", regexp.MustCompile(`(?i)^[a-z0-9," ]+$`)},
		{"color", "color", colorValue},
		{"background", "background-color", colorValue},
		{"spacing", "letter-spacing", lengthValue},
		{"height", "line-height", regexp.MustCompile(`(?i)^[0-9.]+(em|px|%|)$`)},
	}

	textAlignValue = regexp.MustCompile(`(?i)^(center|left|right)$`)
	linkTarget     = regexp.MustCompile(`^_blank$`)
)

func (v *Validator) validateText(value any, field *Field) string {
	text, ok := value.(string)
	if !ok {
		if value != nil {
			v.diags.Errorf(h5p.KindContent, "Invalid value for text field %s, string expected.", field.Name)
		}
		text = ""
	}

	if field.Tags != nil {
		text = v.htmlPolicy(field).Sanitize(text)
	} else {
		text = html.EscapeString(text)
	}

	if field.MaxLength != nil && *field.MaxLength >= 0 {
		if runes := []rune(text); len(runes) > *field.MaxLength {
			text = string(runes[:*field.MaxLength])
		}
	}

	if text != "" && field.Regexp != nil {
		re := v.pattern(field.Regexp.Expr())
		if re != nil && !re.MatchString(text) {
			v.diags.Errorf(h5p.KindContent, "Provided string is not valid according to regexp in semantics. (value: %q, regexp: %s)", text, field.Regexp.Pattern)
			text = ""
		}
	}
	return text
}

func (v *Validator) pattern(expr string) *regexp.Regexp {
	if re, ok := v.patterns[expr]; ok {
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		v.logger.Warn("Ignoring invalid semantics regexp", "regexp", expr, "error", err)
		re = nil
	}
	v.patterns[expr] = re
	return re
}

// htmlPolicy builds the allow-list for a text field with tags.
func (v *Validator) htmlPolicy(field *Field) *bluemonday.Policy {
	if p, ok := v.policies[field]; ok {
		return p
	}

	tags := AllowedTags(field.Tags)
	p := bluemonday.NewPolicy()
	p.AllowElements(tags...)
	if containsString(tags, "a") {
		p.AllowStandardURLs()
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("target").Matching(linkTarget).OnElements("a")
	}

	for _, style := range fontStyles {
		if enabled(field.Font, style.key) {
			p.AllowStyles(style.property).Matching(style.value).OnElements(styleableTags...)
		}
	}
	p.AllowStyles("text-align").Matching(textAlignValue).OnElements(styleableTags...)

	v.policies[field] = p
	return p
}

func enabled(font map[string]json.RawMessage, key string) bool {
	raw, ok := font[key]
	if !ok {
		return false
	}
	raw = bytes.TrimSpace(raw)
	return !bytes.Equal(raw, []byte("false")) && !bytes.Equal(raw, []byte("null"))
}

// AllowedTags expands declared tags with the structural tags that are always
// allowed and the companions implied by table, b, i, lists and strike.
func AllowedTags(declared []string) []string {
	tags := append([]string{"div", "span", "p", "br"}, declared...)
	has := func(tag string) bool { return containsString(tags, tag) }
	add := func(extra ...string) {
		for _, t := range extra {
			if !has(t) {
				tags = append(tags, t)
			}
		}
	}

	if has("table") {
		add("tr", "td", "th", "colgroup", "thead", "tbody", "tfoot")
	}
	if has("b") {
		add("strong")
	}
	if has("i") {
		add("em")
	}
	if has("ul") || has("ol") {
		add("li")
	}
	if has("del") || has("strike") {
		add("s")
	}
	return tags
}
