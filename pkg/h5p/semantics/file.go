package semantics

import (
	"context"
	"html"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// relativePathPattern matches paths pointing into another content's folder.
var relativePathPattern = regexp.MustCompile(`^((\.\.\/){1,2})(.*content\/)?(\d+|editor)\/(.+)$`)

// SandboxPath relocates a path pointing at another content folder to the
// trailing file path and reports whether the result stays inside the
// content folder. URLs are accepted as is.
func SandboxPath(p string) (string, bool) {
	if m := relativePathPattern.FindStringSubmatch(p); m != nil {
		p = m[5]
	}
	if strings.Contains(p, "://") {
		return p, true
	}
	return p, filepath.IsLocal(filepath.FromSlash(p))
}

func (v *Validator) validateFileLike(ctx context.Context, value any, field *Field, typeKeys []string) (any, bool) {
	file, ok := value.(map[string]any)
	if !ok {
		v.diags.Errorf(h5p.KindContent, "Invalid value for file field %s.", field.Name)
		return nil, false
	}
	path, _ := file["path"].(string)
	if path == "" {
		v.diags.Errorf(h5p.KindContent, "Missing file path in %s.", field.Name)
		return nil, false
	}
	path, ok = SandboxPath(path)
	if !ok {
		v.diags.Errorf(h5p.KindContent, "File path %q in %s points outside the content folder.", path, field.Name)
		return nil, false
	}

	allowed := append([]string{"path", "mime", "copyright"}, typeKeys...)
	allowed = append(allowed, field.ExtraAttributes...)
	out := make(map[string]any, len(allowed))
	for _, key := range allowed {
		if val, ok := file[key]; ok {
			out[key] = val
		}
	}

	out["path"] = html.EscapeString(path)
	if mime, ok := out["mime"]; ok {
		if s, isString := mime.(string); isString {
			out["mime"] = html.EscapeString(s)
		} else {
			delete(out, "mime")
		}
	}

	for _, key := range []string{"width", "height"} {
		if val, ok := out[key]; ok {
			if n, isInt := toInt(val); isInt {
				out[key] = n
			} else {
				delete(out, key)
			}
		}
	}

	if codecs, ok := out["codecs"]; ok {
		if s, isString := codecs.(string); isString {
			out["codecs"] = html.EscapeString(s)
		} else {
			delete(out, "codecs")
		}
	}

	if quality, ok := out["quality"]; ok {
		delete(out, "quality")
		if q, isMap := quality.(map[string]any); isMap {
			level, hasLevel := toInt(q["level"])
			label, hasLabel := q["label"].(string)
			if hasLevel && hasLabel {
				out["quality"] = map[string]any{"level": level, "label": html.EscapeString(label)}
			}
		}
	}

	if copyright, ok := out["copyright"]; ok {
		validated, keep := v.validateGroup(ctx, copyright, copyrightField, true, false)
		if keep {
			out["copyright"] = validated
		} else {
			delete(out, "copyright")
		}
	}
	return out, true
}

// validateVariants validates video and audio values, which are lists of
// file-like sources.
func (v *Validator) validateVariants(ctx context.Context, value any, field *Field, typeKeys []string) (any, bool) {
	variants, ok := value.([]any)
	if !ok {
		v.diags.Errorf(h5p.KindContent, "Invalid value for %s field %s, list expected.", field.Type, field.Name)
		return nil, false
	}
	out := make([]any, 0, len(variants))
	for _, variant := range variants {
		validated, keep := v.validateFileLike(ctx, variant, field, typeKeys)
		if keep {
			out = append(out, validated)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}
