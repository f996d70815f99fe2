package semantics

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/resolver"
)

var subContentIDPattern = regexp.MustCompile(`(?i)^\{?[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}\}?$`)

type loadedLibrary struct {
	library *h5p.Library
	fields  []*Field
}

// Validator sanitizes one content's parameters. Create a new Validator for
// every top-level validation; it caches loaded libraries and accumulates the
// content's dependencies.
type Validator struct {
	loader   h5p.LibraryLoader
	resolver *resolver.Resolver
	diags    *h5p.Diagnostics
	logger   *slog.Logger

	libraries map[string]*loadedLibrary
	deps      h5p.Dependencies
	policies  map[*Field]*bluemonday.Policy
	patterns  map[string]*regexp.Regexp
}

// Option configures a Validator.
type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// NewValidator returns a validator loading libraries through loader and
// appending problems to diags (which may be nil).
func NewValidator(loader h5p.LibraryLoader, diags *h5p.Diagnostics, opts ...Option) *Validator {
	v := &Validator{
		loader:    loader,
		diags:     diags,
		logger:    slog.Default(),
		libraries: make(map[string]*loadedLibrary),
		deps:      h5p.Dependencies{},
		policies:  make(map[*Field]*bluemonday.Policy),
		patterns:  make(map[string]*regexp.Regexp),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.resolver = resolver.New(loader, resolver.WithLogger(v.logger), resolver.WithDiagnostics(diags))
	return v
}

// Dependencies returns the flat dependency map collected so far.
func (v *Validator) Dependencies() h5p.Dependencies {
	return v.deps
}

// ValidateContent validates params as the parameters of library ref. It
// returns the sanitized tree, or false when the library is unusable.
func (v *Validator) ValidateContent(ctx context.Context, ref h5p.LibraryRef, params any) (any, bool) {
	value := map[string]any{"library": ref.String(), "params": params}
	field := &Field{Type: KindLibrary, Libraries: []string{ref.String()}}
	out, ok := v.ValidateLibrary(ctx, value, field)
	if !ok {
		return nil, false
	}
	return out.(map[string]any)["params"], true
}

// Validate dispatches value to the validator of field's kind. The second
// result is false when the value must be dropped from its parent.
func (v *Validator) Validate(ctx context.Context, value any, field *Field) (any, bool) {
	return v.validate(ctx, value, field, field.Optional)
}

func (v *Validator) validate(ctx context.Context, value any, field *Field, optional bool) (any, bool) {
	switch field.Type {
	case KindText:
		return v.validateText(value, field), true
	case KindNumber:
		return v.validateNumber(value, field), true
	case KindBoolean:
		return v.validateBoolean(value, field)
	case KindSelect:
		return v.validateSelect(value, field, optional), true
	case KindList:
		return v.validateList(ctx, value, field)
	case KindGroup:
		return v.validateGroup(ctx, value, field, true, optional)
	case KindFile:
		return v.validateFileLike(ctx, value, field, nil)
	case KindImage:
		return v.validateFileLike(ctx, value, field, []string{"width", "height", "originalImage"})
	case KindVideo:
		return v.validateVariants(ctx, value, field, []string{"width", "height", "codecs", "quality"})
	case KindAudio:
		return v.validateVariants(ctx, value, field, nil)
	case KindLibrary:
		return v.ValidateLibrary(ctx, value, field)
	}
	v.diags.Errorf(h5p.KindContent, "Unknown content type %q in semantics of %s, removing content.", field.Type, field.Name)
	return nil, false
}

func (v *Validator) validateList(ctx context.Context, value any, field *Field) (any, bool) {
	list, ok := value.([]any)
	if !ok {
		list = nil
	}
	if field.Item == nil {
		v.diags.Errorf(h5p.KindContent, "List %s has no field definition.", field.Name)
		return nil, false
	}

	out := make([]any, 0, len(list))
	for _, item := range list {
		validated, keep := v.validate(ctx, item, field.Item, field.Item.Optional)
		if keep {
			out = append(out, validated)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func (v *Validator) validateGroup(ctx context.Context, value any, field *Field, flatten, optional bool) (any, bool) {
	if len(field.Fields) == 1 && flatten && !field.IsSubContent {
		child := field.Fields[0]
		return v.validate(ctx, value, child, child.Optional || optional)
	}

	group, ok := value.(map[string]any)
	if !ok {
		v.diags.Errorf(h5p.KindContent, "Invalid value for group %s.", field.Name)
		return nil, false
	}

	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(group))
	for _, key := range keys {
		if field.IsSubContent && key == "subContentId" {
			out[key] = group[key]
			continue
		}
		child := findField(field.Fields, key)
		if child == nil {
			continue
		}
		if !child.Type.Known() {
			v.diags.Errorf(h5p.KindContent, "H5P internal error: unknown content type %q in semantics. Removing content!", child.Type)
			continue
		}
		validated, keep := v.validate(ctx, group[key], child, child.Optional || optional)
		if keep {
			out[key] = validated
		}
	}

	if !optional {
		for _, child := range field.Fields {
			if child.Optional {
				continue
			}
			if _, ok := out[child.Name]; !ok {
				v.diags.Errorf(h5p.KindContent, "No value given for mandatory field %s.", child.Name)
			}
		}
	}
	return out, true
}

func findField(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ValidateLibrary validates a {library, params, subContentId} value against
// a library field and registers the library as a preloaded dependency.
func (v *Validator) ValidateLibrary(ctx context.Context, value any, field *Field) (any, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	name, ok := obj["library"].(string)
	if !ok {
		return nil, false
	}

	if !containsString(field.Libraries, name) {
		machineName, _, _ := strings.Cut(name, " ")
		for _, option := range field.Libraries {
			optionName, _, _ := strings.Cut(option, " ")
			if optionName == machineName {
				v.diags.Errorf(h5p.KindContent, "The version of the H5P library %s used in the content is not valid. Content contains %s, but it should be %s.", machineName, name, option)
				return nil, false
			}
		}
		v.diags.Errorf(h5p.KindContent, "The H5P library %s used in the content is not valid.", name)
		return nil, false
	}

	loaded, err := v.loadLibrary(ctx, name)
	if err != nil {
		v.diags.Errorf(h5p.KindDependency, "Unable to load library %s: %v", name, err)
		return nil, false
	}

	params := obj["params"]
	if params == nil {
		params = map[string]any{}
	}
	root := &Field{Name: name, Type: KindGroup, Fields: loaded.fields}
	validated, _ := v.validateGroup(ctx, params, root, false, false)
	if validated == nil {
		validated = map[string]any{}
	}

	allowed := append([]string{"library", "params", "subContentId"}, field.ExtraAttributes...)
	out := make(map[string]any, len(allowed))
	for _, key := range allowed {
		if val, ok := obj[key]; ok {
			out[key] = val
		}
	}
	out["params"] = validated

	if id, ok := out["subContentId"]; ok {
		s, isString := id.(string)
		if !isString || !subContentIDPattern.MatchString(s) {
			delete(out, "subContentId")
		}
	}

	key := h5p.DependencyKey(h5p.DependencyPreloaded, loaded.library.MachineName)
	if _, ok := v.deps[key]; !ok {
		entry := &h5p.Dependency{Library: loaded.library, Type: h5p.DependencyPreloaded}
		v.deps[key] = entry
		entry.Weight = v.resolver.FindDependencies(ctx, v.deps, loaded.library, v.deps.MaxWeight(), false) + 1
	}
	return out, true
}

func (v *Validator) loadLibrary(ctx context.Context, name string) (*loadedLibrary, error) {
	if loaded, ok := v.libraries[name]; ok {
		return loaded, nil
	}
	ref, ok := h5p.LibraryFromString(name)
	if !ok {
		return nil, errors.New("malformed library name")
	}
	lib, err := v.loader.LoadLibrary(ctx, ref)
	if err != nil {
		return nil, err
	}
	fields, err := Parse(lib.Semantics)
	if err != nil {
		return nil, err
	}
	loaded := &loadedLibrary{library: lib, fields: fields}
	v.libraries[name] = loaded
	return loaded, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
