package h5p

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a diagnostic.
type Kind int

const (
	KindManifest Kind = iota + 1
	KindContent
	KindPackage
	KindDependency
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindManifest:
		return "manifest"
	case KindContent:
		return "content"
	case KindPackage:
		return "package"
	case KindDependency:
		return "dependency"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindManifest:
		return ErrManifest
	case KindContent:
		return ErrContentValidation
	case KindPackage:
		return ErrPackageStructure
	case KindDependency:
		return ErrDependency
	case KindStorage:
		return ErrStorage
	}
	return nil
}

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one reported problem.
type Diagnostic struct {
	Kind     Kind     `json:"kind" yaml:"kind"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
}

func (d Diagnostic) Error() string {
	return d.Message
}

// Unwrap returns the sentinel for the diagnostic's kind, so
// errors.Is(d, ErrManifest) holds for manifest diagnostics.
func (d Diagnostic) Unwrap() error {
	return d.Kind.sentinel()
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s %s] %s", d.Kind, d.Severity, d.Message)
}

// MarshalText renders kind and severity as names for JSON/YAML output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range []Kind{KindManifest, KindContent, KindPackage, KindDependency, KindStorage} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown diagnostic kind %q", text)
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Diagnostics is an ordered, append-only list of problems. The zero value is
// ready to use; a nil *Diagnostics discards everything.
type Diagnostics struct {
	items []Diagnostic
}

// Add appends d.
func (ds *Diagnostics) Add(d Diagnostic) {
	if ds == nil {
		return
	}
	ds.items = append(ds.items, d)
}

// Errorf appends an error-severity diagnostic.
func (ds *Diagnostics) Errorf(kind Kind, format string, args ...any) {
	ds.Add(Diagnostic{Kind: kind, Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning-severity diagnostic.
func (ds *Diagnostics) Warnf(kind Kind, format string, args ...any) {
	ds.Add(Diagnostic{Kind: kind, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// Items returns a copy of the recorded diagnostics in order.
func (ds *Diagnostics) Items() []Diagnostic {
	if ds == nil {
		return nil
	}
	return append([]Diagnostic(nil), ds.items...)
}

func (ds *Diagnostics) Len() int {
	if ds == nil {
		return 0
	}
	return len(ds.items)
}

// HasErrors reports whether any error-severity diagnostic was recorded,
// optionally restricted to the given kinds.
func (ds *Diagnostics) HasErrors(kinds ...Kind) bool {
	if ds == nil {
		return false
	}
	for _, d := range ds.items {
		if d.Severity != SeverityError {
			continue
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if d.Kind == k {
				return true
			}
		}
	}
	return false
}

// Err joins all error-severity diagnostics, nil when there are none.
func (ds *Diagnostics) Err() error {
	if ds == nil {
		return nil
	}
	var errs []error
	for _, d := range ds.items {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errors.Join(errs...)
}

func (ds *Diagnostics) String() string {
	if ds == nil {
		return ""
	}
	lines := make([]string, 0, len(ds.items))
	for _, d := range ds.items {
		lines = append(lines, d.String())
	}
	return strings.Join(lines, "\n")
}
