package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// output writes v as JSON or YAML, or calls text for the default format.
func (g *globals) output(w io.Writer, v any, text func(io.Writer)) error {
	switch g.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	text(w)
	return nil
}

func printDiagnostics(w io.Writer, diags []h5p.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(w, d.String())
	}
}

func printRefs(w io.Writer, label string, refs []h5p.LibraryRef) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, ref := range refs {
		fmt.Fprintf(w, "  %s\n", ref)
	}
}

func printContent(w io.Writer, c *h5p.Content) {
	fmt.Fprintf(w, "Content ID: %d\n", c.ID)
	fmt.Fprintf(w, "Title: %s\n", c.Title)
	fmt.Fprintf(w, "Library: %s\n", c.Library)
	if c.Slug != "" {
		fmt.Fprintf(w, "Slug: %s\n", c.Slug)
	}
}
