package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/engine"
)

// validation is the printable outcome of the validate command.
type validation struct {
	Valid       bool             `json:"valid" yaml:"valid"`
	Libraries   []string         `json:"libraries" yaml:"libraries"`
	Diagnostics []h5p.Diagnostic `json:"diagnostics" yaml:"diagnostics"`
}

// NewValidateCommand checks a package without installing it
func NewValidateCommand(g *globals) *cobra.Command {
	var skipContent, upgradeOnly, updateLibraries bool

	cmd := &cobra.Command{
		Use:   "validate <file.h5p>",
		Short: "Validate an H5P package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := h5p.WithLibraryUpdates(cmd.Context(), updateLibraries)
			comps, err := g.components(ctx)
			if err != nil {
				return err
			}
			defer comps.Close()

			res, err := comps.Engine.ValidatePackage(ctx, engine.ValidateRequest{
				Path:        args[0],
				SkipContent: skipContent,
				UpgradeOnly: upgradeOnly,
			})
			if err != nil {
				return err
			}

			out := validation{Valid: res.Valid, Libraries: []string{}, Diagnostics: res.Diagnostics.Items()}
			for key := range res.Libraries {
				out.Libraries = append(out.Libraries, key)
			}
			sort.Strings(out.Libraries)
			if out.Diagnostics == nil {
				out.Diagnostics = []h5p.Diagnostic{}
			}

			if err := g.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				if res.Valid {
					fmt.Fprintf(w, "Package is valid (%d libraries)\n", len(out.Libraries))
				} else {
					fmt.Fprintln(w, "Package is invalid")
				}
				printDiagnostics(w, out.Diagnostics)
			}); err != nil {
				return err
			}
			if !res.Valid {
				return h5p.ErrInvalidPackage
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipContent, "skip-content", false, "only validate libraries")
	cmd.Flags().BoolVar(&upgradeOnly, "upgrade-only", false, "only consider libraries that are already installed")
	cmd.Flags().BoolVar(&updateLibraries, "update-libraries", true, "allow new and upgraded libraries")
	return cmd
}

// NewInstallCommand validates and installs a package
func NewInstallCommand(g *globals) *cobra.Command {
	var skipContent, upgradeOnly, updateLibraries bool
	var contentID int64

	cmd := &cobra.Command{
		Use:   "install <file.h5p>",
		Short: "Install an H5P package",
		Long:  `Install the libraries of an H5P package and store its content. Use --content-id to replace an existing content.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := h5p.WithLibraryUpdates(cmd.Context(), updateLibraries)
			comps, err := g.components(ctx)
			if err != nil {
				return err
			}
			defer comps.Close()

			res, err := comps.Engine.InstallPackage(ctx, engine.InstallRequest{
				Path:        args[0],
				ContentID:   contentID,
				SkipContent: skipContent,
				UpgradeOnly: upgradeOnly,
			})
			if err != nil {
				if res != nil {
					printDiagnostics(cmd.ErrOrStderr(), res.Diagnostics)
				}
				return err
			}

			return g.output(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintln(w, "Install successful!")
				if res.Content != nil {
					printContent(w, res.Content)
				}
				printRefs(w, "Added", res.Added)
				printRefs(w, "Updated", res.Updated)
				printRefs(w, "Skipped", res.Skipped)
				printDiagnostics(w, res.Diagnostics)
			})
		},
	}

	cmd.Flags().Int64Var(&contentID, "content-id", 0, "replace the content with this ID")
	cmd.Flags().BoolVar(&skipContent, "skip-content", false, "only install libraries")
	cmd.Flags().BoolVar(&upgradeOnly, "upgrade-only", false, "only upgrade libraries that are already installed")
	cmd.Flags().BoolVar(&updateLibraries, "update-libraries", true, "allow new and upgraded libraries")
	return cmd
}

// NewShowCommand prints a content with its filtered parameters
func NewShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <content-id>",
		Short: "Show a content and its filtered parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			content, err := comps.Engine.LoadContent(cmd.Context(), id)
			if err != nil {
				return err
			}
			if _, err := comps.Engine.FilterParameters(cmd.Context(), content); err != nil {
				return err
			}

			return g.output(cmd.OutOrStdout(), content, func(w io.Writer) {
				printContent(w, content)
				fmt.Fprintf(w, "Parameters: %s\n", content.Filtered)
			})
		},
	}
}

// NewExportCommand writes the export archive of a content
func NewExportCommand(g *globals) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <content-id>",
		Short: "Export a content as an .h5p archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			if _, err := comps.Engine.ExportContent(cmd.Context(), id); err != nil {
				return err
			}
			rc, name, err := comps.Engine.OpenExport(cmd.Context(), id)
			if err != nil {
				return err
			}
			defer rc.Close()

			if outputPath == "" {
				outputPath = name
			}
			f, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if _, err := io.Copy(f, rc); err != nil {
				f.Close()
				return fmt.Errorf("failed to write export: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			out := map[string]string{"name": name, "path": outputPath}
			return g.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Saved to: %s\n", outputPath)
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <slug>-<id>.h5p)")
	return cmd
}

// NewDeleteCommand removes a content
func NewDeleteCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <content-id>",
		Short: "Delete a content with its files and export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			if err := comps.Engine.DeletePackage(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted content %d\n", id)
			return nil
		},
	}
}

// NewCopyCommand clones a content
func NewCopyCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <content-id>",
		Short: "Copy a content with its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			content, err := comps.Engine.CopyPackage(cmd.Context(), id)
			if err != nil {
				return err
			}
			return g.output(cmd.OutOrStdout(), content, func(w io.Writer) {
				printContent(w, content)
			})
		},
	}
}

// NewLibrariesCommand lists installed libraries
func NewLibrariesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "libraries",
		Short: "List installed libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			libs, err := comps.Engine.ListLibraries(cmd.Context())
			if err != nil {
				return err
			}
			if libs == nil {
				libs = []*engine.LibrarySummary{}
			}
			return g.output(cmd.OutOrStdout(), libs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LIBRARY\tVERSION\tRUNNABLE\tCONTENTS")
				for _, s := range libs {
					lib := s.Library
					fmt.Fprintf(tw, "%s\t%d.%d.%d\t%t\t%d\n", lib.MachineName, lib.MajorVersion, lib.MinorVersion, lib.PatchVersion, lib.Runnable, s.ContentCount)
				}
				tw.Flush()
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <library>",
		Short: `Delete an unused library, given as "H5P.Name-1.2"`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, ok := h5p.LibraryFromString(args[0])
			if !ok {
				return fmt.Errorf("invalid library %q", args[0])
			}
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			if err := comps.Engine.DeleteLibrary(cmd.Context(), ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted library %s\n", ref)
			return nil
		},
	})
	return cmd
}

// NewFetchMetadataCommand reports library usage to the hub
func NewFetchMetadataCommand(g *globals) *cobra.Command {
	var disabled bool

	cmd := &cobra.Command{
		Use:   "fetch-metadata",
		Short: "Send library statistics and fetch tutorial links and release info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := g.components(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			resp, err := comps.Metadata.Fetch(cmd.Context(), disabled)
			if err != nil {
				return err
			}
			if resp == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Empty reply, nothing changed")
				return nil
			}
			return g.output(cmd.OutOrStdout(), resp, func(w io.Writer) {
				fmt.Fprintf(w, "Tutorial links: %d\n", len(resp.Libraries))
				if resp.Latest != nil {
					fmt.Fprintf(w, "Latest release: %s (%s)\n", resp.Latest.ReleasedAt, resp.Latest.Path)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&disabled, "disabled", false, "report that hub fetching is disabled for this site")
	return cmd
}

func parseContentID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid content ID %q", s)
	}
	return id, nil
}
