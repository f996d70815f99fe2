package semantics

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// ValidateContentFiles walks root and checks every file's extension against
// whitelist. All offending files are reported; the walk never stops early.
func ValidateContentFiles(root string, whitelist []string, diags *h5p.Diagnostics) bool {
	allowed := make(map[string]struct{}, len(whitelist))
	for _, ext := range whitelist {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	valid := true
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			diags.Errorf(h5p.KindPackage, "Unable to read %s: %v", path, err)
			valid = false
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		dot := strings.LastIndex(name, ".")
		if dot >= 0 {
			if _, ok := allowed[name[dot+1:]]; ok {
				return nil
			}
		}
		rel, _ := filepath.Rel(root, path)
		diags.Errorf(h5p.KindContent, "File %q not allowed. Only files with the following extensions are allowed: %s", filepath.ToSlash(rel), strings.Join(whitelist, " "))
		valid = false
		return nil
	})
	if err != nil {
		diags.Errorf(h5p.KindPackage, "Unable to scan %s: %v", root, err)
		return false
	}
	return valid
}
