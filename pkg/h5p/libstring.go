package h5p

import (
	"fmt"
	"regexp"
	"strconv"
)

var libraryStringPattern = regexp.MustCompile(`^([\w0-9\-\.]{1,255})[\-\ ]([0-9]{1,5})\.([0-9]{1,5})$`)

// LibraryToString formats ref as "<name> <major>.<minor>", or with a hyphen
// separator when folder is true.
func LibraryToString(ref LibraryRef, folder bool) string {
	sep := " "
	if folder {
		sep = "-"
	}
	return fmt.Sprintf("%s%s%d.%d", ref.MachineName, sep, ref.MajorVersion, ref.MinorVersion)
}

// LibraryFromString parses either form produced by LibraryToString.
func LibraryFromString(s string) (LibraryRef, bool) {
	m := libraryStringPattern.FindStringSubmatch(s)
	if m == nil {
		return LibraryRef{}, false
	}
	major, err := strconv.Atoi(m[2])
	if err != nil {
		return LibraryRef{}, false
	}
	minor, err := strconv.Atoi(m[3])
	if err != nil {
		return LibraryRef{}, false
	}
	return LibraryRef{MachineName: m[1], MajorVersion: Version(major), MinorVersion: Version(minor)}, true
}
