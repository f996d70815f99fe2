package h5p

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugSeparate = regexp.MustCompile(`[-\s]+`)
)

// Slugify turns a title into a lowercase, hyphen separated ASCII slug.
// Accented letters are folded to their base letter, other non-ASCII runes are
// dropped. An empty result becomes "content".
func Slugify(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	folded = slugStrip.ReplaceAllString(folded, "")
	folded = strings.ToLower(strings.TrimSpace(folded))
	slug := strings.Trim(slugSeparate.ReplaceAllString(folded, "-"), "-_")
	if slug == "" {
		return "content"
	}
	return slug
}

// SlugChecker reports whether a slug is still free.
type SlugChecker func(ctx context.Context, slug string) (bool, error)

// GenerateSlug returns Slugify(title) if available, otherwise the first free
// "<slug>-2", "<slug>-3", ... candidate.
func GenerateSlug(ctx context.Context, title string, available SlugChecker) (string, error) {
	base := Slugify(title)
	slug := base
	for n := 2; ; n++ {
		ok, err := available(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %q: %w", slug, err)
		}
		if ok {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

// ExportName returns the archive file name for content: "<slug>-<id>.h5p",
// or "<id>.h5p" when the content has no slug yet.
func ExportName(c *Content) string {
	if c.Slug == "" {
		return fmt.Sprintf("%d.h5p", c.ID)
	}
	return fmt.Sprintf("%s-%d.h5p", c.Slug, c.ID)
}
