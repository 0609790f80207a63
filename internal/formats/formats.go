package formats

import (
	"fmt"
	"strings"
)

// Format is a diagnostic snapshot kind written when a capture is
// incomplete.
type Format string

const (
	HTML       Format = "html"
	Markdown   Format = "markdown"
	Screenshot Format = "screenshot"
)

var known = map[string]Format{
	"html":       HTML,
	"markdown":   Markdown,
	"md":         Markdown,
	"screenshot": Screenshot,
	"png":        Screenshot,
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Has reports whether names contains f. Aliases ("md", "png") count.
func Has(names []string, f Format) bool {
	for _, n := range names {
		if got, ok := known[normalize(n)]; ok && got == f {
			return true
		}
	}
	return false
}

// Validate rejects unknown format names. The returned error message is
// user-facing and printed as-is by the CLI.
func Validate(names []string) error {
	for _, n := range names {
		if _, ok := known[normalize(n)]; !ok {
			return fmt.Errorf("unsupported diagnostics format %q; allowed formats are: html, markdown, screenshot", n)
		}
	}
	return nil
}
