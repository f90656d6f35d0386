// Package flags implements forge's per-file compiler flag selection:
// a common flag list plus an ordered series of path-matched flag
// additions, each able to reference the templated placeholders
// $source, $output and $relative. Ordering is deterministic because
// callers hash the result.
package flags

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
)

// Params supplies the values substituted for $source, $output and
// $relative when rendering a flag or match pattern.
type Params struct {
	Source   string
	Output   string
	Relative string
}

func (p Params) asMap() map[string]string {
	return map[string]string{
		"source":   p.Source,
		"output":   p.Output,
		"relative": p.Relative,
	}
}

// render substitutes $name placeholders in s using text/template.
func render(s string, params Params) (string, error) {
	tmpl, err := template.New("flag").Delims("${", "}").Parse(dollarToDelim(s))
	if err != nil {
		return "", fmt.Errorf("could not parse flag template %q: %w", s, err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, params.asMap()); err != nil {
		return "", fmt.Errorf("could not render flag template %q: %w", s, err)
	}
	return buf.String(), nil
}

// dollarToDelim rewrites $name references into the ${name} form our
// template delimiters expect, leaving anything else untouched. Only the
// three known placeholder names are rewritten.
func dollarToDelim(s string) string {
	for _, name := range []string{"source", "output", "relative"} {
		s = strings.ReplaceAll(s, "$"+name, "${."+name+"}")
	}
	return s
}

// AddFlags appends flags for files whose path matches a glob pattern.
// Both Match and each entry in Flags may use the $source, $output and
// $relative placeholders.
type AddFlags struct {
	// Match is a glob pattern tested against the file's path. An empty
	// Match applies the flags unconditionally.
	Match string
	Flags []string
}

// Apply checks whether path matches Match, and if so appends the
// rendered flags to current, returning the extended slice.
func (a AddFlags) Apply(path string, current []string, params Params) ([]string, error) {
	params.Relative = filepath.Dir(path)

	if a.Match != "" {
		pattern, err := render(a.Match, params)
		if err != nil {
			return current, err
		}
		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			return current, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
		}
		if !matched {
			return current, nil
		}
	}

	for _, flag := range a.Flags {
		rendered, err := render(flag, params)
		if err != nil {
			return current, err
		}
		current = append(current, rendered)
	}
	return current, nil
}

// Config returns the command-line flags that should be used to compile
// a given path: the common flags, in order, followed by every matching
// AddFlags rule's flags, in the order the rules were declared.
type Config struct {
	Common []string
	Rules  []AddFlags
}

// FlagsFor returns all flags for path, in a reproducible order.
func (c Config) FlagsFor(path string, params Params) ([]string, error) {
	flags := make([]string, 0, len(c.Common))
	for _, common := range c.Common {
		rendered, err := render(common, params)
		if err != nil {
			return nil, err
		}
		flags = append(flags, rendered)
	}

	for _, rule := range c.Rules {
		var err error
		flags, err = rule.Apply(path, flags, params)
		if err != nil {
			return nil, err
		}
	}

	return flags, nil
}
