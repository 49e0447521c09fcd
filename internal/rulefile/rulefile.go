// Package rulefile loads bulk rule definitions from CUE or YAML files.
//
// A rule file holds a top-level "rules" list:
//
//	rules: [
//		{keyword: "hello", reply_message: "Hi!", priority: 1},
//		{keyword: "order\\s*#?\\d+", is_regex: true, reply_message: "Checking...", delay_seconds: 30},
//	]
//
// CUE files are unified with an embedded #Rule schema, which supplies
// defaults and rejects unknown fields. YAML files are decoded strictly.
// Either way every loaded rule also passes rule.Validate. Returned rules have
// no ID; the Manager assigns one on import.
package rulefile

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/autoreply/internal/rule"
)

//go:embed schema.cue
var schemaCUE string

// Error is a problem found in a rule file, with the location when known.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string

	// Err is the underlying cause, if any (for example a *rule.ValidationError).
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads path and parses it according to its extension
// (.cue, .yaml or .yml). All problems are returned; rules is nil when any
// error is reported.
func Load(path string) ([]rule.Rule, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&Error{File: path, Message: "cannot read file", Err: err}}
	}
	return Parse(path, data)
}

// Parse parses data named name, choosing the format from the extension.
func Parse(name string, data []byte) ([]rule.Rule, []error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue":
		return ParseCUE(name, data)
	case ".yaml", ".yml":
		return ParseYAML(name, data)
	default:
		return nil, []error{&Error{
			File:    name,
			Message: fmt.Sprintf("unsupported rule file extension %q (want .cue, .yaml or .yml)", filepath.Ext(name)),
		}}
	}
}

// validateAll runs rule.Validate on each rule, attributing failures to lines.
// line may return 0 when the position is unknown.
func validateAll(name string, rules []rule.Rule, line func(i int) int) []error {
	var errs []error
	for i, r := range rules {
		if err := rule.Validate(r); err != nil {
			errs = append(errs, &Error{
				File:    name,
				Line:    line(i),
				Message: fmt.Sprintf("rules[%d]: %v", i, err),
				Err:     err,
			})
		}
	}
	return errs
}
