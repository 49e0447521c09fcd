package rulefile

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/autoreply/internal/rule"
)

// ParseCUE evaluates a CUE rule file against the embedded schema.
func ParseCUE(name string, data []byte) ([]rule.Rule, []error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, []error{fmt.Errorf("compile embedded schema: %w", err)}
	}

	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, cueErrors(name, err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueErrors(name, err)
	}

	rulesVal := unified.LookupPath(cue.ParsePath("rules"))
	var rules []rule.Rule
	if err := rulesVal.Decode(&rules); err != nil {
		return nil, cueErrors(name, err)
	}
	if rules == nil {
		rules = []rule.Rule{}
	}

	if errs := validateAll(name, rules, func(i int) int {
		return elementLine(rulesVal, i)
	}); len(errs) > 0 {
		return nil, errs
	}
	return rules, nil
}

// cueErrors flattens a CUE error into one *Error per underlying problem.
func cueErrors(name string, err error) []error {
	list := errors.Errors(err)
	if len(list) == 0 {
		return []error{&Error{File: name, Message: err.Error(), Err: err}}
	}

	out := make([]error, 0, len(list))
	for _, e := range list {
		re := &Error{File: name, Message: e.Error(), Err: e}
		if pos := errors.Positions(e); len(pos) > 0 {
			// Prefer a position in the rule file over one in the schema
			p := pos[0]
			for _, cand := range pos {
				if cand.Filename() == name {
					p = cand
					break
				}
			}
			if p.IsValid() && p.Filename() == name {
				re.Line = p.Line()
				re.Column = p.Column()
			}
		}
		out = append(out, re)
	}
	return out
}

// elementLine returns the source line of list element i, or 0.
func elementLine(list cue.Value, i int) int {
	el := list.LookupPath(cue.MakePath(cue.Index(i)))
	if pos := el.Pos(); pos.IsValid() {
		return pos.Line()
	}
	return 0
}
