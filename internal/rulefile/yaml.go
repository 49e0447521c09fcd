package rulefile

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/autoreply/internal/rule"
)

type yamlFile struct {
	Rules []rule.Rule `yaml:"rules"`
}

// ParseYAML decodes a YAML rule file. Unknown fields are rejected.
func ParseYAML(name string, data []byte) ([]rule.Rule, []error) {
	var file yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, []error{&Error{File: name, Message: err.Error(), Err: err}}
	}

	rules := file.Rules
	if rules == nil {
		rules = []rule.Rule{}
	}

	lines := yamlRuleLines(data)
	if errs := validateAll(name, rules, func(i int) int {
		if i < len(lines) {
			return lines[i]
		}
		return 0
	}); len(errs) > 0 {
		return nil, errs
	}
	return rules, nil
}

// yamlRuleLines returns the line number of each element of the top-level
// rules sequence.
func yamlRuleLines(data []byte) []int {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "rules" {
			continue
		}
		seq := root.Content[i+1]
		lines := make([]int, len(seq.Content))
		for j, item := range seq.Content {
			lines[j] = item.Line
		}
		return lines
	}
	return nil
}
