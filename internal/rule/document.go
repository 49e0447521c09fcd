package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Schema version tracking for the persisted rule document:
// 0 - bare JSON array of rules (legacy list with camelCase fields)
// 1 - {"schema_version":1,"rules":[...]} with snake_case fields
const CurrentSchemaVersion = 1

// Document is the persisted form of a rule collection used by the file
// and key-value backends.
type Document struct {
	SchemaVersion int    `json:"schema_version"`
	Rules         []Rule `json:"rules"`
}

// legacyRule is the version 0 record shape.
type legacyRule struct {
	ID           any    `json:"id"`
	Keyword      string `json:"keyword"`
	ReplyMessage string `json:"replyMessage"`
	IsRegex      bool   `json:"isRegex"`
	Priority     int    `json:"priority"`
	DelaySeconds int    `json:"delaySeconds"`
}

// EncodeDocument serializes rules as a current-version Document.
func EncodeDocument(rules []Rule) ([]byte, error) {
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.MarshalIndent(Document{
		SchemaVersion: CurrentSchemaVersion,
		Rules:         rules,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rule document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses a persisted rule document, upgrading older versions.
// Empty input decodes to an empty rule set.
func DecodeDocument(data []byte) ([]Rule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []Rule{}, nil
	}

	if trimmed[0] == '[' {
		return decodeLegacy(trimmed)
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}
	if doc.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("decode rule document: unsupported schema_version %d (max %d)",
			doc.SchemaVersion, CurrentSchemaVersion)
	}
	if doc.Rules == nil {
		doc.Rules = []Rule{}
	}
	return doc.Rules, nil
}

func decodeLegacy(data []byte) ([]Rule, error) {
	var legacy []legacyRule
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode legacy rule list: %w", err)
	}

	rules := make([]Rule, len(legacy))
	for i, l := range legacy {
		rules[i] = Rule{
			ID:           legacyID(l.ID),
			Keyword:      l.Keyword,
			IsRegex:      l.IsRegex,
			ReplyMessage: l.ReplyMessage,
			Priority:     l.Priority,
			DelaySeconds: l.DelaySeconds,
		}
	}
	return rules, nil
}

// legacyID renders numeric IDs without a fractional part.
func legacyID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%d", int64(id))
	default:
		return fmt.Sprintf("%v", id)
	}
}
