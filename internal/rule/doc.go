// Package rule defines the auto-reply rule model shared by every other package.
//
// A Rule maps a keyword (substring or regular expression) to a static reply.
// Rules are evaluated in ascending priority; ties keep insertion order.
//
// Key design constraints:
//   - Rule.ID is assigned once at creation and never changes or gets reused
//   - Validation happens at write time (Manager); readers never reject rules
//   - All JSON and YAML tags use snake_case
//   - The persisted form is a versioned Document, see document.go
package rule
