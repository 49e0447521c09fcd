package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/autoreply/internal/rule"
)

// List returns all rules in saved order: ORDER BY position ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no rules are stored.
func (s *Store) List(ctx context.Context) ([]rule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, keyword, is_regex, reply_message, priority, delay_seconds
		FROM rules
		ORDER BY position ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []rule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	if rules == nil {
		rules = []rule.Rule{}
	}

	return rules, nil
}

// Count returns the number of stored rules.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}

func scanRule(rows *sql.Rows) (rule.Rule, error) {
	var (
		r       rule.Rule
		isRegex int
	)
	if err := rows.Scan(&r.ID, &r.Keyword, &isRegex, &r.ReplyMessage, &r.Priority, &r.DelaySeconds); err != nil {
		return rule.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.IsRegex = isRegex != 0
	return r, nil
}
