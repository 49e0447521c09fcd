package store

import (
	"context"
	"fmt"

	"github.com/roach88/autoreply/internal/rule"
)

// Save replaces the stored rule set with rules.
//
// The delete and all inserts run in one transaction, so a concurrent List
// sees either the old set or the new one. Rules are stored in slice order;
// callers are expected to pass them already sorted by priority.
func (s *Store) Save(ctx context.Context, rules []rule.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rules
		(id, keyword, is_regex, reply_message, priority, delay_seconds, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	defer stmt.Close()

	for i, r := range rules {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			r.Keyword,
			boolToInt(r.IsRegex),
			r.ReplyMessage,
			r.Priority,
			r.DelaySeconds,
			i,
		)
		if err != nil {
			return fmt.Errorf("write rule %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
