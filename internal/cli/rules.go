package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/autoreply/internal/rule"
	"github.com/roach88/autoreply/internal/rulefile"
)

// RulesOptions holds flags shared by the rules subcommands.
type RulesOptions struct {
	*RootOptions

	// IDs overrides rule ID generation (for testing).
	// If nil, rule.UUIDv7Generator is used.
	IDs rule.IDGenerator
}

// ruleFlags are the editable rule fields.
type ruleFlags struct {
	keyword  string
	regex    bool
	reply    string
	priority int
	delay    int
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.keyword, "keyword", "k", "", "substring to look for, or the pattern with --regex")
	cmd.Flags().BoolVar(&f.regex, "regex", false, "treat the keyword as a regular expression")
	cmd.Flags().StringVarP(&f.reply, "reply", "r", "", "reply text sent on match")
	cmd.Flags().IntVarP(&f.priority, "priority", "p", 0, "evaluation order, lower first")
	cmd.Flags().IntVarP(&f.delay, "delay", "d", 0, "seconds to wait before replying")
}

// apply copies the flags the user set onto r.
func (f *ruleFlags) apply(cmd *cobra.Command, r *rule.Rule) {
	flags := cmd.Flags()
	if flags.Changed("keyword") {
		r.Keyword = f.keyword
	}
	if flags.Changed("regex") {
		r.IsRegex = f.regex
	}
	if flags.Changed("reply") {
		r.ReplyMessage = f.reply
	}
	if flags.Changed("priority") {
		r.Priority = f.priority
	}
	if flags.Changed("delay") {
		r.DelaySeconds = f.delay
	}
}

// RuleList is the output of rules list and rules import.
type RuleList struct {
	Rules []rule.Rule `json:"rules"`
}

// Text renders the rules as a table.
func (l RuleList) Text() string {
	if len(l.Rules) == 0 {
		return "No rules.\n"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tDELAY\tTYPE\tKEYWORD\tREPLY")
	for _, r := range l.Rules {
		kind := "text"
		if r.IsRegex {
			kind = "regex"
		}
		fmt.Fprintf(tw, "%s\t%d\t%ds\t%s\t%s\t%s\n",
			r.ID, r.Priority, r.DelaySeconds, kind, strconv.Quote(r.Keyword), strconv.Quote(r.ReplyMessage))
	}
	_ = tw.Flush()
	return b.String()
}

// RuleChange is the output of the single-rule subcommands.
type RuleChange struct {
	Action string     `json:"action"`
	ID     string     `json:"id"`
	Rule   *rule.Rule `json:"rule,omitempty"`
}

// Text renders a one-line confirmation.
func (c RuleChange) Text() string {
	return fmt.Sprintf("✓ %s %s\n", c.Action, c.ID)
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return newRulesCommand(&RulesOptions{RootOptions: rootOpts})
}

func newRulesCommand(opts *RulesOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage auto-reply rules",
		Long: `List, add, edit, reorder and import auto-reply rules in the configured store.

Rules are validated before they are written: a regular expression that does
not compile is rejected with INVALID_PATTERN (exit code 2).`,
	}

	cmd.AddCommand(newRulesListCommand(opts))
	cmd.AddCommand(newRulesAddCommand(opts))
	cmd.AddCommand(newRulesUpdateCommand(opts))
	cmd.AddCommand(newRulesIDCommand(opts, "delete", "Delete a rule", "deleted", (*rule.Manager).Delete))
	cmd.AddCommand(newRulesIDCommand(opts, "raise", "Move a rule earlier (priority - 1, floor 0)", "raised", (*rule.Manager).Raise))
	cmd.AddCommand(newRulesIDCommand(opts, "lower", "Move a rule later (priority + 1)", "lowered", (*rule.Manager).Lower))
	cmd.AddCommand(newRulesImportCommand(opts))
	cmd.AddCommand(newRulesSeedCommand(opts))

	return cmd
}

func newRulesListCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List rules in evaluation order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, cmd, func(ctx context.Context, m *rule.Manager, f *OutputFormatter) error {
				rules, err := m.List(ctx)
				if err != nil {
					return ruleFailure(f, "list rules", err)
				}
				return f.Success(RuleList{Rules: rule.SortByPriority(rules)})
			})
		},
	}
}

func newRulesAddCommand(opts *RulesOptions) *cobra.Command {
	flags := &ruleFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		Example: `  autoreply rules add --keyword hello --reply "Hi! I'll get back to you soon."
  autoreply rules add --regex --keyword '^order\s*#?\d+$' --reply "Checking your order" --delay 30`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r rule.Rule
			flags.apply(cmd, &r)
			return withManager(opts, cmd, func(ctx context.Context, m *rule.Manager, f *OutputFormatter) error {
				added, err := m.Add(ctx, r)
				if err != nil {
					return ruleFailure(f, "add rule", err)
				}
				return f.Success(RuleChange{Action: "added", ID: added.ID, Rule: &added})
			})
		},
	}

	flags.register(cmd)
	_ = cmd.MarkFlagRequired("keyword")
	return cmd
}

func newRulesUpdateCommand(opts *RulesOptions) *cobra.Command {
	flags := &ruleFlags{}

	cmd := &cobra.Command{
		Use:           "update <id>",
		Short:         "Change fields of a rule; unset flags keep their value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withManager(opts, cmd, func(ctx context.Context, m *rule.Manager, f *OutputFormatter) error {
				r, err := m.Get(ctx, id)
				if err != nil {
					return ruleFailure(f, "update rule", err)
				}
				flags.apply(cmd, &r)
				if err := m.Update(ctx, r); err != nil {
					return ruleFailure(f, "update rule", err)
				}
				return f.Success(RuleChange{Action: "updated", ID: id, Rule: &r})
			})
		},
	}

	flags.register(cmd)
	return cmd
}

// newRulesIDCommand builds a subcommand that applies op to one rule ID.
func newRulesIDCommand(opts *RulesOptions, use, short, action string, op func(*rule.Manager, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withManager(opts, cmd, func(ctx context.Context, m *rule.Manager, f *OutputFormatter) error {
				if err := op(m, ctx, id); err != nil {
					return ruleFailure(f, use+" rule", err)
				}
				return f.Success(RuleChange{Action: action, ID: id})
			})
		},
	}
}

func newRulesImportCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add every rule from a .cue or .yaml rule file",
		Long: `Import rules from a CUE or YAML rule file.

The file is validated as a whole first; nothing is written unless every
rule in it is valid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f := newFormatter(opts.RootOptions, cmd)

			rules, errs := rulefile.Load(path)
			if len(errs) > 0 {
				return outputRuleFileErrors(f, path, errs)
			}

			return withManager(opts, cmd, func(ctx context.Context, m *rule.Manager, f *OutputFormatter) error {
				added, err := m.Import(ctx, rules)
				if err != nil {
					return ruleFailure(f, "import rules", err)
				}
				f.VerboseLog("Imported %d rule(s) from %s", len(added), path)
				return f.Success(RuleList{Rules: added})
			})
		},
	}
}

// SeedResult is the output of rules seed.
type SeedResult struct {
	Seeded bool        `json:"seeded"`
	Rules  []rule.Rule `json:"rules"`
}

// Text renders the seeded rules, or a note when the store already had rules.
func (r SeedResult) Text() string {
	if !r.Seeded {
		return "Store already has rules, nothing seeded.\n"
	}
	return fmt.Sprintf("✓ seeded %d default rule(s)\n", len(r.Rules)) + RuleList{Rules: r.Rules}.Text()
}

func newRulesSeedCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Add the starter rules to an empty store",
		Long: `Add the default starter rules ("olá" and "teste") when the store holds
no rules. A store that already has rules is left unchanged.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(opts, cmd, func(ctx context.Context, m *rule.Manager, f *OutputFormatter) error {
				added, err := m.Seed(ctx)
				if err != nil {
					return ruleFailure(f, "seed rules", err)
				}
				return f.Success(SeedResult{Seeded: added != nil, Rules: added})
			})
		},
	}
}

// withManager loads the configuration, opens the rule store and runs fn.
func withManager(opts *RulesOptions, cmd *cobra.Command, fn func(context.Context, *rule.Manager, *OutputFormatter) error) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to open rule store", err)
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			f.VerboseLog("error closing rule store: %v", cerr)
		}
	}()
	f.VerboseLog("Using rule store %s", describeStore(cfg.Store))

	return fn(ctx, rule.NewManager(st, opts.IDs), f)
}

// ruleFailure maps a Manager error to an error code and exit code 2.
func ruleFailure(f *OutputFormatter, op string, err error) error {
	var ve *rule.ValidationError
	switch {
	case errors.As(err, &ve):
		return f.Fail(ExitCommandError, string(ve.Code), ve.Message, err)
	case errors.Is(err, rule.ErrRuleNotFound):
		return f.Fail(ExitCommandError, ErrCodeNotFound, op, err)
	default:
		return f.Fail(ExitCommandError, ErrCodeStore, op, err)
	}
}
