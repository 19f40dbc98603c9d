package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/output"
	"github.com/panemirror/panemirror/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the command policy",
	}
	cmd.AddCommand(newPolicyCheckCmd(), newPolicyShowCmd())
	return cmd
}

// CheckResult is the JSON form of policy check.
type CheckResult struct {
	Command        string        `json:"command"`
	Action         policy.Action `json:"action"`
	Match          *policy.Match `json:"match,omitempty"`
	ReadOnly       bool          `json:"read_only"`
	ReadOnlyReason string        `json:"read_only_reason,omitempty"`
}

func newPolicyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check -- COMMAND...",
		Short: "Show how the policy treats a command",
		Long: `Show the rule a command matches and whether it would run in read-only
mode. Exits 2 when the command is blocked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.LoadOrDefault(cfg.Policy.File)
			if err != nil {
				return err
			}
			res := checkCommand(p, strings.Join(args, " "))
			if err := printCheck(cmd, res); err != nil {
				return err
			}
			if res.Action == policy.ActionBlock {
				return &ExitError{Code: 2}
			}
			return nil
		},
	}
}

func checkCommand(p *policy.Policy, command string) CheckResult {
	res := CheckResult{Command: command, Action: policy.ActionAllow}
	if m := p.Check(command); m != nil {
		res.Action, res.Match = m.Action, m
	}
	ok, reason := policy.ReadOnly(command)
	res.ReadOnly = ok
	if !ok {
		res.ReadOnlyReason = reason
	}
	return res
}

func printCheck(cmd *cobra.Command, r CheckResult) error {
	out := formatter(cmd)
	if out.IsJSON() {
		return out.JSON(r)
	}
	s := out.Styles()
	var action string
	switch r.Action {
	case policy.ActionBlock:
		action = s.Error.Render("blocked")
	case policy.ActionApprove:
		action = s.Warn.Render("needs approval")
	default:
		action = s.OK.Render("allowed")
	}
	out.Textln("%s  %s", action, r.Command)
	if r.Match != nil {
		source := "policy file"
		if r.Match.Builtin {
			source = "built-in"
		}
		out.Textln("  rule:      %s (%s)", r.Match.Pattern, source)
		if r.Match.Reason != "" {
			out.Textln("  reason:    %s", r.Match.Reason)
		}
	}
	if r.ReadOnly {
		out.Textln("  read-only: %s", s.OK.Render("yes"))
	} else {
		out.Textln("  read-only: %s (%s)", s.Muted.Render("no"), r.ReadOnlyReason)
	}
	return nil
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the active rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.LoadOrDefault(cfg.Policy.File)
			if err != nil {
				return err
			}
			rules := activeRules(p)
			out := formatter(cmd)
			if out.IsJSON() {
				return out.JSON(rules)
			}
			out.Textln("%s (%s)", out.Styles().Title.Render("Command policy"),
				output.CountStr(len(rules), "rule", "rules"))
			st := out.Styles()
			t := output.NewTable(out.Writer(), "ACTION", "SOURCE", "PATTERN", "REASON")
			for _, m := range rules {
				source := "file"
				if m.Builtin {
					source = "built-in"
				}
				action := st.Warn.Render(string(m.Action))
				switch m.Action {
				case policy.ActionAllow:
					action = st.OK.Render(string(m.Action))
				case policy.ActionBlock:
					action = st.Error.Render(string(m.Action))
				}
				t.AddRow(action, source, m.Pattern, output.Truncate(m.Reason, out.Width()/2))
			}
			t.Render()
			return nil
		},
	}
}

// activeRules lists every rule in the order Check evaluates them.
func activeRules(p *policy.Policy) []policy.Match {
	var out []policy.Match
	add := func(rules []policy.Rule, a policy.Action) {
		for _, r := range rules {
			out = append(out, policy.Match{Action: a, Pattern: r.Pattern, Reason: r.Reason})
		}
	}
	add(p.Allowed, policy.ActionAllow)
	add(p.Blocked, policy.ActionBlock)
	add(p.ApprovalRequired, policy.ActionApprove)
	if !p.DisableBuiltins {
		out = append(out, policy.Builtins()...)
	}
	return out
}
