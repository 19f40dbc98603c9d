// Package policy decides whether a shell command may run in the shared pane.
package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Action is the outcome of a policy check.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionBlock   Action = "block"
	ActionApprove Action = "approve"
)

// Rule is one pattern in a policy file.
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Reason  string `yaml:"reason,omitempty" json:"reason,omitempty"`

	re *regexp.Regexp
}

// Policy is the command policy. Allowed rules are checked first, then
// blocked, then approval_required, then the built-in rules.
type Policy struct {
	Version          int    `yaml:"version" json:"version"`
	Allowed          []Rule `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	Blocked          []Rule `yaml:"blocked,omitempty" json:"blocked,omitempty"`
	ApprovalRequired []Rule `yaml:"approval_required,omitempty" json:"approval_required,omitempty"`
	// DisableBuiltins turns off the built-in find/sudo/rm rules.
	DisableBuiltins bool `yaml:"disable_builtins,omitempty" json:"disable_builtins,omitempty"`
}

// Match describes the rule a command matched.
type Match struct {
	Action  Action `json:"action"`
	Pattern string `json:"pattern,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Builtin bool   `json:"builtin,omitempty"`
}

// builtinRules are checked in order; the first match wins.
var builtinRules = []struct {
	pattern string
	action  Action
	reason  string
}{
	{`\b(bfs|find).*-exec`, ActionBlock, "NEVER run commands with find"},
	{`\b(bfs|find).*-delete`, ActionBlock, "NEVER delete files with find."},
	{`\bsudo\b`, ActionApprove, ""},
	{`\brm.*--no-preserve-root`, ActionBlock, ""},
	{`\brm.*(-[rRf]+|--recursive|--force)`, ActionApprove, ""},
}

var builtins = func() []Rule {
	rules := make([]Rule, len(builtinRules))
	for i, b := range builtinRules {
		rules[i] = Rule{Pattern: b.pattern, Reason: b.reason, re: regexp.MustCompile(b.pattern)}
	}
	return rules
}()

// DefaultPolicy returns a policy with only the built-in rules.
func DefaultPolicy() *Policy {
	return &Policy{Version: 1}
}

// Load reads and compiles a YAML policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault loads path, or returns DefaultPolicy when path is empty or
// the file does not exist.
func LoadOrDefault(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	p, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPolicy(), nil
	}
	return p, err
}

// Parse decodes and compiles YAML policy content.
func Parse(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) compile() error {
	for _, list := range [][]Rule{p.Allowed, p.Blocked, p.ApprovalRequired} {
		for i := range list {
			re, err := regexp.Compile(list[i].Pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %w", list[i].Pattern, err)
			}
			list[i].re = re
		}
	}
	return nil
}

// Check returns the first rule command matches, or nil when no rule
// applies. An allowed match is returned with ActionAllow.
func (p *Policy) Check(command string) *Match {
	if p == nil {
		p = DefaultPolicy()
	}
	if r := firstMatch(p.Allowed, command); r != nil {
		return &Match{Action: ActionAllow, Pattern: r.Pattern, Reason: r.Reason}
	}
	if r := firstMatch(p.Blocked, command); r != nil {
		return &Match{Action: ActionBlock, Pattern: r.Pattern, Reason: r.Reason}
	}
	if r := firstMatch(p.ApprovalRequired, command); r != nil {
		return &Match{Action: ActionApprove, Pattern: r.Pattern, Reason: r.Reason}
	}
	if p.DisableBuiltins {
		return nil
	}
	for i, r := range builtins {
		if r.re.MatchString(command) {
			return &Match{Action: builtinRules[i].action, Pattern: r.Pattern, Reason: r.Reason, Builtin: true}
		}
	}
	return nil
}

func firstMatch(rules []Rule, command string) *Rule {
	for i := range rules {
		re := rules[i].re
		if re == nil {
			var err error
			if re, err = regexp.Compile(rules[i].Pattern); err != nil {
				continue
			}
		}
		if re.MatchString(command) {
			return &rules[i]
		}
	}
	return nil
}

// Stats returns the number of blocked, approval and allowed rules from the
// policy file.
func (p *Policy) Stats() (blocked, approval, allowed int) {
	return len(p.Blocked), len(p.ApprovalRequired), len(p.Allowed)
}

// Builtins lists the built-in rules with their actions.
func Builtins() []Match {
	out := make([]Match, len(builtinRules))
	for i, b := range builtinRules {
		out[i] = Match{Action: b.action, Pattern: b.pattern, Reason: b.reason, Builtin: true}
	}
	return out
}
