package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HookInput is the JSON a host writes to a PreToolUse hook's stdin.
type HookInput struct {
	ToolName  string `json:"tool_name"`
	ToolInput struct {
		Command string `json:"command"`
	} `json:"tool_input"`
	Cwd           string `json:"cwd"`
	HookEventName string `json:"hook_event_name"`
}

// HookDecision is the hookSpecificOutput object.
type HookDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// HookOutput is written to stdout. Either HookSpecificOutput is set, or
// Continue=false with a StopReason.
type HookOutput struct {
	HookSpecificOutput *HookDecision `json:"hookSpecificOutput,omitempty"`
	Continue           *bool         `json:"continue,omitempty"`
	StopReason         string        `json:"stopReason,omitempty"`
}

// Decision maps a match to a host permission decision ("deny" or "ask").
// Allowed commands and nil matches have no decision.
func (m *Match) Decision() string {
	if m == nil {
		return ""
	}
	switch m.Action {
	case ActionBlock:
		return "deny"
	case ActionApprove:
		return "ask"
	}
	return ""
}

// ProjectRoot returns $CLAUDE_PROJECT_DIR, or the process working directory.
func ProjectRoot() string {
	if dir := os.Getenv("CLAUDE_PROJECT_DIR"); dir != "" {
		return dir
	}
	wd, _ := os.Getwd()
	return wd
}

// RunPreToolUse reads a hook request from r, evaluates it against p and
// writes the response to w. It returns the process exit status: 1 when the
// hook is misconfigured or the request cannot be handled, 0 otherwise.
// Nothing is written for commands no rule objects to.
func RunPreToolUse(r io.Reader, w io.Writer, p *Policy, projectRoot string) int {
	var in HookInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return stop(w, fmt.Sprintf("Error: Invalid JSON input for tool call: %v", err))
	}
	command := in.ToolInput.Command
	if !isShellTool(in.ToolName) || command == "" {
		return stop(w, fmt.Sprintf("Command validator hook is configured incorrectly.\nHook Event: %s\nTool name: %s",
			in.HookEventName, in.ToolName))
	}

	cwd := resolve(in.Cwd)
	root := resolve(projectRoot)
	if !within(cwd, root) {
		return stop(w, fmt.Sprintf("Current working directory %s is outside of project root %s", cwd, root))
	}

	m := p.Check(command)
	decision := m.Decision()
	if decision == "" {
		return 0
	}
	writeJSON(w, HookOutput{HookSpecificOutput: &HookDecision{
		HookEventName:            "PreToolUse",
		PermissionDecision:       decision,
		PermissionDecisionReason: m.Reason,
	}})
	return 0
}

// isShellTool accepts the host's built-in Bash tool and our own MCP tool
// ("mcp__<server>__bash").
func isShellTool(name string) bool {
	return name == "Bash" || (strings.HasPrefix(name, "mcp__") && strings.HasSuffix(name, "__bash"))
}

func stop(w io.Writer, reason string) int {
	cont := false
	writeJSON(w, HookOutput{Continue: &cont, StopReason: reason})
	return 1
}

func writeJSON(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(w, string(data))
}

func resolve(path string) string {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
