// Package shellhook generates the prompt hook injected into a shared pane.
//
// The hook runs right before every prompt redraw. It records
// "<seq> <exit>" through a backend-specific persist command and then fires
// the backend's signal command, so a waiter can tell that a command
// finished without wrapping the command itself.
package shellhook

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Dialect is the family of interactive shell running in the pane.
type Dialect string

const (
	Bash Dialect = "bash"
	Zsh  Dialect = "zsh"
	Fish Dialect = "fish"
)

// RecordVar is the shell variable holding "<seq> <exit>" while the persist
// command runs.
const RecordVar = "__mirror_rec"

// FuncName is the name of the installed hook function.
const FuncName = "__mirror_hook"

// Detect maps a process name ("zsh", "-bash", "/usr/bin/fish") to a dialect.
// Unknown shells get Bash, whose PROMPT_COMMAND form is the most widely
// understood.
func Detect(process string) Dialect {
	name := strings.TrimSpace(process)
	if fields := strings.Fields(name); len(fields) > 0 {
		name = fields[0]
	}
	name = strings.TrimPrefix(filepath.Base(name), "-")
	switch {
	case strings.HasPrefix(name, "zsh"):
		return Zsh
	case strings.HasPrefix(name, "fish"):
		return Fish
	default:
		return Bash
	}
}

// Spec holds the backend fragments spliced into the hook body.
type Spec struct {
	// Persist stores the value of $__mirror_rec somewhere the orchestrator
	// can read it back.
	Persist string
	// Signal wakes whoever is blocked waiting for the prompt.
	Signal string
}

// Generate returns the one-line hook installer for the dialect.
func Generate(d Dialect, s Spec) string {
	switch d {
	case Fish:
		return generateFish(s)
	case Zsh:
		return posixBody(s) + fmt.Sprintf("; precmd_functions=(%s ${precmd_functions[@]:#%s})", FuncName, FuncName)
	default:
		return posixBody(s) + fmt.Sprintf(`; case ";${PROMPT_COMMAND:-};" in *";%[1]s;"*) ;; *) PROMPT_COMMAND="%[1]s${PROMPT_COMMAND:+;$PROMPT_COMMAND}" ;; esac`, FuncName)
	}
}

// posixBody defines the hook function for bash and zsh. The function runs
// first in the prompt chain so $? still belongs to the user's command.
func posixBody(s Spec) string {
	var b strings.Builder
	b.WriteString("export PAGER=cat GIT_PAGER=cat; ")
	fmt.Fprintf(&b, "%s() { local __mirror_rc=$?; ", FuncName)
	b.WriteString("__mirror_seq=$(( ${__mirror_seq:-0} + 1 )); ")
	fmt.Fprintf(&b, `%s="$__mirror_seq $__mirror_rc"; `, RecordVar)
	fmt.Fprintf(&b, "%s; %s; ", s.Persist, s.Signal)
	b.WriteString("return $__mirror_rc; }")
	return b.String()
}

func generateFish(s Spec) string {
	var b strings.Builder
	b.WriteString("set -gx PAGER cat; set -gx GIT_PAGER cat; ")
	fmt.Fprintf(&b, "function %s --on-event fish_prompt; set -l __mirror_rc $status; ", FuncName)
	b.WriteString("set -q __mirror_seq; or set -g __mirror_seq 0; set -g __mirror_seq (math $__mirror_seq + 1); ")
	fmt.Fprintf(&b, `set -l %s "$__mirror_seq $__mirror_rc"; `, RecordVar)
	fmt.Fprintf(&b, "%s; %s; ", fishFragment(s.Persist), fishFragment(s.Signal))
	b.WriteString("end")
	return b.String()
}

// fishFragment rewrites a POSIX "( cmd & )" detached subshell, which fish
// would parse as command substitution.
func fishFragment(frag string) string {
	frag = strings.TrimSpace(frag)
	if strings.HasPrefix(frag, "(") && strings.HasSuffix(frag, ")") {
		inner := strings.TrimSpace(frag[1 : len(frag)-1])
		inner = strings.TrimSpace(strings.TrimSuffix(inner, "&"))
		return "sh -c " + quote(inner) + " &; disown"
	}
	return frag
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
