package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// readOnlyPrograms never modify the filesystem on their own.
var readOnlyPrograms = map[string]bool{
	"basename": true, "cat": true, "column": true, "cut": true, "date": true,
	"df": true, "diff": true, "dirname": true, "du": true, "echo": true,
	"false": true, "file": true, "grep": true, "egrep": true, "fgrep": true,
	"head": true, "id": true, "jq": true, "ls": true, "md5sum": true,
	"nl": true, "printenv": true, "printf": true, "pwd": true, "readlink": true,
	"realpath": true, "rg": true, "sha1sum": true, "sha256sum": true, "sort": true,
	"stat": true, "tail": true, "test": true, "tr": true, "tree": true,
	"true": true, "type": true, "uname": true, "uniq": true, "wc": true,
	"which": true, "whoami": true,
	"find": true, "git": true, "go": true,
}

var readOnlyGit = map[string]bool{
	"blame": true, "branch": true, "describe": true, "diff": true, "grep": true,
	"log": true, "ls-files": true, "ls-tree": true, "rev-parse": true,
	"shortlog": true, "show": true, "status": true, "tag": true,
}

var readOnlyGo = map[string]bool{
	"doc": true, "env": true, "list": true, "version": true,
}

// ReadOnly reports whether every part of a shell command line only reads.
// When it does not, the reason names the offending part.
func ReadOnly(command string) (bool, string) {
	segments, err := splitCommandLine(command)
	if err != nil {
		return false, err.Error()
	}
	if len(segments) == 0 {
		return false, "empty command"
	}
	for _, seg := range segments {
		if ok, reason := readOnlySegment(seg); !ok {
			return false, reason
		}
	}
	return true, ""
}

func readOnlySegment(seg string) (bool, string) {
	fields := strings.Fields(seg)
	if len(fields) == 0 {
		return true, ""
	}
	prog := filepath.Base(fields[0])
	if !readOnlyPrograms[prog] {
		return false, fmt.Sprintf("%s is not a read-only command", prog)
	}
	args := fields[1:]
	switch prog {
	case "git":
		sub := gitSubcommand(args)
		if !readOnlyGit[sub] {
			return false, fmt.Sprintf("git %s is not read-only", sub)
		}
		if sub == "branch" || sub == "tag" {
			listing := hasFlag(args, "-l", "--list")
			seen := false
			for _, a := range args {
				if a == sub && !seen {
					seen = true
					continue
				}
				if !seen {
					continue
				}
				switch {
				case a == "-d" || a == "-D" || a == "-m" || a == "-M" || a == "--delete" || a == "--move":
					return false, fmt.Sprintf("git %s %s modifies refs", sub, a)
				case !strings.HasPrefix(a, "-") && !listing:
					return false, fmt.Sprintf("git %s %s creates a ref", sub, a)
				}
			}
		}
	case "go":
		if len(args) == 0 || !readOnlyGo[args[0]] {
			return false, "only go doc, env, list and version are read-only"
		}
		if args[0] == "env" && hasFlag(args, "-w", "-u") {
			return false, "go env -w modifies the environment file"
		}
	case "find":
		for _, a := range args {
			switch a {
			case "-exec", "-execdir", "-ok", "-okdir", "-delete", "-fprint", "-fprintf", "-fls":
				return false, fmt.Sprintf("find %s is not read-only", a)
			}
		}
	}
	return true, ""
}

func gitSubcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-C" || a == "-c":
			i++
		case strings.HasPrefix(a, "-"):
		default:
			return a
		}
	}
	return ""
}

func hasFlag(args []string, flags ...string) bool {
	for _, a := range args {
		for _, f := range flags {
			if a == f {
				return true
			}
		}
	}
	return false
}

// splitCommandLine splits a command line on |, &&, || and ; (and newlines)
// outside quotes. Output redirection to anything but /dev/null, command
// substitution and backgrounding are rejected.
func splitCommandLine(s string) ([]string, error) {
	var (
		segments []string
		cur      strings.Builder
		single   bool
		double   bool
	)
	flush := func() {
		if seg := strings.TrimSpace(cur.String()); seg != "" {
			segments = append(segments, seg)
		}
		cur.Reset()
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case single:
			if c == '\'' {
				single = false
			}
			cur.WriteByte(c)
			continue
		case c == '\\' && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
			continue
		case double:
			if c == '"' {
				double = false
			} else if c == '`' || (c == '$' && i+1 < len(s) && s[i+1] == '(') {
				return nil, fmt.Errorf("command substitution is not allowed")
			}
			cur.WriteByte(c)
			continue
		}

		switch c {
		case '\'':
			single = true
			cur.WriteByte(c)
		case '"':
			double = true
			cur.WriteByte(c)
		case '`':
			return nil, fmt.Errorf("command substitution is not allowed")
		case '$':
			if i+1 < len(s) && s[i+1] == '(' {
				return nil, fmt.Errorf("command substitution is not allowed")
			}
			cur.WriteByte(c)
		case ';', '\n':
			flush()
		case '|':
			if i+1 < len(s) && s[i+1] == '|' {
				i++
			}
			flush()
		case '&':
			switch {
			case i+1 < len(s) && s[i+1] == '&':
				i++
				flush()
			case i > 0 && (s[i-1] == '>' || s[i-1] == '<'):
				cur.WriteByte(c)
			default:
				return nil, fmt.Errorf("background jobs are not allowed")
			}
		case '>':
			target, n := redirectTarget(s[i+1:])
			if target != "/dev/null" && !strings.HasPrefix(target, "&") {
				return nil, fmt.Errorf("output redirection to %q is not allowed", target)
			}
			cur.WriteByte(c)
			cur.WriteString(s[i+1 : i+1+n])
			i += n
		default:
			cur.WriteByte(c)
		}
	}
	if single || double {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return segments, nil
}

// redirectTarget returns the word after a '>' and how many bytes it spans.
func redirectTarget(rest string) (string, int) {
	n := 0
	if n < len(rest) && rest[n] == '>' {
		n++
	}
	for n < len(rest) && rest[n] == ' ' {
		n++
	}
	if n < len(rest) && rest[n] == '&' {
		start := n
		n++
		for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
			n++
		}
		return rest[start:n], n
	}
	start := n
	for n < len(rest) && !strings.ContainsRune(" \t;|&\n", rune(rest[n])) {
		n++
	}
	return rest[start:n], n
}
