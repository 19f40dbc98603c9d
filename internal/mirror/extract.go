package mirror

import (
	"strings"
	"unicode/utf8"

	"github.com/panemirror/panemirror/internal/util"
)

// maxPromptHeight caps a derived prompt height. A taller "prompt" means the
// screen was not cleared before it was measured.
const maxPromptHeight = 5

// PromptShape describes how the shell renders its input line.
type PromptShape struct {
	// Height is the number of screen lines one prompt occupies.
	Height int
	// Symbol is the leading token of the prompt's last line ("$", "❯").
	Symbol string
	// End is the last visible character of the prompt. It survives prompts
	// that embed the working directory.
	End string
}

// DefaultPromptShape is used until a shape has been measured.
var DefaultPromptShape = PromptShape{Height: 1, Symbol: "$", End: "$"}

// DerivePromptShape measures a freshly cleared screen showing only the
// prompt.
func DerivePromptShape(screen string) PromptShape {
	lines := util.TrimTrailingBlank(util.SplitLines(screen))
	first := 0
	for first < len(lines) && strings.TrimSpace(lines[first]) == "" {
		first++
	}
	if first >= len(lines) {
		return DefaultPromptShape
	}
	shape := PromptShape{Height: len(lines) - first}
	if shape.Height > maxPromptHeight {
		shape.Height = 1
	}
	last := lines[len(lines)-1]
	if fields := strings.Fields(last); len(fields) > 0 {
		shape.Symbol = fields[0]
		r, _ := utf8.DecodeLastRuneInString(strings.TrimRight(last, " \t"))
		shape.End = string(r)
	} else {
		shape.Symbol = DefaultPromptShape.Symbol
		shape.End = DefaultPromptShape.End
	}
	return shape
}

// endsAtPrompt reports whether the last non-blank line of capture looks
// like a freshly drawn prompt of this shape.
func endsAtPrompt(capture string, shape PromptShape) bool {
	if shape.End == "" {
		return true
	}
	lines := util.TrimTrailingBlank(util.SplitLines(capture))
	if len(lines) == 0 {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(lines[len(lines)-1], " \t"), shape.End)
}

// promptText reports whether line is a prompt line for symbol and returns
// the command text typed after it. The symbol must stand alone so that
// output such as "$HOME" is not mistaken for a prompt.
func promptText(line, symbol string) (string, bool) {
	l := strings.TrimLeft(line, " \t")
	if symbol == "" || !strings.HasPrefix(l, symbol) {
		return "", false
	}
	rest := l[len(symbol):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// NewLines returns the lines of after that were not in before. The last
// non-blank line of before is the live prompt, which gains the typed
// command in after, so it is left out of the overlap.
func NewLines(before, after string) []string {
	b := util.TrimTrailingBlank(util.SplitLines(before))
	if len(b) > 0 {
		b = b[:len(b)-1]
	}
	a := util.TrimTrailingBlank(util.SplitLines(after))
	return util.NewLines(b, a)
}

// ExtractOutput finds the last prompt line in diff that carries a command
// and returns that command and the output printed below it. Output stops at
// the next prompt, moved up by the prompt's extra lines, and trailing blank
// lines are dropped.
func ExtractOutput(diff []string, shape PromptShape) (command, output string, ok bool) {
	i := -1
	for k := len(diff) - 1; k >= 0; k-- {
		if txt, isPrompt := promptText(diff[k], shape.Symbol); isPrompt && txt != "" {
			i, command = k, txt
			break
		}
	}
	if i < 0 {
		return "", "", false
	}

	end := len(diff)
	for k := i + 1; k < len(diff); k++ {
		if _, isPrompt := promptText(diff[k], shape.Symbol); isPrompt {
			end = promptTop(k, i+1, shape)
			break
		}
	}
	return command, joinOutput(diff[i+1 : end]), true
}

// commandOutput extracts the output of a command we sent ourselves. The
// command line is found by the text typed on it rather than by the prompt,
// since prompts showing the working directory change under a cd. PS2
// echoes of the remaining lines are skipped. When promptDrawn is set the
// last shape.Height lines of diff are the live prompt and are left out.
func commandOutput(diff []string, shape PromptShape, sent string, promptDrawn bool) string {
	if len(diff) == 0 {
		return ""
	}
	sentLines := strings.Split(sent, "\n")
	first := strings.TrimSpace(sentLines[0])

	// Without a match, the first new line is the old live prompt with the
	// command typed on it.
	i := 0
	if first != "" {
		for k, line := range diff {
			if strings.HasSuffix(strings.TrimRight(line, " "), first) {
				i = k
				break
			}
		}
	}

	start := i + 1
	for _, sl := range sentLines[1:] {
		if start >= len(diff) {
			break
		}
		if !strings.HasSuffix(strings.TrimRight(diff[start], " "), strings.TrimRight(sl, " ")) {
			break
		}
		start++
	}

	end := len(diff)
	if promptDrawn {
		end -= max(shape.Height, 1)
	}
	if end < start {
		return ""
	}
	return joinOutput(diff[start:end])
}

// promptTop moves a prompt's last line index up to its first line, never
// above floor.
func promptTop(symbolLine, floor int, shape PromptShape) int {
	top := symbolLine - (shape.Height - 1)
	if top < floor {
		return floor
	}
	return top
}

func joinOutput(lines []string) string {
	lines = util.TrimTrailingBlank(lines)
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, " ")
	}
	return strings.Join(out, "\n")
}
