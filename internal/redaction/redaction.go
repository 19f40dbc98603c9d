// Package redaction finds credentials in terminal text and replaces them
// with stable placeholders before the text leaves the process.
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Mode selects what ScanAndRedact does with findings.
type Mode string

const (
	ModeOff    Mode = "off"    // no scanning
	ModeWarn   Mode = "warn"   // report findings, leave text alone
	ModeRedact Mode = "redact" // replace findings with placeholders
	ModeBlock  Mode = "block"  // report findings and flag the text as blocked
)

// ParseMode accepts the Mode names; empty means ModeRedact.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeRedact, nil
	case ModeOff, ModeWarn, ModeRedact, ModeBlock:
		return m, nil
	}
	return "", fmt.Errorf("unknown redaction mode %q", s)
}

// Category names a kind of secret. It appears in placeholders.
type Category string

const (
	CategoryOpenAIKey     Category = "OPENAI_KEY"
	CategoryAnthropicKey  Category = "ANTHROPIC_KEY"
	CategoryGitHubToken   Category = "GITHUB_TOKEN"
	CategoryGoogleAPIKey  Category = "GOOGLE_API_KEY"
	CategoryAWSAccessKey  Category = "AWS_ACCESS_KEY"
	CategoryAWSSecretKey  Category = "AWS_SECRET_KEY"
	CategoryJWT           Category = "JWT"
	CategoryPrivateKey    Category = "PRIVATE_KEY"
	CategoryDatabaseURL   Category = "DATABASE_URL"
	CategoryBearerToken   Category = "BEARER_TOKEN"
	CategoryPassword      Category = "PASSWORD"
	CategoryGenericAPIKey Category = "GENERIC_API_KEY"
	CategoryGenericSecret Category = "GENERIC_SECRET"
)

// Config controls a scan.
type Config struct {
	Mode Mode
	// Allowlist holds regular expressions; a match they cover is not a
	// finding and hides lower-priority matches overlapping it.
	Allowlist          []string
	DisabledCategories []Category
}

// Finding is one detected secret. Start and End are byte offsets.
type Finding struct {
	Category Category `json:"category"`
	Match    string   `json:"-"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// Result is the outcome of ScanAndRedact.
type Result struct {
	Output   string
	Findings []Finding
	Blocked  bool
}

type pattern struct {
	category Category
	priority int
	re       *regexp.Regexp
}

// patterns are ordered by priority; specific token formats outrank the
// generic key=value forms.
var patterns = []pattern{
	{CategoryOpenAIKey, 100, regexp.MustCompile(`sk-[A-Za-z0-9]{20,}T3BlbkFJ[A-Za-z0-9]{20,}`)},
	{CategoryOpenAIKey, 100, regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{40,}`)},
	{CategoryAnthropicKey, 100, regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{40,}`)},
	{CategoryGitHubToken, 90, regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{CategoryGitHubToken, 90, regexp.MustCompile(`github_pat_[A-Za-z0-9]{22}_[A-Za-z0-9]{45,}`)},
	{CategoryGoogleAPIKey, 90, regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)},
	{CategoryAWSAccessKey, 90, regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`)},
	{CategoryAWSSecretKey, 80, regexp.MustCompile(`(?i)aws_?secret(?:_access)?(?:_key)?\s*[=:]\s*['"]?[A-Za-z0-9/+=]{40}`)},
	{CategoryJWT, 80, regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{CategoryPrivateKey, 80, regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`)},
	{CategoryDatabaseURL, 70, regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@\S+`)},
	{CategoryBearerToken, 60, regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`)},
	{CategoryPassword, 50, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[=:]\s*['"]?[^\s'"]{6,}`)},
	{CategoryGenericAPIKey, 40, regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}`)},
	{CategoryGenericSecret, 30, regexp.MustCompile(`(?i)\b(?:secret|token)\s*[=:]\s*['"]?[A-Za-z0-9_./+-]{16,}`)},
}

type candidate struct {
	Finding
	priority int
}

// Scan returns the findings in input, ordered by position. Overlapping
// matches resolve to the highest priority one.
func Scan(input string, cfg Config) []Finding {
	if input == "" || cfg.Mode == ModeOff {
		return nil
	}
	disabled := make(map[Category]bool, len(cfg.DisabledCategories))
	for _, c := range cfg.DisabledCategories {
		disabled[c] = true
	}
	allow := compileAllowlist(cfg.Allowlist)

	var cands []candidate
	for _, p := range patterns {
		if disabled[p.category] {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(input, -1) {
			cands = append(cands, candidate{
				Finding:  Finding{Category: p.category, Match: input[loc[0]:loc[1]], Start: loc[0], End: loc[1]},
				priority: p.priority,
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		return cands[i].Start < cands[j].Start
	})

	// taken covers both accepted findings and allowlisted matches.
	var taken [][2]int
	var out []Finding
	for _, c := range cands {
		if overlapsAny(taken, c.Start, c.End) {
			continue
		}
		taken = append(taken, [2]int{c.Start, c.End})
		if allowed(allow, c.Match) {
			continue
		}
		out = append(out, c.Finding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func compileAllowlist(list []string) []*regexp.Regexp {
	var res []*regexp.Regexp
	for _, s := range list {
		if re, err := regexp.Compile(s); err == nil {
			res = append(res, re)
		}
	}
	return res
}

func allowed(allow []*regexp.Regexp, match string) bool {
	for _, re := range allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func overlapsAny(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// Placeholder is the replacement for one secret. Equal secrets get equal
// placeholders.
func Placeholder(f Finding) string {
	sum := sha256.Sum256([]byte(f.Match))
	return fmt.Sprintf("[REDACTED:%s:%s]", f.Category, hex.EncodeToString(sum[:4]))
}

// ScanAndRedact scans input and applies cfg.Mode. An empty mode redacts.
func ScanAndRedact(input string, cfg Config) Result {
	if cfg.Mode == "" {
		cfg.Mode = ModeRedact
	}
	res := Result{Output: input}
	if cfg.Mode == ModeOff {
		return res
	}
	res.Findings = Scan(input, cfg)
	switch cfg.Mode {
	case ModeRedact:
		res.Output = apply(input, res.Findings)
	case ModeBlock:
		res.Blocked = len(res.Findings) > 0
	}
	return res
}

// Redact replaces every finding in input.
func Redact(input string, cfg Config) (string, []Finding) {
	cfg.Mode = ModeRedact
	res := ScanAndRedact(input, cfg)
	return res.Output, res.Findings
}

// ContainsSensitive reports whether input has any finding.
func ContainsSensitive(input string, cfg Config) bool {
	cfg.Mode = ModeWarn
	return len(Scan(input, cfg)) > 0
}

func apply(input string, findings []Finding) string {
	if len(findings) == 0 {
		return input
	}
	var b strings.Builder
	last := 0
	for _, f := range findings {
		b.WriteString(input[last:f.Start])
		b.WriteString(Placeholder(f))
		last = f.End
	}
	b.WriteString(input[last:])
	return b.String()
}

// AddLineInfo fills the 1-based Line and Column of each finding.
func AddLineInfo(input string, findings []Finding) {
	for i := range findings {
		before := input[:findings[i].Start]
		findings[i].Line = strings.Count(before, "\n") + 1
		findings[i].Column = findings[i].Start - (strings.LastIndex(before, "\n") + 1) + 1
	}
}
