package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/panemirror/panemirror/internal/util"
)

// Reporter receives human activity reports. Implementations must not start
// an agent turn; the report is informational.
type Reporter interface {
	Report(ctx context.Context, text string) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, text string) error

func (f ReporterFunc) Report(ctx context.Context, text string) error { return f(ctx, text) }

// Start launches the activity loop. It runs until Close or ctx ends.
func (m *Mirror) Start(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.closed || m.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.loopCancel, m.loopDone = cancel, done
	go func() {
		defer close(done)
		m.runActivity(ctx)
	}()
}

// maxPendingReports bounds reports held back while the agent is busy.
const maxPendingReports = 20

// runActivity is the idle-wait / signalled / reporting cycle. Commands the
// human runs while the agent is busy are not dropped: they are reported
// once the agent is idle again, or claimed by the agent's next Exec.
func (m *Mirror) runActivity(ctx context.Context) {
	for ctx.Err() == nil {
		if !m.Ready() {
			_ = sleepCtx(ctx, m.opts.IdlePoll)
			continue
		}
		if m.Busy() {
			_ = sleepCtx(ctx, m.opts.BusyPoll)
			continue
		}
		m.flushPending(ctx)

		// Prompts drawn while nobody was waiting left no wake behind.
		if seq, _, err := m.backend.ReadRC(ctx); err == nil && seq > m.accounted() {
			m.reportNew(ctx, seq)
			continue
		}

		m.waiting.Store(true)
		signaled := m.backend.WaitForPrompt(ctx, m.opts.ActivityWait)
		m.waiting.Store(false)
		if ctx.Err() != nil {
			return
		}
		if m.executing.Load() {
			if signaled {
				// The wake may belong to the running command; hand it on.
				m.backend.UnblockWait()
			}
			continue
		}

		seq, _, err := m.backend.ReadRC(ctx)
		if err != nil {
			m.logger.Debug("activity: read hook record failed", "error", err)
			continue
		}
		if seq <= m.accounted() {
			if !signaled && !m.backend.PaneAlive(ctx) {
				m.logger.Info("shared pane disappeared while idle")
				m.Reset()
			}
			continue
		}
		if m.Busy() {
			continue
		}
		m.reportNew(ctx, seq)
	}
}

// accounted is the highest hook sequence already reported or caused by
// the agent.
func (m *Mirror) accounted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountedLocked()
}

func (m *Mirror) accountedLocked() int {
	return max(m.agentSeq, m.reportedSeq)
}

// reportNew claims seq, diffs the pane against the snapshot and reports
// the last command found in the new lines. It reports whether anything was
// sent.
func (m *Mirror) reportNew(ctx context.Context, seq int) bool {
	m.mu.Lock()
	if seq <= m.accountedLocked() {
		m.mu.Unlock()
		return false
	}
	m.reportedSeq = seq
	snapshot, shape := m.snapshot, m.shape
	m.mu.Unlock()

	current, err := m.backend.CapturePane(ctx, m.opts.CaptureLines)
	if err != nil {
		m.logger.Debug("activity: capture failed", "error", err)
		return false
	}
	cwd, _ := m.backend.PaneCwd(ctx)
	_, rc, _ := m.backend.ReadRC(ctx)
	text, ok := m.buildReport(snapshot, current, shape, cwd, rc)

	m.mu.Lock()
	// An Exec that finished meanwhile has a newer snapshot.
	if m.snapshot == snapshot {
		m.snapshot = current
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.deliver(ctx, text)
	return true
}

// claimHuman runs from Exec before the agent's command is typed. Commands
// the human ran since the last report become a pending report, so the
// agent's capture does not absorb them.
func (m *Mirror) claimHuman(before string, seq, rc int, cwd string) {
	if m.opts.Reporter == nil {
		return
	}
	m.mu.Lock()
	if seq <= m.accountedLocked() {
		m.mu.Unlock()
		return
	}
	m.reportedSeq = seq
	snapshot, shape := m.snapshot, m.shape
	m.snapshot = before
	m.mu.Unlock()

	text, ok := m.buildReport(snapshot, before, shape, cwd, rc)
	if !ok {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, text)
	if len(m.pending) > maxPendingReports {
		m.pending = m.pending[len(m.pending)-maxPendingReports:]
	}
	m.mu.Unlock()
}

func (m *Mirror) flushPending(ctx context.Context) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, text := range pending {
		m.deliver(ctx, text)
	}
}

// buildReport extracts the last human command between two captures.
func (m *Mirror) buildReport(snapshot, current string, shape PromptShape, cwd string, rc int) (string, bool) {
	diff := NewLines(snapshot, current)
	if len(strings.TrimSpace(strings.Join(diff, "\n"))) < m.opts.MinDiff {
		return "", false
	}
	command, output, ok := ExtractOutput(diff, shape)
	if !ok {
		return "", false
	}
	m.logger.Debug("human command", "command", command, "exit_code", rc)
	return m.formatReport(cwd, command, output, rc), true
}

func (m *Mirror) deliver(ctx context.Context, text string) {
	if m.opts.Reporter != nil {
		if err := m.opts.Reporter.Report(ctx, text); err != nil {
			m.logger.Warn("activity report failed", "error", err)
		}
	}
	m.opts.Metrics.ActivityReported()
}

// formatReport renders "<cwd> $ <command>\n<output>\n[exit code: N]".
// Long output keeps its tail and long lines are cut to the display width
// limit.
func (m *Mirror) formatReport(cwd, command, output string, exitCode int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s $ %s\n", util.AbbreviateHome(cwd, m.opts.Home), command)
	if output != "" {
		lines := strings.Split(output, "\n")
		if extra := len(lines) - m.opts.MaxReportLines; extra > 0 {
			fmt.Fprintf(&b, "... (%d earlier lines omitted)\n", extra)
			lines = lines[extra:]
		}
		for _, l := range lines {
			b.WriteString(util.TruncateWidth(l, m.opts.MaxLineWidth))
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "[exit code: %d]", exitCode)
	return b.String()
}
