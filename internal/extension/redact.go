package extension

import (
	"context"
	"log/slog"

	"github.com/panemirror/panemirror/internal/mirror"
	"github.com/panemirror/panemirror/internal/redaction"
)

// redactingReporter scrubs credentials from human activity before it
// reaches the agent. In block mode a report with findings is dropped.
type redactingReporter struct {
	next   mirror.Reporter
	cfg    redaction.Config
	logger *slog.Logger
}

func (r *redactingReporter) Report(ctx context.Context, text string) error {
	res := redaction.ScanAndRedact(text, r.cfg)
	if len(res.Findings) == 0 {
		return r.next.Report(ctx, text)
	}
	categories := make([]string, 0, len(res.Findings))
	for _, f := range res.Findings {
		categories = append(categories, string(f.Category))
	}
	r.logger.Info("credentials in terminal activity", "mode", r.cfg.Mode, "findings", len(res.Findings), "categories", categories)
	if res.Blocked {
		return nil
	}
	return r.next.Report(ctx, res.Output)
}
