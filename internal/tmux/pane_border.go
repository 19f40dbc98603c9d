package tmux

import (
	"context"
	"fmt"
)

// SetPaneBorderStyle colours one pane's border with
// "set-option -p pane-border-style fg=<color>". The color is a tmux colour
// name or hex value (e.g. "#ff8700").
func (c *Client) SetPaneBorderStyle(ctx context.Context, target, color string) error {
	return c.RunSilent(ctx, "set-option", "-p", "-t", target, "pane-border-style", fmt.Sprintf("fg=%s", color))
}

// ResetPaneBorderStyle drops the pane-level override so the window default
// applies again.
func (c *Client) ResetPaneBorderStyle(ctx context.Context, target string) error {
	return c.RunSilent(ctx, "set-option", "-p", "-u", "-t", target, "pane-border-style")
}
