// Package mcpserver exposes the shared terminal tools over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panemirror/panemirror/internal/extension"
	"github.com/panemirror/panemirror/internal/terminal"
)

const (
	ServerName = "panemirror"
	// maxPending bounds follow-ups kept for the next tool result.
	maxPending = 20
)

// Version is reported to clients; the CLI overrides it at build time.
var Version = "dev"

// Options configures a Server.
type Options struct {
	Logger    *slog.Logger
	Extension extension.Options
}

// Server serves the bash and read_terminal tools. MCP has no turn events,
// so the agent counts as busy while any tool call is running. Human
// activity is sent to clients as log notifications and also prepended to
// the next tool result, since clients may not surface log messages.
type Server struct {
	mcpServer *mcp.Server
	ext       *extension.Extension
	logger    *slog.Logger

	inFlight atomic.Int32

	mu      sync.Mutex
	pending []string
}

// New creates a server driving backend.
func New(backend terminal.Backend, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger.With("component", "mcp")}
	if opts.Extension.Logger == nil {
		opts.Extension.Logger = logger
	}
	s.ext = extension.New(backend, s, opts.Extension)
	s.mcpServer = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Extension returns the extension behind the tools.
func (s *Server) Extension() *extension.Extension { return s.ext }

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "bash",
		Description: "Run a shell command in a terminal pane shared with the user. The user sees the command and its output live and may type in the same pane. Returns the command output; non-zero exit codes are reported as errors. Default timeout 120 seconds.",
	}, s.handleBash)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "read_terminal",
		Description: "Read the current contents of the shared terminal pane, including scrollback (default 200 lines). Use this to see what the user has been doing.",
	}, s.handleReadTerminal)
}

// Run starts the session, serves on transport until the client goes away
// or ctx ends, then shuts the session down.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.ext.SessionStart(ctx)
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.ext.SessionShutdown(sctx)
	}()
	return s.mcpServer.Run(ctx, transport)
}

// RunStdio serves on stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// FollowUp delivers a human activity report to every connected client.
func (s *Server) FollowUp(ctx context.Context, text string) error {
	s.mu.Lock()
	s.pending = append(s.pending, text)
	if len(s.pending) > maxPending {
		s.pending = s.pending[len(s.pending)-maxPending:]
	}
	s.mu.Unlock()

	params := &mcp.LoggingMessageParams{
		Level:  "info",
		Logger: "terminal-activity",
		Data:   text,
	}
	for ss := range s.mcpServer.Sessions() {
		if err := ss.Log(ctx, params); err != nil {
			s.logger.Debug("activity notification failed", "error", err)
		}
	}
	return nil
}

func (s *Server) takePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// beginCall marks the agent busy for the duration of a tool call.
func (s *Server) beginCall() func() {
	if s.inFlight.Add(1) == 1 {
		s.ext.TurnStart()
	}
	return func() {
		if s.inFlight.Add(-1) == 0 {
			s.ext.TurnEnd()
		}
	}
}

func (s *Server) handleBash(ctx context.Context, req *mcp.CallToolRequest, in extension.BashInput) (*mcp.CallToolResult, any, error) {
	defer s.beginCall()()
	res := s.ext.Bash(ctx, in)
	if d := res.Details; d != nil && res.IsError {
		// Clients that ignore structured content still see the status.
		res.Text = fmt.Sprintf("%s\n[exit code: %d]", res.Text, d.ExitCode)
	}
	out := s.toResult(res)
	if res.Details != nil {
		out.StructuredContent = res.Details
	}
	return out, nil, nil
}

func (s *Server) handleReadTerminal(ctx context.Context, req *mcp.CallToolRequest, in extension.ReadInput) (*mcp.CallToolResult, any, error) {
	defer s.beginCall()()
	return s.toResult(s.ext.ReadTerminal(ctx, in)), nil, nil
}

func (s *Server) toResult(res extension.ToolResult) *mcp.CallToolResult {
	text := res.Text
	if pending := s.takePending(); len(pending) > 0 {
		text = "The user ran commands in the shared terminal:\n\n" +
			strings.Join(pending, "\n\n") + "\n\n---\n\n" + text
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: res.IsError,
	}
}
