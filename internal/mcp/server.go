// Package mcp exposes the browser session as MCP tools: a static
// registry of named operations with typed argument schemas, dispatched
// through one serialized path that converts every failure into a tool
// error result.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/probekit/webprobe/internal/browser"
)

const (
	serverName    = "webprobe"
	serverVersion = "1.0.0"
)

// Server wraps the MCP server and the one browser session it drives.
type Server struct {
	session *browser.Session
	server  *mcp.Server
	log     *slog.Logger
}

// NewServer builds the MCP server with all browser tools registered.
func NewServer(session *browser.Session) *Server {
	s := &Server{
		session: session,
		log:     slog.Default().With("component", "mcp"),
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the context is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns an HTTP handler serving MCP over streamable HTTP.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server {
			return s.server
		},
		nil,
	))
	return r
}

// handler wraps a tool function with the dispatch policy: panics are
// recovered and no failure ever escapes as a transport error; every
// error becomes a classified IsError result.
func handler[In any](s *Server, name string, fn func(context.Context, In) (*mcp.CallToolResult, error)) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (result *mcp.CallToolResult, _ any, _ error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tool panicked", "tool", name, "panic", r)
				result = failureResult(browser.NewError(browser.KindEngine, "tool %s panicked: %v", name, r))
			}
		}()

		res, err := fn(ctx, in)
		if err != nil {
			classified := browser.Classify(err)
			s.log.Warn("tool failed", "tool", name, "kind", string(classified.Kind), "error", classified.Message)
			return failureResult(classified), nil, nil
		}
		return res, nil, nil
	}
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func failureResult(err *browser.Error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
