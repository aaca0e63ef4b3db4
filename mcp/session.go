package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/fwojciec/crew"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// Interface compliance check.
var _ crew.ToolSession = (*Session)(nil)

// Session is an initialized connection to one MCP tool server.
type Session struct {
	client *mcpclient.Client
	proc   *process // nil when the server is not a child process
	name   string
	logger *slog.Logger

	maxLines int
	maxBytes int

	mu         sync.Mutex
	closed     bool
	discovered bool
	tools      []crew.Tool
	known      map[string]struct{}
}

// Name returns the command the session was started with.
func (s *Session) Name() string { return s.name }

// Tools lists the server's tools. The first successful call queries the
// server; later calls return the cached set.
func (s *Session) Tools(ctx context.Context) ([]crew.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crew.ErrSessionClosed
	}
	if !s.discovered {
		if err := s.discoverLocked(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]crew.Tool, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

func (s *Session) discoverLocked(ctx context.Context) error {
	var tools []crew.Tool
	var req mcplib.ListToolsRequest
	ctx, unbind := s.proc.bind(ctx)
	defer unbind()
	for {
		res, err := s.client.ListTools(ctx, req)
		if err != nil {
			if perr := s.proc.failure(); perr != nil {
				err = perr
			}
			return &crew.TransportError{Op: "list tools", Err: err}
		}
		for _, t := range res.Tools {
			params, err := toolSchema(t)
			if err != nil {
				return fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			tools = append(tools, crew.Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
		if res.NextCursor == "" {
			break
		}
		req.Params.Cursor = res.NextCursor
	}
	s.tools = tools
	s.known = make(map[string]struct{}, len(tools))
	for _, t := range tools {
		s.known[t.Name] = struct{}{}
	}
	s.discovered = true
	s.logger.Debug("tools discovered", "command", s.name, "tools", crew.ToolNames(tools))
	return nil
}

func toolSchema(t mcplib.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Call invokes a tool. Names outside the discovered set fail with
// *crew.UnknownToolError before anything is sent to the server. Arguments
// that are not a JSON object are reported back as a tool error result.
func (s *Session) Call(ctx context.Context, name string, args json.RawMessage) (*crew.ToolResult, error) {
	tools, err := s.Tools(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, ok := s.known[name]
	s.mu.Unlock()
	if !ok {
		return nil, &crew.UnknownToolError{Name: name, Available: crew.ToolNames(tools)}
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return &crew.ToolResult{
				Content: fmt.Sprintf("invalid arguments for %s: %v", name, err),
				IsError: true,
			}, nil
		}
	}

	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	cctx, unbind := s.proc.bind(ctx)
	defer unbind()
	res, err := s.client.CallTool(cctx, req)
	if err != nil {
		err = classify(name, err)
		perr := s.proc.failure()
		var te *crew.TransportError
		if perr == nil && cctx.Err() == nil && errors.As(err, &te) {
			perr = s.proc.settle(exitSettle)
		}
		if perr != nil {
			s.logger.Error("tool process exited during call", "command", s.name, "tool", name, "error", perr)
			return nil, &crew.TransportError{Op: "call " + name, Err: perr}
		}
		return nil, err
	}
	return &crew.ToolResult{Content: s.output(name, resultText(res)), IsError: res.IsError}, nil
}

// output cleans tool text for the model and clips it to the session limits.
func (s *Session) output(tool, text string) string {
	text = cleanOutput(text)
	out, total, clipped := clipTail(text, s.maxLines, s.maxBytes)
	if !clipped {
		return text
	}
	s.logger.Debug("tool output truncated", "tool", tool, "lines", total, "bytes", len(text))
	return clipNotice(out, total)
}

// classify separates transport failures from errors raised by the tool.
func classify(name string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.EPIPE):
		return &crew.TransportError{Op: "call " + name, Err: err}
	}
	return &crew.ToolExecutionError{Tool: name, Err: err}
}

// resultText flattens a tool result into the text sent back to the model.
func resultText(res *mcplib.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(data))
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// Close terminates the server process. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.client.Close()
	s.proc.stop()
	if err != nil {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	s.logger.Debug("tool process closed", "command", s.name)
	return nil
}
