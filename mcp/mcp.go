// Package mcp implements [crew.Launcher] and [crew.ToolSession] over the
// Model Context Protocol.
//
// Each tool-execution process is spawned with the stdio transport of
// github.com/mark3labs/mcp-go, initialized with a bounded handshake and
// queried for its tools once. Sessions are scoped to a single agent run and
// terminate their process on Close.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fwojciec/crew"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// DefaultHandshakeTimeout bounds protocol initialization.
const DefaultHandshakeTimeout = 30 * time.Second

const (
	clientName    = "crew"
	clientVersion = "0.1.0"
)

// Interface compliance check.
var _ crew.Launcher = (*Launcher)(nil)

// Launcher spawns MCP tool servers as subprocesses.
type Launcher struct {
	logger           *slog.Logger
	handshakeTimeout time.Duration
	stopGrace        time.Duration
	maxResultLines   int
	maxResultBytes   int
}

// Option configures a [Launcher].
type Option func(*Launcher)

// WithLogger sets the structured logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Launcher) { ln.logger = l }
}

// WithHandshakeTimeout bounds the initialize exchange. Default is 30s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(ln *Launcher) { ln.handshakeTimeout = d }
}

// WithStopGrace sets how long a tool process may take to exit after its
// session closes before it is killed. Default is 2s.
func WithStopGrace(d time.Duration) Option {
	return func(ln *Launcher) { ln.stopGrace = d }
}

// WithResultLimit bounds the text of each tool result; the tail is kept.
// A value below one disables that limit. Defaults are
// [DefaultMaxResultLines] and [DefaultMaxResultBytes].
func WithResultLimit(lines, bytes int) Option {
	return func(ln *Launcher) {
		ln.maxResultLines = lines
		ln.maxResultBytes = bytes
	}
}

// NewLauncher creates a [Launcher].
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		handshakeTimeout: DefaultHandshakeTimeout,
		stopGrace:        DefaultStopGrace,
		maxResultLines:   DefaultMaxResultLines,
		maxResultBytes:   DefaultMaxResultBytes,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Launch starts the process described by spec and performs the MCP
// handshake. It fails with *crew.LaunchError when the process cannot start
// and *crew.HandshakeError when initialization fails, times out or the
// process exits; in those cases the process is stopped before returning.
func (l *Launcher) Launch(ctx context.Context, spec crew.ProcessSpec) (crew.ToolSession, error) {
	if spec.Command == "" {
		return nil, &crew.LaunchError{Err: errors.New("empty command")}
	}
	p, err := startProcess(spec, l.stopGrace, l.logger)
	if err != nil {
		return nil, &crew.LaunchError{Command: spec.Command, Err: err}
	}
	l.logger.Debug("tool process started", "command", spec.Command, "args", spec.Args, "pid", p.cmd.Process.Pid)
	c := mcpclient.NewClient(transport.NewIO(p.stdout, p.stdin, nil))
	sess, err := l.connect(ctx, spec.Command, c, p)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Connect performs the MCP handshake over an existing client and returns a
// session owning it. name identifies the server in errors and logs. The
// client is closed when the handshake fails.
func (l *Launcher) Connect(ctx context.Context, name string, c *mcpclient.Client) (*Session, error) {
	return l.connect(ctx, name, c, nil)
}

func (l *Launcher) connect(ctx context.Context, name string, c *mcpclient.Client, p *process) (*Session, error) {
	fail := func(err error) (*Session, error) {
		_ = c.Close()
		p.stop()
		return nil, &crew.HandshakeError{Command: name, Err: err}
	}
	if err := c.Start(ctx); err != nil {
		return fail(err)
	}

	hctx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	defer cancel()
	wctx, unbind := p.bind(hctx)
	defer unbind()

	req := mcplib.InitializeRequest{}
	req.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcplib.Implementation{Name: clientName, Version: clientVersion}
	res, err := c.Initialize(wctx, req)
	if err != nil {
		var perr error
		if hctx.Err() == nil {
			perr = p.settle(exitSettle)
		} else {
			perr = p.failure()
		}
		switch {
		case perr != nil:
			err = perr
		case errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			err = fmt.Errorf("no response within %s: %w", l.handshakeTimeout, err)
		}
		return fail(err)
	}
	l.logger.Debug("mcp handshake complete",
		"command", name,
		"server", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)
	return &Session{
		client:   c,
		proc:     p,
		name:     name,
		logger:   l.logger,
		maxLines: l.maxResultLines,
		maxBytes: l.maxResultBytes,
	}, nil
}
