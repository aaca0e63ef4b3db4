// Package agent drives one model-backed agent through a bounded cycle of
// model turns and tool calls until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fwojciec/crew"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxIterations caps the number of model turns per run.
	DefaultMaxIterations = 50
	// DefaultModelTimeout bounds a single model call.
	DefaultModelTimeout = 2 * time.Minute
	// DefaultToolTimeout bounds a single tool invocation.
	DefaultToolTimeout = 2 * time.Minute
)

const tracerName = "github.com/fwojciec/crew/agent"

// Loop orchestrates the conversation between a Provider and a ToolSession.
// A Loop holds no per-run state and may be reused across runs.
type Loop struct {
	provider      crew.Provider
	logger        *slog.Logger
	tracer        trace.Tracer
	maxIterations int
	modelTimeout  time.Duration
	toolTimeout   time.Duration
	model         string
	maxTokens     int
	temperature   *float64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the structured logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithTracer sets the tracer used for run, model call and tool call spans.
// Default is the global OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(lp *Loop) { lp.tracer = t }
}

// WithMaxIterations caps the number of model turns per run. Values below 1
// are ignored.
func WithMaxIterations(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.maxIterations = n
		}
	}
}

// WithModelTimeout bounds each model call. Zero disables the timeout.
func WithModelTimeout(d time.Duration) Option {
	return func(lp *Loop) { lp.modelTimeout = d }
}

// WithToolTimeout bounds each tool call. Zero disables the timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(lp *Loop) { lp.toolTimeout = d }
}

// WithModel sets the model ID for provider requests.
// Empty string means the provider uses its default model.
func WithModel(model string) Option {
	return func(lp *Loop) { lp.model = model }
}

// WithTemperature sets the sampling temperature for provider requests.
func WithTemperature(t float64) Option {
	return func(lp *Loop) { lp.temperature = &t }
}

// WithMaxTokens sets the output token limit for provider requests.
func WithMaxTokens(n int) Option {
	return func(lp *Loop) { lp.maxTokens = n }
}

// New creates a Loop backed by provider.
func New(provider crew.Provider, opts ...Option) *Loop {
	l := &Loop{
		provider:      provider,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:        otel.Tracer(tracerName),
		maxIterations: DefaultMaxIterations,
		modelTimeout:  DefaultModelTimeout,
		toolTimeout:   DefaultToolTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Task is the input of one agent run.
type Task struct {
	Agent        crew.AgentName
	SystemPrompt string
	Input        string
	Session      crew.ToolSession
	Metrics      *crew.Metrics
}

// RunOption configures a single Run invocation.
type RunOption func(*runConfig)

type runConfig struct {
	onEvent crew.EventHandler
}

// WithEventHandler sets a callback that receives progress events during the
// run. If nil or not set, events are silently discarded.
func WithEventHandler(h crew.EventHandler) RunOption {
	return func(c *runConfig) {
		c.onEvent = h
	}
}

// state is a node of the agent loop state machine.
type state int

const (
	stateThinking state = iota
	stateToolDispatch
	stateDone
)

func (s state) String() string {
	switch s {
	case stateThinking:
		return "thinking"
	case stateToolDispatch:
		return "tool_dispatch"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// run holds the mutable state of one Run invocation.
type run struct {
	*Loop
	task      Task
	cfg       runConfig
	tools     []crew.Tool
	known     map[string]struct{}
	messages  []crew.Message
	last      crew.AssistantMessage
	iteration int
	toolCalls int
	lastTool  string
}

// Run drives the agent to a final answer. The conversation is seeded with
// the task's system prompt and input; each model turn that requests tools
// is followed by the tool results, in emission order, until a turn requests
// none. Failures are returned as *crew.StageError carrying the iteration
// and the last tool attempted; tool-reported errors are passed back to the
// model instead.
func (l *Loop) Run(ctx context.Context, task Task, opts ...RunOption) (crew.AgentRunResult, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if task.Metrics == nil {
		task.Metrics = crew.NewMetrics()
	}

	ctx, span := l.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("crew.agent", string(task.Agent)),
	))
	defer span.End()

	r := &run{Loop: l, task: task, cfg: cfg}
	result, err := r.execute(ctx)
	if err != nil {
		task.Metrics.RecordError(task.Agent)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return crew.AgentRunResult{}, &crew.StageError{
			Agent:     task.Agent,
			Iteration: r.iteration,
			LastTool:  r.lastTool,
			Err:       err,
		}
	}
	span.SetAttributes(
		attribute.Int("crew.iterations", result.IterationCount),
		attribute.Int("crew.tool_calls", result.ToolCallCount),
	)
	return result, nil
}

func (r *run) execute(ctx context.Context) (crew.AgentRunResult, error) {
	tools, err := r.task.Session.Tools(ctx)
	if err != nil {
		return crew.AgentRunResult{}, fmt.Errorf("discover tools: %w", err)
	}
	r.tools = tools
	r.known = make(map[string]struct{}, len(tools))
	for _, t := range tools {
		r.known[t.Name] = struct{}{}
	}
	r.messages = []crew.Message{
		crew.SystemMessage{Content: r.task.SystemPrompt},
		crew.HumanMessage{Content: r.task.Input, Timestamp: time.Now()},
	}

	st := stateThinking
	for {
		r.logger.Debug("agent state", "agent", r.task.Agent, "state", st, "iteration", r.iteration)
		switch st {
		case stateThinking:
			if err := r.think(ctx); err != nil {
				return crew.AgentRunResult{}, err
			}
			if len(r.last.ToolCalls()) == 0 {
				st = stateDone
			} else {
				st = stateToolDispatch
			}
		case stateToolDispatch:
			if err := r.dispatch(ctx, r.last.ToolCalls()); err != nil {
				return crew.AgentRunResult{}, err
			}
			st = stateThinking
		case stateDone:
			return crew.AgentRunResult{
				Agent:          r.task.Agent,
				RawOutput:      r.last.Text(),
				IterationCount: r.iteration,
				ToolCallCount:  r.toolCalls,
			}, nil
		}
	}
}

// think submits the conversation to the model and appends its turn.
func (r *run) think(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.iteration >= r.maxIterations {
		return &crew.LoopBudgetExceededError{Agent: r.task.Agent, Limit: r.maxIterations}
	}
	r.iteration++
	r.cfg.onEvent.Emit(crew.EventModelCall{Agent: r.task.Agent, Iteration: r.iteration})

	req := crew.Request{
		Model:       r.model,
		Messages:    r.messages,
		Tools:       r.tools,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}

	callCtx, cancel := withTimeout(ctx, r.modelTimeout)
	defer cancel()
	callCtx, span := r.tracer.Start(callCtx, "agent.model_call", trace.WithAttributes(
		attribute.String("crew.agent", string(r.task.Agent)),
		attribute.Int("crew.iteration", r.iteration),
	))
	msg, err := r.provider.Generate(callCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("model call timed out after %s: %w", r.modelTimeout, err)
		}
		return fmt.Errorf("model call: %w", err)
	}
	span.End()

	in := crew.EstimateTokens(crew.SerializeMessages(r.messages...))
	out := crew.EstimateTokens(crew.SerializeMessages(msg))
	r.task.Metrics.RecordAPICall(r.task.Agent, in, out)
	r.task.Metrics.RecordIteration(r.task.Agent)
	r.logger.Debug("model turn",
		"agent", r.task.Agent,
		"iteration", r.iteration,
		"tool_calls", len(msg.ToolCalls()),
		"estimated_input_tokens", in,
		"estimated_output_tokens", out,
		"provider_input_tokens", msg.Usage.InputTokens,
		"provider_output_tokens", msg.Usage.OutputTokens,
	)

	r.messages = append(r.messages, msg)
	r.last = msg
	return nil
}

// dispatch invokes each requested tool strictly in emission order and
// appends the results once all calls have completed.
func (r *run) dispatch(ctx context.Context, calls []crew.ToolCallBlock) error {
	results := make([]crew.Message, 0, len(calls))
	for _, call := range calls {
		r.toolCalls++
		r.lastTool = call.Name
		r.task.Metrics.RecordToolCall(r.task.Agent)

		if _, ok := r.known[call.Name]; !ok {
			return &crew.UnknownToolError{Name: call.Name, Available: crew.ToolNames(r.tools)}
		}
		r.cfg.onEvent.Emit(crew.EventToolCall{Agent: r.task.Agent, Tool: call.Name})

		res, err := r.invoke(ctx, call)
		if err != nil {
			return err
		}
		r.cfg.onEvent.Emit(crew.EventToolResult{Agent: r.task.Agent, Tool: call.Name, IsError: res.IsError})
		results = append(results, crew.ToolMessage{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    res.Content,
			IsError:    res.IsError,
			Timestamp:  time.Now(),
		})
	}
	r.messages = append(r.messages, results...)
	return nil
}

func (r *run) invoke(ctx context.Context, call crew.ToolCallBlock) (*crew.ToolResult, error) {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	callCtx, cancel := withTimeout(ctx, r.toolTimeout)
	defer cancel()
	callCtx, span := r.tracer.Start(callCtx, "agent.tool_call", trace.WithAttributes(
		attribute.String("crew.agent", string(r.task.Agent)),
		attribute.String("crew.tool", call.Name),
	))
	defer span.End()

	start := time.Now()
	res, err := r.task.Session.Call(callCtx, call.Name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			var te *crew.TransportError
			if !errors.As(err, &te) {
				err = &crew.TransportError{Op: "call " + call.Name, Err: fmt.Errorf("timed out after %s: %w", r.toolTimeout, err)}
			}
		}
		return nil, err
	}
	span.SetAttributes(attribute.Bool("crew.tool_error", res.IsError))
	r.logger.Debug("tool call",
		"agent", r.task.Agent,
		"tool", call.Name,
		"id", call.ID,
		"is_error", res.IsError,
		"duration", time.Since(start),
	)
	return res, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
