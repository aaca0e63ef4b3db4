// Package pipeline runs the planner, developer and tester agents in
// sequence, threading each stage's output into the next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/agent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fwojciec/crew/pipeline"

// Stage configures one pipeline stage.
type Stage struct {
	Agent   crew.AgentName
	Prompt  string
	Process crew.ProcessSpec
}

// DefaultStages returns the stages with built-in prompts and the default
// tool server commands.
func DefaultStages() []Stage {
	stages := make([]Stage, 0, 3)
	for _, a := range crew.Agents() {
		stages = append(stages, Stage{
			Agent:  a,
			Prompt: DefaultPrompt(a),
			Process: crew.ProcessSpec{
				Command: "python3",
				Args:    []string{fmt.Sprintf("agents/%s_server.py", a)},
			},
		})
	}
	return stages
}

// Orchestrator sequences the three agent stages. It holds no per-run state
// and may be reused.
type Orchestrator struct {
	launcher    crew.Launcher
	loop        *agent.Loop
	stages      map[crew.AgentName]Stage
	artifacts   crew.ArtifactLister
	metricsOpts []crew.MetricsOption
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStage replaces the configuration of one stage.
func WithStage(s Stage) Option {
	return func(o *Orchestrator) { o.stages[s.Agent] = s }
}

// WithArtifacts lists the artifacts root after a successful run.
func WithArtifacts(l crew.ArtifactLister) Option {
	return func(o *Orchestrator) { o.artifacts = l }
}

// WithMetricsOptions applies opts to the metrics session of every run.
func WithMetricsOptions(opts ...crew.MetricsOption) Option {
	return func(o *Orchestrator) { o.metricsOpts = append(o.metricsOpts, opts...) }
}

// WithLogger sets the structured logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an Orchestrator that launches tool processes with launcher
// and drives each stage with loop.
func New(launcher crew.Launcher, loop *agent.Loop, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launcher: launcher,
		loop:     loop,
		stages:   make(map[crew.AgentName]Stage, 3),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer(tracerName),
	}
	for _, s := range DefaultStages() {
		o.stages[s.Agent] = s
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Input is what the user asks the team to build.
type Input struct {
	Description  string
	Requirements string
}

// RunOption configures a single Run invocation.
type RunOption func(*runConfig)

type runConfig struct {
	onEvent crew.EventHandler
}

// WithEventHandler sets a callback that receives progress events.
func WithEventHandler(h crew.EventHandler) RunOption {
	return func(c *runConfig) { c.onEvent = h }
}

// Run executes planner, developer and tester in order. Each stage gets its
// own tool process, closed before the next stage starts. The first failure
// aborts the run: the metrics session is ended and the error is returned as
// *crew.PipelineError wrapping a *crew.StageError, with no partial result.
func (o *Orchestrator) Run(ctx context.Context, in Input, opts ...RunOption) (*crew.PipelineResult, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics := crew.NewMetrics(o.metricsOpts...)
	metrics.Start()
	sessionID := metrics.SessionID()
	cfg.onEvent.Emit(crew.EventPipelineStarted{SessionID: sessionID})
	o.logger.Info("pipeline started", "session", sessionID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("crew.session_id", sessionID),
	))
	defer span.End()

	var results []crew.AgentRunResult
	input := PlannerInput(in.Description, in.Requirements)
	for _, a := range crew.Agents() {
		res, err := o.runStage(ctx, a, input, metrics, cfg.onEvent)
		if err != nil {
			metrics.End()
			o.logFailure(a, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			cfg.onEvent.Emit(crew.EventPipelineFailed{Agent: a, Err: err})
			return nil, &crew.PipelineError{Metrics: metrics.Summary(), Err: err}
		}
		results = append(results, res)
		input = res.RawOutput
	}

	metrics.End()
	result := &crew.PipelineResult{
		Plan:    results[0],
		Code:    results[1],
		Tests:   results[2],
		Metrics: metrics.Summary(),
	}
	if o.artifacts != nil {
		files, err := o.artifacts.ListArtifacts(ctx)
		if err != nil {
			o.logger.Warn("list artifacts", "error", err)
		}
		result.Artifacts = files
	}
	cfg.onEvent.Emit(crew.EventPipelineCompleted{Duration: result.Metrics.Duration})
	o.logger.Info("pipeline completed",
		"session", sessionID,
		"duration", result.Metrics.Duration,
		"api_calls", result.Metrics.Total.APICalls,
		"tool_calls", result.Metrics.Total.ToolCalls,
	)
	return result, nil
}

func (o *Orchestrator) runStage(ctx context.Context, a crew.AgentName, input string, metrics *crew.Metrics, h crew.EventHandler) (crew.AgentRunResult, error) {
	stage, ok := o.stages[a]
	if !ok {
		return crew.AgentRunResult{}, &crew.StageError{Agent: a, Err: fmt.Errorf("no stage configured: %w", crew.ErrUnknownAgent)}
	}
	h.Emit(crew.EventStageStarted{Agent: a})

	ctx, span := o.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("crew.agent", string(a)),
	))
	defer span.End()

	start := time.Now()
	session, err := o.launcher.Launch(ctx, stage.Process)
	if err != nil {
		metrics.RecordError(a)
		return crew.AgentRunResult{}, &crew.StageError{Agent: a, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Warn("close tool session", "agent", a, "error", err)
		}
	}()

	tools, err := session.Tools(ctx)
	if err != nil {
		metrics.RecordError(a)
		return crew.AgentRunResult{}, &crew.StageError{Agent: a, Err: fmt.Errorf("discover tools: %w", err)}
	}
	h.Emit(crew.EventToolsLoaded{Agent: a, Tools: crew.ToolNames(tools)})

	res, err := o.loop.Run(ctx, agent.Task{
		Agent:        a,
		SystemPrompt: stage.Prompt,
		Input:        input,
		Session:      session,
		Metrics:      metrics,
	}, agent.WithEventHandler(h))
	if err != nil {
		return crew.AgentRunResult{}, err
	}
	h.Emit(crew.EventStageCompleted{Result: res})
	o.logger.Info("stage completed",
		"agent", a,
		"iterations", res.IterationCount,
		"tool_calls", res.ToolCallCount,
		"duration", time.Since(start),
	)
	return res, nil
}

func (o *Orchestrator) logFailure(a crew.AgentName, err error) {
	attrs := []any{"phase", "stage", "agent", a, "error", err}
	var se *crew.StageError
	if errors.As(err, &se) {
		attrs = append(attrs, "iteration", se.Iteration, "last_tool", se.LastTool)
	}
	o.logger.Error("pipeline failed", attrs...)
}
