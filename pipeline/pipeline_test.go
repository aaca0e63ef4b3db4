package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/agent"
	"github.com/fwojciec/crew/mock"
	"github.com/fwojciec/crew/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder tracks process lifecycle and conversations across stages.
type recorder struct {
	mu     sync.Mutex
	log    []string
	inputs map[string]string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func stageOf(spec crew.ProcessSpec) string {
	for _, a := range crew.Agents() {
		if strings.Contains(strings.Join(spec.Args, " "), string(a)) {
			return string(a)
		}
	}
	return spec.Command
}

func toolsFor(stage string) []crew.Tool {
	switch stage {
	case "planner":
		return []crew.Tool{{Name: "create_plan"}}
	case "developer":
		return []crew.Tool{{Name: "write_file"}, {Name: "read_file"}, {Name: "list_files"}, {Name: "create_folder"}}
	default:
		return []crew.Tool{{Name: "generate_tests"}}
	}
}

func launcher(r *recorder) *mock.Launcher {
	return &mock.Launcher{
		LaunchFn: func(_ context.Context, spec crew.ProcessSpec) (crew.ToolSession, error) {
			stage := stageOf(spec)
			r.add("launch " + stage)
			return &mock.ToolSession{
				ToolsFn: func(context.Context) ([]crew.Tool, error) { return toolsFor(stage), nil },
				CallFn: func(_ context.Context, name string, _ json.RawMessage) (*crew.ToolResult, error) {
					r.add("call " + stage + " " + name)
					return &crew.ToolResult{Content: name + " ok"}, nil
				},
				CloseFn: func() error {
					r.add("close " + stage)
					return nil
				},
			}, nil
		},
	}
}

// roleProvider answers according to the stage's system prompt: the
// developer writes one file before answering, the others answer directly.
func roleProvider(r *recorder) *mock.Provider {
	return &mock.Provider{
		GenerateFn: func(_ context.Context, req crew.Request) (crew.AssistantMessage, error) {
			system, rest := crew.SplitSystem(req.Messages)
			human := rest[0].(crew.HumanMessage).Content
			switch {
			case strings.HasPrefix(system, "You are the planner"):
				r.mu.Lock()
				r.inputs["planner"] = human
				r.mu.Unlock()
				return textTurn("PLAN: model, view, storage"), nil
			case strings.HasPrefix(system, "You are the developer"):
				r.mu.Lock()
				r.inputs["developer"] = human
				r.mu.Unlock()
				if len(rest) == 1 {
					return crew.AssistantMessage{Content: []crew.ContentBlock{
						crew.ToolCallBlock{ID: "tc_1", Name: "write_file", Arguments: json.RawMessage(`{"filename":"app.py","content":"..."}`)},
					}}, nil
				}
				return textTurn("CODE: app.py"), nil
			default:
				r.mu.Lock()
				r.inputs["tester"] = human
				r.mu.Unlock()
				return textTurn("TESTS: 3 passed"), nil
			}
		},
	}
}

func textTurn(text string) crew.AssistantMessage {
	return crew.AssistantMessage{Content: []crew.ContentBlock{crew.TextBlock{Text: text}}, StopReason: crew.StopEndTurn}
}

func newRecorder() *recorder { return &recorder{inputs: map[string]string{}} }

func TestOrchestrator_Run(t *testing.T) {
	t.Parallel()

	t.Run("runs three stages in sequence", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		o := pipeline.New(launcher(r), agent.New(roleProvider(r)))

		got, err := o.Run(context.Background(), pipeline.Input{
			Description:  "Build a to-do list app",
			Requirements: "CLI only",
		})
		require.NoError(t, err)

		assert.Equal(t, crew.AgentRunResult{Agent: crew.AgentPlanner, RawOutput: "PLAN: model, view, storage", IterationCount: 1}, got.Plan)
		assert.Equal(t, crew.AgentRunResult{Agent: crew.AgentDeveloper, RawOutput: "CODE: app.py", IterationCount: 2, ToolCallCount: 1}, got.Code)
		assert.Equal(t, crew.AgentRunResult{Agent: crew.AgentTester, RawOutput: "TESTS: 3 passed", IterationCount: 1}, got.Tests)

		assert.Equal(t, []string{
			"launch planner", "close planner",
			"launch developer", "call developer write_file", "close developer",
			"launch tester", "close tester",
		}, r.log, "stages never overlap")

		assert.Equal(t, "Description:\nBuild a to-do list app\nRequirements:\nCLI only", r.inputs["planner"])
		assert.Equal(t, "PLAN: model, view, storage", r.inputs["developer"])
		assert.Equal(t, "CODE: app.py", r.inputs["tester"])

		m := got.Metrics
		assert.Equal(t, 4, m.Total.APICalls)
		assert.Equal(t, 1, m.Total.ToolCalls)
		assert.Equal(t, 4, m.Total.Iterations)
		assert.Equal(t, m.SumAgents(), m.Total)
		assert.False(t, m.StartTime.IsZero())
		assert.False(t, m.EndTime.IsZero())
		assert.False(t, m.EndTime.Before(m.StartTime))
		assert.Len(t, m.SessionID, len(crew.SessionIDLayout))
	})

	t.Run("tool-less planner scenario", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		o := pipeline.New(launcher(r), agent.New(roleProvider(r)))

		got, err := o.Run(context.Background(), pipeline.Input{Description: "Build a to-do list app"})
		require.NoError(t, err)
		assert.Equal(t, crew.AgentPlanner, got.Plan.Agent)
		assert.Equal(t, 1, got.Plan.IterationCount)
		assert.Equal(t, 0, got.Plan.ToolCallCount)
		assert.Equal(t, "Description:\nBuild a to-do list app\nRequirements:\n", r.inputs["planner"])
	})

	t.Run("unknown tool in planner aborts the pipeline", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		provider := &mock.Provider{
			GenerateFn: func(context.Context, crew.Request) (crew.AssistantMessage, error) {
				return crew.AssistantMessage{Content: []crew.ContentBlock{
					crew.ToolCallBlock{ID: "tc_1", Name: "write_file"},
				}}, nil
			},
		}
		o := pipeline.New(launcher(r), agent.New(provider))

		got, err := o.Run(context.Background(), pipeline.Input{Description: "x"})
		require.Error(t, err)
		assert.Nil(t, got, "no partial result")

		var ute *crew.UnknownToolError
		require.ErrorAs(t, err, &ute)
		assert.Equal(t, "write_file", ute.Name)

		var se *crew.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, crew.AgentPlanner, se.Agent)

		var pe *crew.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.False(t, pe.Metrics.EndTime.IsZero(), "end time frozen on failure")
		assert.Equal(t, 1, pe.Metrics.Agents[crew.AgentPlanner].Errors)
		assert.Equal(t, pe.Metrics.SumAgents(), pe.Metrics.Total)

		assert.Equal(t, []string{"launch planner", "close planner"}, r.log, "developer and tester never start")
	})

	t.Run("launch failure stops the pipeline", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		base := launcher(r)
		l := &mock.Launcher{
			LaunchFn: func(ctx context.Context, spec crew.ProcessSpec) (crew.ToolSession, error) {
				if stageOf(spec) == "developer" {
					return nil, &crew.LaunchError{Command: spec.Command, Err: errors.New("exec: not found")}
				}
				return base.LaunchFn(ctx, spec)
			},
		}
		o := pipeline.New(l, agent.New(roleProvider(r)))

		got, err := o.Run(context.Background(), pipeline.Input{Description: "x"})
		assert.Nil(t, got)
		var le *crew.LaunchError
		require.ErrorAs(t, err, &le)
		var se *crew.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, crew.AgentDeveloper, se.Agent)
		assert.Equal(t, []string{"launch planner", "close planner"}, r.log)

		var pe *crew.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 1, pe.Metrics.Agents[crew.AgentDeveloper].Errors)
		assert.Equal(t, 1, pe.Metrics.Agents[crew.AgentPlanner].APICalls, "completed stage metrics are kept")
	})

	t.Run("session is closed when the loop fails", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		provider := &mock.Provider{
			GenerateFn: func(context.Context, crew.Request) (crew.AssistantMessage, error) {
				return crew.AssistantMessage{}, errors.New("model unavailable")
			},
		}
		o := pipeline.New(launcher(r), agent.New(provider))

		_, err := o.Run(context.Background(), pipeline.Input{Description: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model unavailable")
		assert.Equal(t, []string{"launch planner", "close planner"}, r.log)
	})

	t.Run("emits status events", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		o := pipeline.New(launcher(r), agent.New(roleProvider(r)))

		var lines []string
		_, err := pipeline.RunSystem(context.Background(), o, "Build a to-do list app", "", func(s string) {
			lines = append(lines, s)
		})
		require.NoError(t, err)

		require.NotEmpty(t, lines)
		assert.True(t, strings.HasPrefix(lines[0], "Pipeline started"))
		assert.Contains(t, lines, "Starting planner agent")
		assert.Contains(t, lines, "planner tools loaded: create_plan")
		assert.Contains(t, lines, "developer calling tool write_file")
		assert.Contains(t, lines, "tester agent completed (1 iterations, 0 tool calls)")
		assert.True(t, strings.HasPrefix(lines[len(lines)-1], "Pipeline completed"))
	})

	t.Run("failure event carries the stage", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		l := &mock.Launcher{
			LaunchFn: func(context.Context, crew.ProcessSpec) (crew.ToolSession, error) {
				return nil, &crew.HandshakeError{Command: "python3", Err: errors.New("timeout")}
			},
		}
		o := pipeline.New(l, agent.New(roleProvider(r)))

		var events []crew.Event
		_, err := o.Run(context.Background(), pipeline.Input{}, pipeline.WithEventHandler(func(e crew.Event) {
			events = append(events, e)
		}))
		require.Error(t, err)
		last, ok := events[len(events)-1].(crew.EventPipelineFailed)
		require.True(t, ok)
		assert.Equal(t, crew.AgentPlanner, last.Agent)
		var he *crew.HandshakeError
		assert.ErrorAs(t, last.Err, &he)
	})

	t.Run("custom stage configuration", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		var specs []crew.ProcessSpec
		base := launcher(r)
		l := &mock.Launcher{
			LaunchFn: func(ctx context.Context, spec crew.ProcessSpec) (crew.ToolSession, error) {
				specs = append(specs, spec)
				return base.LaunchFn(ctx, spec)
			},
		}
		o := pipeline.New(l, agent.New(roleProvider(r)), pipeline.WithStage(pipeline.Stage{
			Agent:   crew.AgentPlanner,
			Prompt:  "You are the planner. Be brief.",
			Process: crew.ProcessSpec{Command: "/opt/tools/planner", Args: []string{"--stdio", "planner"}},
		}))

		_, err := o.Run(context.Background(), pipeline.Input{Description: "x"})
		require.NoError(t, err)
		require.Len(t, specs, 3)
		assert.Equal(t, "/opt/tools/planner", specs[0].Command)
		assert.Equal(t, "python3", specs[1].Command)
		assert.Equal(t, []string{"agents/developer_server.py"}, specs[1].Args)
	})

	t.Run("lists artifacts after success", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		lister := artifactFunc(func(context.Context) ([]string, error) {
			return []string{"code/app.py", "code/README.md"}, nil
		})
		o := pipeline.New(launcher(r), agent.New(roleProvider(r)), pipeline.WithArtifacts(lister))

		got, err := o.Run(context.Background(), pipeline.Input{Description: "x"})
		require.NoError(t, err)
		assert.Equal(t, []string{"code/app.py", "code/README.md"}, got.Artifacts)
	})

	t.Run("metrics options reach the session", func(t *testing.T) {
		t.Parallel()

		r := newRecorder()
		var mu sync.Mutex
		toolCalls := 0
		o := pipeline.New(launcher(r), agent.New(roleProvider(r)), pipeline.WithMetricsOptions(
			crew.WithMetricsObserver(&mock.MetricsObserver{
				ToolCallFn: func(crew.AgentName) {
					mu.Lock()
					toolCalls++
					mu.Unlock()
				},
			}),
		))

		_, err := o.Run(context.Background(), pipeline.Input{Description: "x"})
		require.NoError(t, err)
		assert.Equal(t, 1, toolCalls)
	})
}

type artifactFunc func(context.Context) ([]string, error)

func (f artifactFunc) ListArtifacts(ctx context.Context) ([]string, error) { return f(ctx) }

func TestDefaultPrompt(t *testing.T) {
	t.Parallel()
	for _, a := range crew.Agents() {
		assert.Contains(t, pipeline.DefaultPrompt(a), string(a))
	}
	assert.Empty(t, pipeline.DefaultPrompt("reviewer"))
}
