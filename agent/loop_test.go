package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/agent"
	"github.com/fwojciec/crew/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textTurn(text string) crew.AssistantMessage {
	return crew.AssistantMessage{
		Content:    []crew.ContentBlock{crew.TextBlock{Text: text}},
		StopReason: crew.StopEndTurn,
	}
}

func toolTurn(calls ...crew.ToolCallBlock) crew.AssistantMessage {
	blocks := make([]crew.ContentBlock, len(calls))
	for i, c := range calls {
		blocks[i] = c
	}
	return crew.AssistantMessage{Content: blocks, StopReason: crew.StopToolUse}
}

// scriptedProvider returns the given turns in order and fails the test if
// called more often.
func scriptedProvider(t *testing.T, turns ...crew.AssistantMessage) (*mock.Provider, *[]crew.Request) {
	t.Helper()
	var reqs []crew.Request
	return &mock.Provider{
		GenerateFn: func(_ context.Context, req crew.Request) (crew.AssistantMessage, error) {
			reqs = append(reqs, req)
			if len(reqs) > len(turns) {
				t.Fatalf("unexpected model call %d", len(reqs))
			}
			return turns[len(reqs)-1], nil
		},
	}, &reqs
}

func fileTools() []crew.Tool {
	return []crew.Tool{
		{Name: "write_file", Description: "Write a file", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "read_file", Description: "Read a file", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
}

// okSession returns a session exposing tools whose calls succeed and are
// recorded in order.
func okSession(tools []crew.Tool) (*mock.ToolSession, *[]string) {
	var called []string
	return &mock.ToolSession{
		ToolsFn: func(context.Context) ([]crew.Tool, error) { return tools, nil },
		CallFn: func(_ context.Context, name string, _ json.RawMessage) (*crew.ToolResult, error) {
			called = append(called, name)
			return &crew.ToolResult{Content: name + " ok"}, nil
		},
	}, &called
}

func TestLoop_Run(t *testing.T) {
	t.Parallel()

	t.Run("tool-less turn goes straight to done", func(t *testing.T) {
		t.Parallel()

		provider, reqs := scriptedProvider(t, textTurn("1. Build the model\n2. Build the UI"))
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) {
				return []crew.Tool{{Name: "create_plan"}}, nil
			},
			CallFn: func(context.Context, string, json.RawMessage) (*crew.ToolResult, error) {
				t.Fatal("session should not be called")
				return nil, nil
			},
		}
		metrics := crew.NewMetrics()

		got, err := agent.New(provider).Run(context.Background(), agent.Task{
			Agent:        crew.AgentPlanner,
			SystemPrompt: "You are a planner.",
			Input:        "Description:\nBuild a to-do list app\nRequirements:\n",
			Session:      session,
			Metrics:      metrics,
		})
		require.NoError(t, err)

		assert.Equal(t, crew.AgentRunResult{
			Agent:          crew.AgentPlanner,
			RawOutput:      "1. Build the model\n2. Build the UI",
			IterationCount: 1,
			ToolCallCount:  0,
		}, got)
		assert.Len(t, *reqs, 1)
		assert.Equal(t, 1, metrics.Agent(crew.AgentPlanner).APICalls)
		assert.Equal(t, 1, metrics.Agent(crew.AgentPlanner).Iterations)
	})

	t.Run("seeds conversation with system and human messages", func(t *testing.T) {
		t.Parallel()

		provider, reqs := scriptedProvider(t, textTurn("done"))
		session, _ := okSession(fileTools())

		_, err := agent.New(provider, agent.WithModel("gemini-2.5-flash"), agent.WithTemperature(0), agent.WithMaxTokens(1024)).
			Run(context.Background(), agent.Task{
				Agent:        crew.AgentDeveloper,
				SystemPrompt: "You are a developer.",
				Input:        "the plan",
				Session:      session,
			})
		require.NoError(t, err)

		require.Len(t, *reqs, 1)
		req := (*reqs)[0]
		require.Len(t, req.Messages, 2)
		assert.Equal(t, crew.SystemMessage{Content: "You are a developer."}, req.Messages[0])
		hm, ok := req.Messages[1].(crew.HumanMessage)
		require.True(t, ok)
		assert.Equal(t, "the plan", hm.Content)
		assert.Equal(t, fileTools(), req.Tools)
		assert.Equal(t, "gemini-2.5-flash", req.Model)
		assert.Equal(t, 1024, req.MaxTokens)
		require.NotNil(t, req.Temperature)
		assert.Zero(t, *req.Temperature)
		assert.NoError(t, req.Validate())
	})

	t.Run("developer writes one file then finishes", func(t *testing.T) {
		t.Parallel()

		provider, reqs := scriptedProvider(t,
			toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "write_file", Arguments: json.RawMessage(`{"filename":"app.py","content":"print('hi')"}`)}),
			textTurn("Wrote app.py"),
		)
		var gotArgs json.RawMessage
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) { return fileTools(), nil },
			CallFn: func(_ context.Context, name string, args json.RawMessage) (*crew.ToolResult, error) {
				assert.Equal(t, "write_file", name)
				gotArgs = args
				return &crew.ToolResult{Content: "File written: app.py"}, nil
			},
		}
		metrics := crew.NewMetrics()
		before := metrics.Total()

		got, err := agent.New(provider).Run(context.Background(), agent.Task{
			Agent:   crew.AgentDeveloper,
			Session: session,
			Metrics: metrics,
		})
		require.NoError(t, err)

		assert.Equal(t, 2, got.IterationCount)
		assert.Equal(t, 1, got.ToolCallCount)
		assert.Equal(t, "Wrote app.py", got.RawOutput)
		assert.JSONEq(t, `{"filename":"app.py","content":"print('hi')"}`, string(gotArgs))

		after := metrics.Total()
		assert.Equal(t, 1, after.ToolCalls-before.ToolCalls)
		assert.Equal(t, 2, after.APICalls-before.APICalls)

		// Second request carries the tool result correlated by call id.
		require.Len(t, *reqs, 2)
		second := (*reqs)[1].Messages
		require.Len(t, second, 4)
		tm, ok := second[3].(crew.ToolMessage)
		require.True(t, ok)
		assert.Equal(t, "tc_1", tm.ToolCallID)
		assert.Equal(t, "write_file", tm.ToolName)
		assert.Equal(t, "File written: app.py", tm.Content)
		assert.False(t, tm.IsError)
	})

	t.Run("iteration count is rounds plus one", func(t *testing.T) {
		t.Parallel()

		for rounds := range 5 {
			t.Run(fmt.Sprintf("%d rounds", rounds), func(t *testing.T) {
				t.Parallel()
				var turns []crew.AssistantMessage
				for i := range rounds {
					turns = append(turns, toolTurn(crew.ToolCallBlock{ID: fmt.Sprintf("tc_%d", i), Name: "read_file"}))
				}
				turns = append(turns, textTurn("final"))
				provider, _ := scriptedProvider(t, turns...)
				session, _ := okSession(fileTools())

				got, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentTester, Session: session})
				require.NoError(t, err)
				assert.Equal(t, rounds+1, got.IterationCount)
				assert.Equal(t, rounds, got.ToolCallCount)
			})
		}
	})

	t.Run("tool calls dispatch in emission order", func(t *testing.T) {
		t.Parallel()

		provider, reqs := scriptedProvider(t,
			toolTurn(
				crew.ToolCallBlock{ID: "tc_1", Name: "write_file"},
				crew.ToolCallBlock{ID: "tc_2", Name: "read_file"},
				crew.ToolCallBlock{ID: "tc_3", Name: "write_file"},
			),
			textTurn("done"),
		)
		session, called := okSession(fileTools())

		got, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentDeveloper, Session: session})
		require.NoError(t, err)
		assert.Equal(t, 3, got.ToolCallCount)
		assert.Equal(t, []string{"write_file", "read_file", "write_file"}, *called)

		msgs := (*reqs)[1].Messages
		require.Len(t, msgs, 6)
		for i, id := range []string{"tc_1", "tc_2", "tc_3"} {
			tm, ok := msgs[3+i].(crew.ToolMessage)
			require.True(t, ok)
			assert.Equal(t, id, tm.ToolCallID)
		}
	})

	t.Run("unknown tool fails without contacting the session", func(t *testing.T) {
		t.Parallel()

		provider, _ := scriptedProvider(t,
			toolTurn(
				crew.ToolCallBlock{ID: "tc_1", Name: "write_file"},
				crew.ToolCallBlock{ID: "tc_2", Name: "rm_rf"},
			),
		)
		session, called := okSession(fileTools())
		metrics := crew.NewMetrics()

		_, err := agent.New(provider).Run(context.Background(), agent.Task{
			Agent:   crew.AgentDeveloper,
			Session: session,
			Metrics: metrics,
		})
		require.Error(t, err)

		var ute *crew.UnknownToolError
		require.ErrorAs(t, err, &ute)
		assert.Equal(t, "rm_rf", ute.Name)
		assert.Equal(t, []string{"write_file", "read_file"}, ute.Available)

		var se *crew.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, crew.AgentDeveloper, se.Agent)
		assert.Equal(t, 1, se.Iteration)
		assert.Equal(t, "rm_rf", se.LastTool)

		assert.Equal(t, []string{"write_file"}, *called)
		dev := metrics.Agent(crew.AgentDeveloper)
		assert.Equal(t, 2, dev.ToolCalls)
		assert.Equal(t, 1, dev.Errors)
	})

	t.Run("tool-reported error is passed back to the model", func(t *testing.T) {
		t.Parallel()

		provider, reqs := scriptedProvider(t,
			toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "read_file", Arguments: json.RawMessage(`{"filename":"missing.py"}`)}),
			textTurn("The file does not exist."),
		)
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) { return fileTools(), nil },
			CallFn: func(context.Context, string, json.RawMessage) (*crew.ToolResult, error) {
				return &crew.ToolResult{Content: "File not found: missing.py", IsError: true}, nil
			},
		}
		metrics := crew.NewMetrics()

		got, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentTester, Session: session, Metrics: metrics})
		require.NoError(t, err)
		assert.Equal(t, 2, got.IterationCount)

		tm, ok := (*reqs)[1].Messages[3].(crew.ToolMessage)
		require.True(t, ok)
		assert.True(t, tm.IsError)
		assert.Equal(t, "File not found: missing.py", tm.Content)
		assert.Zero(t, metrics.Agent(crew.AgentTester).Errors)
	})

	t.Run("transport failure is fatal", func(t *testing.T) {
		t.Parallel()

		provider, reqs := scriptedProvider(t,
			toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "write_file"}),
			textTurn("unreachable"),
		)
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) { return fileTools(), nil },
			CallFn: func(context.Context, string, json.RawMessage) (*crew.ToolResult, error) {
				return nil, &crew.TransportError{Op: "call write_file", Err: io.ErrClosedPipe}
			},
		}

		_, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentDeveloper, Session: session})
		require.Error(t, err)
		assert.ErrorIs(t, err, io.ErrClosedPipe)
		var se *crew.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "write_file", se.LastTool)
		assert.Len(t, *reqs, 1, "no further model calls after a transport failure")
	})

	t.Run("tool execution error is fatal", func(t *testing.T) {
		t.Parallel()

		provider, _ := scriptedProvider(t, toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "read_file"}))
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) { return fileTools(), nil },
			CallFn: func(context.Context, string, json.RawMessage) (*crew.ToolResult, error) {
				return nil, &crew.ToolExecutionError{Tool: "read_file", Err: errors.New("Traceback: KeyError")}
			},
		}

		_, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentTester, Session: session})
		var tee *crew.ToolExecutionError
		require.ErrorAs(t, err, &tee)
		assert.Contains(t, err.Error(), "Traceback: KeyError")
	})

	t.Run("iteration cap fails with loop budget exceeded", func(t *testing.T) {
		t.Parallel()

		calls := 0
		provider := &mock.Provider{
			GenerateFn: func(context.Context, crew.Request) (crew.AssistantMessage, error) {
				calls++
				return toolTurn(crew.ToolCallBlock{ID: fmt.Sprintf("tc_%d", calls), Name: "read_file"}), nil
			},
		}
		session, _ := okSession(fileTools())

		_, err := agent.New(provider, agent.WithMaxIterations(3)).Run(context.Background(), agent.Task{Agent: crew.AgentTester, Session: session})
		var lbe *crew.LoopBudgetExceededError
		require.ErrorAs(t, err, &lbe)
		assert.Equal(t, 3, lbe.Limit)
		assert.Equal(t, crew.AgentTester, lbe.Agent)
		assert.Equal(t, 3, calls)
	})

	t.Run("model call timeout", func(t *testing.T) {
		t.Parallel()

		provider := &mock.Provider{
			GenerateFn: func(ctx context.Context, _ crew.Request) (crew.AssistantMessage, error) {
				<-ctx.Done()
				return crew.AssistantMessage{}, ctx.Err()
			},
		}
		session, _ := okSession(fileTools())

		_, err := agent.New(provider, agent.WithModelTimeout(10*time.Millisecond)).
			Run(context.Background(), agent.Task{Agent: crew.AgentPlanner, Session: session})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("tool call timeout is a transport error", func(t *testing.T) {
		t.Parallel()

		provider, _ := scriptedProvider(t, toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "read_file"}))
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) { return fileTools(), nil },
			CallFn: func(ctx context.Context, _ string, _ json.RawMessage) (*crew.ToolResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}

		_, err := agent.New(provider, agent.WithToolTimeout(10*time.Millisecond)).
			Run(context.Background(), agent.Task{Agent: crew.AgentTester, Session: session})
		var te *crew.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "call read_file", te.Op)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("canceled context stops before the model call", func(t *testing.T) {
		t.Parallel()

		provider := &mock.Provider{
			GenerateFn: func(context.Context, crew.Request) (crew.AssistantMessage, error) {
				t.Fatal("provider should not be called")
				return crew.AssistantMessage{}, nil
			},
		}
		session, _ := okSession(fileTools())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := agent.New(provider).Run(ctx, agent.Task{Agent: crew.AgentPlanner, Session: session})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("tool discovery failure", func(t *testing.T) {
		t.Parallel()

		provider, _ := scriptedProvider(t)
		session := &mock.ToolSession{
			ToolsFn: func(context.Context) ([]crew.Tool, error) {
				return nil, &crew.TransportError{Op: "list tools", Err: io.EOF}
			},
		}

		_, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentPlanner, Session: session})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "discover tools")
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("model error is recorded", func(t *testing.T) {
		t.Parallel()

		provider := &mock.Provider{
			GenerateFn: func(context.Context, crew.Request) (crew.AssistantMessage, error) {
				return crew.AssistantMessage{}, errors.New("quota exceeded")
			},
		}
		session, _ := okSession(fileTools())
		metrics := crew.NewMetrics()

		_, err := agent.New(provider).Run(context.Background(), agent.Task{Agent: crew.AgentPlanner, Session: session, Metrics: metrics})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota exceeded")
		assert.Equal(t, crew.AgentMetrics{Errors: 1}, metrics.Agent(crew.AgentPlanner))
	})

	t.Run("emits progress events in order", func(t *testing.T) {
		t.Parallel()

		provider, _ := scriptedProvider(t,
			toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "write_file"}),
			textTurn("done"),
		)
		session, _ := okSession(fileTools())

		var events []crew.Event
		_, err := agent.New(provider).Run(context.Background(),
			agent.Task{Agent: crew.AgentDeveloper, Session: session},
			agent.WithEventHandler(func(e crew.Event) { events = append(events, e) }),
		)
		require.NoError(t, err)
		assert.Equal(t, []crew.Event{
			crew.EventModelCall{Agent: crew.AgentDeveloper, Iteration: 1},
			crew.EventToolCall{Agent: crew.AgentDeveloper, Tool: "write_file"},
			crew.EventToolResult{Agent: crew.AgentDeveloper, Tool: "write_file"},
			crew.EventModelCall{Agent: crew.AgentDeveloper, Iteration: 2},
		}, events)
	})

	t.Run("token estimates grow with the conversation", func(t *testing.T) {
		t.Parallel()

		provider, _ := scriptedProvider(t,
			toolTurn(crew.ToolCallBlock{ID: "tc_1", Name: "read_file"}),
			textTurn("done"),
		)
		session, _ := okSession(fileTools())
		var inputs []int
		metrics := crew.NewMetrics(crew.WithMetricsObserver(&mock.MetricsObserver{
			APICallFn: func(_ crew.AgentName, in, _ int) { inputs = append(inputs, in) },
		}))

		_, err := agent.New(provider).Run(context.Background(), agent.Task{
			Agent:        crew.AgentTester,
			SystemPrompt: "You are a tester with a reasonably long role prompt.",
			Input:        "some developer output to test",
			Session:      session,
			Metrics:      metrics,
		})
		require.NoError(t, err)
		require.Len(t, inputs, 2)
		assert.Greater(t, inputs[0], 0)
		assert.GreaterOrEqual(t, inputs[1], inputs[0])
	})
}
