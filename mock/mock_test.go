package mock_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Generate(t *testing.T) {
	t.Parallel()
	t.Run("delegates to GenerateFn", func(t *testing.T) {
		t.Parallel()
		want := crew.AssistantMessage{Content: []crew.ContentBlock{crew.TextBlock{Text: "plan"}}}
		p := mock.Provider{
			GenerateFn: func(ctx context.Context, req crew.Request) (crew.AssistantMessage, error) {
				return want, nil
			},
		}
		got, err := p.Generate(context.Background(), crew.Request{})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("panics when GenerateFn not set", func(t *testing.T) {
		t.Parallel()
		p := mock.Provider{}
		assert.Panics(t, func() {
			_, _ = p.Generate(context.Background(), crew.Request{})
		})
	})
}

func TestToolSession(t *testing.T) {
	t.Parallel()

	t.Run("delegates Tools and Call", func(t *testing.T) {
		t.Parallel()
		s := mock.ToolSession{
			ToolsFn: func(ctx context.Context) ([]crew.Tool, error) {
				return []crew.Tool{{Name: "write_file"}}, nil
			},
			CallFn: func(ctx context.Context, name string, args json.RawMessage) (*crew.ToolResult, error) {
				assert.Equal(t, "write_file", name)
				assert.JSONEq(t, `{"filename":"app.py"}`, string(args))
				return &crew.ToolResult{Content: "written"}, nil
			},
		}
		tools, err := s.Tools(context.Background())
		require.NoError(t, err)
		assert.Len(t, tools, 1)
		res, err := s.Call(context.Background(), "write_file", json.RawMessage(`{"filename":"app.py"}`))
		require.NoError(t, err)
		assert.Equal(t, "written", res.Content)
	})

	t.Run("close is nil-safe", func(t *testing.T) {
		t.Parallel()
		s := mock.ToolSession{}
		assert.NoError(t, s.Close())
	})

	t.Run("close delegates", func(t *testing.T) {
		t.Parallel()
		wantErr := errors.New("close error")
		s := mock.ToolSession{CloseFn: func() error { return wantErr }}
		assert.ErrorIs(t, s.Close(), wantErr)
	})
}

func TestLauncher_Launch(t *testing.T) {
	t.Parallel()
	sess := &mock.ToolSession{}
	l := mock.Launcher{
		LaunchFn: func(ctx context.Context, spec crew.ProcessSpec) (crew.ToolSession, error) {
			assert.Equal(t, "python3", spec.Command)
			return sess, nil
		},
	}
	got, err := l.Launch(context.Background(), crew.ProcessSpec{Command: "python3"})
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestRunStore(t *testing.T) {
	t.Parallel()
	var recorded crew.Run
	s := mock.RunStore{
		RecordRunFn: func(ctx context.Context, run crew.Run) error {
			recorded = run
			return nil
		},
		GetRunFn: func(ctx context.Context, id string) (crew.Run, error) {
			return crew.Run{}, crew.ErrRunNotFound
		},
	}
	require.NoError(t, s.RecordRun(context.Background(), crew.Run{ID: "r1"}))
	assert.Equal(t, "r1", recorded.ID)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, crew.ErrRunNotFound)
}

func TestMetricsObserver_NilSafe(t *testing.T) {
	t.Parallel()
	o := mock.MetricsObserver{}
	assert.NotPanics(t, func() {
		o.APICall(crew.AgentPlanner, 1, 1)
		o.ToolCall(crew.AgentPlanner)
		o.Iteration(crew.AgentPlanner)
		o.Error(crew.AgentPlanner)
	})
}
