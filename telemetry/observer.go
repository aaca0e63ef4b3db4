package telemetry

import (
	"context"
	"fmt"

	"github.com/fwojciec/crew"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Interface compliance check.
var _ crew.MetricsObserver = (*Observer)(nil)

// AgentKey is the attribute carrying the agent name on every counter.
const AgentKey = attribute.Key("crew.agent")

// Observer mirrors metrics accumulator mutations into OpenTelemetry
// counters.
type Observer struct {
	apiCalls   metric.Int64Counter
	tokens     metric.Int64Counter
	toolCalls  metric.Int64Counter
	iterations metric.Int64Counter
	errors     metric.Int64Counter
}

// NewObserver creates the counters on meter.
func NewObserver(meter metric.Meter) (*Observer, error) {
	var (
		o   Observer
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&o.apiCalls, "crew.api_calls", "Model calls made by agents.", "{call}"},
		{&o.tokens, "crew.tokens", "Estimated tokens exchanged with the model.", "{token}"},
		{&o.toolCalls, "crew.tool_calls", "Tool calls requested by agents.", "{call}"},
		{&o.iterations, "crew.iterations", "Agent loop iterations.", "{iteration}"},
		{&o.errors, "crew.errors", "Agent failures.", "{error}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("telemetry: create counter %s: %w", c.name, err)
		}
	}
	return &o, nil
}

func agentAttr(agent crew.AgentName) metric.AddOption {
	return metric.WithAttributes(AgentKey.String(string(agent)))
}

// APICall counts one model call and its estimated tokens, split by
// direction.
func (o *Observer) APICall(agent crew.AgentName, inputTokens, outputTokens int) {
	ctx := context.Background()
	o.apiCalls.Add(ctx, 1, agentAttr(agent))
	o.tokens.Add(ctx, int64(inputTokens), metric.WithAttributes(AgentKey.String(string(agent)), attribute.String("crew.direction", "input")))
	o.tokens.Add(ctx, int64(outputTokens), metric.WithAttributes(AgentKey.String(string(agent)), attribute.String("crew.direction", "output")))
}

// ToolCall counts one tool call.
func (o *Observer) ToolCall(agent crew.AgentName) {
	o.toolCalls.Add(context.Background(), 1, agentAttr(agent))
}

// Iteration counts one loop iteration.
func (o *Observer) Iteration(agent crew.AgentName) {
	o.iterations.Add(context.Background(), 1, agentAttr(agent))
}

// Error counts one failure.
func (o *Observer) Error(agent crew.AgentName) {
	o.errors.Add(context.Background(), 1, agentAttr(agent))
}
