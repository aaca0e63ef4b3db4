package pipeline

import (
	"context"

	"github.com/fwojciec/crew"
)

// RunSystem runs the whole team on one request. status, when non-nil,
// receives a human-readable line at every phase transition; it never
// affects control flow.
func RunSystem(ctx context.Context, o *Orchestrator, description, requirements string, status func(string)) (*crew.PipelineResult, error) {
	return o.Run(ctx, Input{Description: description, Requirements: requirements},
		WithEventHandler(crew.StatusLines(status)))
}
