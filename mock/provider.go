// Package mock provides test doubles for crew interfaces using function fields.
package mock

import (
	"context"

	"github.com/fwojciec/crew"
)

// Interface compliance check.
var _ crew.Provider = (*Provider)(nil)

// Provider is a test double for crew.Provider.
// Set GenerateFn before calling Generate.
type Provider struct {
	GenerateFn func(ctx context.Context, req crew.Request) (crew.AssistantMessage, error)
}

// Generate delegates to GenerateFn.
func (p *Provider) Generate(ctx context.Context, req crew.Request) (crew.AssistantMessage, error) {
	return p.GenerateFn(ctx, req)
}
