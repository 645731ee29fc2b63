package resilience

import (
	"context"

	"github.com/MrWong99/medlingo/pkg/provider/llm"
)

// ModelFallback implements [llm.Provider] with ordered failover across
// several translation models.
type ModelFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*ModelFallback)(nil)

// NewModelFallback creates a [ModelFallback] with primary as the preferred model.
func NewModelFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *ModelFallback {
	return &ModelFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers p to be tried after the models already registered.
func (f *ModelFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the model names in failover order.
func (f *ModelFallback) Names() []string { return f.group.Names() }

// Complete implements llm.Provider.
func (f *ModelFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
