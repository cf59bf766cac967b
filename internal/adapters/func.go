package adapters

import (
	"context"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// InvokeFunc is the signature of an in-process advisory service.
type InvokeFunc func(ctx context.Context, input *models.AdapterInput) (*models.AgentOutput, error)

// Func adapts a plain function to the Adapter contract.
type Func struct {
	Info models.AdapterInfo
	Fn   InvokeFunc
}

// NewFunc creates a function-backed adapter.
func NewFunc(info models.AdapterInfo, fn InvokeFunc) *Func {
	return &Func{Info: info, Fn: fn}
}

func (f *Func) Name() string { return f.Info.Name }

func (f *Func) Describe() models.AdapterInfo { return f.Info }

func (f *Func) Invoke(ctx context.Context, input *models.AdapterInput) (*models.AgentOutput, error) {
	return f.Fn(ctx, input)
}
