package unifiedllm

import (
	"context"
	"sync"
)

// CostForUsage prices usage with the catalog rates of model. Unknown models
// and models without published prices cost nothing.
func CostForUsage(model string, usage Usage) float64 {
	info := GetModelInfo(model)
	if info == nil {
		return 0
	}
	var cost float64
	if info.InputCostPerMillion != nil {
		cost += float64(usage.InputTokens) * *info.InputCostPerMillion / 1e6
	}
	if info.OutputCostPerMillion != nil {
		cost += float64(usage.OutputTokens) * *info.OutputCostPerMillion / 1e6
	}
	return cost
}

// CostTracker accumulates spend across requests. A zero Limit means unlimited.
type CostTracker struct {
	mu    sync.Mutex
	spend float64
	limit float64
}

// NewCostTracker returns a tracker with the given limit in USD.
func NewCostTracker(limit float64) *CostTracker {
	return &CostTracker{limit: limit}
}

// Add records usage for model and returns the new total spend.
func (t *CostTracker) Add(model string, usage Usage) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spend += CostForUsage(model, usage)
	return t.spend
}

// Spend returns the accumulated spend.
func (t *CostTracker) Spend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spend
}

// Limit returns the configured budget.
func (t *CostTracker) Limit() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// SetLimit changes the budget.
func (t *CostTracker) SetLimit(limit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = limit
}

// Check returns a BudgetExceededError once spend has reached the limit.
func (t *CostTracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.spend >= t.limit {
		return NewBudgetExceededError(t.spend, t.limit)
	}
	return nil
}

// BudgetMiddleware refuses to open a stream once the tracker's budget is
// spent, and records usage from each stream's finish event.
func BudgetMiddleware(tracker *CostTracker) StreamMiddleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		if err := tracker.Check(); err != nil {
			return nil, err
		}
		in, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		out := make(chan StreamEvent, cap(in))
		go func() {
			defer close(out)
			for ev := range in {
				if ev.Type == StreamFinish && ev.Usage != nil {
					model := ev.Model
					if model == "" {
						model = req.Model
					}
					tracker.Add(model, *ev.Usage)
				}
				if !sendEvent(ctx, out, ev) {
					// Drain so the upstream producer can exit.
					for range in {
					}
					return
				}
			}
		}()
		return out, nil
	}
}
