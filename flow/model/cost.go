package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pricing is a model's token cost in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing covers the adapters' default models and their larger
// siblings. Unknown models are recorded at zero cost.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":                  {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":             {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1-mini":            {InputPer1M: 0.40, OutputPer1M: 1.60},
	"claude-3-5-haiku-latest": {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-sonnet-4-0":       {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gemini-2.5-flash":        {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-pro":          {InputPer1M: 1.25, OutputPer1M: 10.00},
}

// Call is one recorded chat completion.
type Call struct {
	Model        string
	Label        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	At           time.Time
}

// CostTracker accumulates token usage and cost across chat calls. It is
// safe for concurrent use; fan-out steps share one tracker.
//
// Example:
//
//	tracker := model.NewCostTracker()
//	chat := model.Metered(openai.New(key, ""), "gpt-4o-mini", tracker)
//	// ... run workflows ...
//	fmt.Println(tracker)
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
	calls   []Call
	total   float64
	byModel map[string]float64
	input   int64
	output  int64
}

// NewCostTracker creates a tracker priced with DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
	}
}

// SetPricing overrides or adds the price of modelName.
func (ct *CostTracker) SetPricing(modelName string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[modelName] = p
}

// Record adds one call's usage.
func (ct *CostTracker) Record(modelName, label string, usage Usage) Call {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[modelName]
	cost := float64(usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(usage.OutputTokens)/1_000_000*p.OutputPer1M

	call := Call{
		Model:        modelName,
		Label:        label,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		At:           time.Now(),
	}
	ct.calls = append(ct.calls, call)
	ct.total += cost
	ct.byModel[modelName] += cost
	ct.input += int64(usage.InputTokens)
	ct.output += int64(usage.OutputTokens)
	return call
}

// TotalCost returns the cumulative cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// CostByModel returns a copy of the per-model breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Tokens returns total input and output tokens.
func (ct *CostTracker) Tokens() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.input, ct.output
}

// Calls returns every recorded call, oldest first.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]Call(nil), ct.calls...)
}

func (ct *CostTracker) String() string {
	in, out := ct.Tokens()
	return fmt.Sprintf("%d calls, %d input / %d output tokens, $%.6f",
		len(ct.Calls()), in, out, ct.TotalCost())
}

type labelKey struct{}

// WithLabel tags chat calls made with ctx, typically with the calling
// step's ID, so CostTracker can attribute them.
func WithLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, labelKey{}, label)
}

func labelFrom(ctx context.Context) string {
	s, _ := ctx.Value(labelKey{}).(string)
	return s
}

type metered struct {
	next    ChatModel
	name    string
	tracker *CostTracker
}

// Metered wraps m so every successful call is recorded in tracker under
// modelName.
func Metered(m ChatModel, modelName string, tracker *CostTracker) ChatModel {
	if tracker == nil {
		return m
	}
	return &metered{next: m, name: modelName, tracker: tracker}
}

func (m *metered) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	out, err := m.next.Chat(ctx, messages)
	if err != nil {
		return out, err
	}
	m.tracker.Record(m.name, labelFrom(ctx), out.Usage)
	return out, nil
}
