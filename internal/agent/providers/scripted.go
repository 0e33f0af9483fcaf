package providers

import (
	"context"
	"errors"
	"sync"

	"github.com/tabulant/tabulant/internal/agent"
)

// ScriptedStep is one canned provider response, or an error to return
// instead.
type ScriptedStep struct {
	Completion *agent.Completion
	Err        error
}

// ScriptedProvider replays a fixed sequence of completions. It backs the
// loop and gateway tests and the offline demo mode; once the script is
// exhausted it returns an end-of-turn completion with no tool calls.
type ScriptedProvider struct {
	mu    sync.Mutex
	steps []ScriptedStep
	calls int

	// OnRequest, when set, observes every request the loop makes.
	OnRequest func(req *agent.CompletionRequest)

	// Block, when set, is closed by the test to release a pending call;
	// until then Complete waits on it or on ctx.
	Block chan struct{}
}

// NewScriptedProvider builds a provider that replays steps in order.
func NewScriptedProvider(steps ...ScriptedStep) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Name returns the provider identifier.
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Calls reports how many requests have been made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Complete returns the next scripted step.
func (p *ScriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.OnRequest != nil {
		p.OnRequest(req)
	}

	if p.calls >= len(p.steps) {
		p.calls++
		return &agent.Completion{StopReason: "end_turn"}, nil
	}
	step := p.steps[p.calls]
	p.calls++

	if step.Err != nil {
		return nil, step.Err
	}
	if step.Completion == nil {
		return nil, errors.New("scripted: step has neither completion nor error")
	}
	return step.Completion, nil
}
