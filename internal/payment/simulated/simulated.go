// Package simulated provides a deterministic in-memory payment processor
// for local runs and tests.
package simulated

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

// Processor keeps payment intents in memory. Intents start pending unless
// the processor auto-succeeds them.
type Processor struct {
	mu          sync.Mutex
	intents     map[string]payment.Intent
	requests    map[string]payment.IntentRequest
	autoSucceed bool
}

var _ payment.Processor = (*Processor)(nil)

// Option configures a Processor.
type Option func(*Processor)

// AutoSucceed makes every new intent report succeeded immediately.
func AutoSucceed() Option {
	return func(p *Processor) { p.autoSucceed = true }
}

// New creates a Processor.
func New(opts ...Option) *Processor {
	p := &Processor{
		intents:  make(map[string]payment.Intent),
		requests: make(map[string]payment.IntentRequest),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Processor) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := "pi_" + uuid.NewString()
	in := payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       payment.IntentPending,
		AmountMinor:  req.AmountMinor,
	}
	if p.autoSucceed {
		in.Status = payment.IntentSucceeded
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[id] = in
	p.requests[id] = req
	return &in, nil
}

func (p *Processor) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.intents[id]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	return &in, nil
}

// SetStatus changes the reported status of an intent, standing in for the
// buyer completing or abandoning payment.
func (p *Processor) SetStatus(id string, status payment.IntentStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.intents[id]
	if !ok {
		return false
	}
	in.Status = status
	p.intents[id] = in
	return true
}

// Request returns the request an intent was created from.
func (p *Processor) Request(id string) (payment.IntentRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[id]
	return req, ok
}
