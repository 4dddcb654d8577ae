package randomness

import (
	"context"
	"sync"
)

// Consumer receives fulfilled words on behalf of a subscription.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, caller string, id RequestID, words []Word) error
}

// MockCoordinator is an in-process oracle for tests and local runs. Request
// ids are sequential from 1 and words are derived from the id.
type MockCoordinator struct {
	address string

	mu        sync.Mutex
	counter   RequestID
	requests  map[RequestID]SubscriptionConfig
	onRequest func(RequestID)
}

func NewMockCoordinator(address string) *MockCoordinator {
	return &MockCoordinator{
		address:  address,
		requests: map[RequestID]SubscriptionConfig{},
	}
}

func (m *MockCoordinator) Address() string { return m.address }

// OnRequest installs a hook invoked after every accepted request. The hook
// runs on the requesting goroutine and must not block.
func (m *MockCoordinator) OnRequest(fn func(RequestID)) {
	m.mu.Lock()
	m.onRequest = fn
	m.mu.Unlock()
}

func (m *MockCoordinator) RequestRandomWords(ctx context.Context, cfg SubscriptionConfig) (RequestID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.counter++
	id := m.counter
	m.requests[id] = cfg
	hook := m.onRequest
	m.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return id, nil
}

// SeedCounter makes future request ids start above n, so ids restored from a
// snapshot are never issued again.
func (m *MockCoordinator) SeedCounter(n RequestID) {
	m.mu.Lock()
	if n > m.counter {
		m.counter = n
	}
	m.mu.Unlock()
}

// Counter returns the id of the most recent request.
func (m *MockCoordinator) Counter() RequestID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

// Outstanding reports whether id was requested and not yet delivered.
func (m *MockCoordinator) Outstanding(id RequestID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.requests[id]
	return ok
}

// FulfillRandomWords delivers words for id to consumer. Ids the coordinator
// never issued are forwarded as well so the consumer's own checks apply.
func (m *MockCoordinator) FulfillRandomWords(ctx context.Context, id RequestID, consumer Consumer) error {
	m.mu.Lock()
	n := 1
	if cfg, ok := m.requests[id]; ok && cfg.NumWords > 0 {
		n = int(cfg.NumWords)
	}
	m.mu.Unlock()

	words := make([]Word, n)
	for i := range words {
		words[i] = DeriveWord(id, i)
	}
	if err := consumer.FulfillRandomWords(ctx, m.address, id, words); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.requests, id)
	m.mu.Unlock()
	return nil
}
