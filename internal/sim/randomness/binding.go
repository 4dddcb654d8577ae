package randomness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

var (
	ErrUnknownRequest   = errors.New("randomness: request record not exist")
	ErrNotConfigured    = errors.New("randomness: subscription not configured")
	ErrNoOracle         = errors.New("randomness: no oracle attached")
	ErrDuplicateRequest = errors.New("randomness: request id already bound")
	ErrEmptyFulfillment = errors.New("randomness: fulfillment carries no words")
)

// SubscriptionConfig is passed through to the oracle unchanged.
type SubscriptionConfig struct {
	SubscriptionID       uint64 `json:"subscription_id" yaml:"subscription_id"`
	Coordinator          string `json:"coordinator" yaml:"coordinator"`
	KeyHash              string `json:"key_hash" yaml:"key_hash"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit" yaml:"callback_gas_limit"`
	RequestConfirmations uint16 `json:"request_confirmations" yaml:"request_confirmations"`
	NumWords             uint32 `json:"num_words" yaml:"num_words"`
}

func (c SubscriptionConfig) Configured() bool {
	return c.Coordinator != "" && c.KeyHash != "" && c.NumWords > 0
}

// Oracle issues asynchronous randomness requests. Fulfillment arrives later
// through a separate call into the consumer.
type Oracle interface {
	RequestRandomWords(ctx context.Context, cfg SubscriptionConfig) (RequestID, error)
}

type Pending struct {
	RequestID RequestID `json:"request_id"`
	TokenID   uint64    `json:"token_id"`
}

// Binding maps outstanding request ids to the token they will render.
// Only the owning loop goroutine may call the mutating methods.
type Binding struct {
	cfg    SubscriptionConfig
	oracle Oracle

	pending map[RequestID]uint64
	size    atomic.Int64
}

func NewBinding(cfg SubscriptionConfig, oracle Oracle) *Binding {
	return &Binding{
		cfg:     cfg,
		oracle:  oracle,
		pending: map[RequestID]uint64{},
	}
}

func (b *Binding) Config() SubscriptionConfig { return b.cfg }

// Ready reports whether a request could be opened right now.
func (b *Binding) Ready() error {
	if !b.cfg.Configured() {
		return ErrNotConfigured
	}
	if b.oracle == nil {
		return ErrNoOracle
	}
	return nil
}

func (b *Binding) Open(ctx context.Context, tokenID uint64) (RequestID, error) {
	if err := b.Ready(); err != nil {
		return 0, err
	}
	id, err := b.oracle.RequestRandomWords(ctx, b.cfg)
	if err != nil {
		return 0, fmt.Errorf("request random words: %w", err)
	}
	if _, ok := b.pending[id]; ok {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateRequest, id)
	}
	b.bind(id, tokenID)
	return id, nil
}

// Fulfill consumes the binding for id. Unknown ids leave the table untouched.
func (b *Binding) Fulfill(id RequestID) (uint64, error) {
	tokenID, ok := b.pending[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	delete(b.pending, id)
	b.size.Add(-1)
	return tokenID, nil
}

// Restore re-binds id, used to roll back a consumed binding and on snapshot import.
func (b *Binding) Restore(id RequestID, tokenID uint64) error {
	if _, ok := b.pending[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateRequest, id)
	}
	b.bind(id, tokenID)
	return nil
}

// Cancel drops id without fulfilling it; used when the surrounding mutation fails.
func (b *Binding) Cancel(id RequestID) {
	if _, ok := b.pending[id]; ok {
		delete(b.pending, id)
		b.size.Add(-1)
	}
}

func (b *Binding) Lookup(id RequestID) (uint64, bool) {
	tokenID, ok := b.pending[id]
	return tokenID, ok
}

func (b *Binding) Pending() []Pending {
	out := make([]Pending, 0, len(b.pending))
	for id, tokenID := range b.pending {
		out = append(out, Pending{RequestID: id, TokenID: tokenID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// Len is safe to call from any goroutine.
func (b *Binding) Len() int { return int(b.size.Load()) }

func (b *Binding) bind(id RequestID, tokenID uint64) {
	b.pending[id] = tokenID
	b.size.Add(1)
}
