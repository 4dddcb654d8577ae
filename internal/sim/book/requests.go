package book

import (
	"context"
	"fmt"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

type reply[T any] struct {
	v   T
	err error
}

type createReq struct {
	ctx         context.Context
	beneficiary ownership.Address
	resp        chan reply[lifecycle.Created]
}

type fulfillReq struct {
	ctx    context.Context
	caller ownership.Address
	id     randomness.RequestID
	words  []randomness.Word
	resp   chan reply[lifecycle.Rendered]
}

type toggleReq struct {
	caller ownership.Address
	which  string
	resp   chan reply[bool]
}

type transferReq struct {
	from, to ownership.Address
	tokenID  uint64
	resp     chan reply[struct{}]
}

type settleReq struct {
	caller  ownership.Address
	tokenID uint64
	resp    chan reply[avatar.Avatar]
}

type pendingReq struct {
	resp chan reply[[]randomness.Pending]
}

type snapshotReq struct {
	resp chan reply[uint64]
}

// call hands req to the loop and waits for its reply. Reply channels are
// buffered so the loop never blocks on a caller that gave up.
func call[R any, T any](ctx context.Context, b *Book, ch chan R, req R, resp chan reply[T]) (T, error) {
	var zero T
	select {
	case ch <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-b.stop:
		return zero, ErrStopped
	}
	select {
	case r := <-resp:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-b.stop:
		return zero, ErrStopped
	}
}

// RequestCreate mints a pending avatar for beneficiary and opens its
// randomness request. It is safe to call from any goroutine.
func (b *Book) RequestCreate(ctx context.Context, beneficiary ownership.Address) (lifecycle.Created, error) {
	resp := make(chan reply[lifecycle.Created], 1)
	return call(ctx, b, b.create, createReq{ctx: ctx, beneficiary: beneficiary, resp: resp}, resp)
}

// FulfillRandomWords delivers oracle output. caller is the delivering
// coordinator's address.
func (b *Book) FulfillRandomWords(ctx context.Context, caller string, id randomness.RequestID, words []randomness.Word) error {
	from, err := ownership.ParseAddress(caller)
	if err != nil {
		return fmt.Errorf("%w: %w", avatar.ErrNotAuthorized, err)
	}
	_, err = b.Fulfill(ctx, from, id, words)
	return err
}

func (b *Book) Fulfill(ctx context.Context, caller ownership.Address, id randomness.RequestID, words []randomness.Word) (lifecycle.Rendered, error) {
	resp := make(chan reply[lifecycle.Rendered], 1)
	ws := append([]randomness.Word(nil), words...)
	return call(ctx, b, b.fulfill, fulfillReq{ctx: ctx, caller: caller, id: id, words: ws, resp: resp}, resp)
}

func (b *Book) ToggleCreation(ctx context.Context, caller ownership.Address) (bool, error) {
	resp := make(chan reply[bool], 1)
	return call(ctx, b, b.toggle, toggleReq{caller: caller, which: lifecycle.SwitchCreation, resp: resp}, resp)
}

func (b *Book) ToggleRandomness(ctx context.Context, caller ownership.Address) (bool, error) {
	resp := make(chan reply[bool], 1)
	return call(ctx, b, b.toggle, toggleReq{caller: caller, which: lifecycle.SwitchRandomness, resp: resp}, resp)
}

func (b *Book) Transfer(ctx context.Context, from, to ownership.Address, tokenID uint64) error {
	resp := make(chan reply[struct{}], 1)
	_, err := call(ctx, b, b.transfer, transferReq{from: from, to: to, tokenID: tokenID, resp: resp}, resp)
	return err
}

// Settle folds elapsed decay into the stored record. Only the owner or the
// admin may settle.
func (b *Book) Settle(ctx context.Context, caller ownership.Address, tokenID uint64) (avatar.Avatar, error) {
	resp := make(chan reply[avatar.Avatar], 1)
	return call(ctx, b, b.settle, settleReq{caller: caller, tokenID: tokenID, resp: resp}, resp)
}

// PendingRequests lists outstanding randomness requests in id order.
func (b *Book) PendingRequests(ctx context.Context) ([]randomness.Pending, error) {
	resp := make(chan reply[[]randomness.Pending], 1)
	return call(ctx, b, b.pending, pendingReq{resp: resp}, resp)
}

// RequestSnapshot asks the loop to export and enqueue a snapshot. It returns
// the event sequence the snapshot covers.
func (b *Book) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan reply[uint64], 1)
	return call(ctx, b, b.snapshots, snapshotReq{resp: resp}, resp)
}
