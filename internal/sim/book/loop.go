package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

var errNoSnapshotSink = errors.New("book: snapshot sink not configured")
var errSnapshotBusy = errors.New("book: snapshot queue full")

// Run serialises every mutation. It returns when ctx is cancelled or Stop is called.
func (b *Book) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if b.cfg.SnapshotEvery > 0 {
		t := time.NewTicker(b.cfg.SnapshotEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stop:
			return nil
		case req := <-b.create:
			c, err := b.mint.RequestCreate(req.ctx, req.beneficiary, b.now())
			if err != nil {
				b.log.Printf("mint for %s rejected: %v", req.beneficiary, err)
			}
			req.resp <- reply[lifecycle.Created]{c, err}
		case req := <-b.fulfill:
			r, err := b.render.OnRandomnessFulfilled(req.ctx, req.caller, req.id, req.words, b.now())
			if err != nil {
				b.log.Printf("fulfillment %d from %s rejected: %v", req.id, req.caller, err)
			}
			req.resp <- reply[lifecycle.Rendered]{r, err}
		case req := <-b.toggle:
			var on bool
			var err error
			if req.which == lifecycle.SwitchCreation {
				on, err = b.mint.ToggleCreation(req.caller, b.now())
			} else {
				on, err = b.render.ToggleRandomness(req.caller, b.now())
			}
			req.resp <- reply[bool]{on, err}
		case req := <-b.transfer:
			req.resp <- reply[struct{}]{err: b.handleTransfer(req)}
		case req := <-b.settle:
			a, err := b.handleSettle(req.caller, req.tokenID)
			req.resp <- reply[avatar.Avatar]{a, err}
		case req := <-b.pending:
			req.resp <- reply[[]randomness.Pending]{v: b.bind.Pending()}
		case req := <-b.snapshots:
			seq, err := b.enqueueSnapshot()
			req.resp <- reply[uint64]{seq, err}
		case <-tick:
			if b.seq.Load() == b.lastSnap.Load() {
				continue
			}
			if _, err := b.enqueueSnapshot(); err != nil {
				b.log.Printf("periodic snapshot: %v", err)
			}
		}
	}
}

func (b *Book) handleTransfer(req transferReq) error {
	if err := b.reg.Transfer(req.from, req.to, req.tokenID); err != nil {
		return err
	}
	b.emit(lifecycle.Event{
		Kind:    lifecycle.EventTransfer,
		Time:    b.now(),
		TokenID: req.tokenID,
		From:    req.from,
		To:      req.to,
	})
	return nil
}

func (b *Book) handleSettle(caller ownership.Address, tokenID uint64) (avatar.Avatar, error) {
	owner, err := b.reg.OwnerOf(tokenID)
	if err != nil {
		return avatar.Avatar{}, err
	}
	if caller != owner && !b.reg.IsAdmin(caller) {
		return avatar.Avatar{}, fmt.Errorf("%w: settle %d", avatar.ErrNotAuthorized, tokenID)
	}
	before, _ := b.reg.Record(tokenID)
	a, err := b.reg.Settle(tokenID, b.now())
	if err != nil {
		return avatar.Avatar{}, err
	}
	if a.LastUpdateTime == before.LastUpdateTime {
		return a, nil
	}
	b.emit(lifecycle.Event{
		Kind:    lifecycle.EventAvatarSettled,
		Time:    b.now(),
		TokenID: tokenID,
		Owner:   owner,
		Avatar:  &a,
	})
	return a, nil
}

func (b *Book) enqueueSnapshot() (uint64, error) {
	if b.snapshotSink == nil {
		return 0, errNoSnapshotSink
	}
	snap := b.ExportSnapshot()
	select {
	case b.snapshotSink <- snap:
		b.lastSnap.Store(snap.Header.Seq)
		return snap.Header.Seq, nil
	default:
		// Writer is behind; don't block the loop.
		return 0, errSnapshotBusy
	}
}
