package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	persistlog "github.com/daibi/Avatar-Oracle-Book/internal/persistence/log"
	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/book"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

func TestReplay_EventLogReproducesSnapshot(t *testing.T) {
	const (
		admin = ownership.Address("0x00000000000000000000000000000000000000ad")
		alice = ownership.Address("0x00000000000000000000000000000000000a11ce")
		bob   = ownership.Address("0x0000000000000000000000000000000000000b0b")
	)
	dir := t.TempDir()
	now := time.Unix(1_700_000_000, 0)
	mock := randomness.NewMockCoordinator("0x000000000000000000000000000000000000c00d")
	b, err := book.New(book.Config{
		ID:           "replay",
		Admin:        admin,
		FirstTokenID: 101,
		SupplyCap:    10,
		Decay:        decay.DefaultParams(),
		Subscription: randomness.SubscriptionConfig{Coordinator: "0x000000000000000000000000000000000000c00d", KeyHash: "0x01", NumWords: 1},
		Clock:        func() time.Time { return now },
	}, mock, nil)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	base := b.ExportSnapshot()

	logger := persistlog.NewEventLogger(dir, nil)
	b.AddSink(logger)
	sink := make(chan snapshot.SnapshotV1, 1)
	b.SetSnapshotSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if _, err := b.ToggleCreation(ctx, admin); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := b.ToggleRandomness(ctx, admin); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	c1, err := b.RequestCreate(ctx, alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.RequestCreate(ctx, bob); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.FulfillRandomWords(ctx, c1.RequestID, b); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if err := b.Transfer(ctx, alice, bob, c1.TokenID); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := b.Settle(ctx, bob, c1.TokenID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := b.RequestSnapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := <-sink
	if err := logger.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}

	files, err := persistlog.EventFiles(dir)
	if err != nil || len(files) == 0 {
		t.Fatalf("event files: %v %v", files, err)
	}
	r := newReplayer(base)
	var applied uint64
	for _, f := range files {
		n, err := replayFile(r, f, 0)
		if err != nil {
			t.Fatalf("replay %s: %v", filepath.Base(f), err)
		}
		applied += n
	}
	if applied != want.Header.Seq {
		t.Fatalf("applied %d events, snapshot seq %d", applied, want.Header.Seq)
	}
	if diffs := r.diff(want); len(diffs) != 0 {
		t.Fatalf("replay diverged: %v", diffs)
	}
}

func TestReplayer_RejectsGaps(t *testing.T) {
	r := newReplayer(snapshot.SnapshotV1{Header: snapshot.Header{Seq: 5}})
	if ok, err := r.apply(lifecycle.Event{Seq: 3, Kind: lifecycle.EventSwitchToggled, Switch: lifecycle.SwitchCreation}); ok || err != nil {
		t.Fatalf("old events should be skipped: %v %v", ok, err)
	}
	if _, err := r.apply(lifecycle.Event{Seq: 7, Kind: lifecycle.EventSwitchToggled, Switch: lifecycle.SwitchCreation}); err == nil {
		t.Fatalf("expected gap error")
	}
	if ok, err := r.apply(lifecycle.Event{Seq: 6, Kind: lifecycle.EventSwitchToggled, Switch: lifecycle.SwitchCreation, Enabled: true}); !ok || err != nil {
		t.Fatalf("apply: %v %v", ok, err)
	}
	if !r.state.CreationEnabled || r.seq != 6 {
		t.Fatalf("unexpected state: seq=%d %+v", r.seq, r.state)
	}
	if diffs := r.diff(snapshot.SnapshotV1{Header: snapshot.Header{Seq: 6}}); len(diffs) != 1 {
		t.Fatalf("expected only the state diff, got %v", diffs)
	}
}
