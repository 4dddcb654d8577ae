package main

import (
	"testing"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

func testSnapshot() snapshot.SnapshotV1 {
	p := decay.DefaultParams()
	return snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, BookID: "b", Seq: 9, Time: 1000},
		State:  snapshot.StateV1{Admin: "0xad", TotalCreated: 2, NextTokenID: 103, SupplyCap: 900},
		Decay: snapshot.DecayV1{
			Max:                 p.Max,
			LinearBaseRate:      p.LinearBaseRate,
			ExponentialBaseRate: p.ExponentialBaseRate,
			LowerPermille:       p.LowerBandPermille,
			UpperPermille:       p.UpperBandPermille,
			AbovePermille:       p.AboveBandPermille,
			BelowPermille:       p.BelowBandPermille,
			FollowerPermille:    p.FollowerPermille,
			MinuteSeconds:       p.MinuteSeconds,
		},
		Avatars: []snapshot.AvatarV1{
			{TokenID: 101, Status: 1, MintTime: 1000, LastUpdateTime: 1000, Chronosis: p.Max, Echo: p.Max, Convergence: p.Max},
			{TokenID: 102, Status: 2, MintTime: 1000},
		},
		Holdings: []snapshot.HoldingV1{{TokenID: 101, Owner: "0xa"}, {TokenID: 102, Owner: "0xa"}},
		Pending:  []snapshot.PendingV1{{RequestID: 2, TokenID: 102}},
	}
}

func TestSummarize(t *testing.T) {
	s := summarize("x.snap.zst", testSnapshot())
	if s.Seq != 9 || s.Avatars != 2 || s.Owners != 1 || s.Pending != 1 || s.TotalCreated != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestParamsOf_RoundTripsDefaults(t *testing.T) {
	if got := paramsOf(testSnapshot().Decay); got != decay.DefaultParams() {
		t.Fatalf("params: got %+v", got)
	}
}

func TestDecayReport(t *testing.T) {
	snap := testSnapshot()
	p := decay.DefaultParams()
	now := int64(1000 + 10*p.MinuteSeconds + 5)

	out, err := decayReport(snap, 101, now, true)
	if err != nil {
		t.Fatalf("decayReport: %v", err)
	}
	if out.Minutes != 10 {
		t.Fatalf("minutes: got %d want 10", out.Minutes)
	}
	want := decay.Compute(p, p.Full(), 1000, now)
	if out.Value != want {
		t.Fatalf("value: got %+v want %+v", out.Value, want)
	}
	if len(out.Segments) == 0 {
		t.Fatalf("expected trace segments")
	}

	if _, err := decayReport(snap, 102, now, false); err == nil {
		t.Fatalf("expected error for unrendered token")
	}
	if _, err := decayReport(snap, 999, now, false); err == nil {
		t.Fatalf("expected error for unknown token")
	}
}

func TestEventFilter(t *testing.T) {
	evs := []lifecycle.Event{
		{Seq: 1, Kind: lifecycle.EventAvatarCreated, TokenID: 101},
		{Seq: 2, Kind: lifecycle.EventAvatarRendered, TokenID: 101},
		{Seq: 3, Kind: lifecycle.EventAvatarCreated, TokenID: 102},
		{Seq: 4, Kind: lifecycle.EventSwitchToggled},
	}
	count := func(f eventFilter) int {
		n := 0
		for _, e := range evs {
			if f.match(e) {
				n++
			}
		}
		return n
	}
	if n := count(eventFilter{}); n != 4 {
		t.Fatalf("no filter: got %d", n)
	}
	if n := count(eventFilter{TokenID: 101}); n != 2 {
		t.Fatalf("token filter: got %d", n)
	}
	if n := count(eventFilter{Kind: lifecycle.EventAvatarCreated, Since: 1}); n != 1 {
		t.Fatalf("kind+since filter: got %d", n)
	}
}
