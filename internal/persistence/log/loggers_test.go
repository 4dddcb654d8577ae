package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

func TestEventLogger_HourlyFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir, nil)

	base := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC).Unix()
	l.Emit(lifecycle.Event{Seq: 1, Kind: lifecycle.EventSwitchToggled, Time: base, Switch: lifecycle.SwitchCreation, Enabled: true})
	l.Emit(lifecycle.Event{Seq: 2, Kind: lifecycle.EventTransfer, Time: base + 30, TokenID: 101, To: "0xa11ce"})
	l.Emit(lifecycle.Event{Seq: 3, Kind: lifecycle.EventAvatarSettled, Time: base + 90, TokenID: 101})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Failed() != 0 {
		t.Fatalf("failed writes: %d", l.Failed())
	}

	files, err := EventFiles(dir)
	if err != nil {
		t.Fatalf("EventFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "events-2024-03-01-10.jsonl.zst" || filepath.Base(files[1]) != "events-2024-03-01-11.jsonl.zst" {
		t.Fatalf("unexpected names: %v", files)
	}

	first, err := ReadEvents(files[0])
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(first) != 2 || first[0].Seq != 1 || !first[0].Enabled || first[1].To != "0xa11ce" {
		t.Fatalf("unexpected first hour: %+v", first)
	}
	second, err := ReadEvents(files[1])
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(second) != 1 || second[0].Kind != lifecycle.EventAvatarSettled {
		t.Fatalf("unexpected second hour: %+v", second)
	}
}

func TestEventLogger_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Unix()

	for i := uint64(1); i <= 2; i++ {
		l := NewEventLogger(dir, nil)
		l.Emit(lifecycle.Event{Seq: i, Kind: lifecycle.EventTransfer, Time: ts})
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	files, _ := EventFiles(dir)
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	evs, err := ReadEvents(files[0])
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(evs) != 2 || evs[0].Seq != 1 || evs[1].Seq != 2 {
		t.Fatalf("expected both sessions' events, got %+v", evs)
	}
}
