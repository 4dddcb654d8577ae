package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AOB_TEST_BOOL", "false")
	if envBool("AOB_TEST_BOOL", true) {
		t.Fatalf("expected false")
	}
	t.Setenv("AOB_TEST_BOOL", "nonsense")
	if !envBool("AOB_TEST_BOOL", true) {
		t.Fatalf("unparseable value should fall back to default")
	}
	t.Setenv("AOB_TEST_INT", "-3")
	if got := envInt("AOB_TEST_INT", 7); got != 7 {
		t.Fatalf("envInt: got %d want 7", got)
	}
	t.Setenv("AOB_TEST_INT", "42")
	if got := envInt("AOB_TEST_INT", 7); got != 42 {
		t.Fatalf("envInt: got %d want 42", got)
	}
}

func TestDefaultEnableAdminHTTP(t *testing.T) {
	for env, want := range map[string]bool{
		"":            true,
		"dev":         true,
		"staging":     false,
		" Production": false,
	} {
		t.Setenv("DEPLOY_ENV", env)
		if got := defaultEnableAdminHTTP(); got != want {
			t.Fatalf("DEPLOY_ENV=%q: got %v want %v", env, got, want)
		}
	}
}

func TestRequestIDFloor(t *testing.T) {
	snap := snapshot.SnapshotV1{
		Header:  snapshot.Header{Seq: 10},
		Pending: []snapshot.PendingV1{{RequestID: 4, TokenID: 101}, {RequestID: 15, TokenID: 102}},
	}
	if got := requestIDFloor(snap); got != randomness.RequestID(15) {
		t.Fatalf("floor: got %d want 15", got)
	}
	snap.Pending = nil
	if got := requestIDFloor(snap); got != randomness.RequestID(10) {
		t.Fatalf("floor without pending: got %d want 10", got)
	}
}

func TestOpenRuntimeIndex_Backends(t *testing.T) {
	dir := t.TempDir()

	idx, err := openRuntimeIndex(dir, "book", true, nil)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("AOB_INDEX_BACKEND", "none")
	if idx, err := openRuntimeIndex(dir, "book", false, nil); err != nil || idx != nil {
		t.Fatalf("none: idx=%v err=%v", idx, err)
	}

	t.Setenv("AOB_INDEX_BACKEND", "ingest")
	t.Setenv("AOB_INDEX_INGEST_URL", "")
	if _, err := openRuntimeIndex(dir, "book", false, nil); err == nil {
		t.Fatalf("expected error for ingest without url")
	}

	t.Setenv("AOB_INDEX_BACKEND", "mystery")
	if _, err := openRuntimeIndex(dir, "book", false, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	t.Setenv("AOB_INDEX_BACKEND", "sqlite")
	idx, err = openRuntimeIndex(dir, "book", false, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer idx.Close()
	if _, err := os.Stat(filepath.Join(dir, "index", "book.sqlite")); err != nil {
		t.Fatalf("sqlite file: %v", err)
	}
}
