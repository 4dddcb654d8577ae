package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header: Header{Version: Version, BookID: "book", Seq: 7, Time: 1700000000},
		State: StateV1{
			Admin:           "0xadmin",
			CreationEnabled: true,
			TotalCreated:    2,
			NextTokenID:     103,
			SupplyCap:       900,
		},
		Subscription: SubscriptionV1{SubscriptionID: 2796, Coordinator: "0xc00d", KeyHash: "0xkey", NumWords: 1},
		Avatars: []AvatarV1{
			{TokenID: 101, Status: 1, AvatarType: 4, Rank: 1, MintTime: 10, LastUpdateTime: 20, Chronosis: 500, Echo: 500, Convergence: 500},
			{TokenID: 102, Status: 2, MintTime: 30},
		},
		Holdings: []HoldingV1{{TokenID: 101, Owner: "0xa"}, {TokenID: 102, Owner: "0xb"}},
		Pending:  []PendingV1{{RequestID: 2, TokenID: 102}},
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", FileName(7))
	want := sample()
	want.Avatars[0].RandomSeed[31] = 9
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header != want.Header || got.State != want.State || got.Subscription != want.Subscription {
		t.Fatalf("header/state mismatch: %+v", got)
	}
	if len(got.Avatars) != 2 || got.Avatars[0] != want.Avatars[0] || got.Avatars[1] != want.Avatars[1] {
		t.Fatalf("avatars mismatch: %+v", got.Avatars)
	}
	if len(got.Pending) != 1 || got.Pending[0] != want.Pending[0] {
		t.Fatalf("pending mismatch: %+v", got.Pending)
	}
	h, err := ReadHeader(path)
	if err != nil || h.Seq != 7 || h.BookID != "book" {
		t.Fatalf("header: %+v err=%v", h, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if p, err := Latest(filepath.Join(dir, "missing")); err != nil || p != "" {
		t.Fatalf("missing dir: %q %v", p, err)
	}
	for _, seq := range []uint64{3, 12, 9} {
		if err := WriteSnapshot(filepath.Join(dir, FileName(seq)), sample()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	p, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(p) != FileName(12) {
		t.Fatalf("expected seq 12, got %s", p)
	}
}

func TestValidate(t *testing.T) {
	if err := sample().Validate(); err != nil {
		t.Fatalf("sample should validate: %v", err)
	}
	s := sample()
	s.Holdings = s.Holdings[:1]
	if err := s.Validate(); err == nil {
		t.Fatalf("expected unheld avatar to fail")
	}
	s = sample()
	s.Pending = []PendingV1{{RequestID: 1, TokenID: 101}}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected binding to rendered avatar to fail")
	}
	s = sample()
	s.Header.Version = 2
	if err := s.Validate(); err == nil {
		t.Fatalf("expected version mismatch to fail")
	}
}
