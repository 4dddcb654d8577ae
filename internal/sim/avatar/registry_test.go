package avatar

import (
	"errors"
	"testing"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

const (
	admin = ownership.Address("0x00000000000000000000000000000000000000ad")
	alice = ownership.Address("0x00000000000000000000000000000000000a11ce")
	bob   = ownership.Address("0x0000000000000000000000000000000000000b0b")
)

func newTestRegistry(t *testing.T, supplyCap uint64) *Registry {
	t.Helper()
	r, err := NewRegistry(Config{
		Admin:        admin,
		FirstTokenID: 101,
		SupplyCap:    supplyCap,
		Decay:        decay.DefaultParams(),
	}, ownership.NewMemoryLedger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestRegistry_CreateIsPendingPlaceholder(t *testing.T) {
	r := newTestRegistry(t, 0)
	a, err := r.Create(alice, 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.TokenID != 101 || a.Status != StatusPending || a.MintTime != 1000 {
		t.Fatalf("unexpected record: %+v", a)
	}

	v, err := r.GetByTokenID(101, 5000)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Owner != alice || v.AvatarType != 0 || v.Rank != 0 || v.Attributes != (decay.Attributes{}) {
		t.Fatalf("pending view should carry placeholders: %+v", v)
	}
	if _, err := r.CurrentAttributes(101, 5000); !errors.Is(err, ErrNotRendered) {
		t.Fatalf("expected ErrNotRendered, got %v", err)
	}
	if _, err := r.GetByTokenID(999, 5000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if r.TotalCreated() != 1 || r.BalanceOf(alice) != 1 {
		t.Fatalf("unexpected counters: total=%d balance=%d", r.TotalCreated(), r.BalanceOf(alice))
	}
}

func TestRegistry_RenderThenDecayOnRead(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, _ = r.Create(alice, 1000)

	word := randomness.WordFromUint64(25)
	a, err := r.Render(101, word, 1000)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if a.AvatarType != 2 || a.Rank != 1 || a.Attributes != (decay.Attributes{Chronosis: 500, Echo: 500, Convergence: 500}) || a.RandomSeed != word {
		t.Fatalf("unexpected rendered record: %+v", a)
	}
	if _, err := r.Render(101, word, 1000); !errors.Is(err, ErrAlreadyRendered) {
		t.Fatalf("expected ErrAlreadyRendered, got %v", err)
	}

	v, err := r.GetByTokenID(101, 1000+22*60)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Attributes != (decay.Attributes{Chronosis: 218, Echo: 302, Convergence: 302}) {
		t.Fatalf("expected decayed view, got %+v", v.Attributes)
	}
	stored, _ := r.Record(101)
	if stored.Attributes != (decay.Attributes{Chronosis: 500, Echo: 500, Convergence: 500}) || stored.LastUpdateTime != 1000 {
		t.Fatalf("read must not mutate the stored snapshot: %+v", stored)
	}
}

func TestRegistry_SettleKeepsRemainder(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, _ = r.Create(alice, 1000)
	_, _ = r.Render(101, randomness.WordFromUint64(1), 1000)

	a, err := r.Settle(101, 1000+22*60+30)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if a.Attributes != (decay.Attributes{Chronosis: 218, Echo: 302, Convergence: 302}) || a.LastUpdateTime != 1000+22*60 {
		t.Fatalf("unexpected settled record: %+v", a)
	}
	if _, err := r.Create(bob, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Settle(102, 5000); !errors.Is(err, ErrNotRendered) {
		t.Fatalf("expected ErrNotRendered, got %v", err)
	}
}

func TestRegistry_SupplyCapAndSwitches(t *testing.T) {
	r := newTestRegistry(t, 2)
	if !r.ToggleCreation() || r.ToggleCreation() {
		t.Fatalf("toggle should flip the creation switch")
	}
	if !r.ToggleRandomness() {
		t.Fatalf("toggle should enable randomness")
	}
	_, _ = r.Create(alice, 1)
	_, _ = r.Create(alice, 2)
	if _, err := r.Create(alice, 3); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	st := r.State()
	if st.TotalCreated != 2 || st.NextTokenID != 103 || !st.Exhausted() {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestRegistry_Transfer(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, _ = r.Create(alice, 1)
	if err := r.Transfer(bob, alice, 101); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := r.Transfer(alice, bob, 101); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if owner, _ := r.OwnerOf(101); owner != bob {
		t.Fatalf("expected bob, got %s", owner)
	}
	if err := r.Transfer(alice, bob, 555); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, to := range []ownership.Address{"0x0", "0x00", "0xb0b"} {
		if err := r.Transfer(bob, to, 101); !errors.Is(err, ErrInvalidBeneficiary) {
			t.Fatalf("transfer to %q: expected ErrInvalidBeneficiary, got %v", to, err)
		}
	}
	if owner, _ := r.OwnerOf(101); owner != bob {
		t.Fatalf("rejected transfers must keep the owner, got %s", owner)
	}
}

func TestNewRegistry_RejectsMalformedAdmin(t *testing.T) {
	for _, a := range []ownership.Address{"", "0x0", "0xadmin", "0x00000000000000000000000000000000000000AD"} {
		_, err := NewRegistry(Config{Admin: a, FirstTokenID: 101, Decay: decay.DefaultParams()}, ownership.NewMemoryLedger())
		if err == nil {
			t.Fatalf("expected admin %q to be rejected", a)
		}
	}
}

func TestRegistry_ExportImport(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, _ = r.Create(alice, 1)
	_, _ = r.Create(bob, 2)
	_, _ = r.Render(102, randomness.WordFromUint64(5), 3)
	st, avatars := r.Export()

	other := newTestRegistry(t, 0)
	if err := other.Import(st, avatars); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got, _ := other.Record(102); got.AvatarType != 6 || !got.Rendered() {
		t.Fatalf("unexpected imported record: %+v", got)
	}

	bad := append([]Avatar(nil), avatars...)
	bad[0].Rank = 3
	if err := other.Import(st, bad); err == nil {
		t.Fatalf("expected pending record with rank to be rejected")
	}
}
