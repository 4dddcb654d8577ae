package ownership

import (
	"errors"
	"strings"
	"testing"
)

func TestMemoryLedger_MintTransferBalance(t *testing.T) {
	l := NewMemoryLedger()
	alice := mustParse(t, "0x00000000000000000000000000000000000A11CE")
	bob := mustParse(t, "0x0000000000000000000000000000000000000b0b")

	if err := l.Mint(alice, 101); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint(alice, 101); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	if err := l.Mint(ZeroAddress, 102); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if got := l.BalanceOf(alice); got != 1 {
		t.Fatalf("expected balance 1, got %d", got)
	}
	if got := l.BalanceOf(bob); got != 0 {
		t.Fatalf("expected new user balance 0, got %d", got)
	}

	if err := l.Transfer(bob, alice, 101); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := l.Transfer(alice, bob, 101); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if owner, _ := l.OwnerOf(101); owner != bob {
		t.Fatalf("expected bob to own 101, got %s", owner)
	}
	if l.BalanceOf(alice) != 0 || l.BalanceOf(bob) != 1 {
		t.Fatalf("unexpected balances alice=%d bob=%d", l.BalanceOf(alice), l.BalanceOf(bob))
	}
	if _, err := l.OwnerOf(999); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestMemoryLedger_ExportImport(t *testing.T) {
	l := NewMemoryLedger()
	a := Address("0x000000000000000000000000000000000000000a")
	b := Address("0x000000000000000000000000000000000000000b")
	_ = l.Mint(a, 103)
	_ = l.Mint(b, 101)
	_ = l.Mint(a, 102)

	hs := l.Export()
	if len(hs) != 3 || hs[0].TokenID != 101 || hs[2].TokenID != 103 {
		t.Fatalf("unexpected export: %+v", hs)
	}

	other := NewMemoryLedger()
	if err := other.Import(hs); err != nil {
		t.Fatalf("import: %v", err)
	}
	if other.BalanceOf(a) != 2 || other.BalanceOf(b) != 1 {
		t.Fatalf("unexpected balances after import")
	}
	if err := other.Import([]Holding{{TokenID: 1, Owner: ""}}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero owner to be rejected, got %v", err)
	}
	if err := other.Import([]Holding{{TokenID: 1, Owner: "0xa"}}); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected short owner to be rejected, got %v", err)
	}
	if other.BalanceOf(a) != 2 {
		t.Fatalf("failed import must leave the ledger untouched")
	}
}

func mustParse(t *testing.T, s string) Address {
	t.Helper()
	a, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func TestParseAddress(t *testing.T) {
	if got := mustParse(t, "  0XAbCdEf0000000000000000000000000000001234 "); got != "0xabcdef0000000000000000000000000000001234" {
		t.Fatalf("expected canonical lower case form, got %s", got)
	}
	if got := mustParse(t, "0x0000000000000000000000000000000000000000"); got != ZeroAddress || !got.IsZero() {
		t.Fatalf("expected all-zero address to parse as ZeroAddress, got %s", got)
	}
	for _, in := range []string{
		"", "0", "0x", "0x0", "0x00", "0xadmin", "a11ce",
		"00000000000000000000000000000000000000000000",
		"0x00000000000000000000000000000000000000000",
		"0x000000000000000000000000000000000000000g",
		"0000000000000000000000000000000000000000ad",
	} {
		if _, err := ParseAddress(in); !errors.Is(err, ErrBadAddress) {
			t.Fatalf("expected %q to be rejected, got %v", in, err)
		}
	}
}

func TestAddress_IsZeroSpellings(t *testing.T) {
	for _, a := range []Address{"", "0", "0x", "0x0", "0x00", "0X000", ZeroAddress, Address("0x" + strings.Repeat("0", 41))} {
		if !a.IsZero() {
			t.Fatalf("expected %q to be the zero address", a)
		}
	}
	for _, a := range []Address{"0x1", "0x000000000000000000000000000000000000000a"} {
		if a.IsZero() {
			t.Fatalf("expected %q to be non-zero", a)
		}
	}
}

func TestMemoryLedger_RejectsNonCanonicalRecipients(t *testing.T) {
	l := NewMemoryLedger()
	for _, to := range []Address{"0x0", "0x00", "0"} {
		if err := l.Mint(to, 101); !errors.Is(err, ErrZeroAddress) {
			t.Fatalf("mint to %q: expected ErrZeroAddress, got %v", to, err)
		}
	}
	if err := l.Mint("0xA11CE", 101); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected malformed recipient to be rejected, got %v", err)
	}
	upper := Address("0x00000000000000000000000000000000000A11CE")
	if err := l.Mint(upper, 101); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected non-canonical case to be rejected, got %v", err)
	}
	if len(l.Export()) != 0 {
		t.Fatalf("rejected mints must not record holdings")
	}
}
