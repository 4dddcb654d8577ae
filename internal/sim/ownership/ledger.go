package ownership

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Address is an owner identity in canonical form: "0x" followed by 40 lower
// case hex digits.
type Address string

const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

const addressHexLen = 40

// ParseAddress accepts "0x" plus 40 hex digits in any case and returns the
// canonical form. Every all-zero spelling comes back as ZeroAddress.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	body, ok := strings.CutPrefix(s, "0x")
	if !ok {
		body, ok = strings.CutPrefix(s, "0X")
	}
	if !ok || len(body) != addressHexLen {
		return "", fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// IsZero reports whether a names the null identity under any spelling,
// including the empty string and short forms such as "0x0".
func (a Address) IsZero() bool {
	body := string(a)
	if b, ok := strings.CutPrefix(body, "0x"); ok {
		body = b
	} else if b, ok := strings.CutPrefix(body, "0X"); ok {
		body = b
	}
	return strings.Trim(body, "0") == ""
}

// Valid reports whether a is in canonical form.
func (a Address) Valid() bool {
	p, err := ParseAddress(string(a))
	return err == nil && p == a
}

func (a Address) String() string {
	if a == "" {
		return string(ZeroAddress)
	}
	return string(a)
}

var (
	ErrZeroAddress = errors.New("ownership: zero address")
	ErrBadAddress  = errors.New("ownership: malformed address")
	ErrTokenExists = errors.New("ownership: token already minted")
	ErrNoToken     = errors.New("ownership: token does not exist")
	ErrNotOwner    = errors.New("ownership: caller is not the owner")
)

// Ledger keeps who owns which token.
type Ledger interface {
	Mint(to Address, tokenID uint64) error
	Transfer(from, to Address, tokenID uint64) error
	OwnerOf(tokenID uint64) (Address, error)
	BalanceOf(owner Address) uint64
}

type Holding struct {
	TokenID uint64  `json:"token_id"`
	Owner   Address `json:"owner"`
}

// MemoryLedger is an in-memory Ledger. Reads may run concurrently with writes.
type MemoryLedger struct {
	mu       sync.RWMutex
	owners   map[uint64]Address
	balances map[Address]uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		owners:   map[uint64]Address{},
		balances: map[Address]uint64{},
	}
}

func checkRecipient(to Address) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrBadAddress, string(to))
	}
	return nil
}

func (l *MemoryLedger) Mint(to Address, tokenID uint64) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[tokenID]; ok {
		return fmt.Errorf("%w: %d", ErrTokenExists, tokenID)
	}
	l.owners[tokenID] = to
	l.balances[to]++
	return nil
}

func (l *MemoryLedger) Transfer(from, to Address, tokenID uint64) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoToken, tokenID)
	}
	if cur != from {
		return fmt.Errorf("%w: %d", ErrNotOwner, tokenID)
	}
	if from == to {
		return nil
	}
	l.owners[tokenID] = to
	if l.balances[from]--; l.balances[from] == 0 {
		delete(l.balances, from)
	}
	l.balances[to]++
	return nil
}

func (l *MemoryLedger) OwnerOf(tokenID uint64) (Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoToken, tokenID)
	}
	return a, nil
}

func (l *MemoryLedger) BalanceOf(owner Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[owner]
}

// Export lists every holding ordered by token id.
func (l *MemoryLedger) Export() []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Holding, 0, len(l.owners))
	for id, a := range l.owners {
		out = append(out, Holding{TokenID: id, Owner: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Import replaces the ledger contents.
func (l *MemoryLedger) Import(holdings []Holding) error {
	owners := make(map[uint64]Address, len(holdings))
	balances := map[Address]uint64{}
	for _, h := range holdings {
		if err := checkRecipient(h.Owner); err != nil {
			return fmt.Errorf("token %d: %w", h.TokenID, err)
		}
		if _, ok := owners[h.TokenID]; ok {
			return fmt.Errorf("%w: %d", ErrTokenExists, h.TokenID)
		}
		owners[h.TokenID] = h.Owner
		balances[h.Owner]++
	}
	l.mu.Lock()
	l.owners, l.balances = owners, balances
	l.mu.Unlock()
	return nil
}
