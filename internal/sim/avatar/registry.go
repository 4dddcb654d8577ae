package avatar

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

type Config struct {
	Admin        ownership.Address
	FirstTokenID uint64
	SupplyCap    uint64
	Decay        decay.Params
}

// Registry owns avatar records and the global State. Ownership is delegated
// to the Ledger. Mutating methods are called from a single goroutine; the
// read methods are safe from anywhere.
type Registry struct {
	params decay.Params
	ledger ownership.Ledger

	mu      sync.RWMutex
	state   *State
	avatars map[uint64]*Avatar
}

func NewRegistry(cfg Config, ledger ownership.Ledger) (*Registry, error) {
	if cfg.Admin.IsZero() {
		return nil, errors.New("avatar: registry needs an admin")
	}
	if !cfg.Admin.Valid() {
		return nil, fmt.Errorf("avatar: admin %w", ownership.ErrBadAddress)
	}
	if ledger == nil {
		return nil, errors.New("avatar: registry needs a ledger")
	}
	if err := cfg.Decay.Validate(); err != nil {
		return nil, err
	}
	first := cfg.FirstTokenID
	if first == 0 {
		first = 1
	}
	return &Registry{
		params: cfg.Decay,
		ledger: ledger,
		state: &State{
			Admin:       cfg.Admin,
			NextTokenID: first,
			SupplyCap:   cfg.SupplyCap,
		},
		avatars: map[uint64]*Avatar{},
	}, nil
}

func (r *Registry) Params() decay.Params { return r.params }

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.state
}

func (r *Registry) IsAdmin(a ownership.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !a.IsZero() && a == r.state.Admin
}

func (r *Registry) TotalCreated() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.TotalCreated
}

func (r *Registry) BalanceOf(owner ownership.Address) uint64 {
	return r.ledger.BalanceOf(owner)
}

func (r *Registry) OwnerOf(tokenID uint64) (ownership.Address, error) {
	r.mu.RLock()
	_, ok := r.avatars[tokenID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	return r.ledger.OwnerOf(tokenID)
}

// Record returns a copy of the stored record.
func (r *Registry) Record(tokenID uint64) (Avatar, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.avatars[tokenID]
	if !ok {
		return Avatar{}, false
	}
	return *a, true
}

// GetByTokenID returns the stored fields and, for rendered avatars, the
// attributes decayed up to now. Pending placeholders are returned untouched.
func (r *Registry) GetByTokenID(tokenID uint64, now int64) (View, error) {
	a, ok := r.Record(tokenID)
	if !ok {
		return View{}, fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	owner, err := r.ledger.OwnerOf(tokenID)
	if err != nil {
		return View{}, err
	}
	v := View{
		TokenID:        a.TokenID,
		Owner:          owner,
		Status:         a.Status,
		AvatarType:     a.AvatarType,
		Rank:           a.Rank,
		MintTime:       a.MintTime,
		RandomSeed:     a.RandomSeed,
		LastUpdateTime: a.LastUpdateTime,
		Attributes:     a.Attributes,
	}
	if a.Rendered() {
		v.Attributes = decay.Compute(r.params, a.Attributes, a.LastUpdateTime, now)
	}
	return v, nil
}

// CurrentAttributes runs the decay engine for a rendered avatar.
func (r *Registry) CurrentAttributes(tokenID uint64, now int64) (decay.Attributes, error) {
	a, ok := r.Record(tokenID)
	if !ok {
		return decay.Attributes{}, fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	if !a.Rendered() {
		return decay.Attributes{}, fmt.Errorf("%w: %d", ErrNotRendered, tokenID)
	}
	return decay.Compute(r.params, a.Attributes, a.LastUpdateTime, now), nil
}

func (r *Registry) ToggleCreation() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.CreationEnabled = !r.state.CreationEnabled
	return r.state.CreationEnabled
}

func (r *Registry) ToggleRandomness() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.RandomnessEnabled = !r.state.RandomnessEnabled
	return r.state.RandomnessEnabled
}

// Create allocates the next token id for owner as a pending placeholder.
func (r *Registry) Create(owner ownership.Address, now int64) (Avatar, error) {
	if owner.IsZero() || !owner.Valid() {
		return Avatar{}, ErrInvalidBeneficiary
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Exhausted() {
		return Avatar{}, ErrExhausted
	}
	id := r.state.NextTokenID
	if _, ok := r.avatars[id]; ok {
		return Avatar{}, fmt.Errorf("avatar: token id %d reused", id)
	}
	if err := r.ledger.Mint(owner, id); err != nil {
		return Avatar{}, fmt.Errorf("mint %d: %w", id, err)
	}
	a := &Avatar{
		TokenID:  id,
		Status:   StatusPending,
		MintTime: now,
	}
	r.avatars[id] = a
	r.state.NextTokenID++
	r.state.TotalCreated++
	return *a, nil
}

// Render finalizes a pending avatar from its random word.
func (r *Registry) Render(tokenID uint64, word randomness.Word, now int64) (Avatar, error) {
	if now <= 0 {
		return Avatar{}, fmt.Errorf("avatar: render time must be positive, got %d", now)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.avatars[tokenID]
	if !ok {
		return Avatar{}, fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	if a.Status != StatusPending {
		return Avatar{}, fmt.Errorf("%w: %d", ErrAlreadyRendered, tokenID)
	}
	a.Status = StatusRendered
	a.AvatarType = uint8(word.Mod(TypeCount) + 1)
	a.Rank = 1
	a.RandomSeed = word
	a.LastUpdateTime = now
	a.Attributes = r.params.Full()
	return *a, nil
}

// Settle writes the decayed attributes back as the new snapshot. The snapshot
// time advances by whole minutes only so the dropped remainder still counts
// towards the next minute.
func (r *Registry) Settle(tokenID uint64, now int64) (Avatar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.avatars[tokenID]
	if !ok {
		return Avatar{}, fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	if !a.Rendered() {
		return Avatar{}, fmt.Errorf("%w: %d", ErrNotRendered, tokenID)
	}
	minutes := decay.ElapsedMinutes(r.params, a.LastUpdateTime, now)
	if minutes == 0 {
		return *a, nil
	}
	a.Attributes = decay.Compute(r.params, a.Attributes, a.LastUpdateTime, now)
	a.LastUpdateTime += minutes * r.params.MinuteSeconds
	return *a, nil
}

func (r *Registry) Transfer(from, to ownership.Address, tokenID uint64) error {
	r.mu.RLock()
	_, ok := r.avatars[tokenID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	if to.IsZero() || !to.Valid() {
		return ErrInvalidBeneficiary
	}
	if err := r.ledger.Transfer(from, to, tokenID); err != nil {
		if errors.Is(err, ownership.ErrNotOwner) {
			return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
		return err
	}
	return nil
}

// Export returns the state and every record ordered by token id.
func (r *Registry) Export() (State, []Avatar) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Avatar, 0, len(r.avatars))
	for _, a := range r.avatars {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return *r.state, out
}

// Import replaces state and records. The ledger is restored separately.
func (r *Registry) Import(st State, avatars []Avatar) error {
	if st.Admin.IsZero() {
		return errors.New("avatar: imported state has no admin")
	}
	m := make(map[uint64]*Avatar, len(avatars))
	for i := range avatars {
		a := avatars[i]
		if err := a.validate(); err != nil {
			return err
		}
		if a.TokenID >= st.NextTokenID {
			return fmt.Errorf("avatar %d: beyond next token id %d", a.TokenID, st.NextTokenID)
		}
		if _, dup := m[a.TokenID]; dup {
			return fmt.Errorf("avatar %d: duplicate record", a.TokenID)
		}
		m[a.TokenID] = &a
	}
	if uint64(len(m)) > st.TotalCreated {
		return fmt.Errorf("avatar: %d records but total created is %d", len(m), st.TotalCreated)
	}
	r.mu.Lock()
	s := st
	r.state = &s
	r.avatars = m
	r.mu.Unlock()
	return nil
}
