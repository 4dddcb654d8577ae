package lifecycle

import (
	"context"
	"fmt"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

// Mint runs the request half of the two-phase creation protocol.
type Mint struct {
	reg     *avatar.Registry
	binding *randomness.Binding
	sink    Sink
}

func NewMint(reg *avatar.Registry, binding *randomness.Binding, sink Sink) *Mint {
	return &Mint{reg: reg, binding: binding, sink: sinkOrDiscard(sink)}
}

type Created struct {
	TokenID   uint64               `json:"token_id"`
	RequestID randomness.RequestID `json:"request_id"`
	Owner     ownership.Address    `json:"owner"`
}

// RequestCreate allocates a pending avatar for beneficiary and asks the
// oracle for its seed. Nothing is committed unless every step succeeds.
func (m *Mint) RequestCreate(ctx context.Context, beneficiary ownership.Address, now int64) (Created, error) {
	if beneficiary.IsZero() || !beneficiary.Valid() {
		return Created{}, avatar.ErrInvalidBeneficiary
	}
	st := m.reg.State()
	if !st.CreationEnabled {
		return Created{}, avatar.ErrCreationDisabled
	}
	if !st.RandomnessEnabled {
		return Created{}, avatar.ErrRandomnessUnavailable
	}
	if err := m.binding.Ready(); err != nil {
		return Created{}, fmt.Errorf("%w: %w", avatar.ErrRandomnessUnavailable, err)
	}
	if st.Exhausted() {
		return Created{}, avatar.ErrExhausted
	}

	tokenID := st.NextTokenID
	reqID, err := m.binding.Open(ctx, tokenID)
	if err != nil {
		return Created{}, fmt.Errorf("%w: %w", avatar.ErrRandomnessUnavailable, err)
	}
	a, err := m.reg.Create(beneficiary, now)
	if err != nil {
		m.binding.Cancel(reqID)
		return Created{}, err
	}
	if a.TokenID != tokenID {
		// Another writer slipped in between; the binding would point at the wrong token.
		m.binding.Cancel(reqID)
		return Created{}, fmt.Errorf("avatar: token id moved from %d to %d during mint", tokenID, a.TokenID)
	}

	m.sink.Emit(Event{
		Kind:    EventTransfer,
		Time:    now,
		TokenID: a.TokenID,
		From:    ownership.ZeroAddress,
		To:      beneficiary,
	})
	m.sink.Emit(Event{
		Kind:      EventAvatarCreated,
		Time:      now,
		TokenID:   a.TokenID,
		Owner:     beneficiary,
		RequestID: reqID,
		Avatar:    &a,
	})
	return Created{TokenID: a.TokenID, RequestID: reqID, Owner: beneficiary}, nil
}

// ToggleCreation flips the creation switch. Only the registry admin may call it.
func (m *Mint) ToggleCreation(caller ownership.Address, now int64) (bool, error) {
	if !m.reg.IsAdmin(caller) {
		return false, avatar.ErrNotAuthorized
	}
	on := m.reg.ToggleCreation()
	m.sink.Emit(Event{Kind: EventSwitchToggled, Time: now, Switch: SwitchCreation, Enabled: on})
	return on, nil
}
