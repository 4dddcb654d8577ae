package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

// Render runs the reveal half of the creation protocol.
type Render struct {
	reg     *avatar.Registry
	binding *randomness.Binding
	sink    Sink
}

func NewRender(reg *avatar.Registry, binding *randomness.Binding, sink Sink) *Render {
	return &Render{reg: reg, binding: binding, sink: sinkOrDiscard(sink)}
}

type Rendered struct {
	TokenID    uint64               `json:"token_id"`
	RequestID  randomness.RequestID `json:"request_id"`
	Owner      ownership.Address    `json:"owner"`
	AvatarType uint8                `json:"avatar_type"`
}

// OnRandomnessFulfilled finalizes the avatar bound to id. Only the configured
// coordinator may deliver; unknown or replayed ids change nothing.
func (r *Render) OnRandomnessFulfilled(_ context.Context, caller ownership.Address, id randomness.RequestID, words []randomness.Word, now int64) (Rendered, error) {
	coordinator, err := ownership.ParseAddress(r.binding.Config().Coordinator)
	if err != nil || coordinator.IsZero() || caller != coordinator {
		return Rendered{}, avatar.ErrNotAuthorized
	}
	if len(words) == 0 {
		return Rendered{}, randomness.ErrEmptyFulfillment
	}
	tokenID, err := r.binding.Fulfill(id)
	if err != nil {
		return Rendered{}, err
	}
	a, err := r.reg.Render(tokenID, words[0], now)
	if err != nil {
		if rerr := r.binding.Restore(id, tokenID); rerr != nil {
			return Rendered{}, errors.Join(err, fmt.Errorf("restore request %d: %w", id, rerr))
		}
		return Rendered{}, err
	}
	owner, err := r.reg.OwnerOf(tokenID)
	if err != nil {
		return Rendered{}, err
	}

	r.sink.Emit(Event{
		Kind:      EventAvatarRendered,
		Time:      now,
		TokenID:   tokenID,
		Owner:     owner,
		RequestID: id,
		Avatar:    &a,
	})
	return Rendered{TokenID: tokenID, RequestID: id, Owner: owner, AvatarType: a.AvatarType}, nil
}

// ToggleRandomness flips the switch that lets minting reach the oracle.
func (r *Render) ToggleRandomness(caller ownership.Address, now int64) (bool, error) {
	if !r.reg.IsAdmin(caller) {
		return false, avatar.ErrNotAuthorized
	}
	on := r.reg.ToggleRandomness()
	r.sink.Emit(Event{Kind: EventSwitchToggled, Time: now, Switch: SwitchRandomness, Enabled: on})
	return on, nil
}
