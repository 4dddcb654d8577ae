package lifecycle

import (
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

type EventKind string

const (
	EventAvatarCreated  EventKind = "AVATAR_CREATED"
	EventAvatarRendered EventKind = "AVATAR_RENDERED"
	EventAvatarSettled  EventKind = "AVATAR_SETTLED"
	EventTransfer       EventKind = "TRANSFER"
	EventSwitchToggled  EventKind = "SWITCH_TOGGLED"
)

const (
	SwitchCreation   = "creation"
	SwitchRandomness = "randomness"
)

// Event is emitted for every committed state change. Seq is stamped by the
// host that serialises mutations.
type Event struct {
	Seq       uint64               `json:"seq"`
	Kind      EventKind            `json:"kind"`
	Time      int64                `json:"time"`
	TokenID   uint64               `json:"token_id,omitempty"`
	Owner     ownership.Address    `json:"owner,omitempty"`
	From      ownership.Address    `json:"from,omitempty"`
	To        ownership.Address    `json:"to,omitempty"`
	RequestID randomness.RequestID `json:"request_id,omitempty"`
	Switch    string               `json:"switch,omitempty"`
	Enabled   bool                 `json:"enabled,omitempty"`
	Avatar    *avatar.Avatar       `json:"avatar,omitempty"`
}

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Fanout delivers each event to every non-nil sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

type discard struct{}

func (discard) Emit(Event) {}

func sinkOrDiscard(s Sink) Sink {
	if s == nil {
		return discard{}
	}
	return s
}
