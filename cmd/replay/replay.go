package main

import (
	"fmt"
	"sort"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

// replayer rolls a snapshot forward by applying logged events to it.
type replayer struct {
	seq     uint64
	state   snapshot.StateV1
	avatars map[uint64]snapshot.AvatarV1
	owners  map[uint64]string
	pending map[uint64]uint64
}

func newReplayer(snap snapshot.SnapshotV1) *replayer {
	r := &replayer{
		seq:     snap.Header.Seq,
		state:   snap.State,
		avatars: make(map[uint64]snapshot.AvatarV1, len(snap.Avatars)),
		owners:  make(map[uint64]string, len(snap.Holdings)),
		pending: make(map[uint64]uint64, len(snap.Pending)),
	}
	for _, a := range snap.Avatars {
		r.avatars[a.TokenID] = a
	}
	for _, h := range snap.Holdings {
		r.owners[h.TokenID] = h.Owner
	}
	for _, p := range snap.Pending {
		r.pending[p.RequestID] = p.TokenID
	}
	return r
}

// apply consumes one event. Events at or below the current seq are skipped;
// a gap in the sequence is an error.
func (r *replayer) apply(e lifecycle.Event) (bool, error) {
	if e.Seq <= r.seq {
		return false, nil
	}
	if e.Seq != r.seq+1 {
		return false, fmt.Errorf("sequence gap: want %d got %d", r.seq+1, e.Seq)
	}
	switch e.Kind {
	case lifecycle.EventTransfer:
		if e.To.IsZero() {
			delete(r.owners, e.TokenID)
		} else {
			r.owners[e.TokenID] = string(e.To)
		}
	case lifecycle.EventAvatarCreated:
		if e.Avatar == nil {
			return false, fmt.Errorf("seq %d: %s without avatar", e.Seq, e.Kind)
		}
		r.avatars[e.TokenID] = avatarV1(*e.Avatar)
		r.pending[uint64(e.RequestID)] = e.TokenID
		r.state.TotalCreated++
		if e.TokenID >= r.state.NextTokenID {
			r.state.NextTokenID = e.TokenID + 1
		}
	case lifecycle.EventAvatarRendered:
		if e.Avatar == nil {
			return false, fmt.Errorf("seq %d: %s without avatar", e.Seq, e.Kind)
		}
		r.avatars[e.TokenID] = avatarV1(*e.Avatar)
		delete(r.pending, uint64(e.RequestID))
	case lifecycle.EventAvatarSettled:
		if e.Avatar == nil {
			return false, fmt.Errorf("seq %d: %s without avatar", e.Seq, e.Kind)
		}
		r.avatars[e.TokenID] = avatarV1(*e.Avatar)
	case lifecycle.EventSwitchToggled:
		switch e.Switch {
		case lifecycle.SwitchCreation:
			r.state.CreationEnabled = e.Enabled
		case lifecycle.SwitchRandomness:
			r.state.RandomnessEnabled = e.Enabled
		default:
			return false, fmt.Errorf("seq %d: unknown switch %q", e.Seq, e.Switch)
		}
	default:
		return false, fmt.Errorf("seq %d: unknown event kind %q", e.Seq, e.Kind)
	}
	r.seq = e.Seq
	return true, nil
}

// diff lists every difference between the replayed state and want.
// Admin and supply cap are not carried by events and are not compared.
func (r *replayer) diff(want snapshot.SnapshotV1) []string {
	var out []string
	if r.seq != want.Header.Seq {
		out = append(out, fmt.Sprintf("seq: replayed=%d snapshot=%d", r.seq, want.Header.Seq))
	}
	got := r.state
	if got.CreationEnabled != want.State.CreationEnabled ||
		got.RandomnessEnabled != want.State.RandomnessEnabled ||
		got.TotalCreated != want.State.TotalCreated ||
		got.NextTokenID != want.State.NextTokenID {
		out = append(out, fmt.Sprintf("state: replayed=%+v snapshot=%+v", got, want.State))
	}

	seen := map[uint64]bool{}
	for _, a := range want.Avatars {
		seen[a.TokenID] = true
		if have, ok := r.avatars[a.TokenID]; !ok {
			out = append(out, fmt.Sprintf("avatar %d: missing from replay", a.TokenID))
		} else if have != a {
			out = append(out, fmt.Sprintf("avatar %d: replayed=%+v snapshot=%+v", a.TokenID, have, a))
		}
	}
	for id := range r.avatars {
		if !seen[id] {
			out = append(out, fmt.Sprintf("avatar %d: not in snapshot", id))
		}
	}

	owners := map[uint64]string{}
	for _, h := range want.Holdings {
		owners[h.TokenID] = h.Owner
	}
	out = append(out, diffMaps("owner", r.owners, owners)...)

	pending := map[uint64]uint64{}
	for _, p := range want.Pending {
		pending[p.RequestID] = p.TokenID
	}
	out = append(out, diffMaps("request", r.pending, pending)...)

	sort.Strings(out)
	return out
}

func diffMaps[V comparable](label string, got, want map[uint64]V) []string {
	var out []string
	for k, w := range want {
		g, ok := got[k]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s %d: missing from replay", label, k))
		case g != w:
			out = append(out, fmt.Sprintf("%s %d: replayed=%v snapshot=%v", label, k, g, w))
		}
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			out = append(out, fmt.Sprintf("%s %d: not in snapshot", label, k))
		}
	}
	return out
}

func avatarV1(a avatar.Avatar) snapshot.AvatarV1 {
	return snapshot.AvatarV1{
		TokenID:        a.TokenID,
		Status:         uint8(a.Status),
		AvatarType:     a.AvatarType,
		Rank:           a.Rank,
		MintTime:       a.MintTime,
		RandomSeed:     a.RandomSeed,
		LastUpdateTime: a.LastUpdateTime,
		Chronosis:      a.Attributes.Chronosis,
		Echo:           a.Attributes.Echo,
		Convergence:    a.Attributes.Convergence,
	}
}
