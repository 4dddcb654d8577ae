package avatar

import (
	"errors"
	"fmt"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

var (
	ErrInvalidBeneficiary    = errors.New("avatar: mint to zero address")
	ErrCreationDisabled      = errors.New("avatar: avatar mint is not started")
	ErrRandomnessUnavailable = errors.New("avatar: randomness is not initialized")
	ErrExhausted             = errors.New("avatar: out of avatars")
	ErrNotAuthorized         = errors.New("avatar: caller is not authorized")
	ErrNotFound              = errors.New("avatar: avatar not exist")
	ErrNotRendered           = errors.New("avatar: avatar not rendered yet")
	ErrAlreadyRendered       = errors.New("avatar: avatar already rendered")
)

// TypeCount is the number of avatar categories; types are 1..TypeCount.
const TypeCount = 12

// Status tags the lifecycle phase of an avatar. The numeric values are
// persisted in snapshots and the index.
type Status uint8

const (
	StatusNone     Status = 0
	StatusRendered Status = 1
	StatusPending  Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusRendered:
		return "RENDERED"
	case StatusPending:
		return "PENDING"
	case StatusNone:
		return "NONE"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Avatar is the stored record. Attributes and LastUpdateTime form the
// snapshot that reads decay from; reads never write them back.
type Avatar struct {
	TokenID        uint64           `json:"token_id"`
	Status         Status           `json:"status"`
	AvatarType     uint8            `json:"avatar_type"`
	Rank           uint8            `json:"rank"`
	MintTime       int64            `json:"mint_time"`
	RandomSeed     randomness.Word  `json:"random_seed"`
	LastUpdateTime int64            `json:"last_update_time"`
	Attributes     decay.Attributes `json:"attributes"`
}

func (a Avatar) Rendered() bool { return a.Status == StatusRendered }

func (a Avatar) validate() error {
	switch a.Status {
	case StatusPending:
		if a.AvatarType != 0 || a.Rank != 0 || a.Attributes != (decay.Attributes{}) || !a.RandomSeed.IsZero() {
			return fmt.Errorf("avatar %d: pending record carries rendered fields", a.TokenID)
		}
	case StatusRendered:
		if a.LastUpdateTime <= 0 {
			return fmt.Errorf("avatar %d: rendered without last update time", a.TokenID)
		}
		if a.AvatarType < 1 || a.AvatarType > TypeCount || a.Rank < 1 {
			return fmt.Errorf("avatar %d: bad type/rank %d/%d", a.TokenID, a.AvatarType, a.Rank)
		}
	default:
		return fmt.Errorf("avatar %d: bad status %d", a.TokenID, a.Status)
	}
	return nil
}

// View is what queries return: stored fixed fields plus live attributes.
type View struct {
	TokenID        uint64            `json:"token_id"`
	Owner          ownership.Address `json:"owner"`
	Status         Status            `json:"status"`
	AvatarType     uint8             `json:"avatar_type"`
	Rank           uint8             `json:"rank"`
	MintTime       int64             `json:"mint_time"`
	RandomSeed     randomness.Word   `json:"random_seed"`
	LastUpdateTime int64             `json:"last_update_time"`
	decay.Attributes
}

// State holds the global switches and counters. The registry owns it.
type State struct {
	Admin             ownership.Address `json:"admin"`
	CreationEnabled   bool              `json:"creation_enabled"`
	RandomnessEnabled bool              `json:"randomness_enabled"`
	TotalCreated      uint64            `json:"total_created"`
	NextTokenID       uint64            `json:"next_token_id"`
	SupplyCap         uint64            `json:"supply_cap"`
}

// Exhausted reports whether the supply ceiling is reached. A zero cap is unlimited.
func (s State) Exhausted() bool {
	return s.SupplyCap > 0 && s.TotalCreated >= s.SupplyCap
}
