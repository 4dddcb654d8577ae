package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	BookID       string `yaml:"book_id"`
	Admin        string `yaml:"admin"`
	FirstTokenID uint64 `yaml:"first_token_id"`
	// SupplyCap of zero means unlimited.
	SupplyCap uint64 `yaml:"supply_cap"`

	SnapshotEverySeconds int `yaml:"snapshot_every_seconds"`

	Decay decay.Params                  `yaml:"decay"`
	VRF   randomness.SubscriptionConfig `yaml:"vrf"`

	Oracle OracleLimits `yaml:"oracle"`
}

// OracleLimits bounds the websocket oracle link.
type OracleLimits struct {
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	MaxWords              int `yaml:"max_words"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:      "1.0",
		BookID:               "avatar-book",
		FirstTokenID:         101,
		SupplyCap:            900,
		SnapshotEverySeconds: 300,
		Decay:                decay.DefaultParams(),
		VRF: randomness.SubscriptionConfig{
			SubscriptionID:       2796,
			KeyHash:              "0x4b09e658ed251bcafeebbc69400383d49f344ace09b9576fe248bb02c003fe9f",
			CallbackGasLimit:     100000,
			RequestConfirmations: 3,
			NumWords:             1,
		},
		Oracle: OracleLimits{
			RequestTimeoutSeconds: 5,
			MaxWords:             8,
		},
	}
}

// Load reads path over Defaults. Keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.FirstTokenID == 0 {
		return errors.New("first_token_id must be positive")
	}
	if t.SnapshotEverySeconds < 0 {
		return errors.New("snapshot_every_seconds must not be negative")
	}
	if err := t.Decay.Validate(); err != nil {
		return fmt.Errorf("decay: %w", err)
	}
	if t.VRF.NumWords == 0 {
		return errors.New("vrf.num_words must be positive")
	}
	if t.Oracle.MaxWords > 0 && int(t.VRF.NumWords) > t.Oracle.MaxWords {
		return fmt.Errorf("vrf.num_words %d exceeds oracle.max_words %d", t.VRF.NumWords, t.Oracle.MaxWords)
	}
	if t.Admin != "" {
		if _, err := ownership.ParseAddress(t.Admin); err != nil {
			return fmt.Errorf("admin: %w", err)
		}
	}
	if t.VRF.Coordinator != "" {
		if _, err := ownership.ParseAddress(t.VRF.Coordinator); err != nil {
			return fmt.Errorf("vrf.coordinator: %w", err)
		}
	}
	return nil
}

func (t Tuning) SnapshotEvery() time.Duration {
	return time.Duration(t.SnapshotEverySeconds) * time.Second
}

func (t Tuning) RequestTimeout() time.Duration {
	if t.Oracle.RequestTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.Oracle.RequestTimeoutSeconds) * time.Second
}
