package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte(`
admin: "0x00000000000000000000000000000000000000AD"
supply_cap: 0
decay:
  linear_base_rate: 25
vrf:
  coordinator: "0x000000000000000000000000000000000000C00D"
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Admin != "0x00000000000000000000000000000000000000AD" || got.SupplyCap != 0 {
		t.Fatalf("explicit keys not applied: %+v", got)
	}
	if got.Decay.LinearBaseRate != 25 || got.Decay.Max != 500 || got.Decay.MinuteSeconds != 60 {
		t.Fatalf("decay overlay wrong: %+v", got.Decay)
	}
	if got.VRF.Coordinator != "0x000000000000000000000000000000000000C00D" || got.VRF.SubscriptionID != 2796 || got.VRF.NumWords != 1 {
		t.Fatalf("vrf overlay wrong: %+v", got.VRF)
	}
	if got.FirstTokenID != 101 {
		t.Fatalf("expected default first token id, got %d", got.FirstTokenID)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("decay:\n  lower_band_permille: 700\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected inverted band to be rejected")
	}
	bad := filepath.Join(t.TempDir(), "bad_admin.yaml")
	if err := os.WriteFile(bad, []byte("admin: \"0xadmin\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); !errors.Is(err, ownership.ErrBadAddress) {
		t.Fatalf("expected malformed admin to be rejected, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestRepoTuningFileLoads(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load configs/tuning.yaml: %v", err)
	}
	if got.SupplyCap != 900 || got.VRF.Coordinator == "" {
		t.Fatalf("unexpected repo tuning: %+v", got)
	}
}
