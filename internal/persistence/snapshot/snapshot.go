package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	BookID  string `json:"book_id"`
	Seq     uint64 `json:"seq"`
	Time    int64  `json:"time"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	State        StateV1        `json:"state"`
	Decay        DecayV1        `json:"decay"`
	Subscription SubscriptionV1 `json:"subscription"`

	Avatars  []AvatarV1  `json:"avatars"`
	Holdings []HoldingV1 `json:"holdings"`
	Pending  []PendingV1 `json:"pending"`
}

type StateV1 struct {
	Admin             string `json:"admin"`
	CreationEnabled   bool   `json:"creation_enabled"`
	RandomnessEnabled bool   `json:"randomness_enabled"`
	TotalCreated      uint64 `json:"total_created"`
	NextTokenID       uint64 `json:"next_token_id"`
	SupplyCap         uint64 `json:"supply_cap"`
}

// DecayV1 records the parameters the attributes were computed with. A
// snapshot restored under different parameters would silently change every
// derived value, so loaders compare it against the running config.
type DecayV1 struct {
	Max                 int   `json:"max"`
	LinearBaseRate      int   `json:"linear_base_rate"`
	ExponentialBaseRate int   `json:"exponential_base_rate"`
	LowerPermille       int   `json:"lower_permille"`
	UpperPermille       int   `json:"upper_permille"`
	AbovePermille       int   `json:"above_permille"`
	BelowPermille       int   `json:"below_permille"`
	FollowerPermille    int   `json:"follower_permille"`
	MinuteSeconds       int64 `json:"minute_seconds"`
}

type SubscriptionV1 struct {
	SubscriptionID       uint64 `json:"subscription_id"`
	Coordinator          string `json:"coordinator"`
	KeyHash              string `json:"key_hash"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit"`
	RequestConfirmations uint16 `json:"request_confirmations"`
	NumWords             uint32 `json:"num_words"`
}

type AvatarV1 struct {
	TokenID        uint64   `json:"token_id"`
	Status         uint8    `json:"status"`
	AvatarType     uint8    `json:"avatar_type"`
	Rank           uint8    `json:"rank"`
	MintTime       int64    `json:"mint_time"`
	RandomSeed     [32]byte `json:"random_seed"`
	LastUpdateTime int64    `json:"last_update_time"`
	Chronosis      int      `json:"chronosis"`
	Echo           int      `json:"echo"`
	Convergence    int      `json:"convergence"`
}

type HoldingV1 struct {
	TokenID uint64 `json:"token_id"`
	Owner   string `json:"owner"`
}

type PendingV1 struct {
	RequestID uint64 `json:"request_id"`
	TokenID   uint64 `json:"token_id"`
}

// Validate checks the cross references between sections.
func (s SnapshotV1) Validate() error {
	if s.Header.Version != Version {
		return fmt.Errorf("snapshot: unsupported version %d", s.Header.Version)
	}
	if s.State.Admin == "" {
		return errors.New("snapshot: missing admin")
	}
	owned := make(map[uint64]bool, len(s.Holdings))
	for _, h := range s.Holdings {
		owned[h.TokenID] = true
	}
	pending := make(map[uint64]bool)
	for _, a := range s.Avatars {
		if !owned[a.TokenID] {
			return fmt.Errorf("snapshot: avatar %d has no holder", a.TokenID)
		}
		if a.Status == 2 {
			pending[a.TokenID] = true
		}
	}
	for _, p := range s.Pending {
		if !pending[p.TokenID] {
			return fmt.Errorf("snapshot: request %d points at token %d which is not pending", p.RequestID, p.TokenID)
		}
	}
	return nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// FileName is the canonical name for a snapshot taken at seq.
func FileName(seq uint64) string {
	return fmt.Sprintf("%020d.snap.zst", seq)
}

// Latest returns the snapshot in dir with the highest sequence, or "" when
// the directory holds none.
func Latest(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	type cand struct {
		seq  uint64
		name string
	}
	var cands []cand
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{seq: n, name: e.Name()})
	}
	if len(cands) == 0 {
		return "", nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].seq < cands[j].seq })
	return filepath.Join(dir, cands[len(cands)-1].name), nil
}
