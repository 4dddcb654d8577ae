package book

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

var ErrStopped = errors.New("book: stopped")

type Config struct {
	ID           string
	Admin        ownership.Address
	FirstTokenID uint64
	SupplyCap    uint64
	Decay        decay.Params
	Subscription randomness.SubscriptionConfig

	// SnapshotEvery enables periodic snapshots to the sink. Zero disables them.
	SnapshotEvery time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Book is the authoritative avatar state. All mutations run on the goroutine
// executing Run; reads go straight to the registry.
type Book struct {
	cfg    Config
	log    *log.Logger
	oracle randomness.Oracle
	ledger *ownership.MemoryLedger
	reg    *avatar.Registry
	bind   *randomness.Binding
	mint   *lifecycle.Mint
	render *lifecycle.Render

	sinks        lifecycle.Fanout
	snapshotSink chan<- snapshot.SnapshotV1

	seq      atomic.Uint64
	lastSnap atomic.Uint64

	create    chan createReq
	fulfill   chan fulfillReq
	toggle    chan toggleReq
	transfer  chan transferReq
	settle    chan settleReq
	pending   chan pendingReq
	snapshots chan snapshotReq
	stop      chan struct{}
}

func New(cfg Config, oracle randomness.Oracle, logger *log.Logger) (*Book, error) {
	if cfg.ID == "" {
		cfg.ID = "book"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ledger := ownership.NewMemoryLedger()
	reg, err := avatar.NewRegistry(avatar.Config{
		Admin:        cfg.Admin,
		FirstTokenID: cfg.FirstTokenID,
		SupplyCap:    cfg.SupplyCap,
		Decay:        cfg.Decay,
	}, ledger)
	if err != nil {
		return nil, err
	}
	b := &Book{
		cfg:       cfg,
		log:       logger,
		oracle:    oracle,
		ledger:    ledger,
		reg:       reg,
		bind:      randomness.NewBinding(cfg.Subscription, oracle),
		create:    make(chan createReq, 64),
		fulfill:   make(chan fulfillReq, 64),
		toggle:    make(chan toggleReq, 8),
		transfer:  make(chan transferReq, 64),
		settle:    make(chan settleReq, 64),
		pending:   make(chan pendingReq, 8),
		snapshots: make(chan snapshotReq, 8),
		stop:      make(chan struct{}),
	}
	emit := lifecycle.SinkFunc(b.emit)
	b.mint = lifecycle.NewMint(reg, b.bind, emit)
	b.render = lifecycle.NewRender(reg, b.bind, emit)
	return b, nil
}

// AddSink registers an event consumer. Call before Run.
func (b *Book) AddSink(s lifecycle.Sink) { b.sinks = append(b.sinks, s) }

func (b *Book) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { b.snapshotSink = ch }

func (b *Book) ID() string { return b.cfg.ID }

func (b *Book) Stop() { close(b.stop) }

func (b *Book) now() int64 { return b.cfg.Clock().Unix() }

// emit stamps the sequence number. It only runs on the loop goroutine.
func (b *Book) emit(e lifecycle.Event) {
	e.Seq = b.seq.Add(1)
	b.sinks.Emit(e)
}

// Seq is the sequence number of the last emitted event.
func (b *Book) Seq() uint64 { return b.seq.Load() }

func (b *Book) Params() decay.Params { return b.reg.Params() }

func (b *Book) Subscription() randomness.SubscriptionConfig { return b.bind.Config() }

func (b *Book) View(tokenID uint64) (avatar.View, error) {
	return b.reg.GetByTokenID(tokenID, b.now())
}

func (b *Book) Attributes(tokenID uint64) (decay.Attributes, error) {
	return b.reg.CurrentAttributes(tokenID, b.now())
}

func (b *Book) BalanceOf(owner ownership.Address) uint64 { return b.reg.BalanceOf(owner) }

func (b *Book) OwnerOf(tokenID uint64) (ownership.Address, error) { return b.reg.OwnerOf(tokenID) }

type Stats struct {
	avatar.State
	Pending      int    `json:"pending_requests"`
	Seq          uint64 `json:"seq"`
	LastSnapshot uint64 `json:"last_snapshot_seq"`
}

func (b *Book) Stats() Stats {
	return Stats{
		State:        b.reg.State(),
		Pending:      b.bind.Len(),
		Seq:          b.seq.Load(),
		LastSnapshot: b.lastSnap.Load(),
	}
}

// ExportSnapshot captures the full state. Call only from the loop goroutine
// or while the loop is not running.
func (b *Book) ExportSnapshot() snapshot.SnapshotV1 {
	st, avatars := b.reg.Export()
	p := b.reg.Params()
	sub := b.bind.Config()
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			BookID:  b.cfg.ID,
			Seq:     b.seq.Load(),
			Time:    b.now(),
		},
		State: snapshot.StateV1{
			Admin:             string(st.Admin),
			CreationEnabled:   st.CreationEnabled,
			RandomnessEnabled: st.RandomnessEnabled,
			TotalCreated:      st.TotalCreated,
			NextTokenID:       st.NextTokenID,
			SupplyCap:         st.SupplyCap,
		},
		Decay: decayV1(p),
		Subscription: snapshot.SubscriptionV1{
			SubscriptionID:       sub.SubscriptionID,
			Coordinator:          sub.Coordinator,
			KeyHash:              sub.KeyHash,
			CallbackGasLimit:     sub.CallbackGasLimit,
			RequestConfirmations: sub.RequestConfirmations,
			NumWords:             sub.NumWords,
		},
	}
	for _, a := range avatars {
		s.Avatars = append(s.Avatars, snapshot.AvatarV1{
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
		})
	}
	for _, h := range b.ledger.Export() {
		s.Holdings = append(s.Holdings, snapshot.HoldingV1{TokenID: h.TokenID, Owner: string(h.Owner)})
	}
	for _, p := range b.bind.Pending() {
		s.Pending = append(s.Pending, snapshot.PendingV1{RequestID: uint64(p.RequestID), TokenID: p.TokenID})
	}
	return s
}

// ImportSnapshot replaces the in-memory state. It must be called before Run.
// The running decay parameters must match the ones the snapshot was taken with;
// admin and supply cap come from the running config.
func (b *Book) ImportSnapshot(s snapshot.SnapshotV1) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Decay != decayV1(b.reg.Params()) {
		return fmt.Errorf("book: snapshot decay params %+v differ from configured %+v", s.Decay, decayV1(b.reg.Params()))
	}
	st := avatar.State{
		Admin:             b.cfg.Admin,
		CreationEnabled:   s.State.CreationEnabled,
		RandomnessEnabled: s.State.RandomnessEnabled,
		TotalCreated:      s.State.TotalCreated,
		NextTokenID:       s.State.NextTokenID,
		SupplyCap:         b.cfg.SupplyCap,
	}
	avatars := make([]avatar.Avatar, 0, len(s.Avatars))
	for _, a := range s.Avatars {
		avatars = append(avatars, avatar.Avatar{
			TokenID:        a.TokenID,
			Status:         avatar.Status(a.Status),
			AvatarType:     a.AvatarType,
			Rank:           a.Rank,
			MintTime:       a.MintTime,
			RandomSeed:     randomness.Word(a.RandomSeed),
			LastUpdateTime: a.LastUpdateTime,
			Attributes: decay.Attributes{
				Chronosis:   a.Chronosis,
				Echo:        a.Echo,
				Convergence: a.Convergence,
			},
		})
	}
	holdings := make([]ownership.Holding, 0, len(s.Holdings))
	for _, h := range s.Holdings {
		owner, err := ownership.ParseAddress(h.Owner)
		if err != nil {
			return fmt.Errorf("holding %d: %w", h.TokenID, err)
		}
		holdings = append(holdings, ownership.Holding{TokenID: h.TokenID, Owner: owner})
	}
	if err := b.reg.Import(st, avatars); err != nil {
		return err
	}
	if err := b.ledger.Import(holdings); err != nil {
		return err
	}
	bind := randomness.NewBinding(b.bind.Config(), b.oracle)
	for _, p := range s.Pending {
		if err := bind.Restore(randomness.RequestID(p.RequestID), p.TokenID); err != nil {
			return err
		}
	}
	b.bind = bind
	emit := lifecycle.SinkFunc(b.emit)
	b.mint = lifecycle.NewMint(b.reg, bind, emit)
	b.render = lifecycle.NewRender(b.reg, bind, emit)
	b.seq.Store(s.Header.Seq)
	b.lastSnap.Store(s.Header.Seq)
	return nil
}

func decayV1(p decay.Params) snapshot.DecayV1 {
	return snapshot.DecayV1{
		Max:                 p.Max,
		LinearBaseRate:      p.LinearBaseRate,
		ExponentialBaseRate: p.ExponentialBaseRate,
		LowerPermille:       p.LowerBandPermille,
		UpperPermille:       p.UpperBandPermille,
		AbovePermille:       p.AboveBandPermille,
		BelowPermille:       p.BelowBandPermille,
		FollowerPermille:    p.FollowerPermille,
		MinuteSeconds:       p.MinuteSeconds,
	}
}
