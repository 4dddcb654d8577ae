package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
	"github.com/daibi/Avatar-Oracle-Book/internal/transport/codes"
)

// Book is the part of the book the oracle link drives.
type Book interface {
	Fulfill(ctx context.Context, caller ownership.Address, id randomness.RequestID, words []randomness.Word) (lifecycle.Rendered, error)
	PendingRequests(ctx context.Context) ([]randomness.Pending, error)
}

type OracleConfig struct {
	BookID       string
	Subscription randomness.SubscriptionConfig
	// Token, when set, must match HELLO auth.token.
	Token          string
	RequestTimeout time.Duration
	// MaxWords caps random_words per FULFILL; zero means no cap.
	MaxWords int
	// OnFulfill observes every FULFILL outcome by code ("" on success).
	OnFulfill func(code string)
}

// OracleHub is a randomness.Oracle backed by a single connected oracle
// process. Requests issued while no oracle is attached stay pending in the
// book and are replayed when one connects.
type OracleHub struct {
	bookID   string
	cfg      randomness.SubscriptionConfig
	token    string
	timeout  time.Duration
	maxWords int
	log      *log.Logger
	observe  func(code string)

	book    Book
	counter atomic.Uint64

	mu     sync.Mutex
	active *session
}

func NewOracleHub(cfg OracleConfig, logger *log.Logger) *OracleHub {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &OracleHub{
		bookID:   cfg.BookID,
		cfg:      cfg.Subscription,
		token:    cfg.Token,
		timeout:  cfg.RequestTimeout,
		maxWords: cfg.MaxWords,
		log:      logger,
		observe:  cfg.OnFulfill,
	}
}

// Bind attaches the book. Call once before serving connections.
func (h *OracleHub) Bind(b Book) { h.book = b }

// SeedCounter makes future request ids start above n.
func (h *OracleHub) SeedCounter(n uint64) {
	for {
		cur := h.counter.Load()
		if cur >= n || h.counter.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (h *OracleHub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active != nil
}

// RequestRandomWords runs on the book loop and never blocks on the socket.
func (h *OracleHub) RequestRandomWords(ctx context.Context, cfg randomness.SubscriptionConfig) (randomness.RequestID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := randomness.RequestID(h.counter.Add(1))
	b, err := json.Marshal(protocol.RandomRequestMsg{
		Type:            protocol.TypeRandomRequest,
		ProtocolVersion: protocol.Version,
		RequestID:       uint64(id),
		Subscription:    toProto(cfg),
	})
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	sess := h.active
	h.mu.Unlock()
	if sess == nil {
		h.log.Printf("oracle: request %d queued, no oracle attached", id)
		return id, nil
	}
	select {
	case sess.out <- b:
	default:
		h.log.Printf("oracle %s: send queue full, request %d waits for reconnect", sess.id, id)
	}
	return id, nil
}

func (h *OracleHub) subscription() protocol.Subscription { return toProto(h.cfg) }

func (h *OracleHub) authorize(hello protocol.HelloMsg) (string, error) {
	if h.token != "" {
		got := ""
		if hello.Auth != nil {
			got = hello.Auth.Token
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			return protocol.ErrNoPermission, errors.New("bad oracle token")
		}
	}
	got, err := ownership.ParseAddress(hello.Coordinator)
	if err != nil {
		return protocol.ErrBadRequest, fmt.Errorf("hello coordinator: %w", err)
	}
	want, err := ownership.ParseAddress(h.cfg.Coordinator)
	if err != nil || got != want {
		return protocol.ErrNoPermission, fmt.Errorf("coordinator %s is not the configured one", hello.Coordinator)
	}
	if h.book == nil {
		return protocol.ErrBusy, errors.New("book not bound")
	}
	return "", nil
}

// attach makes sess the active oracle, replacing any previous one.
func (h *OracleHub) attach(sess *session) {
	h.mu.Lock()
	prev := h.active
	h.active = sess
	h.mu.Unlock()
	if prev != nil {
		h.log.Printf("oracle %s replaced by %s", prev.id, sess.id)
		closeWith(prev.conn, 4000, "replaced")
	}
	h.log.Printf("oracle %s attached (%s)", sess.id, sess.hello.ClientName)
}

func (h *OracleHub) detach(sess *session) {
	h.mu.Lock()
	if h.active == sess {
		h.active = nil
	}
	h.mu.Unlock()
}

func (h *OracleHub) pendingRequests(ctx context.Context) ([]randomness.Pending, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.book.PendingRequests(ctx)
}

// replay re-sends every outstanding request to a freshly attached oracle.
func (h *OracleHub) replay(sess *session, pending []randomness.Pending) {
	sub := toProto(h.cfg)
	for _, p := range pending {
		b, err := json.Marshal(protocol.RandomRequestMsg{
			Type:            protocol.TypeRandomRequest,
			ProtocolVersion: protocol.Version,
			RequestID:       uint64(p.RequestID),
			Subscription:    sub,
			Replay:          true,
		})
		if err != nil {
			continue
		}
		select {
		case sess.out <- b:
		default:
			h.log.Printf("oracle %s: replay truncated at request %d", sess.id, p.RequestID)
			return
		}
	}
}

func (h *OracleHub) fulfill(ctx context.Context, sess *session, f protocol.FulfillMsg) protocol.FulfillAckMsg {
	ack := protocol.FulfillAckMsg{
		Type:            protocol.TypeFulfillAck,
		ProtocolVersion: protocol.Version,
		RequestID:       f.RequestID,
	}
	if h.maxWords > 0 && len(f.RandomWords) > h.maxWords {
		ack.Code = protocol.ErrBadRequest
		ack.Message = fmt.Sprintf("%d random words exceeds limit %d", len(f.RandomWords), h.maxWords)
		h.record(ack.Code)
		return ack
	}
	words := make([]randomness.Word, 0, len(f.RandomWords))
	for _, s := range f.RandomWords {
		w, err := randomness.ParseWord(s)
		if err != nil {
			ack.Code = protocol.ErrBadRequest
			ack.Message = err.Error()
			h.record(ack.Code)
			return ack
		}
		words = append(words, w)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	caller, err := ownership.ParseAddress(sess.hello.Coordinator)
	if err != nil {
		ack.Code = protocol.ErrBadRequest
		ack.Message = err.Error()
		h.record(ack.Code)
		return ack
	}
	r, err := h.book.Fulfill(ctx, caller, randomness.RequestID(f.RequestID), words)
	if err != nil {
		ack.Code = codes.Of(err)
		ack.Message = err.Error()
		h.record(ack.Code)
		return ack
	}
	ack.Accepted = true
	ack.TokenID = r.TokenID
	h.record("")
	return ack
}

func (h *OracleHub) record(code string) {
	if h.observe != nil {
		h.observe(code)
	}
}

func toProto(c randomness.SubscriptionConfig) protocol.Subscription {
	return protocol.Subscription{
		SubscriptionID:       c.SubscriptionID,
		Coordinator:          c.Coordinator,
		KeyHash:              c.KeyHash,
		CallbackGasLimit:     c.CallbackGasLimit,
		RequestConfirmations: c.RequestConfirmations,
		NumWords:             c.NumWords,
	}
}
