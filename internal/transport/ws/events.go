package ws

import (
	"encoding/json"
	"sync"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

type retained struct {
	cursor uint64
	raw    json.RawMessage
}

// EventHub fans book events out to observers and keeps the most recent
// ones for EVENT_BATCH_REQ catch-up. It is a lifecycle.Sink.
type EventHub struct {
	bookID    string
	retain    int
	queueSize int

	mu   sync.Mutex
	ring []retained
	last uint64
	subs map[*session]struct{}
}

func NewEventHub(bookID string, retain, queueSize int) *EventHub {
	if retain <= 0 {
		retain = 1024
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventHub{
		bookID:    bookID,
		retain:    retain,
		queueSize: queueSize,
		subs:      map[*session]struct{}{},
	}
}

// Emit runs on the book loop; slow observers lose their oldest queued frame.
func (h *EventHub) Emit(e lifecycle.Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	frame, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Event:           raw,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring = append(h.ring, retained{cursor: e.Seq, raw: raw})
	if len(h.ring) > h.retain {
		n := copy(h.ring, h.ring[len(h.ring)-h.retain:])
		h.ring = h.ring[:n]
	}
	h.last = e.Seq
	for s := range h.subs {
		sendLatest(s.out, frame)
	}
}

func (h *EventHub) lastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) subscribe(s *session) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unsubscribe(s *session) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *EventHub) batch(req protocol.EventBatchReqMsg) protocol.EventBatchMsg {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	resp := protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Events:          []protocol.EventBatchItem{},
		NextCursor:      req.SinceCursor,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) > 0 && h.ring[0].cursor > req.SinceCursor+1 {
		resp.Truncated = true
	}
	for _, r := range h.ring {
		if r.cursor <= req.SinceCursor {
			continue
		}
		if len(resp.Events) == limit {
			break
		}
		resp.Events = append(resp.Events, protocol.EventBatchItem{Cursor: r.cursor, Event: r.raw})
		resp.NextCursor = r.cursor
	}
	return resp
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
