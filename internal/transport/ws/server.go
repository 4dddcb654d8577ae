package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
)

const (
	readTimeout = 60 * time.Second
	pingEvery   = 20 * time.Second
)

// Server upgrades oracle and observer connections.
type Server struct {
	oracle *OracleHub
	events *EventHub
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(oracle *OracleHub, events *EventHub, logger *log.Logger) *Server {
	return &Server{
		oracle: oracle,
		events: events,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// session is one upgraded connection after a successful HELLO.
type session struct {
	id    string
	hello protocol.HelloMsg
	conn  *websocket.Conn
	out   chan []byte
}

// OracleHandler serves /v1/oracle/ws.
func (s *Server) OracleHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.oracle == nil {
			http.Error(rw, "oracle link disabled", http.StatusNotFound)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn, protocol.RoleOracle, 1024)
		if sess == nil {
			return
		}
		if code, err := s.oracle.authorize(sess.hello); err != nil {
			writeError(conn, code, err.Error())
			closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Attach before listing pending requests so nothing issued in
		// between is missed. Live requests queue behind WELCOME.
		s.oracle.attach(sess)
		defer s.oracle.detach(sess)
		pending, err := s.oracle.pendingRequests(ctx)
		if err != nil {
			s.log.Printf("oracle %s: list pending: %v", sess.id, err)
		}
		welcome := s.welcome(sess)
		sub := s.oracle.subscription()
		welcome.Subscription = &sub
		welcome.Pending = len(pending)
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		done := s.pump(ctx, cancel, sess)
		s.oracle.replay(sess, pending)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeFulfill {
				continue
			}
			if err := protocol.Validate(protocol.TypeFulfill, msg); err != nil {
				var f protocol.FulfillMsg
				_ = json.Unmarshal(msg, &f)
				s.reply(sess, protocol.FulfillAckMsg{
					Type:            protocol.TypeFulfillAck,
					ProtocolVersion: protocol.Version,
					RequestID:       f.RequestID,
					Code:            protocol.ErrProtoBadRequest,
					Message:         err.Error(),
				})
				continue
			}
			var f protocol.FulfillMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			s.reply(sess, s.oracle.fulfill(ctx, sess, f))
		}
		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")
		waitWriter(done)
	}
}

// EventsHandler serves /v1/events/ws.
func (s *Server) EventsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.events == nil {
			http.Error(rw, "event stream disabled", http.StatusNotFound)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn, protocol.RoleObserver, s.events.queueSize)
		if sess == nil {
			return
		}
		if err := writeJSON(conn, s.welcome(sess)); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		done := s.pump(ctx, cancel, sess)

		s.events.subscribe(sess)
		defer s.events.unsubscribe(sess)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeEventBatchReq {
				continue
			}
			if err := protocol.Validate(protocol.TypeEventBatchReq, msg); err != nil {
				continue
			}
			var req protocol.EventBatchReqMsg
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			s.reply(sess, s.events.batch(req))
		}
		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")
		waitWriter(done)
	}
}

func (s *Server) handshake(conn *websocket.Conn, role string, queue int) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		writeError(conn, protocol.ErrProtoVersion, "want protocol_version "+protocol.Version)
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		writeError(conn, protocol.ErrProtoBadRequest, err.Error())
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.Role != role {
		writeError(conn, protocol.ErrProtoBadRequest, "role "+hello.Role+" not served here")
		closeWith(conn, websocket.ClosePolicyViolation, "wrong role")
		return nil
	}
	if queue <= 0 {
		queue = 64
	}
	return &session{
		id:    uuid.NewString(),
		hello: hello,
		conn:  conn,
		out:   make(chan []byte, queue),
	}
}

func (s *Server) welcome(sess *session) protocol.WelcomeMsg {
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Role:            sess.hello.Role,
	}
	if s.oracle != nil {
		w.BookID = s.oracle.bookID
	}
	if s.events != nil {
		w.BookID = s.events.bookID
		w.Seq = s.events.lastSeq()
	}
	return w
}

// pump runs the writer goroutine. The returned channel is closed when it exits.
func (s *Server) pump(ctx context.Context, cancel context.CancelFunc, sess *session) <-chan struct{} {
	done := make(chan struct{})
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go func() {
		defer close(done)
		ping := time.NewTicker(pingEvery)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					cancel()
					return
				}
			case b, ok := <-sess.out:
				if !ok {
					return
				}
				_ = sess.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := sess.conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	return done
}

func (s *Server) reply(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("marshal reply for %s: %v", sess.id, err)
		return
	}
	select {
	case sess.out <- b:
	default:
		s.log.Printf("session %s: send queue full, reply dropped", sess.id)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func writeError(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// waitWriter gives the writer a moment to stop so it doesn't outlive conn.
func waitWriter(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}
}
