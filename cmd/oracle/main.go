// Command oracle is a development randomness provider. It attaches to a book
// server as its coordinator and answers every RANDOM_REQUEST with fresh words.
package main

import (
	"crypto/rand"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

func main() {
	var (
		url         = flag.String("url", "ws://localhost:8080/v1/oracle/ws", "oracle ws url")
		name        = flag.String("name", "dev-oracle", "client name")
		coordinator = flag.String("coordinator", "", "coordinator address (must match the book's vrf.coordinator)")
		delay       = flag.Duration("delay", 0, "wait before fulfilling each request")
		retry       = flag.Duration("retry", 2*time.Second, "reconnect backoff; zero exits on disconnect")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[oracle] ", log.LstdFlags|log.Lmicroseconds)
	if strings.TrimSpace(*coordinator) == "" {
		logger.Fatalf("-coordinator is required")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		err := serve(*url, protocol.HelloMsg{
			Type:            protocol.TypeHello,
			ProtocolVersion: protocol.Version,
			Role:            protocol.RoleOracle,
			ClientName:      *name,
			Coordinator:     *coordinator,
			Auth:            &protocol.HelloAuth{Token: os.Getenv("AOB_ORACLE_TOKEN")},
		}, *delay, stop, logger)
		if err == nil || *retry <= 0 {
			return
		}
		logger.Printf("disconnected: %v; retrying in %s", err, *retry)
		select {
		case <-stop:
			return
		case <-time.After(*retry):
		}
	}
}

// serve runs one connection. It returns nil only when stopped by signal.
func serve(url string, hello protocol.HelloMsg, delay time.Duration, stop <-chan os.Signal, logger *log.Logger) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.WriteJSON(hello); err != nil {
		return err
	}

	out := make(chan protocol.FulfillMsg, 64)
	readErr := make(chan error, 1)
	go func() { readErr <- readLoop(conn, delay, out, logger) }()

	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			return err
		case f := <-out:
			if err := conn.WriteJSON(f); err != nil {
				return err
			}
		}
	}
}

func readLoop(conn *websocket.Conn, delay time.Duration, out chan<- protocol.FulfillMsg, logger *log.Logger) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME book=%s session=%s pending=%d", w.BookID, w.SessionID, w.Pending)

		case protocol.TypeRandomRequest:
			var req protocol.RandomRequestMsg
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			f, err := fulfillment(req)
			if err != nil {
				logger.Printf("request %d: %v", req.RequestID, err)
				continue
			}
			go func() {
				if delay > 0 {
					time.Sleep(delay)
				}
				out <- f
			}()

		case protocol.TypeFulfillAck:
			var ack protocol.FulfillAckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if ack.Accepted {
				logger.Printf("request %d rendered token %d", ack.RequestID, ack.TokenID)
			} else {
				logger.Printf("request %d rejected: %s %s", ack.RequestID, ack.Code, ack.Message)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

func fulfillment(req protocol.RandomRequestMsg) (protocol.FulfillMsg, error) {
	n := int(req.Subscription.NumWords)
	if n <= 0 {
		n = 1
	}
	words := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var w randomness.Word
		if _, err := rand.Read(w[:]); err != nil {
			return protocol.FulfillMsg{}, err
		}
		words = append(words, w.String())
	}
	return protocol.FulfillMsg{
		Type:            protocol.TypeFulfill,
		ProtocolVersion: protocol.Version,
		RequestID:       req.RequestID,
		RandomWords:     words,
	}, nil
}
