// Package httpapi serves the book's query, mutation and admin endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/book"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
	"github.com/daibi/Avatar-Oracle-Book/internal/transport/codes"
)

// CallerHeader carries the acting address on mutating requests.
const CallerHeader = "X-Caller"

// Book is the subset of *book.Book the HTTP surface uses.
type Book interface {
	ID() string
	View(tokenID uint64) (avatar.View, error)
	Attributes(tokenID uint64) (decay.Attributes, error)
	BalanceOf(owner ownership.Address) uint64
	Stats() book.Stats
	Params() decay.Params
	Subscription() randomness.SubscriptionConfig

	RequestCreate(ctx context.Context, beneficiary ownership.Address) (lifecycle.Created, error)
	Transfer(ctx context.Context, from, to ownership.Address, tokenID uint64) error
	Settle(ctx context.Context, caller ownership.Address, tokenID uint64) (avatar.Avatar, error)
	ToggleCreation(ctx context.Context, caller ownership.Address) (bool, error)
	ToggleRandomness(ctx context.Context, caller ownership.Address) (bool, error)
	RequestSnapshot(ctx context.Context) (uint64, error)
}

type Config struct {
	// EnableAdmin mounts /admin/v1/*. Admin endpoints only answer loopback clients.
	EnableAdmin bool
	// Timeout bounds how long a mutation waits for the book loop.
	Timeout time.Duration
}

type API struct {
	book Book
	cfg  Config
	log  *log.Logger
}

func New(b Book, cfg Config, logger *log.Logger) *API {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &API{book: b, cfg: cfg, log: logger}
}

// Register mounts the routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/avatars/{id}", a.getAvatar)
	mux.HandleFunc("GET /v1/avatars/{id}/attributes", a.getAttributes)
	mux.HandleFunc("GET /v1/owners/{address}/balance", a.getBalance)
	mux.HandleFunc("GET /v1/stats", a.getStats)
	mux.HandleFunc("GET /v1/vrf/config", a.getVRFConfig)
	mux.HandleFunc("POST /v1/avatars", a.postAvatar)
	mux.HandleFunc("POST /v1/avatars/{id}/transfer", a.postTransfer)
	mux.HandleFunc("POST /v1/avatars/{id}/settle", a.postSettle)

	if !a.cfg.EnableAdmin {
		return
	}
	mux.HandleFunc("POST /admin/v1/creation/toggle", a.loopbackOnly(a.postToggle(lifecycle.SwitchCreation)))
	mux.HandleFunc("POST /admin/v1/randomness/toggle", a.loopbackOnly(a.postToggle(lifecycle.SwitchRandomness)))
	mux.HandleFunc("POST /admin/v1/snapshot", a.loopbackOnly(a.postSnapshot))
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createBody struct {
	Beneficiary string `json:"beneficiary"`
}

type transferBody struct {
	To string `json:"to"`
}

type vrfConfigBody struct {
	BookID string `json:"book_id"`
	randomness.SubscriptionConfig
	Decay decay.Params `json:"decay"`
}

type toggleBody struct {
	Switch  string `json:"switch"`
	Enabled bool   `json:"enabled"`
}

func (a *API) getAvatar(rw http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(rw, r)
	if !ok {
		return
	}
	v, err := a.book.View(id)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (a *API) getAttributes(rw http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(rw, r)
	if !ok {
		return
	}
	attrs, err := a.book.Attributes(id)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, attrs)
}

func (a *API) getBalance(rw http.ResponseWriter, r *http.Request) {
	owner, ok := address(rw, r.PathValue("address"), "address")
	if !ok {
		return
	}
	if owner.IsZero() {
		writeCode(rw, protocol.ErrBadRequest, "zero address")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"owner": owner, "balance": a.book.BalanceOf(owner)})
}

func (a *API) getStats(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, a.book.Stats())
}

func (a *API) getVRFConfig(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, vrfConfigBody{
		BookID:             a.book.ID(),
		SubscriptionConfig: a.book.Subscription(),
		Decay:              a.book.Params(),
	})
}

func (a *API) postAvatar(rw http.ResponseWriter, r *http.Request) {
	var body createBody
	if !decode(rw, r, &body) {
		return
	}
	// Mint to the caller when no beneficiary is named.
	raw, what := body.Beneficiary, "beneficiary"
	if strings.TrimSpace(raw) == "" {
		raw, what = r.Header.Get(CallerHeader), CallerHeader
	}
	var beneficiary ownership.Address
	if strings.TrimSpace(raw) != "" {
		parsed, ok := address(rw, raw, what)
		if !ok {
			return
		}
		beneficiary = parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Timeout)
	defer cancel()
	c, err := a.book.RequestCreate(ctx, beneficiary)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusAccepted, c)
}

func (a *API) postTransfer(rw http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(rw, r)
	if !ok {
		return
	}
	from, ok := requireCaller(rw, r)
	if !ok {
		return
	}
	var body transferBody
	if !decode(rw, r, &body) {
		return
	}
	to, ok := address(rw, body.To, "to")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Timeout)
	defer cancel()
	if err := a.book.Transfer(ctx, from, to, id); err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"token_id": id, "from": from, "to": to})
}

func (a *API) postSettle(rw http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(rw, r)
	if !ok {
		return
	}
	who, ok := requireCaller(rw, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Timeout)
	defer cancel()
	av, err := a.book.Settle(ctx, who, id)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, av)
}

func (a *API) postToggle(which string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		who, ok := requireCaller(rw, r)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Timeout)
		defer cancel()
		var (
			on  bool
			err error
		)
		if which == lifecycle.SwitchCreation {
			on, err = a.book.ToggleCreation(ctx, who)
		} else {
			on, err = a.book.ToggleRandomness(ctx, who)
		}
		if err != nil {
			writeErr(rw, err)
			return
		}
		a.log.Printf("admin: %s switch -> %v (by %s)", which, on, who)
		writeJSON(rw, http.StatusOK, toggleBody{Switch: which, Enabled: on})
	}
}

func (a *API) postSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Timeout)
	defer cancel()
	seq, err := a.book.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "seq": seq, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "seq": seq})
}

func (a *API) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			writeCode(rw, protocol.ErrNoPermission, "admin endpoints are loopback only")
			return
		}
		h(rw, r)
	}
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func tokenID(rw http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeCode(rw, protocol.ErrBadRequest, "bad token id")
		return 0, false
	}
	return id, true
}

// address parses raw and answers E_BAD_REQUEST when it is malformed.
func address(rw http.ResponseWriter, raw, what string) (ownership.Address, bool) {
	a, err := ownership.ParseAddress(raw)
	if err != nil {
		writeCode(rw, protocol.ErrBadRequest, what+": "+err.Error())
		return "", false
	}
	return a, true
}

func requireCaller(rw http.ResponseWriter, r *http.Request) (ownership.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if strings.TrimSpace(raw) == "" {
		writeCode(rw, protocol.ErrBadRequest, "missing "+CallerHeader+" header")
		return "", false
	}
	c, ok := address(rw, raw, CallerHeader)
	if !ok {
		return "", false
	}
	if c.IsZero() {
		writeCode(rw, protocol.ErrBadRequest, "zero "+CallerHeader+" header")
		return "", false
	}
	return c, true
}

func decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeCode(rw, protocol.ErrBadRequest, "bad json: "+err.Error())
		return false
	}
	return true
}

func writeErr(rw http.ResponseWriter, err error) {
	writeCode(rw, codes.Of(err), err.Error())
}

func writeCode(rw http.ResponseWriter, code, msg string) {
	writeJSON(rw, codes.HTTPStatus(code), errorBody{Code: code, Message: msg})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
