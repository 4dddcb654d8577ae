package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/metrics"
	persistlog "github.com/daibi/Avatar-Oracle-Book/internal/persistence/log"
	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/book"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/tuning"
	"github.com/daibi/Avatar-Oracle-Book/internal/transport/httpapi"
	"github.com/daibi/Avatar-Oracle-Book/internal/transport/ws"
)

const mockCoordinatorAddress = "0x000000000000000000000000000000000000c00d"

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		adminAddr  = flag.String("admin", "", "admin address (overrides tuning)")
		disableDB  = flag.Bool("disable_db", false, "disable the read-model index")
		mockOracle = flag.Bool("mock_oracle", false, "fulfil randomness in-process instead of waiting for a websocket oracle")
		eventRing  = flag.Int("event_retain", 4096, "events kept in memory for observer catch-up")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if a := strings.TrimSpace(*adminAddr); a != "" {
		tune.Admin = a
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	var admin ownership.Address
	if tune.Admin != "" {
		admin, _ = ownership.ParseAddress(tune.Admin)
	}

	bookDir := filepath.Join(*dataDir, "books", tune.BookID)
	snapDir := filepath.Join(bookDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	// Metrics are wired after the book exists; callbacks only fire once serving.
	var mtr *metrics.Metrics

	var (
		oracle randomness.Oracle
		hub    *ws.OracleHub
		mock   *randomness.MockCoordinator
	)
	if *mockOracle {
		if tune.VRF.Coordinator == "" {
			tune.VRF.Coordinator = mockCoordinatorAddress
		}
		mock = randomness.NewMockCoordinator(tune.VRF.Coordinator)
		oracle = mock
		logger.Printf("mock oracle enabled (coordinator %s)", tune.VRF.Coordinator)
	} else {
		hub = ws.NewOracleHub(ws.OracleConfig{
			BookID:         tune.BookID,
			Subscription:   tune.VRF,
			Token:          strings.TrimSpace(os.Getenv("AOB_ORACLE_TOKEN")),
			RequestTimeout: tune.RequestTimeout(),
			MaxWords:       tune.Oracle.MaxWords,
			OnFulfill: func(code string) {
				if mtr != nil {
					mtr.ObserveFulfill(code)
				}
			},
		}, logger)
		oracle = hub
	}

	b, err := book.New(book.Config{
		ID:            tune.BookID,
		Admin:         admin,
		FirstTokenID:  tune.FirstTokenID,
		SupplyCap:     tune.SupplyCap,
		Decay:         tune.Decay,
		Subscription:  tune.VRF,
		SnapshotEvery: tune.SnapshotEvery(),
	}, oracle, logger)
	if err != nil {
		logger.Fatalf("book: %v", err)
	}
	if hub != nil {
		hub.Bind(b)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad, err = snapshot.Latest(snapDir)
		if err != nil {
			logger.Fatalf("find latest snapshot: %v", err)
		}
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.BookID != "" && snap.Header.BookID != tune.BookID {
			logger.Fatalf("snapshot book id mismatch: tuning=%s snap=%s", tune.BookID, snap.Header.BookID)
		}
		if err := b.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		floor := requestIDFloor(snap)
		if hub != nil {
			hub.SeedCounter(uint64(floor))
		}
		if mock != nil {
			mock.SeedCounter(floor)
		}
		logger.Printf("resumed from snapshot=%s seq=%d pending=%d", filepath.Base(snapshotToLoad), snap.Header.Seq, len(snap.Pending))
	}

	ctx, cancel := signalContext()
	defer cancel()

	idx, err := openRuntimeIndex(bookDir, tune.BookID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	eventLog := persistlog.NewEventLogger(bookDir, logger)
	defer eventLog.Close()

	events := ws.NewEventHub(tune.BookID, *eventRing, 256)
	gauges := metrics.Gauges{
		Seq:          func() float64 { return float64(b.Seq()) },
		TotalCreated: func() float64 { return float64(b.Stats().TotalCreated) },
		Pending:      func() float64 { return float64(b.Stats().Pending) },
		Observers:    func() float64 { return float64(events.Subscribers()) },
	}
	if hub != nil {
		gauges.OracleConnected = func() float64 {
			if hub.Connected() {
				return 1
			}
			return 0
		}
	}
	if idx != nil {
		gauges.IndexQueueDepth = func() float64 { return float64(idx.Stats().QueueDepth) }
		gauges.IndexDropped = func() float64 {
			st := idx.Stats()
			return float64(st.DropEventTotal + st.DropSnapshotTotal)
		}
	}
	mtr = metrics.New(tune.BookID, gauges)

	// The event log goes first: it is the durable history the other sinks derive from.
	b.AddSink(eventLog)
	if idx != nil {
		b.AddSink(idx)
	}
	b.AddSink(events)
	b.AddSink(mtr)

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	b.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(snapDir, snapshot.FileName(snap.Header.Seq))
				err := snapshot.WriteSnapshot(path, snap)
				mtr.ObserveSnapshot(err)
				if err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	bookDone := make(chan struct{})
	go func() {
		defer close(bookDone)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("book stopped: %v", err)
		}
	}()

	if mock != nil {
		mock.OnRequest(func(id randomness.RequestID) {
			// The hook runs on the book loop; deliver from another goroutine.
			go fulfillMock(ctx, mock, b, id, logger)
		})
		go drainPending(ctx, mock, b, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", mtr.Handler())

	enableAdminHTTP := envBool("AOB_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("AOB_ENABLE_PPROF_HTTP", false)
	api := httpapi.New(b, httpapi.Config{EnableAdmin: enableAdminHTTP, Timeout: tune.RequestTimeout()}, logger)
	apiMux := http.NewServeMux()
	api.Register(apiMux)
	instrumented := mtr.Instrument(apiMux)
	mux.Handle("/v1/", instrumented)
	if enableAdminHTTP {
		mux.Handle("/admin/", instrumented)
	} else {
		logger.Printf("admin endpoints disabled (AOB_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (AOB_ENABLE_PPROF_HTTP=false)")
	}

	wsSrv := ws.NewServer(hub, events, logger)
	if hub != nil {
		mux.HandleFunc("/v1/oracle/ws", wsSrv.OracleHandler())
	}
	mux.HandleFunc("/v1/events/ws", wsSrv.EventsHandler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("book %s listening on %s (admin=%s supply_cap=%d)", tune.BookID, *addr, tune.Admin, tune.SupplyCap)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-bookDone
	// Final snapshot so a restart resumes exactly here.
	if b.Seq() != b.Stats().LastSnapshot {
		snap := b.ExportSnapshot()
		path := filepath.Join(snapDir, snapshot.FileName(snap.Header.Seq))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("final snapshot: %v", err)
		} else {
			logger.Printf("final snapshot %s", filepath.Base(path))
		}
	}
}

// requestIDFloor returns an id no earlier request can exceed. Every issued
// request produced at least one event, so the event sequence bounds the ids.
func requestIDFloor(snap snapshot.SnapshotV1) randomness.RequestID {
	floor := randomness.RequestID(snap.Header.Seq)
	for _, p := range snap.Pending {
		if id := randomness.RequestID(p.RequestID); id > floor {
			floor = id
		}
	}
	return floor
}

func fulfillMock(ctx context.Context, mock *randomness.MockCoordinator, b *book.Book, id randomness.RequestID, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mock.FulfillRandomWords(ctx, id, b); err != nil {
		logger.Printf("mock oracle: request %d: %v", id, err)
	}
}

// drainPending fulfils requests restored from a snapshot.
func drainPending(ctx context.Context, mock *randomness.MockCoordinator, b *book.Book, logger *log.Logger) {
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	pending, err := b.PendingRequests(ctx2)
	cancel()
	if err != nil {
		logger.Printf("mock oracle: list pending: %v", err)
		return
	}
	for _, p := range pending {
		fulfillMock(ctx, mock, b, p.RequestID, logger)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
