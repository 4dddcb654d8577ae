package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

// IngestConfig configures the remote ingest backend, which posts batched
// book records to an HTTP endpoint owning its own read model.
type IngestConfig struct {
	Endpoint      string
	Token         string
	BookID        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
	flushFail    atomic.Uint64
}

type ingestRecord struct {
	Kind    string `json:"kind"`
	BookID  string `json:"book_id"`
	Payload any    `json:"payload"`
}

type ingestSnapshotPayload struct {
	Seq          uint64 `json:"seq"`
	Path         string `json:"path"`
	Time         int64  `json:"time"`
	Avatars      int    `json:"avatars"`
	Pending      int    `json:"pending"`
	TotalCreated uint64 `json:"total_created"`
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.BookID = strings.TrimSpace(cfg.BookID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.BookID == "" {
		return nil, fmt.Errorf("empty book id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestRecord, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		DropEventTotal:    d.dropEvent.Load(),
		DropSnapshotTotal: d.dropSnapshot.Load(),
		FlushFailTotal:    d.flushFail.Load(),
	}
}

func (d *IngestIndex) Emit(e lifecycle.Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if !d.enqueue(ingestRecord{Kind: "event", BookID: d.cfg.BookID, Payload: e}) {
		d.dropEvent.Add(1)
	}
}

func (d *IngestIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	p := ingestSnapshotPayload{
		Seq:          snap.Header.Seq,
		Path:         path,
		Time:         snap.Header.Time,
		Avatars:      len(snap.Avatars),
		Pending:      len(snap.Pending),
		TotalCreated: snap.State.TotalCreated,
	}
	if !d.enqueue(ingestRecord{Kind: "snapshot", BookID: d.cfg.BookID, Payload: p}) {
		d.dropSnapshot.Add(1)
	}
}

func (d *IngestIndex) enqueue(r ingestRecord) bool {
	select {
	case d.ch <- r:
		return true
	default:
		d.printf("ingest queue full; drop kind=%s book=%s", r.Kind, r.BookID)
		return false
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestRecord, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("ingest flush failed batch=%d err=%v", len(batch), err)
			// Keep the batch for the next tick unless it has grown unbounded.
			if len(batch) < 16*d.cfg.BatchSize {
				return
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(records []ingestRecord) error {
	body := struct {
		Records []ingestRecord `json:"records"`
	}{Records: records}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-aob-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
