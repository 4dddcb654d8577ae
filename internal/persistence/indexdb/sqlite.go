package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

const schemaVersion = "1"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
	flushFail    atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	event    lifecycle.Event
	snapshot snapshotRow
}

type snapshotRow struct {
	Seq        uint64
	Path       string
	Time       int64
	Avatars    int
	Pending    int
	Created    uint64
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only event table; NORMAL is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			time INTEGER NOT NULL,
			token_id INTEGER,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_token_seq ON events(token_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_seq ON events(kind, seq);`,
		`CREATE TABLE IF NOT EXISTS avatars (
			token_id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			status INTEGER NOT NULL,
			avatar_type INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			mint_time INTEGER NOT NULL,
			random_seed TEXT NOT NULL,
			last_update_time INTEGER NOT NULL,
			chronosis INTEGER NOT NULL,
			echo INTEGER NOT NULL,
			convergence INTEGER NOT NULL,
			updated_seq INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_avatars_owner ON avatars(owner);`,
		`CREATE TABLE IF NOT EXISTS requests (
			request_id INTEGER PRIMARY KEY,
			token_id INTEGER NOT NULL,
			requested_at INTEGER NOT NULL,
			fulfilled_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			time INTEGER NOT NULL,
			avatars INTEGER NOT NULL,
			pending INTEGER NOT NULL,
			total_created INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		FlushFailTotal:    s.flushFail.Load(),
	}
}

// Emit is called on the book loop.
func (s *SQLiteIndex) Emit(e lifecycle.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		// Drop if the indexer falls behind; the JSONL event log remains the source of truth.
		s.dropEvent.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Seq:        snap.Header.Seq,
		Path:       path,
		Time:       snap.Header.Time,
		Avatars:    len(snap.Avatars),
		Pending:    len(snap.Pending),
		Created:    snap.State.TotalCreated,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.flushFail.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.flushFail.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.flushFail.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqEvent:
			err = applyEvent(tx, r.event)
		case reqSnapshot:
			err = applySnapshot(tx, r.snapshot)
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func applyEvent(tx *sql.Tx, e lifecycle.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var tokenID any
	if e.TokenID != 0 {
		tokenID = int64(e.TokenID)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO events(seq,kind,time,token_id,raw_json) VALUES(?,?,?,?,?)`,
		int64(e.Seq), string(e.Kind), e.Time, tokenID, string(raw)); err != nil {
		return err
	}

	switch e.Kind {
	case lifecycle.EventTransfer:
		_, err = tx.Exec(`INSERT INTO avatars(token_id,owner,status,avatar_type,rank,mint_time,random_seed,last_update_time,chronosis,echo,convergence,updated_seq)
			VALUES(?,?,0,0,0,0,'',0,0,0,0,?)
			ON CONFLICT(token_id) DO UPDATE SET owner=excluded.owner, updated_seq=excluded.updated_seq`,
			int64(e.TokenID), e.To.String(), int64(e.Seq))
		return err
	case lifecycle.EventAvatarCreated, lifecycle.EventAvatarRendered, lifecycle.EventAvatarSettled:
		if e.Avatar == nil {
			return errors.New("indexdb: avatar event without record")
		}
		a := e.Avatar
		if _, err := tx.Exec(`INSERT INTO avatars(token_id,owner,status,avatar_type,rank,mint_time,random_seed,last_update_time,chronosis,echo,convergence,updated_seq)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(token_id) DO UPDATE SET
				owner=excluded.owner, status=excluded.status, avatar_type=excluded.avatar_type, rank=excluded.rank,
				mint_time=excluded.mint_time, random_seed=excluded.random_seed, last_update_time=excluded.last_update_time,
				chronosis=excluded.chronosis, echo=excluded.echo, convergence=excluded.convergence, updated_seq=excluded.updated_seq`,
			int64(a.TokenID), e.Owner.String(), int(a.Status), int(a.AvatarType), int(a.Rank), a.MintTime,
			seedText(a), a.LastUpdateTime, a.Attributes.Chronosis, a.Attributes.Echo, a.Attributes.Convergence, int64(e.Seq)); err != nil {
			return err
		}
		switch e.Kind {
		case lifecycle.EventAvatarCreated:
			_, err = tx.Exec(`INSERT OR REPLACE INTO requests(request_id,token_id,requested_at,fulfilled_at) VALUES(?,?,?,NULL)`,
				int64(e.RequestID), int64(e.TokenID), e.Time)
		case lifecycle.EventAvatarRendered:
			_, err = tx.Exec(`UPDATE requests SET fulfilled_at=? WHERE request_id=?`, e.Time, int64(e.RequestID))
		}
		return err
	}
	return nil
}

func applySnapshot(tx *sql.Tx, r snapshotRow) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO snapshots(seq,path,time,avatars,pending,total_created,recorded_at) VALUES(?,?,?,?,?,?,?)`,
		int64(r.Seq), r.Path, r.Time, r.Avatars, r.Pending, int64(r.Created), r.RecordedAt)
	return err
}

func seedText(a *avatar.Avatar) string {
	if a.RandomSeed.IsZero() {
		return ""
	}
	return a.RandomSeed.String()
}
