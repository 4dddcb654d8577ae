package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const dbUsage = "usage: admin db [-data ./data] [-book BOOK|-db PATH] [-limit N] [-owner ADDR] snapshots|avatars|requests|events"

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir, bookID := bookDirFlags(fs)
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	owner := fs.String("owner", "", "owner filter (avatars)")
	pendingOnly := fs.Bool("pending", false, "only unfulfilled requests (requests)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "books", *bookID, "index", "book.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	var rows []any
	switch q {
	case "snapshots":
		rows, err = querySnapshots(db, *limit)
	case "avatars":
		rows, err = queryAvatars(db, strings.ToLower(strings.TrimSpace(*owner)), *limit)
	case "requests":
		rows, err = queryRequests(db, *pendingOnly, *limit)
	case "events":
		rows, err = queryEvents(db, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, dbUsage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type snapshotRow struct {
	Seq          int64  `json:"seq"`
	Path         string `json:"path"`
	Time         int64  `json:"time"`
	Avatars      int    `json:"avatars"`
	Pending      int    `json:"pending"`
	TotalCreated int64  `json:"total_created"`
}

func querySnapshots(db *sql.DB, limit int) ([]any, error) {
	rs, err := db.Query(`SELECT seq,path,time,avatars,pending,total_created FROM snapshots ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []any
	for rs.Next() {
		var r snapshotRow
		if err := rs.Scan(&r.Seq, &r.Path, &r.Time, &r.Avatars, &r.Pending, &r.TotalCreated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

type avatarRow struct {
	TokenID        int64  `json:"token_id"`
	Owner          string `json:"owner"`
	Status         int    `json:"status"`
	AvatarType     int    `json:"avatar_type"`
	Rank           int    `json:"rank"`
	MintTime       int64  `json:"mint_time"`
	RandomSeed     string `json:"random_seed,omitempty"`
	LastUpdateTime int64  `json:"last_update_time"`
	Chronosis      int    `json:"chronosis"`
	Echo           int    `json:"echo"`
	Convergence    int    `json:"convergence"`
	UpdatedSeq     int64  `json:"updated_seq"`
}

func queryAvatars(db *sql.DB, owner string, limit int) ([]any, error) {
	q := `SELECT token_id,owner,status,avatar_type,rank,mint_time,random_seed,last_update_time,chronosis,echo,convergence,updated_seq FROM avatars ORDER BY token_id LIMIT ?`
	args := []any{limit}
	if owner != "" {
		q = `SELECT token_id,owner,status,avatar_type,rank,mint_time,random_seed,last_update_time,chronosis,echo,convergence,updated_seq FROM avatars WHERE owner=? ORDER BY token_id LIMIT ?`
		args = []any{owner, limit}
	}
	rs, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []any
	for rs.Next() {
		var r avatarRow
		if err := rs.Scan(&r.TokenID, &r.Owner, &r.Status, &r.AvatarType, &r.Rank, &r.MintTime, &r.RandomSeed,
			&r.LastUpdateTime, &r.Chronosis, &r.Echo, &r.Convergence, &r.UpdatedSeq); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

type requestRow struct {
	RequestID   int64         `json:"request_id"`
	TokenID     int64         `json:"token_id"`
	RequestedAt int64         `json:"requested_at"`
	FulfilledAt sql.NullInt64 `json:"fulfilled_at"`
}

func queryRequests(db *sql.DB, pendingOnly bool, limit int) ([]any, error) {
	q := `SELECT request_id,token_id,requested_at,fulfilled_at FROM requests ORDER BY request_id DESC LIMIT ?`
	if pendingOnly {
		q = `SELECT request_id,token_id,requested_at,fulfilled_at FROM requests WHERE fulfilled_at IS NULL ORDER BY request_id DESC LIMIT ?`
	}
	rs, err := db.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []any
	for rs.Next() {
		var r requestRow
		if err := rs.Scan(&r.RequestID, &r.TokenID, &r.RequestedAt, &r.FulfilledAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

type eventRow struct {
	Seq     int64         `json:"seq"`
	Kind    string        `json:"kind"`
	Time    int64         `json:"time"`
	TokenID sql.NullInt64 `json:"token_id"`
	RawJSON string        `json:"raw_json"`
}

func queryEvents(db *sql.DB, limit int) ([]any, error) {
	rs, err := db.Query(`SELECT seq,kind,time,token_id,raw_json FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []any
	for rs.Next() {
		var r eventRow
		if err := rs.Scan(&r.Seq, &r.Kind, &r.Time, &r.TokenID, &r.RawJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rs.Err()
}
