package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "github.com/daibi/Avatar-Oracle-Book/internal/persistence/log"
	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/decay"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "decay":
			decayCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "toggle":
			toggleCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	bookID := fs.String("book", "", "book id (optional; lists its snapshots)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "books")
	if *bookID != "" {
		base = filepath.Join(base, *bookID, "snapshots")
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func bookDirFlags(fs *flag.FlagSet) (dataDir, bookID *string) {
	return fs.String("data", "./data", "runtime data directory"),
		fs.String("book", "avatar-book", "book id")
}

// inspectCmd prints a snapshot summary, or the whole snapshot with -full.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir, bookID := bookDirFlags(fs)
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	full := fs.Bool("full", false, "print the full snapshot")
	_ = fs.Parse(args)

	snap, path := loadSnapshot(*dataDir, *bookID, *snapPath)
	if *full {
		printJSON(snap)
		return
	}
	printJSON(summarize(path, snap))
}

type snapshotSummary struct {
	Path            string `json:"path"`
	BookID          string `json:"book_id"`
	Seq             uint64 `json:"seq"`
	Time            int64  `json:"time"`
	Admin           string `json:"admin"`
	CreationEnabled bool   `json:"creation_enabled"`
	RandomEnabled   bool   `json:"randomness_enabled"`
	TotalCreated    uint64 `json:"total_created"`
	SupplyCap       uint64 `json:"supply_cap"`
	Avatars         int    `json:"avatars"`
	Owners          int    `json:"owners"`
	Pending         int    `json:"pending"`
}

func summarize(path string, snap snapshot.SnapshotV1) snapshotSummary {
	owners := map[string]struct{}{}
	for _, h := range snap.Holdings {
		owners[h.Owner] = struct{}{}
	}
	return snapshotSummary{
		Path:            path,
		BookID:          snap.Header.BookID,
		Seq:             snap.Header.Seq,
		Time:            snap.Header.Time,
		Admin:           snap.State.Admin,
		CreationEnabled: snap.State.CreationEnabled,
		RandomEnabled:   snap.State.RandomnessEnabled,
		TotalCreated:    snap.State.TotalCreated,
		SupplyCap:       snap.State.SupplyCap,
		Avatars:         len(snap.Avatars),
		Owners:          len(owners),
		Pending:         len(snap.Pending),
	}
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir, bookID := bookDirFlags(fs)
	tokenID := fs.Uint64("token", 0, "token id filter (optional)")
	kind := fs.String("kind", "", "event kind filter, e.g. AVATAR_RENDERED (optional)")
	since := fs.Uint64("since", 0, "only events with seq > since")
	_ = fs.Parse(args)

	files, err := persistlog.EventFiles(filepath.Join(*dataDir, "books", *bookID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list event files:", err)
		os.Exit(1)
	}
	f := eventFilter{TokenID: *tokenID, Kind: lifecycle.EventKind(strings.ToUpper(strings.TrimSpace(*kind))), Since: *since}
	for _, path := range files {
		evs, err := persistlog.ReadEvents(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read events:", err)
			os.Exit(1)
		}
		for _, e := range evs {
			if f.match(e) {
				printJSON(e)
			}
		}
	}
}

type eventFilter struct {
	TokenID uint64
	Kind    lifecycle.EventKind
	Since   uint64
}

func (f eventFilter) match(e lifecycle.Event) bool {
	if e.Seq <= f.Since {
		return false
	}
	if f.TokenID != 0 && e.TokenID != f.TokenID {
		return false
	}
	return f.Kind == "" || e.Kind == f.Kind
}

// decayCmd replays the decay law for one avatar of a snapshot.
func decayCmd(args []string) {
	fs := flag.NewFlagSet("decay", flag.ExitOnError)
	dataDir, bookID := bookDirFlags(fs)
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	tokenID := fs.Uint64("token", 0, "token id (required)")
	at := fs.Int64("at", 0, "unix time to evaluate at (default: now)")
	trace := fs.Bool("trace", false, "print every constant-rate segment")
	_ = fs.Parse(args)

	if *tokenID == 0 {
		fmt.Fprintln(os.Stderr, "missing -token")
		os.Exit(2)
	}
	snap, _ := loadSnapshot(*dataDir, *bookID, *snapPath)
	now := *at
	if now == 0 {
		now = time.Now().Unix()
	}
	out, err := decayReport(snap, *tokenID, now, *trace)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printJSON(out)
}

type decayOutput struct {
	TokenID  uint64           `json:"token_id"`
	From     decay.Attributes `json:"from"`
	FromTime int64            `json:"from_time"`
	At       int64            `json:"at"`
	Minutes  int64            `json:"minutes"`
	Value    decay.Attributes `json:"value"`
	Segments []decay.Segment  `json:"segments,omitempty"`
}

func decayReport(snap snapshot.SnapshotV1, tokenID uint64, now int64, trace bool) (decayOutput, error) {
	p := paramsOf(snap.Decay)
	for _, a := range snap.Avatars {
		if a.TokenID != tokenID {
			continue
		}
		if a.LastUpdateTime == 0 {
			return decayOutput{}, fmt.Errorf("token %d is not rendered yet", tokenID)
		}
		from := decay.Attributes{Chronosis: a.Chronosis, Echo: a.Echo, Convergence: a.Convergence}
		out := decayOutput{
			TokenID:  tokenID,
			From:     from,
			FromTime: a.LastUpdateTime,
			At:       now,
			Minutes:  decay.ElapsedMinutes(p, a.LastUpdateTime, now),
			Value:    decay.Compute(p, from, a.LastUpdateTime, now),
		}
		if trace {
			out.Segments = decay.Trace(p, from, out.Minutes)
		}
		return out, nil
	}
	return decayOutput{}, fmt.Errorf("token %d not in snapshot", tokenID)
}

func paramsOf(d snapshot.DecayV1) decay.Params {
	return decay.Params{
		Max:                 d.Max,
		LinearBaseRate:      d.LinearBaseRate,
		ExponentialBaseRate: d.ExponentialBaseRate,
		LowerBandPermille:   d.LowerPermille,
		UpperBandPermille:   d.UpperPermille,
		AboveBandPermille:   d.AbovePermille,
		BelowBandPermille:   d.BelowPermille,
		FollowerPermille:    d.FollowerPermille,
		MinuteSeconds:       d.MinuteSeconds,
	}
}

func loadSnapshot(dataDir, bookID, path string) (snapshot.SnapshotV1, string) {
	path = strings.TrimSpace(path)
	if path == "" {
		latest, err := snapshot.Latest(filepath.Join(dataDir, "books", bookID, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "find snapshot:", err)
			os.Exit(1)
		}
		path = latest
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run the server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	return snap, path
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
