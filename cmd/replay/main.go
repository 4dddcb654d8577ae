package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "github.com/daibi/Avatar-Oracle-Book/internal/persistence/log"
	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to the base .snap.zst")
		bookDir    = flag.String("book_dir", "", "book data dir containing events/ (optional)")
		toSeq      = flag.Uint64("to_seq", 0, "stop after this seq (optional)")
		expectPath = flag.String("expect", "", "later snapshot the replay must reproduce (optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d book=%s seq=%d time=%d avatars=%d holdings=%d pending=%d total_created=%d\n",
		snap.Header.Version, snap.Header.BookID, snap.Header.Seq, snap.Header.Time,
		len(snap.Avatars), len(snap.Holdings), len(snap.Pending), snap.State.TotalCreated)

	if *bookDir == "" {
		return
	}

	var expect *snapshot.SnapshotV1
	stop := *toSeq
	if *expectPath != "" {
		s, err := snapshot.ReadSnapshot(*expectPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read expected snapshot:", err)
			os.Exit(1)
		}
		if s.Header.BookID != snap.Header.BookID {
			fmt.Fprintf(os.Stderr, "book mismatch: base=%s expect=%s\n", snap.Header.BookID, s.Header.BookID)
			os.Exit(2)
		}
		expect = &s
		stop = s.Header.Seq
	}

	files, err := persistlog.EventFiles(*bookDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", filepath.Join(*bookDir, "events"))
		os.Exit(1)
	}

	r := newReplayer(snap)
	var applied uint64
	for _, path := range files {
		n, err := replayFile(r, path, stop)
		applied += n
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if stop != 0 && r.seq >= stop {
			break
		}
	}

	if expect != nil {
		if diffs := r.diff(*expect); len(diffs) > 0 {
			for _, d := range diffs {
				fmt.Fprintln(os.Stderr, "mismatch:", d)
			}
			fmt.Fprintf(os.Stderr, "replay diverged: %d differences at seq=%d\n", len(diffs), r.seq)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: applied=%d events (seq %d -> %d)\n", applied, snap.Header.Seq, r.seq)
}

func replayFile(r *replayer, path string, stop uint64) (uint64, error) {
	evs, err := persistlog.ReadEvents(path)
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, e := range evs {
		if stop != 0 && e.Seq > stop {
			return n, nil
		}
		ok, err := r.apply(e)
		if err != nil {
			return n, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}
