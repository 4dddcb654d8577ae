package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/indexdb"
)

func openRuntimeIndex(bookDir, bookID string, disableDB bool, logger *log.Logger) (indexdb.Index, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("AOB_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(bookDir, "index", "book.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "ingest":
		endpoint := strings.TrimSpace(os.Getenv("AOB_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("AOB_INDEX_BACKEND=ingest but AOB_INDEX_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("AOB_INDEX_INGEST_TOKEN")),
			BookID:        bookID,
			BatchSize:     envInt("AOB_INDEX_INGEST_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("AOB_INDEX_INGEST_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported AOB_INDEX_BACKEND: %s", backend)
	}
}
