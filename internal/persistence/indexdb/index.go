package indexdb

import (
	"github.com/daibi/Avatar-Oracle-Book/internal/persistence/snapshot"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

// Index is a secondary read model fed from book events. Writes never block
// the book loop; a full queue drops the write and counts it.
type Index interface {
	lifecycle.Sink
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Stats() Stats
	Close() error
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropEventTotal    uint64 `json:"drop_event_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
}
