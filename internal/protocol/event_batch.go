package protocol

import "encoding/json"

// EVENT_BATCH_REQ (observer -> server) asks for retained events after a cursor.
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit"`
}

type EventBatchItem struct {
	Cursor uint64          `json:"cursor"`
	Event  json.RawMessage `json:"event"`
}

// EVENT_BATCH (server -> observer)
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
	// Truncated reports that events before the first item were evicted.
	Truncated bool `json:"truncated,omitempty"`
}
