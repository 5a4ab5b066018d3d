package pipeline

import (
	"fmt"
	"math/rand"
	"time"

	apperrors "scrollstitch/internal/errors"
)

// Event is the wire form of a Result for SSE, websocket and gRPC subscribers.
type Event struct {
	ID     string         `json:"id"`
	Type   JobType        `json:"type"`
	Status string         `json:"status"`
	Kind   string         `json:"kind,omitempty"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	Time   time.Time      `json:"time"`
}

// NewEvent converts res into an Event.
func NewEvent(res Result) Event {
	ev := Event{
		ID:     res.Job.ID,
		Type:   res.Job.Type,
		Status: res.Status(),
		Meta:   res.Meta,
		Time:   time.Now().UTC(),
	}
	if res.Error != nil {
		ev.Error = res.Error.Error()
		ev.Kind = string(apperrors.KindOf(res.Error))
	}
	return ev
}

// NewID returns a sortable job id such as "video-20240102T150405-0042".
func NewID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
