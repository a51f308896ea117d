// Package notify signals event log changes between latent processes through
// files dropped in {dataPath}/events/. An import in one process wakes the
// watcher of another.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Notification types.
const (
	EventsAppended = "events.appended"
	BackupWritten  = "backup.written"
)

const (
	notifyDir = "events"
	suffix    = ".event"
)

// Event is the payload written to an event file.
type Event struct {
	Type  string  `json:"type"`
	Count int     `json:"count"`
	Ts    float64 `json:"ts"` // newest event timestamp in the change
	Time  int64   `json:"time"`
}

// EventWriter writes notification files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, notifyDir)}
}

// Notify writes an event file. The file appears atomically so watchers never
// read a partial payload.
func (w *EventWriter) Notify(eventType string, count int, ts float64) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return goerr.Wrap(err, "notify: create directory", goerr.V("dir", w.dir))
	}
	evt := Event{
		Type:  eventType,
		Count: count,
		Ts:    ts,
		Time:  time.Now().UnixNano(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return goerr.Wrap(err, "notify: encode event")
	}

	name := fmt.Sprintf("%d-%d", evt.Time, os.Getpid())
	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return goerr.Wrap(err, "notify: write event", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+suffix)); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "notify: publish event", goerr.V("path", tmp))
	}
	return nil
}
