// Package recorder implements component M: best-effort, on-disk
// recording of published messages for later replay, supplementing
// spec.md with the recording-generator concept present in
// original_source's gateway. A failed write is logged, not propagated
// to the publisher; writes run synchronously in the caller, so a slow
// write delays the publish that triggered it.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one recorded publish: topic, payload, and wall-clock time.
// Mirrors the teacher's eventlog.Record fields, minus offset/headers,
// which recording has no use for.
type Record struct {
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder appends Records to newline-delimited JSON files under a
// directory, rotating to a new file once the current one reaches its
// record cap.
type Recorder struct {
	dir      string
	fileCap  int
	log      *logrus.Entry

	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	count  int
	seq    int
	closed bool
}

// Open creates (if needed) dir and returns a Recorder that rotates
// every fileCap records. A zero or negative fileCap disables rotation
// (a single ever-growing file).
func Open(dir string, fileCap int, logger *logrus.Entry) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: mkdir %s: %w", dir, err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Recorder{dir: dir, fileCap: fileCap, log: logger.WithField("component", "recorder")}
	if err := r.rotateLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// Record appends one entry, rotating the backing file first if the
// current one has reached its cap. Errors are logged and swallowed:
// recording is an optional sink, never a reason to fail a publish.
func (r *Recorder) Record(topic string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.fileCap > 0 && r.count >= r.fileCap {
		if err := r.rotateLocked(); err != nil {
			r.log.WithError(err).Warn("recorder: rotation failed, dropping record")
			return
		}
	}
	rec := Record{Topic: topic, Payload: payload, Timestamp: time.Now().UTC()}
	if err := r.enc.Encode(rec); err != nil {
		r.log.WithError(err).Warn("recorder: write failed, dropping record")
		return
	}
	r.count++
}

func (r *Recorder) rotateLocked() error {
	if r.file != nil {
		r.file.Close()
	}
	r.seq++
	name := filepath.Join(r.dir, fmt.Sprintf("recording-%05d.jsonl", r.seq))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("recorder: open %s: %w", name, err)
	}
	r.file = f
	r.enc = json.NewEncoder(f)
	r.count = 0
	return nil
}

// Close flushes and closes the current backing file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Replay reads every record in path in append order, calling fn for
// each. It stops and returns fn's error if fn returns non-nil.
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("recorder: open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("recorder: decode %s: %w", path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
