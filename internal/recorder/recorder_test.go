package recorder

import (
	"path/filepath"
	"testing"
)

func TestRecorder_RecordAndReplay(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, 0, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	r.Record("a/b", []byte("hello"))
	r.Record("a/c", []byte("world"))
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got []Record
	if err := Replay(filepath.Join(dir, "recording-00001.jsonl"), func(rec Record) error {
		got = append(got, rec)
		return nil
	}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Topic != "a/b" || string(got[0].Payload) != "hello" {
		t.Errorf("unexpected first record: %+v", got[0])
	}
}

func TestRecorder_RotatesAtCap(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, 2, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Record("t", []byte("x"))
	}

	if r.seq != 3 {
		t.Errorf("expected 3 rotations for 5 records at cap 2, got seq=%d", r.seq)
	}
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	r, err := Open(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
