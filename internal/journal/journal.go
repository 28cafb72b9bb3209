// Package journal implements the append-only audit sink. Every event accepted
// by the bus is mirrored here as one JSON record per line. The journal is a
// pure sink: business logic never reads it back; operators and debuggers do.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"pricegov/internal/events"
)

// Journal appends line-delimited JSON envelopes to a file. Writes are
// best-effort from the bus's point of view; a failed append is reported to
// the caller and counted, never retried.
type Journal struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	size     int64
	maxBytes int64

	// OnRotate, when set, is invoked with the path of each closed segment.
	// It runs on its own goroutine so rotation never blocks an append.
	OnRotate func(segmentPath string)
}

// Open opens (or creates) the journal file for appending. maxBytes <= 0
// disables rotation; segments then grow without bound, which is an accepted
// operational property.
func Open(path string, maxBytes int64) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	return &Journal{path: path, f: f, size: info.Size(), maxBytes: maxBytes}, nil
}

// Append writes one envelope as a JSON line. Records are never rewritten.
func (j *Journal) Append(env events.Envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	n, err := j.f.Write(line)
	j.size += int64(n)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	if j.maxBytes > 0 && j.size >= j.maxBytes {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked closes the live file, renames it to a timestamped segment, and
// reopens a fresh live file. Closed segments stay on disk.
func (j *Journal) rotateLocked() error {
	segment := fmt.Sprintf("%s.%s", j.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("close journal for rotation: %w", err)
	}
	if err := os.Rename(j.path, segment); err != nil {
		return fmt.Errorf("rotate journal: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.f = f
	j.size = 0
	if j.OnRotate != nil {
		go j.OnRotate(segment)
	}
	return nil
}

// Close flushes and closes the live journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
