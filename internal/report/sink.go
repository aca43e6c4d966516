// Package report owns the per-pass decision log and verification reports.
// The sink is passed explicitly into every pass; there is no ambient log
// state. Buffered entries flush in sorted order so repeated runs over the same
// final store produce identical logs modulo timestamps.
package report

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Action is the reconciliation outcome recorded for one candidate.
type Action string

const (
	ActionDelete   Action = "DELETE"
	ActionDeploy   Action = "DEPLOY"
	ActionCopy     Action = "COPY"
	ActionConflict Action = "CONFLICT"
	ActionUnmapped Action = "UNMAPPED"
	ActionSkipped  Action = "SKIPPED"
)

// Record is one reconciliation decision with the paths and digests that
// justify it.
type Record struct {
	Action      Action
	Candidate   string // root-relative candidate path
	Destination string
	Digest      string
	FoundDigest string // populated for conflicts: the digest already occupying the destination
	Detail      string
}

func (r Record) line() string {
	switch r.Action {
	case ActionDelete:
		return fmt.Sprintf("[DELETE] %s (digest: %s) - %s", r.Candidate, r.Digest, r.Detail)
	case ActionDeploy:
		return fmt.Sprintf("[DEPLOY] %s -> %s (digest: %s)", r.Candidate, r.Destination, r.Digest)
	case ActionCopy:
		return fmt.Sprintf("[COPY] %s -> %s (digest: %s)", r.Candidate, r.Destination, r.Digest)
	case ActionConflict:
		return fmt.Sprintf("[CONFLICT] %s -> %s (expected digest: %s, found: %s)",
			r.Candidate, r.Destination, r.Digest, r.FoundDigest)
	case ActionSkipped:
		return fmt.Sprintf("[SKIPPED] %s - %s", r.Candidate, r.Detail)
	default:
		return fmt.Sprintf("[%s] %s (digest: %s)", r.Action, r.Candidate, r.Digest)
	}
}

// Sink is an append-only pass log. Safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	records []Record
}

// NewSink opens (or creates) the log file for appending.
func NewSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- operator-supplied log path
	if err != nil {
		return nil, fmt.Errorf("open pass log %s: %w", path, err)
	}
	return &Sink{f: f}, nil
}

// Line writes one line immediately, bypassing the decision buffer. Used for
// pass headers and verification report output that is already deterministic.
func (s *Sink) Line(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.f, format+"\n", args...)
}

// Record buffers one reconciliation decision. Workers call this concurrently;
// ordering is fixed at Flush time.
func (s *Sink) Record(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// Flush writes all buffered decisions sorted by candidate path then action,
// and clears the buffer.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(s.records, func(i, j int) bool {
		if s.records[i].Candidate != s.records[j].Candidate {
			return s.records[i].Candidate < s.records[j].Candidate
		}
		return s.records[i].Action < s.records[j].Action
	})
	for _, r := range s.records {
		fmt.Fprintln(s.f, r.line())
	}
	s.records = s.records[:0]
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
