// Package eventlog implements the append-only, line-delimited JSON event
// sink (C2). Grounded on the teacher's pkg/kernel/event_log.go (hash-chained
// envelope) and pkg/guardian/audit.go (previous-hash linkage), combined with
// the atomic-append-then-flush idiom from pkg/artifacts/store.go.
package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mindburn-labs/governor-core/pkg/canonicalize"
)

// Record is one entry: a UTC ISO-8601 timestamp, a short event identifier,
// and a free-form payload.
type Record struct {
	TS      string         `json:"ts"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`

	// PrevHash/Hash form a tamper-evident chain over the record's own
	// canonical JSON plus the previous record's hash. Not part of the
	// external wire contract (§6 names only ts/event/payload) but carried
	// alongside for integrity verification.
	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// EventLog is the append-only sink.
type EventLog struct {
	mu       sync.Mutex
	f        *os.File
	lastHash string
	seq      int64
	clock    func() time.Time
}

// Open creates the containing directory if absent and opens the log file
// for append, creating it if missing. Existing entries are replayed to
// recover the hash chain tail so a restarted process continues the chain
// rather than resetting it.
func Open(path string) (*EventLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: mkdir %q: %w", dir, err)
		}
	}

	lastHash, seq, err := recoverChainTail(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", path, err)
	}

	return &EventLog{f: f, lastHash: lastHash, seq: seq, clock: time.Now}, nil
}

func recoverChainTail(path string) (hash string, seq int64, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("eventlog: read %q: %w", path, readErr)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var r Record
		if decErr := dec.Decode(&r); decErr != nil {
			break
		}
		hash = r.Hash
		seq++
	}
	return hash, seq, nil
}

// WithClock overrides the clock for tests.
func (l *EventLog) WithClock(clock func() time.Time) *EventLog {
	l.clock = clock
	return l
}

// Append writes one record, hash-chained onto the previous record, flushed
// before returning. Concurrent callers are serialized by the log's mutex;
// C12 is expected to be the sole writer during a cycle, but the operator
// interface may append config-update/model-reload events concurrently.
func (l *EventLog) Append(event string, payload map[string]any) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := Record{
		TS:       l.clock().UTC().Format(time.RFC3339Nano),
		Event:    event,
		Payload:  payload,
		PrevHash: l.lastHash,
	}
	h, err := canonicalize.CanonicalHash(struct {
		TS       string         `json:"ts"`
		Event    string         `json:"event"`
		Payload  map[string]any `json:"payload"`
		PrevHash string         `json:"prev_hash"`
	}{r.TS, r.Event, r.Payload, r.PrevHash})
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: hash: %w", err)
	}
	r.Hash = h

	line, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: marshal: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.f.Write(line); err != nil {
		return Record{}, fmt.Errorf("eventlog: write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return Record{}, fmt.Errorf("eventlog: sync: %w", err)
	}

	l.lastHash = r.Hash
	l.seq++
	return r, nil
}

// Close releases the underlying file handle.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
