package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/simplemem/simplemem/pkg/types"
)

// intentOp names the mutation recorded in the intent log.
type intentOp string

const (
	opInsert    intentOp = "insert"
	opUpdate    intentOp = "update"
	opTombstone intentOp = "tombstone"
	opPurge     intentOp = "purge"
)

// intentEntry is one JSON line of the tenant's write-ahead intent log.
// Every mutation is logged (and synced) before any index is touched, and the
// log is truncated only after all indexes have applied it. Replaying the log
// on open therefore leaves the unit table, the lexical index, and the vector
// index mutually consistent: an interrupted write either completes on
// recovery or was never logged at all.
type intentEntry struct {
	Op   intentOp    `json:"op"`
	Unit *types.Unit `json:"unit,omitempty"`
	ID   string      `json:"id,omitempty"`
}

// intentLog is the per-tenant append-only log file.
type intentLog struct {
	path string
}

func newIntentLog(path string) *intentLog {
	return &intentLog{path: path}
}

// append writes one entry and syncs it to disk before returning.
func (l *intentLog) append(e intentEntry) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open intent log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write intent: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync intent log: %w", err)
	}
	return nil
}

// pending returns the logged entries that have not been cleared yet.
// Trailing partial lines (a crash mid-append) are skipped: an entry that was
// not fully synced was by definition not applied to any index.
func (l *intentLog) pending() ([]intentEntry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open intent log: %w", err)
	}
	defer f.Close()

	var entries []intentEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e intentEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// clear truncates the log after all indexes applied the pending entries.
func (l *intentLog) clear() error {
	err := os.Truncate(l.path, 0)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
