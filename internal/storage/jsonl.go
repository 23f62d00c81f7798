package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"clearClient/internal/model"
)

// Entry is one line of the JSONL journal.
type Entry struct {
	Type        string                    `json:"type"`
	RecordedAt  time.Time                 `json:"recorded_at"`
	Transaction *model.PendingTransaction `json:"transaction,omitempty"`
	Route       *model.RouteObservation   `json:"route,omitempty"`
}

// JsonlJournal appends journal entries to a JSONL file.
type JsonlJournal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewJsonlJournal(path string) *JsonlJournal {
	return &JsonlJournal{path: path, now: time.Now}
}

func (s *JsonlJournal) RecordTransaction(_ context.Context, tx model.PendingTransaction) error {
	return s.append(Entry{Type: "transaction", RecordedAt: s.now().UTC(), Transaction: &tx})
}

func (s *JsonlJournal) RecordRoute(_ context.Context, obs model.RouteObservation) error {
	return s.append(Entry{Type: "route", RecordedAt: s.now().UTC(), Route: &obs})
}

func (s *JsonlJournal) append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write journal entry: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}
