package webhook

import (
	"context"
	"sync"
)

// NewInMemoryLedger constructs an in-memory Ledger for development and tests.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{records: make(map[string]EventRecord)}
}

// InMemoryLedger keeps event records in a map. First write per event id wins.
type InMemoryLedger struct {
	mu      sync.Mutex
	records map[string]EventRecord
}

func (l *InMemoryLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[eventID]
	return ok, nil
}

func (l *InMemoryLedger) Record(ctx context.Context, rec EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.EventID]; ok {
		return nil
	}
	l.records[rec.EventID] = rec
	return nil
}

// Outcome returns the recorded outcome for an event id (for inspection in tests).
func (l *InMemoryLedger) Outcome(eventID string) (Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[eventID]
	return rec.Outcome, ok
}

// Len reports the number of ledger rows.
func (l *InMemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
