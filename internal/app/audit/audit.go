// Package audit records ledger activity. Every debit and recharge produces an
// entry; entries are kept in a bounded in-memory ring for inspection and
// forwarded best-effort to an optional sink.
package audit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Entry describes one balance mutation.
type Entry struct {
	Time      time.Time       `json:"time"`
	Operation string          `json:"operation"` // debit or recharge
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Reference string          `json:"reference,omitempty"` // model or request id
}

// Sink receives entries for external persistence.
type Sink interface {
	Write(entry Entry) error
}

// Log is a bounded ring of ledger audit entries with an optional sink.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	sink    Sink
}

// NewLog creates a log keeping at most max entries in memory. A nil sink
// disables forwarding.
func NewLog(max int, sink Sink) *Log {
	if max <= 0 {
		max = 200
	}
	return &Log{max: max, sink: sink}
}

// Record appends an entry, evicting the oldest when full. Sink failures are
// swallowed so auditing never impacts request flow.
func (l *Log) Record(entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

// List returns up to limit of the most recent entries, newest last.
func (l *Log) List(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}
