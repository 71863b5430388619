package eventlog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hopecore/hope/internal/clock"
)

// deadLetterEntry is one failed-delivery record persisted to dlq.jsonl.
// It carries enough of the original event to re-decode and redeliver it,
// plus retry bookkeeping.
type deadLetterEntry struct {
	Event       Event     `json:"event"`
	Handler     string    `json:"handler"`
	LastError   string    `json:"last_error"`
	Attempts    int       `json:"attempts"`
	FirstFailed time.Time `json:"first_failed"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

const (
	dlqBaseBackoff = 2 * time.Second
	dlqMaxBackoff  = 5 * time.Minute
	dlqMaxAttempts = 10
)

// deadLetterQueue records handler failures to disk and retries them on
// a capped exponential backoff (spec §4.1: DLQ with retry count).
type deadLetterQueue struct {
	path string

	mu      sync.Mutex
	entries []*deadLetterEntry
}

func newDeadLetterQueue(path string) *deadLetterQueue {
	return &deadLetterQueue{path: path}
}

func (q *deadLetterQueue) record(ev Event, handler string, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := clock.Now()
	entry := &deadLetterEntry{
		Event:       ev,
		Handler:     handler,
		LastError:   cause.Error(),
		Attempts:    1,
		FirstFailed: now,
		NextRetryAt: now.Add(dlqBaseBackoff),
	}
	q.entries = append(q.entries, entry)
	q.persist(entry)
}

// retryDue redelivers every entry whose NextRetryAt has passed, via
// redeliver. Entries that still fail have their backoff doubled (capped
// at dlqMaxBackoff) and are dropped from the in-memory queue once they
// exceed dlqMaxAttempts — they remain on disk for manual inspection.
func (q *deadLetterQueue) retryDue(redeliver func(Event) error) {
	q.mu.Lock()
	now := clock.Now()
	var due []*deadLetterEntry
	var remaining []*deadLetterEntry
	for _, e := range q.entries {
		if !now.Before(e.NextRetryAt) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.mu.Unlock()

	for _, e := range due {
		err := redeliver(e.Event)
		q.mu.Lock()
		if err == nil {
			q.persistResolved(e)
		} else {
			e.Attempts++
			e.LastError = err.Error()
			backoff := dlqBaseBackoff << uint(e.Attempts)
			if backoff > dlqMaxBackoff || backoff <= 0 {
				backoff = dlqMaxBackoff
			}
			e.NextRetryAt = clock.Now().Add(backoff)
			if e.Attempts <= dlqMaxAttempts {
				remaining = append(remaining, e)
			}
			q.persist(e)
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	q.entries = remaining
	q.mu.Unlock()
}

// persist appends the current state of entry to dlq.jsonl. The file is
// a log of transitions, not a snapshot store: readers reconstruct
// current state by folding over records keyed by event_id+handler.
func (q *deadLetterQueue) persist(entry *deadLetterEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_ = clock.AtomicAppendFile(q.path, line)
}

func (q *deadLetterQueue) persistResolved(entry *deadLetterEntry) {
	resolved := *entry
	resolved.LastError = "resolved"
	q.persist(&resolved)
}
