package correlation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTooManyPending is returned by Register when the table is already at
// capacity.
var ErrTooManyPending = errors.New("correlation: too many pending requests")

// ErrRequestTimedOut tags a record surfaced by Sweep whose retries are
// exhausted.
var ErrRequestTimedOut = errors.New("correlation: request timed out")

// ErrCancelledAtShutdown tags a record surfaced by Drain.
var ErrCancelledAtShutdown = errors.New("correlation: cancelled at shutdown")

// DefaultMaxPending mirrors N_MAX_PENDING's default.
const DefaultMaxPending = 32

// DefaultDeadline is the default per-request timeout.
const DefaultDeadline = 5000 * time.Millisecond

// DefaultMaxRetries is the default retry count before a request is
// abandoned.
const DefaultMaxRetries = 3

// Table is the bounded, dense array of pending request records. A single
// mutex protects the whole table so Register/MatchAndRemove/Sweep execute
// atomically from the caller's perspective, matching the single-threaded
// semantics the bridge controller relies on even if the transport's I/O
// callback runs on a different goroutine than the main loop.
type Table struct {
	mu         sync.Mutex
	log        *zap.Logger
	maxPending int
	deadline   time.Duration
	maxRetries int
	records    []PendingRequestRecord
}

// NewTable constructs an empty table.
func NewTable(log *zap.Logger, maxPending int, deadline time.Duration, maxRetries int) *Table {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Table{
		log:        log,
		maxPending: maxPending,
		deadline:   deadline,
		maxRetries: maxRetries,
		records:    make([]PendingRequestRecord, 0, maxPending),
	}
}

// Len returns the current number of pending records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Deadline returns the per-request timeout currently applied to newly
// registered records.
func (t *Table) Deadline() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// MaxRetries returns the retry count currently applied to newly registered
// records.
func (t *Table) MaxRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxRetries
}

// SetPolicy updates the deadline and retry count applied to records
// registered from this point on; records already pending keep the values
// they were created with. maxPending is deliberately not adjustable here:
// it bounds the backing slice's intended capacity, a destructive change
// per the config package's hot-reload contract.
func (t *Table) SetPolicy(deadline time.Duration, maxRetries int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if deadline > 0 {
		t.deadline = deadline
	}
	if maxRetries >= 0 {
		t.maxRetries = maxRetries
	}
}

// Register inserts a record, failing with ErrTooManyPending when the table
// is already at capacity. The record's token has already been cloned by
// NewRecord; Register does not clone again.
func (t *Table) Register(rec PendingRequestRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.records) >= t.maxPending {
		return fmt.Errorf("%w: %d/%d", ErrTooManyPending, len(t.records), t.maxPending)
	}
	t.records = append(t.records, rec)
	return nil
}

// MatchAndRemove does a byte-exact linear scan for token, removing and
// returning the match while keeping the table dense. Returns (rec, false)
// if no record matches -- a legitimate outcome for replies to
// gateway-originated notifications or late replies whose record already
// timed out.
func (t *Table) MatchAndRemove(token Token) (PendingRequestRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, rec := range t.records {
		if rec.Token.Equal(token) {
			t.removeAt(i)
			return rec, true
		}
	}
	return PendingRequestRecord{}, false
}

// removeAt deletes index i, shifting later entries left to preserve
// density. Caller must hold t.mu.
func (t *Table) removeAt(i int) {
	t.records = append(t.records[:i], t.records[i+1:]...)
}

// SweepOutcome describes what happened to one expired record.
type SweepOutcome struct {
	// Original is the expired record as it existed before the sweep acted
	// on it.
	Original PendingRequestRecord
	// Retried is true when the record was re-sent with a fresh token; in
	// that case NewRecord holds the replacement record the caller must
	// hand to the transport layer. Retried is false when retries were
	// exhausted, in which case the caller should emit RequestTimedOut.
	Retried  bool
	NewRecord PendingRequestRecord
}

// Sweep removes every record whose Deadline has passed. Each is either
// reinserted with a fresh deadline, decremented retry count, and a newly
// minted token (if RetriesRemaining > 0), or surfaced as exhausted.
// mintToken is supplied by the caller (C6/C5 own token generation) so the
// table never needs transport context.
func (t *Table) Sweep(now time.Time, mintToken func() (Token, error)) ([]SweepOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var outcomes []SweepOutcome
	kept := t.records[:0]
	for _, rec := range t.records {
		if !rec.Deadline.Before(now) {
			kept = append(kept, rec)
			continue
		}

		if rec.RetriesRemaining <= 0 {
			outcomes = append(outcomes, SweepOutcome{Original: rec, Retried: false})
			continue
		}

		tok, err := mintToken()
		if err != nil {
			return outcomes, fmt.Errorf("correlation: sweep mint token: %w", err)
		}
		replacement := rec
		replacement.Token = tok.Clone()
		replacement.CreatedAt = now
		replacement.Deadline = now.Add(t.deadline)
		replacement.RetriesRemaining--
		kept = append(kept, replacement)
		outcomes = append(outcomes, SweepOutcome{Original: rec, Retried: true, NewRecord: replacement})
	}
	t.records = kept
	return outcomes, nil
}

// Snapshot returns a read-only copy of every currently pending record,
// for introspection (e.g. the operator socket) without disturbing the
// table. Unlike Drain, nothing is removed.
func (t *Table) Snapshot() []PendingRequestRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingRequestRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Drain empties the table unconditionally, returning every record that was
// still outstanding. Called once at shutdown; each returned record is
// reported by the caller as CancelledAtShutdown.
func (t *Table) Drain() []PendingRequestRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.records
	t.records = nil
	return out
}
