package eventsink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// eventsBucket holds one key per journaled event, keyed by an
// append-order sequence number so range scans stay chronological.
var eventsBucket = []byte("events")

// countersBucket holds the Counters snapshot under a single key, written
// once by Finish; counts since Init are not persisted if the process exits
// without calling Finish.
var countersBucket = []byte("counters")

var countersKey = []byte("counters")

// LedgerSink journals every event to a BoltDB file and exposes running
// counters as Prometheus metrics. The event sink is append-only; a single
// mutex guards the append path since the bridge controller's main loop and
// any background reload goroutine could both reach it.
type LedgerSink struct {
	log     *zap.Logger
	path    string
	db      *bbolt.DB
	mu      sync.Mutex
	c       Counters
	metrics *Metrics
}

// NewLedgerSink constructs a sink backed by a BoltDB file at path. Init
// opens (creating if absent) the database and its buckets.
func NewLedgerSink(log *zap.Logger, path string, metrics *Metrics) *LedgerSink {
	return &LedgerSink{log: log, path: path, metrics: metrics}
}

func (s *LedgerSink) Init() error {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("eventsink: open %q: %w", s.path, err)
	}
	s.db = db
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(eventsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(countersBucket); err != nil {
			return err
		}
		return nil
	})
}

// Finish flushes the final counters and releases the database handle. Safe
// to call exactly once; the bridge controller's shutdown sequence
// guarantees this happens on every exit path.
func (s *LedgerSink) Finish() (Counters, error) {
	s.mu.Lock()
	final := s.c
	s.mu.Unlock()

	if s.db == nil {
		return final, nil
	}

	payload, err := json.Marshal(final)
	if err == nil {
		if werr := s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(countersBucket).Put(countersKey, payload)
		}); werr != nil {
			s.log.Warn("eventsink: failed to persist final counters", zap.Error(werr))
		}
	}

	closeErr := s.db.Close()
	s.db = nil
	return final, closeErr
}

func (s *LedgerSink) append(ev Event) {
	if s.db == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("eventsink: failed to marshal event", zap.Error(err))
		return
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
	if err != nil {
		s.log.Warn("eventsink: failed to journal event", zap.Error(err))
	}
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *LedgerSink) Log(kind Kind, description string, details map[string]any) {
	s.append(Event{Kind: kind, Description: description, Details: details, Timestamp: time.Now().UTC()})
}

func (s *LedgerSink) LogBusRx(frameID uint16, description string) {
	s.mu.Lock()
	s.c.BusFramesIn++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BusFramesIn.Inc()
	}
	s.append(Event{Kind: KindBusRx, Description: description, Details: map[string]any{"frame_id": frameID}, Timestamp: time.Now().UTC()})
}

func (s *LedgerSink) LogBusTx(frameID uint16, description string) {
	s.mu.Lock()
	s.c.BusFramesOut++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BusFramesOut.Inc()
	}
	s.append(Event{Kind: KindBusTx, Description: description, Details: map[string]any{"frame_id": frameID}, Timestamp: time.Now().UTC()})
}

func (s *LedgerSink) LogDispatchTx(path string, description string) {
	s.mu.Lock()
	s.c.DispatchRequests++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.DispatchRequests.Inc()
	}
	s.append(Event{Kind: KindDispatchTx, Description: description, Details: map[string]any{"path": path}, Timestamp: time.Now().UTC()})
}

func (s *LedgerSink) LogDispatchRx(path string, description string) {
	s.mu.Lock()
	s.c.DispatchResponses++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.DispatchResponses.Inc()
	}
	s.append(Event{Kind: KindDispatchRx, Description: description, Details: map[string]any{"path": path}, Timestamp: time.Now().UTC()})
}

func (s *LedgerSink) LogTaskAssigned(elevatorID, taskID string) {
	s.mu.Lock()
	s.c.TasksAssigned++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.TasksAssigned.Inc()
	}
	s.append(Event{
		Kind:        KindTaskAssigned,
		Description: fmt.Sprintf("task %s assigned to %s", taskID, elevatorID),
		Details:     map[string]any{"elevator_id": elevatorID, "task_id": taskID},
		Timestamp:   time.Now().UTC(),
	})
}

func (s *LedgerSink) LogError(kind string, err error) {
	s.mu.Lock()
	s.c.Errors++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues(kind).Inc()
	}
	s.append(Event{
		Kind:        KindError,
		Description: err.Error(),
		Details:     map[string]any{"error_kind": kind},
		Timestamp:   time.Now().UTC(),
	})
}

var _ Sink = (*LedgerSink)(nil)
