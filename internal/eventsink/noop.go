package eventsink

import "sync"

// NoopSink discards every event but still tracks counters, since the core
// relies on Counters being accurate at Finish even when persistence is
// disabled (e.g. in tests or a dry-run mode).
type NoopSink struct {
	mu sync.Mutex
	c  Counters
}

// NewNoopSink constructs a counting, non-persisting sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Init() error { return nil }

func (s *NoopSink) Finish() (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c, nil
}

func (s *NoopSink) Log(Kind, string, map[string]any) {}

func (s *NoopSink) LogBusRx(uint16, string) {
	s.mu.Lock()
	s.c.BusFramesIn++
	s.mu.Unlock()
}

func (s *NoopSink) LogBusTx(uint16, string) {
	s.mu.Lock()
	s.c.BusFramesOut++
	s.mu.Unlock()
}

func (s *NoopSink) LogDispatchTx(string, string) {
	s.mu.Lock()
	s.c.DispatchRequests++
	s.mu.Unlock()
}

func (s *NoopSink) LogDispatchRx(string, string) {
	s.mu.Lock()
	s.c.DispatchResponses++
	s.mu.Unlock()
}

func (s *NoopSink) LogTaskAssigned(string, string) {
	s.mu.Lock()
	s.c.TasksAssigned++
	s.mu.Unlock()
}

func (s *NoopSink) LogError(string, error) {
	s.mu.Lock()
	s.c.Errors++
	s.mu.Unlock()
}

var _ Sink = (*NoopSink)(nil)
