// Package eventsink appends structured events describing the gateway's
// activity -- bus traffic, dispatcher traffic, task assignments, and
// errors -- to an external, write-only log, and maintains running counters
// surfaced at shutdown. The bridge controller never depends on a sink's
// formatting or persistence; a Sink may be a no-op.
package eventsink

import "time"

// Kind is the closed vocabulary of event kinds a Sink records.
type Kind int

const (
	KindBusRx Kind = iota
	KindBusTx
	KindDispatchTx
	KindDispatchRx
	KindTaskAssigned
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindBusRx:
		return "bus_rx"
	case KindBusTx:
		return "bus_tx"
	case KindDispatchTx:
		return "dispatch_tx"
	case KindDispatchRx:
		return "dispatch_rx"
	case KindTaskAssigned:
		return "task_assigned"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one journaled record. ID is an opaque identifier independent of
// the ledger's own ordering key, so an entry can be cited (in a log line,
// an operator query) without exposing the storage-order sequence number.
type Event struct {
	ID          string
	Kind        Kind
	Description string
	Details     map[string]any
	Timestamp   time.Time
}

// Counters is the running tally surfaced at Finish.
type Counters struct {
	BusFramesIn       uint64
	BusFramesOut      uint64
	DispatchRequests  uint64
	DispatchResponses uint64
	TasksAssigned     uint64
	Errors            uint64
}

// Sink is the external interface the core consumes. Init/Finish bracket
// the log stream's lifetime with guaranteed release on every exit path; Log
// and the LogXxx convenience methods append one event each, the latter
// also updating Counters.
type Sink interface {
	Init() error
	Finish() (Counters, error)

	Log(kind Kind, description string, details map[string]any)

	LogBusRx(frameID uint16, description string)
	LogBusTx(frameID uint16, description string)
	LogDispatchTx(path string, description string)
	LogDispatchRx(path string, description string)
	LogTaskAssigned(elevatorID, taskID string)
	LogError(kind string, err error)
}
