package correlation

import (
	"time"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
)

// OriginKind distinguishes where a reply must be routed once matched.
type OriginKind int

const (
	// OriginBus means the triggering event was an inbound bus frame; the
	// reply, if any, goes back out as a bus frame.
	OriginBus OriginKind = iota
	// OriginDirect means the request was gateway-originated (for example
	// an emergency-redirection flush) with no bus frame to answer; the
	// reply only needs to update fleet state and be journaled.
	OriginDirect
)

// Origin records where the reply to a pending request must go.
type Origin struct {
	Kind    OriginKind
	FrameID uint16 // meaningful only when Kind == OriginBus
}

// SnapshotHints carries the fields a reply needs to correctly update state,
// and the fields a retry needs to rebuild the original request payload,
// beyond what the dispatcher verdict itself supplies.
type SnapshotHints struct {
	OriginFloor           int // FLOOR_CALL: the hall-call floor, retained for observability
	HasOriginFloor        bool
	RequestedDirection    codec.CallDirection // FLOOR_CALL: preserved across retries
	RequestingElevatorIdx int // CABIN_REQUEST: bus index of the requesting cabin
	HasRequestingElevator bool
	TargetFloor           int // CABIN_REQUEST: requested destination floor
	HasTargetFloor        bool

	EmergencyElevatorIdx int // EMERGENCY: bus index of the reporting cabin
	EmergencyType        codec.EmergencyType
	EmergencyFloor       int
	EmergencyDescription string
	EmergencyTimestamp   time.Time
	HasEmergency         bool
}

// PendingRequestRecord is one outstanding dispatcher request.
type PendingRequestRecord struct {
	Token            Token
	Kind             codec.RequestKind
	Origin           Origin
	SnapshotHints    SnapshotHints
	CreatedAt        time.Time
	Deadline         time.Time
	RetriesRemaining int
}

// NewRecord constructs a record with CreatedAt=now and Deadline=now+ttl.
// The supplied token is cloned, not retained by reference.
func NewRecord(token Token, kind codec.RequestKind, origin Origin, hints SnapshotHints, now time.Time, ttl time.Duration, retries int) PendingRequestRecord {
	return PendingRequestRecord{
		Token:            token.Clone(),
		Kind:             kind,
		Origin:           origin,
		SnapshotHints:    hints,
		CreatedAt:        now,
		Deadline:         now.Add(ttl),
		RetriesRemaining: retries,
	}
}
