package bridge

import (
	"encoding/hex"
	"time"

	"github.com/rafavidel1/elevator-gateway/internal/fleet"
)

// PendingSummary is a read-only view of one outstanding dispatcher
// request, shaped for introspection rather than replay.
type PendingSummary struct {
	Token            string
	Kind             string
	RetriesRemaining int
	Deadline         time.Time
}

// StatusSnapshot is a point-in-time, concurrency-safe copy of the
// controller's state, published once per main-loop iteration. It exists
// so a reader on another goroutine (the operator socket) never touches
// fleet.Manager or correlation.Table directly -- both are single-owner,
// main-loop-only types, per the shared-resource policy the rest of this
// package already follows.
type StatusSnapshot struct {
	BuildingID   string
	Elevators    []fleet.ElevatorStateWire
	PendingCount int
	Pending      []PendingSummary
	UpdatedAt    time.Time
}

// Status returns the most recently published snapshot. Safe to call from
// any goroutine.
func (c *Controller) Status() StatusSnapshot {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// refreshStatus rebuilds the published snapshot from current fleet and
// pending-table state. Called once per main-loop iteration; cheap enough
// not to need its own cadence.
func (c *Controller) refreshStatus() {
	snap := StatusSnapshot{UpdatedAt: time.Now()}

	if group := c.mgr.Group(); group != nil {
		snap.BuildingID = group.BuildingID
		snap.Elevators = group.Snapshot()
	}

	records := c.pend.Snapshot()
	snap.PendingCount = len(records)
	snap.Pending = make([]PendingSummary, 0, len(records))
	for _, r := range records {
		snap.Pending = append(snap.Pending, PendingSummary{
			Token:            hex.EncodeToString(r.Token),
			Kind:             r.Kind.String(),
			RetriesRemaining: r.RetriesRemaining,
			Deadline:         r.Deadline,
		})
	}

	c.statusMu.Lock()
	c.status = snap
	c.statusMu.Unlock()
}
