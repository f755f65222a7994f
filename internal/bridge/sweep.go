package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
)

// tick sweeps the pending table, re-sending every record that still has
// retries left and surfacing a RequestTimedOut error for every record
// that does not.
func (c *Controller) tick(now time.Time) {
	outcomes, err := c.pend.Sweep(now, func() (correlation.Token, error) {
		return correlation.NewToken(6)
	})
	if err != nil {
		c.log.Error("sweep failed to mint a retry token", zap.Error(err))
		return
	}

	for _, oc := range outcomes {
		if oc.Retried {
			c.resend(oc.NewRecord)
			continue
		}
		c.log.Warn("request exhausted its retries",
			zap.String("kind", oc.Original.Kind.String()),
			zap.Binary("token", oc.Original.Token))
		c.sink.LogError("RequestTimedOut", correlation.ErrRequestTimedOut)
		if oc.Original.Origin.Kind == correlation.OriginBus {
			c.emitGatewayError(oc.Original.Origin.FrameID, codec.ErrCodeRequestTimedOut)
		}
	}
}

// resend rebuilds a request payload from a record's snapshot hints
// against the *current* fleet state -- the group may have moved on since
// the original attempt was sent -- and sends it under the record's fresh
// token.
func (c *Controller) resend(rec correlation.PendingRequestRecord) {
	group := c.mgr.Group()
	if group == nil {
		c.log.Error("cannot retry request: fleet group not initialized")
		return
	}

	var (
		payload []byte
		err     error
	)

	switch rec.Kind {
	case codec.KindFloorCall:
		payload, err = codec.BuildFloorCallPayload(group.BuildingID, codec.FloorCallRequest{
			OriginFloor:        rec.SnapshotHints.OriginFloor,
			RequestedDirection: rec.SnapshotHints.RequestedDirection,
		}, group)

	case codec.KindCabinRequest:
		elevID := elevatorIDAtIndex(group, rec.SnapshotHints.RequestingElevatorIdx)
		payload, err = codec.BuildCabinRequestPayload(group.BuildingID, elevID, codec.CabinRequest{
			RequestingElevatorIndex: rec.SnapshotHints.RequestingElevatorIdx,
			TargetFloor:             rec.SnapshotHints.TargetFloor,
		}, group)

	case codec.KindEmergency:
		elevID := elevatorIDAtIndex(group, rec.SnapshotHints.EmergencyElevatorIdx)
		payload, err = codec.BuildEmergencyPayload(group.BuildingID, elevID, codec.EmergencyRequest{
			ElevatorIndex: rec.SnapshotHints.EmergencyElevatorIdx,
			EmergencyType: rec.SnapshotHints.EmergencyType,
			CurrentFloor:  rec.SnapshotHints.EmergencyFloor,
			Description:   rec.SnapshotHints.EmergencyDescription,
			Timestamp:     rec.SnapshotHints.EmergencyTimestamp,
		}, group)

	default:
		c.log.Error("cannot retry request of unknown kind", zap.String("kind", rec.Kind.String()))
		return
	}

	if err != nil {
		c.log.Error("failed to rebuild payload for retry", zap.Error(err))
		return
	}

	c.send(rec, payload)
}

func elevatorIDAtIndex(group *fleet.Group, index int) string {
	if e := group.ByIndex(index); e != nil {
		return e.ElevatorID
	}
	return ""
}
