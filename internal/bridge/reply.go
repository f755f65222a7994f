package bridge

import (
	"errors"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
	"github.com/rafavidel1/elevator-gateway/internal/transport"
)

// onReply matches one transport reply back to its pending record and
// drives it to completion: apply the verdict to fleet state, answer the
// bus if the triggering frame came from the bus, and journal the outcome.
func (c *Controller) onReply(ev transport.ReplyEvent) {
	rec, ok := c.pend.MatchAndRemove(correlation.Token(ev.Token))
	if !ok {
		c.log.Debug("discarding reply with no matching pending request")
		return
	}

	path, _ := codec.PathFor(rec.Kind)
	c.sink.LogDispatchRx(path, "response received")

	if ev.TransportErr != nil {
		c.log.Warn("transport error awaiting dispatcher reply", zap.Error(ev.TransportErr))
		c.sink.LogError("SessionUnavailable", ev.TransportErr)
		if rec.Origin.Kind == correlation.OriginBus {
			c.emitGatewayError(rec.Origin.FrameID, codec.ErrCodeSessionUnavailable)
		}
		return
	}

	assignment, dispErr, err := codec.ParseReply(ev.Body, ev.Success)
	if err != nil {
		// Spec treats a reply that matches neither known shape the same as
		// a parsed-but-incomplete assignment: both mean the dispatcher sent
		// something the bus side can't act on.
		c.log.Warn("dispatcher reply did not match any known shape", zap.Error(err))
		c.sink.LogError("MalformedReply", err)
		if rec.Origin.Kind == correlation.OriginBus {
			c.emitGatewayError(rec.Origin.FrameID, codec.ErrCodeMalformedAssignment)
		}
		return
	}

	if dispErr != nil {
		wrapped := errors.New(dispErr.Message)
		c.log.Warn("dispatcher rejected request",
			zap.String("error", dispErr.Error),
			zap.String("message", dispErr.Message),
			zap.String("expected", dispErr.Expected),
			zap.Int("received", dispErr.Received))
		c.sink.LogError(dispErr.Error, wrapped)
		if rec.Origin.Kind == correlation.OriginBus {
			c.emitGatewayError(rec.Origin.FrameID, codec.ErrCodeMalformedAssignment)
		}
		return
	}

	c.applyAssignment(rec, *assignment)
}

func (c *Controller) applyAssignment(rec correlation.PendingRequestRecord, a fleet.Assignment) {
	referenceFloor := 0
	switch {
	case rec.SnapshotHints.HasOriginFloor:
		referenceFloor = rec.SnapshotHints.OriginFloor
	case rec.SnapshotHints.HasTargetFloor:
		referenceFloor = rec.SnapshotHints.TargetFloor
	case rec.SnapshotHints.HasEmergency:
		referenceFloor = rec.SnapshotHints.EmergencyFloor
	}

	if err := c.mgr.ApplyAssignment(a, referenceFloor); err != nil {
		c.log.Warn("failed to apply dispatcher assignment", zap.Error(err))
		code := codec.ErrCodeMalformedAssignment
		errKind := "MalformedAssignment"
		if errors.Is(err, fleet.ErrUnknownElevator) {
			code = codec.ErrCodeUnknownElevator
			errKind = "UnknownElevator"
		}
		c.sink.LogError(errKind, err)
		if rec.Origin.Kind == correlation.OriginBus {
			c.emitGatewayError(rec.Origin.FrameID, code)
		}
		return
	}

	c.sink.LogTaskAssigned(a.AssignedElevatorID, a.TaskID)

	if rec.Origin.Kind != correlation.OriginBus {
		return
	}

	index := c.mgr.Group().IndexOf(a.AssignedElevatorID)
	var reply codec.BusFrame
	switch rec.Kind {
	case codec.KindFloorCall:
		reply = codec.EncodeFloorCallReply(index, a.TaskID)
	case codec.KindCabinRequest:
		reply = codec.EncodeCabinReply(index, a.TaskID)
	case codec.KindEmergency:
		// Optional by design: most emergency kinds have no redirection to
		// report, but when the dispatcher does assign one, flush it.
		reply = codec.EncodeEmergencyRedirect(index, a.TaskID)
	default:
		return
	}

	if err := c.bus.WriteFrame(reply); err != nil {
		c.log.Error("failed to write bus reply", zap.Error(err))
		return
	}
	c.sink.LogBusTx(reply.ID, "assignment delivered")
}
