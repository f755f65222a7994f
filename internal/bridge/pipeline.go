package bridge

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
)

// HandleBusFrame runs one inbound frame through classification, fleet
// snapshotting, token minting, registration, and dispatch. Exported so a
// real bus reader (not just the scenario producer's channel) can feed the
// controller directly.
func (c *Controller) HandleBusFrame(frame codec.BusFrame) {
	c.sink.LogBusRx(frame.ID, "bus frame received")

	req, err := codec.Classify(frame)
	if err != nil {
		if errors.Is(err, codec.ErrUnknownFrameID) {
			c.log.Debug("discarding frame with unrecognized id", zap.Uint16("frame_id", frame.ID))
			return
		}
		c.log.Warn("discarding malformed bus frame", zap.Uint16("frame_id", frame.ID), zap.Error(err))
		c.sink.LogError("MalformedBusFrame", err)
		return
	}

	group := c.mgr.Group()
	if group == nil {
		c.log.Error("bus frame received before fleet group initialized", zap.Uint16("frame_id", frame.ID))
		return
	}

	switch req.Kind {
	case codec.KindFloorCall:
		c.dispatchFloorCall(frame, req, group)
	case codec.KindCabinRequest:
		c.dispatchCabinRequest(frame, req, group)
	case codec.KindEmergency:
		c.dispatchEmergency(frame, req, group)
	default:
		c.log.Debug("discarding frame of unhandled kind", zap.String("kind", req.Kind.String()))
	}
}

func (c *Controller) dispatchFloorCall(frame codec.BusFrame, req codec.Request, group *fleet.Group) {
	payload, err := codec.BuildFloorCallPayload(group.BuildingID, req.FloorCall, group)
	if err != nil {
		c.log.Error("failed to build floor call payload", zap.Error(err))
		return
	}
	hints := correlation.SnapshotHints{
		OriginFloor:        req.FloorCall.OriginFloor,
		HasOriginFloor:     true,
		RequestedDirection: req.FloorCall.RequestedDirection,
	}
	c.register(frame, codec.KindFloorCall, hints, payload)
}

func (c *Controller) dispatchCabinRequest(frame codec.BusFrame, req codec.Request, group *fleet.Group) {
	e := group.ByIndex(req.Cabin.RequestingElevatorIndex)
	if e == nil {
		c.log.Warn("cabin request references unknown elevator index",
			zap.Int("index", req.Cabin.RequestingElevatorIndex))
		c.emitGatewayError(frame.ID, codec.ErrCodeUnknownElevator)
		c.sink.LogError("UnknownElevator", fleet.ErrUnknownElevator)
		return
	}
	payload, err := codec.BuildCabinRequestPayload(group.BuildingID, e.ElevatorID, req.Cabin, group)
	if err != nil {
		c.log.Error("failed to build cabin request payload", zap.Error(err))
		return
	}
	hints := correlation.SnapshotHints{
		RequestingElevatorIdx: req.Cabin.RequestingElevatorIndex,
		HasRequestingElevator: true,
		TargetFloor:           req.Cabin.TargetFloor,
		HasTargetFloor:        true,
	}
	c.register(frame, codec.KindCabinRequest, hints, payload)
}

func (c *Controller) dispatchEmergency(frame codec.BusFrame, req codec.Request, group *fleet.Group) {
	e := group.ByIndex(req.Emergency.ElevatorIndex)
	if e == nil {
		c.log.Warn("emergency frame references unknown elevator index",
			zap.Int("index", req.Emergency.ElevatorIndex))
		c.emitGatewayError(frame.ID, codec.ErrCodeUnknownElevator)
		c.sink.LogError("UnknownElevator", fleet.ErrUnknownElevator)
		return
	}
	payload, err := codec.BuildEmergencyPayload(group.BuildingID, e.ElevatorID, req.Emergency, group)
	if err != nil {
		c.log.Error("failed to build emergency payload", zap.Error(err))
		return
	}
	hints := correlation.SnapshotHints{
		EmergencyElevatorIdx: req.Emergency.ElevatorIndex,
		EmergencyType:        req.Emergency.EmergencyType,
		EmergencyFloor:       req.Emergency.CurrentFloor,
		EmergencyDescription: req.Emergency.Description,
		EmergencyTimestamp:   req.Emergency.Timestamp,
		HasEmergency:         true,
	}
	c.register(frame, codec.KindEmergency, hints, payload)
}

// register mints a token, builds and registers a pending record, and
// sends the payload. Shared tail of the three dispatchXxx helpers.
func (c *Controller) register(frame codec.BusFrame, kind codec.RequestKind, hints correlation.SnapshotHints, payload []byte) {
	token, err := correlation.NewToken(6)
	if err != nil {
		c.log.Error("failed to mint correlation token", zap.Error(err))
		return
	}

	origin := correlation.Origin{Kind: correlation.OriginBus, FrameID: frame.ID}
	rec := correlation.NewRecord(token, kind, origin, hints, time.Now(), c.pend.Deadline(), c.pend.MaxRetries())

	if err := c.pend.Register(rec); err != nil {
		c.log.Warn("pending table full, rejecting request", zap.String("kind", kind.String()))
		c.emitGatewayError(frame.ID, codec.ErrCodeTooManyPending)
		c.sink.LogError("TooManyPending", err)
		return
	}

	c.send(rec, payload)
}

// send posts one payload through the transport session, rolling back the
// just-registered pending record on failure so a dead session never
// leaves a phantom entry occupying a slot.
func (c *Controller) send(rec correlation.PendingRequestRecord, payload []byte) {
	path, err := codec.PathFor(rec.Kind)
	if err != nil {
		c.log.Error("no dispatcher path for request kind", zap.String("kind", rec.Kind.String()))
		c.pend.MatchAndRemove(rec.Token)
		return
	}

	if err := c.sess.Send(c.ctx, path, rec.Token, payload); err != nil {
		c.pend.MatchAndRemove(rec.Token)
		c.log.Warn("failed to send request to dispatcher", zap.String("path", path), zap.Error(err))
		if rec.Origin.Kind == correlation.OriginBus {
			c.emitGatewayError(rec.Origin.FrameID, codec.ErrCodeSessionUnavailable)
		}
		c.sink.LogError("SessionUnavailable", err)
		return
	}

	c.sink.LogDispatchTx(path, "request sent")
}

// emitGatewayError writes a 0xFE frame and logs the emission.
func (c *Controller) emitGatewayError(causingFrameID uint16, code codec.GatewayErrorCode) {
	frame := codec.EncodeGatewayError(causingFrameID, code)
	if err := c.bus.WriteFrame(frame); err != nil {
		c.log.Error("failed to write gateway error frame", zap.Error(err))
		return
	}
	c.sink.LogBusTx(frame.ID, "gateway error")
}
