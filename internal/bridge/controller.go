// Package bridge orchestrates one message lifecycle end to end: an
// inbound bus frame is classified, the fleet is snapshotted into a
// dispatcher payload, a correlation token is minted and registered, the
// payload is sent over the transport session, and -- asynchronously --
// the eventual reply is matched back to that token, applied to fleet
// state, and answered on the bus.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/eventsink"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
	"github.com/rafavidel1/elevator-gateway/internal/transport"
)

// BusWriter is how the controller emits a frame onto the bus (real or
// simulated). The bridge does not care which.
type BusWriter interface {
	WriteFrame(codec.BusFrame) error
}

// InboundEvent is the single item type a producer goroutine (the scenario
// producer, or a real bus reader) delivers to the main loop over the
// single-producer-single-consumer channel spec's concurrency model
// allows. Exactly one of Frame or Reinit is set. Routing a building
// switch through this same channel, instead of letting a producer call
// fleet.Manager directly, keeps every touch of fleet state on the main
// loop -- fleet.Manager carries no internal lock precisely because
// nothing outside this loop is supposed to reach it.
type InboundEvent struct {
	Frame  *codec.BusFrame
	Reinit *fleet.ReinitRequest
}

// TransportSession is the subset of *transport.Session the controller
// depends on. Declared here, not in the transport package, so tests can
// substitute a fake without opening a real DTLS handshake; *transport.Session
// satisfies it without any change on that side.
type TransportSession interface {
	Send(ctx context.Context, path string, token []byte, body []byte) error
	Process(timeout time.Duration) []transport.ReplyEvent
	Close() error
}

// Controller is the single orchestrator. Its request handling runs on one
// goroutine (the main loop in Run). The exceptions are Status, which reads
// the published snapshot under statusMu, and RequestShutdown, which sets an
// atomic flag; both may be called from other goroutines.
type Controller struct {
	log  *zap.Logger
	bus  BusWriter
	mgr  *fleet.Manager
	pend *correlation.Table
	sess TransportSession
	sink eventsink.Sink

	sweepInterval time.Duration
	quit          atomic.Bool

	// ctx is the Run-scoped context, stashed so HandleBusFrame and the
	// sweep's retries can pass it to Session.Send without threading it
	// through every call.
	ctx context.Context

	// statusMu guards status, the published snapshot an operator-socket
	// goroutine may read concurrently with the main loop.
	statusMu sync.Mutex
	status   StatusSnapshot
}

// Config bundles the constructor parameters so Run's signature stays
// small.
type Config struct {
	Log           *zap.Logger
	Bus           BusWriter
	Fleet         *fleet.Manager
	Pending       *correlation.Table
	Session       TransportSession
	Sink          eventsink.Sink
	SweepInterval time.Duration
}

// NewController wires the five subsystems into one orchestrator.
func NewController(cfg Config) *Controller {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Controller{
		log:           cfg.Log,
		bus:           cfg.Bus,
		mgr:           cfg.Fleet,
		pend:          cfg.Pending,
		sess:          cfg.Session,
		sink:          cfg.Sink,
		sweepInterval: interval,
		ctx:           context.Background(),
	}
}

// RequestShutdown sets the process-wide quit flag the main loop checks at
// each iteration. Safe to call from a signal handler goroutine: the flag
// is an atomic.Bool, so the loop sees the write on its next check.
func (c *Controller) RequestShutdown() {
	c.quit.Store(true)
}

// Run drives the main event loop until RequestShutdown is observed. ctx
// cancellation is treated the same as a shutdown request. incoming is the
// single-producer-single-consumer channel the scenario producer (or real
// bus reader) delivers events on; it is drained, non-blocking, once per
// tick, per the concurrency model's backpressure rule.
func (c *Controller) Run(ctx context.Context, incoming <-chan InboundEvent) error {
	c.ctx = ctx
	lastSweep := time.Now()

	for {
		if c.quit.Load() {
			return c.shutdown()
		}
		select {
		case <-ctx.Done():
			return c.shutdown()
		default:
		}

		c.drainIncoming(incoming)

		events := c.sess.Process(100 * time.Millisecond)
		for _, ev := range events {
			c.onReply(ev)
		}

		if time.Since(lastSweep) >= c.sweepInterval {
			c.tick(time.Now())
			lastSweep = time.Now()
		}

		c.refreshStatus()
	}
}

// drainIncoming pulls every event currently buffered on incoming without
// blocking, per the bounded single-consumer backpressure rule: if nothing
// is ready, the loop moves on rather than waiting. Events are applied in
// the order delivered, so a reinit queued ahead of a building's first
// frame always takes effect before that frame is classified.
func (c *Controller) drainIncoming(incoming <-chan InboundEvent) {
	for {
		select {
		case ev, ok := <-incoming:
			if !ok {
				return
			}
			switch {
			case ev.Reinit != nil:
				c.applyReinit(*ev.Reinit)
			case ev.Frame != nil:
				c.HandleBusFrame(*ev.Frame)
			}
		default:
			return
		}
	}
}

// applyReinit atomically replaces the fleet group. Only ever called from
// the main loop, matching fleet.Manager's single-owner contract.
func (c *Controller) applyReinit(req fleet.ReinitRequest) {
	if err := c.mgr.ReinitGroup(req.BuildingID, req.NElevators, req.NFloors); err != nil {
		c.log.Error("failed to reinit fleet group",
			zap.String("building_id", req.BuildingID), zap.Error(err))
		c.sink.LogError("ReinitGroup", err)
		return
	}
	c.log.Info("fleet group reinitialized",
		zap.String("building_id", req.BuildingID), zap.Int("n_elevators", req.NElevators))
}

// shutdown drains in-flight work, reports every outstanding pending
// record as CancelledAtShutdown, releases the session, and flushes the
// sink.
func (c *Controller) shutdown() error {
	for _, rec := range c.pend.Drain() {
		c.log.Warn("pending request cancelled at shutdown",
			zap.Binary("token", rec.Token),
			zap.String("kind", rec.Kind.String()))
		c.sink.LogError("CancelledAtShutdown", correlation.ErrCancelledAtShutdown)
	}

	if err := c.sess.Close(); err != nil {
		c.log.Warn("error closing session at shutdown", zap.Error(err))
	}

	counters, err := c.sink.Finish()
	c.log.Info("gateway shutdown complete",
		zap.Uint64("bus_frames_in", counters.BusFramesIn),
		zap.Uint64("bus_frames_out", counters.BusFramesOut),
		zap.Uint64("dispatch_requests", counters.DispatchRequests),
		zap.Uint64("dispatch_responses", counters.DispatchResponses),
		zap.Uint64("tasks_assigned", counters.TasksAssigned),
		zap.Uint64("errors", counters.Errors))
	return err
}
