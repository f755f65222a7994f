// Package integration exercises the bridge controller end to end, through
// its real Run loop, against the literal scenarios it must satisfy: a bus
// frame goes in, a dispatcher reply (or its absence) comes back on its own
// schedule, and the resulting fleet state plus outbound bus traffic are
// checked against the exact bytes expected.
package integration

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/codec"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/eventsink"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
	"github.com/rafavidel1/elevator-gateway/internal/transport"
)

// fakeSession is a trivial stand-in for *transport.Session: Send records the
// call, and a queued reply is handed back on the next Process call instead
// of arriving asynchronously over a real DTLS connection. The controller's
// Run loop calls both methods from its own goroutine while the test
// goroutine inspects or queues concurrently, so every access is guarded.
type fakeSession struct {
	mu     sync.Mutex
	sent   []sentCall
	queued []transport.ReplyEvent
	closed bool
}

type sentCall struct {
	path  string
	token []byte
	body  []byte
}

func (f *fakeSession) Send(_ context.Context, path string, token []byte, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCall{path: path, token: append([]byte(nil), token...), body: append([]byte(nil), body...)})
	return nil
}

func (f *fakeSession) Process(time.Duration) []transport.ReplyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queued
	f.queued = nil
	return out
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSession) sentAt(i int) sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

// queueReplyToLatest ties a reply to whatever token was most recently sent,
// to be picked up by the controller's next Process call.
func (f *fakeSession) queueReplyToLatest(success bool, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := f.sent[len(f.sent)-1].token
	f.queued = append(f.queued, transport.ReplyEvent{Token: tok, Success: success, Body: body})
}

// fakeBus records every frame the controller writes outbound, standing in
// for a physical bus line.
type fakeBus struct {
	mu     sync.Mutex
	frames []codec.BusFrame
}

func (b *fakeBus) WriteFrame(f codec.BusFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
	return nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *fakeBus) last() codec.BusFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames[len(b.frames)-1]
}

// harness wires a Controller with fakes standing in for the bus and the
// dispatcher session, and drives it through its real Run loop.
type harness struct {
	sess *fakeSession
	bus  *fakeBus
	mgr  *fleet.Manager
	pend *correlation.Table
	ctrl *bridge.Controller

	incoming chan bridge.InboundEvent
	runErr   chan error
}

// newHarness constructs the controller without starting its loop, so a test
// can mutate fleet state before any goroutine touches it concurrently; a
// building switch after start goes through switchBuilding instead.
func newHarness(t *testing.T, buildingID string, nElevators, nFloors int, deadline time.Duration, maxRetries int, sweepInterval time.Duration) *harness {
	t.Helper()
	log := zap.NewNop()
	mgr := fleet.NewManager(log)
	require.NoError(t, mgr.InitGroup(buildingID, nElevators, nFloors))

	sess := &fakeSession{}
	bus := &fakeBus{}
	pend := correlation.NewTable(log, 32, deadline, maxRetries)
	ctrl := bridge.NewController(bridge.Config{
		Log:           log,
		Bus:           bus,
		Fleet:         mgr,
		Pending:       pend,
		Session:       sess,
		Sink:          eventsink.NewNoopSink(),
		SweepInterval: sweepInterval,
	})
	return &harness{
		sess:     sess,
		bus:      bus,
		mgr:      mgr,
		pend:     pend,
		ctrl:     ctrl,
		incoming: make(chan bridge.InboundEvent, 8),
		runErr:   make(chan error, 1),
	}
}

// start launches the controller's real Run loop in the background and
// arranges for it to be torn down at the end of the test.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runErr <- h.ctrl.Run(ctx, h.incoming) }()
	t.Cleanup(cancel)
}

func (h *harness) inject(frame codec.BusFrame) {
	h.incoming <- bridge.InboundEvent{Frame: &frame}
}

func (h *harness) switchBuilding(buildingID string, nElevators, nFloors int) {
	h.incoming <- bridge.InboundEvent{Reinit: &fleet.ReinitRequest{
		BuildingID: buildingID,
		NElevators: nElevators,
		NFloors:    nFloors,
	}}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, "timed out waiting for: %s", what)
}

// Scenario 1: floor call served.
func TestScenario_FloorCallServed(t *testing.T) {
	h := newHarness(t, "E1", 4, 14, 5*time.Second, 3, time.Second)
	h.start(t)

	h.inject(codec.BusFrame{ID: codec.FrameFloorCall, Data: []byte{0x02, 0x00}})
	waitUntil(t, func() bool { return h.sess.sentCount() == 1 }, "floor call request sent")
	require.Equal(t, codec.PathFloorCall, h.sess.sentAt(0).path)

	h.sess.queueReplyToLatest(true, []byte(`{"ascensor_asignado_id":"E1A3","tarea_id":"T_42","piso_destino_asignado":2}`))
	waitUntil(t, func() bool { return h.bus.count() == 1 }, "floor call reply written")

	e := h.mgr.Group().ByID("E1A3")
	require.NotNil(t, e)
	require.True(t, e.Busy)
	require.Equal(t, "T_42", e.CurrentTaskID)
	require.Equal(t, 2, e.CurrentDestination)
	require.Equal(t, fleet.DirUp, e.MovementDirection)

	require.Equal(t, 0, h.pend.Len())
	got := h.bus.last()
	require.Equal(t, codec.FrameFloorCallReply, got.ID)
	require.Equal(t, []byte{0x02, 'T', '_', '4', '2'}, got.Data)
}

// Scenario 2: cabin request.
func TestScenario_CabinRequest(t *testing.T) {
	h := newHarness(t, "E1", 4, 14, 5*time.Second, 3, time.Second)
	h.start(t)

	h.inject(codec.BusFrame{ID: codec.FrameCabinRequest, Data: []byte{0x00, 0x05}})
	waitUntil(t, func() bool { return h.sess.sentCount() == 1 }, "cabin request sent")
	require.Equal(t, codec.PathCabinRequest, h.sess.sentAt(0).path)

	h.sess.queueReplyToLatest(true, []byte(`{"ascensor_asignado_id":"E1A1","tarea_id":"T_9","piso_destino_asignado":5}`))
	waitUntil(t, func() bool { return h.bus.count() == 1 }, "cabin reply written")

	e := h.mgr.Group().ByID("E1A1")
	require.NotNil(t, e)
	require.True(t, e.Busy)
	require.Equal(t, 5, e.CurrentDestination)
	require.Equal(t, fleet.DirUp, e.MovementDirection)

	got := h.bus.last()
	require.Equal(t, codec.FrameCabinReply, got.ID)
	require.Equal(t, []byte{0x00, 'T', '_', '9'}, got.Data)
}

// Scenario 3: timeout then retry success.
func TestScenario_TimeoutThenRetrySuccess(t *testing.T) {
	h := newHarness(t, "E1", 4, 14, 100*time.Millisecond, 1, 20*time.Millisecond)
	h.start(t)

	h.inject(codec.BusFrame{ID: codec.FrameFloorCall, Data: []byte{0x02, 0x00}})
	waitUntil(t, func() bool { return h.sess.sentCount() == 1 }, "initial request sent")

	// Dispatcher stays silent past the deadline; the sweep must retry
	// instead of expiring the record, since one retry remains.
	waitUntil(t, func() bool { return h.sess.sentCount() == 2 }, "request resent after timeout")
	require.Equal(t, 1, h.pend.Len())
	require.Equal(t, 0, h.bus.count(), "no gateway error yet, retry still available")

	h.sess.queueReplyToLatest(true, []byte(`{"ascensor_asignado_id":"E1A3","tarea_id":"T_42","piso_destino_asignado":2}`))
	waitUntil(t, func() bool { return h.pend.Len() == 0 }, "retried request resolved")

	waitUntil(t, func() bool { return h.bus.count() == 1 }, "floor call reply written after retry")
	require.Equal(t, codec.FrameFloorCallReply, h.bus.last().ID, "a successful retry emits the normal reply, not a 0xFE")
	e := h.mgr.Group().ByID("E1A3")
	require.True(t, e.Busy)
	require.Equal(t, "T_42", e.CurrentTaskID)
}

// Scenario 4: timeout exhausted.
func TestScenario_TimeoutExhausted(t *testing.T) {
	h := newHarness(t, "E1", 4, 14, 100*time.Millisecond, 1, 20*time.Millisecond)
	h.start(t)

	h.inject(codec.BusFrame{ID: codec.FrameFloorCall, Data: []byte{0x02, 0x00}})
	waitUntil(t, func() bool { return h.sess.sentCount() == 1 }, "initial request sent")

	// Dispatcher stays silent throughout: one retry, then exhaustion.
	waitUntil(t, func() bool { return h.sess.sentCount() == 2 }, "request resent after first timeout")
	waitUntil(t, func() bool { return h.bus.count() == 1 }, "gateway error emitted after retries exhausted")

	require.Equal(t, 0, h.pend.Len())
	got := h.bus.last()
	require.Equal(t, codec.FrameGatewayError, got.ID)
	require.Equal(t, byte(0x00), got.Data[0])
	require.Equal(t, byte(codec.ErrCodeRequestTimedOut), got.Data[1])
}

// Scenario 5: malformed assignment.
func TestScenario_MalformedAssignment(t *testing.T) {
	h := newHarness(t, "E1", 4, 14, 5*time.Second, 3, time.Second)
	h.start(t)

	before := h.mgr.Group().Snapshot()

	h.inject(codec.BusFrame{ID: codec.FrameFloorCall, Data: []byte{0x02, 0x00}})
	waitUntil(t, func() bool { return h.sess.sentCount() == 1 }, "request sent")

	h.sess.queueReplyToLatest(true, []byte(`{"tarea_id":"T_1"}`))
	waitUntil(t, func() bool { return h.bus.count() == 1 }, "gateway error emitted")

	after := h.mgr.Group().Snapshot()
	require.Equal(t, before, after, "fleet state must be unchanged by a malformed assignment")

	got := h.bus.last()
	require.Equal(t, codec.FrameGatewayError, got.ID)
	require.Equal(t, byte(codec.ErrCodeMalformedAssignment), got.Data[1])
}

// Scenario 6: building switch.
func TestScenario_BuildingSwitch(t *testing.T) {
	h := newHarness(t, "E1", 4, 14, 5*time.Second, 3, time.Second)
	h.start(t)

	// The switch is delivered on the same channel as bus frames, the only
	// path that may touch fleet state once the controller's loop owns it.
	h.switchBuilding("E7", 4, 14)
	waitUntil(t, func() bool {
		g := h.mgr.Group()
		return g != nil && g.BuildingID == "E7"
	}, "fleet group reinitialized for the new building")

	h.inject(codec.BusFrame{ID: codec.FrameFloorCall, Data: []byte{0x03, 0x00}})
	waitUntil(t, func() bool { return h.sess.sentCount() == 1 }, "request sent for the new building")

	var body struct {
		IDEdificio       string `json:"id_edificio"`
		ElevadoresEstado []struct {
			IDAscensor string `json:"id_ascensor"`
		} `json:"elevadores_estado"`
	}
	require.NoError(t, json.Unmarshal(h.sess.sentAt(0).body, &body))
	require.Equal(t, "E7", body.IDEdificio)
	require.Len(t, body.ElevadoresEstado, 4)
	for i, e := range body.ElevadoresEstado {
		require.Equal(t, "E7A"+strconv.Itoa(i+1), e.IDAscensor)
	}

	require.Nil(t, h.mgr.Group().ByID("E1A1"), "no references to the old group remain")
}
