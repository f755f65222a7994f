// Command gateway-sim replays a scenario file through the same bridge
// controller cmd/gateway runs, without a physical bus or a real hardware
// line: the scenario producer feeds synthetic frames directly into the
// core, and outbound replies are logged rather than written to a socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/codec"
	"github.com/rafavidel1/elevator-gateway/internal/config"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/credential"
	"github.com/rafavidel1/elevator-gateway/internal/eventsink"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
	"github.com/rafavidel1/elevator-gateway/internal/scenario"
	"github.com/rafavidel1/elevator-gateway/internal/transport"
)

// drainGrace is how long, after the scenario file is exhausted, the
// controller is left running to let in-flight dispatcher requests resolve
// before shutdown is requested.
const drainGrace = 3 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/elevator-gateway/config.yaml", "path to config.yaml")
	scenarioPath := flag.String("scenario", "", "path to a scenario JSON file (required)")
	interval := flag.Duration("interval", 200*time.Millisecond, "pacing interval between replayed frames")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "gateway-sim: -scenario is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	file, err := scenario.Load(*scenarioPath)
	if err != nil {
		log.Error("failed to load scenario file", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := eventsink.NewNoopSink()

	store, err := credential.Load(cfg.Credentials.File)
	if err != nil {
		log.Error("credential store init failed", zap.Error(err))
		return 2
	}
	psk, err := store.Select(cfg.Credentials.Policy, cfg.GatewayID)
	if err != nil {
		log.Error("credential selection failed", zap.Error(err))
		return 2
	}

	mgr := fleet.NewManager(log)
	// InitGroup here is a placeholder the scenario producer immediately
	// replaces per building; a group must exist before the first frame
	// can be classified against it.
	if err := mgr.InitGroup(cfg.Fleet.BuildingID, cfg.Fleet.Size, cfg.Fleet.NFloors); err != nil {
		log.Error("fleet group init failed", zap.Error(err))
		return 1
	}

	pending := correlation.NewTable(log, cfg.Pending.MaxPending, cfg.Pending.RequestDeadline, cfg.Pending.MaxRetries)

	sess := transport.NewSession(log, transport.Config{
		DispatcherEndpoint: cfg.Transport.DispatcherEndpoint,
		Credential:         []byte(psk),
		HandshakeRetries:   cfg.Transport.HandshakeRetries,
		HandshakeTimeout:   cfg.Transport.HandshakeTimeout,
	})
	if err := sess.Connect(ctx); err != nil {
		log.Error("dispatcher session unavailable at startup", zap.Error(err))
		return 3
	}

	bus := &loggingBus{log: log}
	incoming := make(chan bridge.InboundEvent, 64)

	ctrl := bridge.NewController(bridge.Config{
		Log:           log,
		Bus:           bus,
		Fleet:         mgr,
		Pending:       pending,
		Session:       sess,
		Sink:          sink,
		SweepInterval: time.Second,
	})

	producer := scenario.NewProducer(log, *interval, cfg.Fleet.NFloors)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- ctrl.Run(ctx, incoming) }()

	replayDone := make(chan error, 1)
	go func() { replayDone <- producer.Run(ctx, file, incoming) }()

	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		ctrl.RequestShutdown()
	case err := <-replayDone:
		if err != nil {
			log.Warn("scenario replay ended early", zap.Error(err))
		} else {
			log.Info("scenario replay complete, draining in-flight requests", zap.Duration("grace", drainGrace))
		}
		select {
		case <-time.After(drainGrace):
		case sig := <-sigCh:
			log.Info("signal received during drain", zap.String("signal", sig.String()))
		}
		ctrl.RequestShutdown()
	}

	<-runErrCh
	cancel()
	log.Info("gateway-sim stopped")
	return 0
}

// loggingBus stands in for a physical bus during replay: every outbound
// frame is journaled at info level instead of written to a socket.
type loggingBus struct {
	log *zap.Logger
}

func (b *loggingBus) WriteFrame(f codec.BusFrame) error {
	b.log.Info("outbound bus frame",
		zap.Uint16("frame_id", f.ID),
		zap.Binary("data", f.Data))
	return nil
}
