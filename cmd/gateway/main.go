// Command gateway runs the elevator fleet protocol-bridging gateway as a
// long-lived daemon: it terminates the local bus over a Unix socket,
// maintains one DTLS-PSK/CoAP session to the dispatcher, and bridges
// between the two until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/busio"
	"github.com/rafavidel1/elevator-gateway/internal/config"
	"github.com/rafavidel1/elevator-gateway/internal/correlation"
	"github.com/rafavidel1/elevator-gateway/internal/credential"
	"github.com/rafavidel1/elevator-gateway/internal/eventsink"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
	"github.com/rafavidel1/elevator-gateway/internal/operatorsock"
	"github.com/rafavidel1/elevator-gateway/internal/transport"
)

// shutdownDrain bounds how long the main loop is given to drain in-flight
// work once a shutdown has been requested, before the process exits anyway.
const shutdownDrain = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/elevator-gateway/config.yaml", "path to config.yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("elevator-gateway %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := eventsink.NewMetrics()
	sink := eventsink.NewLedgerSink(log, cfg.Observability.LedgerPath, metrics)
	if err := sink.Init(); err != nil {
		log.Error("event sink init failed", zap.Error(err))
		return 1
	}

	go serveMetrics(ctx, log, cfg.Observability.MetricsAddr, metrics)

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

	incoming := make(chan bridge.InboundEvent, 64)
	busLine := busio.NewListener(log, cfg.LocalBus.SocketPath, incoming)
	go func() {
		if err := busLine.ListenAndServe(ctx); err != nil {
			log.Error("bus socket exited", zap.Error(err))
		}
	}()

	ctrl := bridge.NewController(bridge.Config{
		Log:           log,
		Bus:           busLine,
		Fleet:         mgr,
		Pending:       pending,
		Session:       sess,
		Sink:          sink,
		SweepInterval: time.Second,
	})

	if cfg.Operator.Enabled {
		opSrv := operatorsock.NewServer(cfg.Operator.SocketPath, ctrl, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator socket exited", zap.Error(err))
			}
		}()
	}

	go watchReload(ctx, log, *configPath, pending)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- ctrl.Run(ctx, incoming) }()

	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		ctrl.RequestShutdown()
	case err := <-runErrCh:
		if err != nil {
			log.Error("main loop exited with error", zap.Error(err))
		}
		cancel()
		log.Info("elevator-gateway stopped")
		return exitCodeFor(err)
	}

	select {
	case err := <-runErrCh:
		cancel()
		log.Info("elevator-gateway stopped")
		return exitCodeFor(err)
	case <-time.After(shutdownDrain):
		log.Warn("shutdown drain timed out, exiting anyway")
		cancel()
		return 0
	}
}

func exitCodeFor(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

// serveMetrics runs the Prometheus HTTP endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, log *zap.Logger, addr string, m *eventsink.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server error", zap.Error(err))
	}
}

// watchReload re-reads configPath on SIGHUP and applies the new pending
// deadline and retry count without restarting the process. The new log
// level is logged but not applied; every other field, including the listen
// address, dispatcher endpoint and credentials file, keeps its startup
// value until restart.
func watchReload(ctx context.Context, log *zap.Logger, configPath string, pending *correlation.Table) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			newCfg, err := config.Load(configPath)
			if err != nil {
				log.Error("config reload failed, keeping previous config", zap.Error(err))
				continue
			}
			pending.SetPolicy(newCfg.Pending.RequestDeadline, newCfg.Pending.MaxRetries)
			log.Info("config reloaded",
				zap.Duration("request_deadline", newCfg.Pending.RequestDeadline),
				zap.Int("max_retries", newCfg.Pending.MaxRetries),
				zap.String("log_level", newCfg.Observability.LogLevel))
		}
	}
}

// buildLogger constructs the process logger: JSON in production, console
// in development, level set from the validated config.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
