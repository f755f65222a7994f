// Package config provides configuration loading, validation, and hot-reload
// for the elevator fleet protocol-bridging gateway.
//
// Configuration file: /etc/elevator-gateway/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - The gateway listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply the pending request deadline and retry count only; the new log
//     level is logged but not applied.
//   - Every other change (listen addr, dispatcher endpoint, credentials
//     file, log level, ...) requires restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The gateway does NOT crash on invalid hot-reload.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. fleet size within the hard limit).
//   - Invalid config on startup: gateway refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HardElevatorLimit is the absolute maximum number of elevators a group may
// hold, regardless of configuration.
const HardElevatorLimit = 16

// DefaultFleetSize is the number of elevators initialised when the config
// does not specify fleet.size.
const DefaultFleetSize = 4

// DefaultLedgerPath is the default observability.ledger_path.
const DefaultLedgerPath = "/var/lib/elevator-gateway/events.db"

// Config is the root configuration structure for the gateway.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// GatewayID identifies this gateway instance in ledger entries and on
	// the operator socket. Default: hostname.
	GatewayID string `yaml:"gateway_id"`

	// Fleet configures the initial elevator group.
	Fleet FleetConfig `yaml:"fleet"`

	// Credentials configures the pre-shared key pool.
	Credentials CredentialConfig `yaml:"credentials"`

	// Pending configures the correlation engine's bounded table.
	Pending PendingConfig `yaml:"pending"`

	// Transport configures the DTLS-PSK/CoAP session to the dispatcher.
	Transport TransportConfig `yaml:"transport"`

	// LocalBus configures the socket this process terminates the physical
	// bus line on. Distinct from transport.gateway_listen, which concerns
	// the dispatcher-facing CoAP/DTLS side.
	LocalBus LocalBusConfig `yaml:"local_bus"`

	// Observability configures metrics, ledger, and logging.
	Observability ObservabilityConfig `yaml:"observability"`

	// Operator configures the read-only introspection Unix socket.
	Operator OperatorConfig `yaml:"operator"`
}

// FleetConfig configures the elevator group the gateway manages.
type FleetConfig struct {
	// BuildingID is the building identifier at init. A scenario file may
	// trigger a re-init under a different building_id.
	BuildingID string `yaml:"building_id"`

	// Size is the number of elevators initialised. Must be in
	// [1, HardElevatorLimit].
	Size int `yaml:"size"`

	// NFloors is the number of floors serviced. It is passed to the fleet
	// group at init and logged; floor references in bus frames and
	// dispatcher replies are not checked against it.
	NFloors int `yaml:"n_floors"`
}

// CredentialConfig configures the pre-shared credential pool used for the
// DTLS-PSK handshake.
type CredentialConfig struct {
	// File is the path to the newline-delimited credential file.
	File string `yaml:"file"`

	// Policy selects the selection strategy: first | random | deterministic.
	Policy string `yaml:"policy"`
}

// PendingConfig configures the bounded pending-request table.
type PendingConfig struct {
	// MaxPending bounds the number of in-flight dispatcher requests.
	MaxPending int `yaml:"max_pending"`

	// RequestDeadline is the per-request timeout before the record sweeps
	// as RequestTimedOut. See UnmarshalYAML: the yaml key is in
	// milliseconds, not nanoseconds.
	RequestDeadline time.Duration `yaml:"request_deadline_ms"`

	// MaxRetries is the number of re-sends attempted before a pending
	// request is abandoned.
	MaxRetries int `yaml:"max_retries"`
}

// UnmarshalYAML decodes request_deadline_ms as milliseconds. Without this,
// yaml.v3 decodes a bare integer scalar into a time.Duration field as
// nanoseconds, so "request_deadline_ms: 5000" would silently become 5µs.
func (p *PendingConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxPending        int   `yaml:"max_pending"`
		RequestDeadlineMS int64 `yaml:"request_deadline_ms"`
		MaxRetries        int   `yaml:"max_retries"`
	}
	raw.MaxPending = p.MaxPending
	raw.RequestDeadlineMS = int64(p.RequestDeadline / time.Millisecond)
	raw.MaxRetries = p.MaxRetries

	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("pending config: %w", err)
	}

	p.MaxPending = raw.MaxPending
	p.RequestDeadline = time.Duration(raw.RequestDeadlineMS) * time.Millisecond
	p.MaxRetries = raw.MaxRetries
	return nil
}

// TransportConfig configures the DTLS-PSK/CoAP session to the dispatcher.
type TransportConfig struct {
	// GatewayListen is the local UDP bind address setting. It is validated
	// as non-empty, but the transport session does not bind to it; the
	// session only dials DispatcherEndpoint.
	GatewayListen string `yaml:"gateway_listen"`

	// DispatcherEndpoint is the remote dispatcher host:port.
	DispatcherEndpoint string `yaml:"dispatcher_endpoint"`

	// HandshakeRetries bounds connect() attempts before SessionUnavailable
	// is surfaced to the caller.
	HandshakeRetries int `yaml:"handshake_retries"`

	// HandshakeTimeout bounds a single handshake attempt. The yaml key
	// carries its unit in the name (handshake_timeout_ms); UnmarshalYAML
	// below is what actually makes that true, since yaml.v3 would otherwise
	// decode a bare integer into a time.Duration as nanoseconds.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout_ms"`
}

// UnmarshalYAML decodes handshake_timeout_ms as milliseconds rather than
// letting yaml.v3 hand a raw integer straight to time.Duration, which would
// read as nanoseconds.
func (t *TransportConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		GatewayListen      string `yaml:"gateway_listen"`
		DispatcherEndpoint string `yaml:"dispatcher_endpoint"`
		HandshakeRetries   int    `yaml:"handshake_retries"`
		HandshakeTimeoutMS int64  `yaml:"handshake_timeout_ms"`
	}
	raw.HandshakeTimeoutMS = int64(t.HandshakeTimeout / time.Millisecond)
	raw.GatewayListen = t.GatewayListen
	raw.DispatcherEndpoint = t.DispatcherEndpoint
	raw.HandshakeRetries = t.HandshakeRetries

	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	t.GatewayListen = raw.GatewayListen
	t.DispatcherEndpoint = raw.DispatcherEndpoint
	t.HandshakeRetries = raw.HandshakeRetries
	t.HandshakeTimeout = time.Duration(raw.HandshakeTimeoutMS) * time.Millisecond
	return nil
}

// LocalBusConfig configures the Unix domain socket the gateway terminates
// the physical local bus line on.
type LocalBusConfig struct {
	// SocketPath is the Unix domain socket path the bus-line process dials.
	SocketPath string `yaml:"socket_path"`
}

// ObservabilityConfig holds metrics, ledger, and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`

	// LedgerPath is the BoltDB file backing the event-sink audit ledger.
	LedgerPath string `yaml:"ledger_path"`

	// LedgerRetentionDays is the ledger retention period in days. It is
	// validated but not applied: the ledger sink never prunes entries.
	LedgerRetentionDays int `yaml:"ledger_retention_days"`
}

// OperatorConfig holds the introspection Unix socket parameters. The socket
// is read-only: status, list_elevators, list_pending. It never accepts
// state mutations.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is started.
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		GatewayID:     hostname,
		Fleet: FleetConfig{
			BuildingID: "E1",
			Size:       DefaultFleetSize,
			NFloors:    14,
		},
		Credentials: CredentialConfig{
			Policy: "first",
		},
		Pending: PendingConfig{
			MaxPending:      32,
			RequestDeadline: 5000 * time.Millisecond,
			MaxRetries:      3,
		},
		Transport: TransportConfig{
			GatewayListen:      "0.0.0.0:5683",
			DispatcherEndpoint: "192.168.49.2:5684",
			HandshakeRetries:   3,
			HandshakeTimeout:   2000 * time.Millisecond,
		},
		LocalBus: LocalBusConfig{
			SocketPath: "/run/elevator-gateway/bus.sock",
		},
		Observability: ObservabilityConfig{
			MetricsAddr:         "127.0.0.1:9091",
			LogLevel:            "info",
			LogFormat:           "json",
			LedgerPath:          DefaultLedgerPath,
			LedgerRetentionDays: 30,
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/elevator-gateway/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.GatewayID == "" {
		errs = append(errs, "gateway_id must not be empty")
	}
	if cfg.Fleet.BuildingID == "" {
		errs = append(errs, "fleet.building_id must not be empty")
	}
	if cfg.Fleet.Size < 1 || cfg.Fleet.Size > HardElevatorLimit {
		errs = append(errs, fmt.Sprintf("fleet.size must be in [1, %d], got %d", HardElevatorLimit, cfg.Fleet.Size))
	}
	if cfg.Fleet.NFloors < 1 {
		errs = append(errs, fmt.Sprintf("fleet.n_floors must be >= 1, got %d", cfg.Fleet.NFloors))
	}
	if cfg.Credentials.File == "" {
		errs = append(errs, "credentials.file must not be empty")
	}
	switch cfg.Credentials.Policy {
	case "first", "random", "deterministic":
	default:
		errs = append(errs, fmt.Sprintf("credentials.policy must be one of first|random|deterministic, got %q", cfg.Credentials.Policy))
	}
	if cfg.Pending.MaxPending < 1 {
		errs = append(errs, fmt.Sprintf("pending.max_pending must be >= 1, got %d", cfg.Pending.MaxPending))
	}
	if cfg.Pending.RequestDeadline <= 0 {
		errs = append(errs, fmt.Sprintf("pending.request_deadline_ms must be > 0, got %s", cfg.Pending.RequestDeadline))
	}
	if cfg.Pending.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("pending.max_retries must be >= 0, got %d", cfg.Pending.MaxRetries))
	}
	if cfg.Transport.GatewayListen == "" {
		errs = append(errs, "transport.gateway_listen must not be empty")
	}
	if cfg.Transport.DispatcherEndpoint == "" {
		errs = append(errs, "transport.dispatcher_endpoint must not be empty")
	}
	if cfg.Transport.HandshakeRetries < 0 {
		errs = append(errs, fmt.Sprintf("transport.handshake_retries must be >= 0, got %d", cfg.Transport.HandshakeRetries))
	}
	if cfg.Transport.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("transport.handshake_timeout_ms must be > 0, got %s", cfg.Transport.HandshakeTimeout))
	}
	if cfg.LocalBus.SocketPath == "" {
		errs = append(errs, "local_bus.socket_path must not be empty")
	}
	if cfg.Observability.LedgerPath == "" {
		errs = append(errs, "observability.ledger_path must not be empty")
	}
	if cfg.Observability.LedgerRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("observability.ledger_retention_days must be >= 1, got %d", cfg.Observability.LedgerRetentionDays))
	}
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
