// Package operatorsock exposes a read-only introspection endpoint over a
// Unix domain socket: the fleet's current state and the dispatcher
// requests still outstanding. Unlike the dispatcher link it fronts for,
// this socket never mutates gateway state -- it exists for the operator
// to see what the gateway sees.
package operatorsock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// StatusProvider is the one method the server depends on. *bridge.Controller
// satisfies it; tests can substitute a stub without constructing a whole
// controller.
type StatusProvider interface {
	Status() bridge.StatusSnapshot
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd string `json:"cmd"` // status | list_elevators | list_pending
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK           bool                      `json:"ok"`
	Error        string                    `json:"error,omitempty"`
	BuildingID   string                    `json:"id_edificio,omitempty"`
	PendingCount int                       `json:"pending_count,omitempty"`
	UpdatedAt    *time.Time                `json:"updated_at,omitempty"`
	Elevators    []fleet.ElevatorStateWire `json:"elevadores,omitempty"`
	Pending      []bridge.PendingSummary   `json:"pendientes,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	status     StatusProvider
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server.
func NewServer(socketPath string, status StatusProvider, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		status:     status,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server and blocks until ctx
// is cancelled. Removes any stale socket file before binding.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operatorsock: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operatorsock: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operatorsock: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operatorsock: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operatorsock: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operatorsock: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operatorsock: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	snap := s.status.Status()
	switch req.Cmd {
	case "status":
		updatedAt := snap.UpdatedAt
		return Response{OK: true, BuildingID: snap.BuildingID, PendingCount: snap.PendingCount, UpdatedAt: &updatedAt}
	case "list_elevators":
		return Response{OK: true, Elevators: snap.Elevators}
	case "list_pending":
		return Response{OK: true, Pending: snap.Pending}
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
