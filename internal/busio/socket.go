// Package busio terminates the physical local bus for cmd/gateway: a Unix
// domain socket carrying one frame per message (2-byte big-endian id,
// 1-byte length, that many data bytes), dialed by whatever process actually
// speaks to the elevator controllers' CAN-style line. It is a producer in
// the same sense as the scenario producer -- its own goroutine, talking to
// the main loop exclusively through the bounded event channel it is
// handed, never reaching into fleet.Manager directly.
package busio

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/codec"
)

// frameHeaderBytes is the id (2 bytes) + length (1 byte) prefix on every
// frame read from or written to the socket.
const frameHeaderBytes = 3

// Listener terminates the local bus socket. Only one bus line is ever
// expected to be connected at a time; a new connection replaces whatever
// the listener previously held, mirroring how a real serial line has
// exactly one far end.
type Listener struct {
	log  *zap.Logger
	path string
	out  chan<- bridge.InboundEvent

	mu   sync.Mutex
	conn net.Conn
}

// NewListener constructs a bus Listener. Frames read off the socket are
// pushed onto out as InboundEvents; out should be buffered enough that a
// slow consumer does not block the connection's read goroutine for long (the
// controller drains it non-blocking every tick regardless).
func NewListener(log *zap.Logger, path string, out chan<- bridge.InboundEvent) *Listener {
	return &Listener{log: log, path: path, out: out}
}

// ListenAndServe binds the socket and accepts bus-line connections until
// ctx is cancelled.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("busio: remove stale socket %q: %w", l.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("busio: mkdir %q: %w", filepath.Dir(l.path), err)
	}

	lis, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("busio: listen %q: %w", l.path, err)
	}
	defer lis.Close()

	l.log.Info("bus socket listening", zap.String("path", l.path))

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
				l.log.Error("busio: accept error", zap.Error(err))
				continue
			}
		}
		l.adopt(conn)
		go l.readLoop(conn)
	}
}

// adopt closes any previously held connection and stores the new one as
// the active bus line.
func (l *Listener) adopt(conn net.Conn) {
	l.mu.Lock()
	prev := l.conn
	l.conn = conn
	l.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	l.log.Info("bus line connected", zap.String("remote", conn.RemoteAddr().String()))
}

// readLoop decodes frames off conn until a read fails or a frame body is
// cut short; either ends this connection but not the listener, since
// another bus-line process may reconnect. Header values are not checked
// here.
func (l *Listener) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	header := make([]byte, frameHeaderBytes)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err != io.EOF {
				l.log.Warn("busio: read error, dropping bus line", zap.Error(err))
			}
			return
		}
		id := binary.BigEndian.Uint16(header[0:2])
		length := int(header[2])
		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, data); err != nil {
				l.log.Warn("busio: short frame body, dropping bus line", zap.Error(err))
				return
			}
		}
		frame := codec.BusFrame{ID: id, Data: data}
		l.out <- bridge.InboundEvent{Frame: &frame}
	}
}

// WriteFrame encodes and writes f to the currently connected bus line.
// Returns an error if no line is connected.
func (l *Listener) WriteFrame(f codec.BusFrame) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("busio: no bus line connected")
	}

	buf := make([]byte, frameHeaderBytes+len(f.Data))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = byte(len(f.Data))
	copy(buf[3:], f.Data)

	_, err := conn.Write(buf)
	return err
}
