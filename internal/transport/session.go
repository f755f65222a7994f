package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/plgd-dev/go-coap/v2/dtls"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/client"
	piondtls "github.com/pion/dtls/v2"
	"go.uber.org/zap"
)

// Config holds the parameters needed to establish and maintain the
// session. Mirrors internal/config.TransportConfig plus the one
// credential selected for this connection attempt.
type Config struct {
	DispatcherEndpoint string
	Credential         []byte
	HandshakeRetries   int
	HandshakeTimeout   time.Duration
}

// ReplyEvent is what Process surfaces for one completed or failed
// in-flight request.
type ReplyEvent struct {
	Token     []byte
	Success   bool // true for a 2.xx CoAP response code
	Body      []byte
	TransportErr error
}

// Session owns the one DTLS-PSK/CoAP connection to the dispatcher this
// gateway process ever holds. All state mutation happens through the
// exported methods; state itself lives behind stateHolder's mutex so the
// background goroutines Send spawns can safely observe it concurrently
// with the main loop.
type Session struct {
	log     *zap.Logger
	cfg     Config
	state   stateHolder
	backoff *backoff
	conn    *client.ClientConn
	replyCh chan ReplyEvent
}

// NewSession constructs a Session in the DISCONNECTED state. Connect must
// be called before Send.
func NewSession(log *zap.Logger, cfg Config) *Session {
	return &Session{
		log:     log,
		cfg:     cfg,
		backoff: newBackoff(500*time.Millisecond, 30*time.Second, 0.5),
		replyCh: make(chan ReplyEvent, 64),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state.get()
}

// ErrSessionUnavailable is returned when Connect exhausts its retries or
// Send is attempted outside the READY state.
var ErrSessionUnavailable = fmt.Errorf("transport: session unavailable")

// Connect drives DISCONNECTED -> HANDSHAKING -> READY. On repeated
// handshake failure (bounded by cfg.HandshakeRetries) it returns to
// DISCONNECTED and surfaces ErrSessionUnavailable.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.state.transition(Handshaking); err != nil {
		return err
	}

	pskConfig := &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return s.cfg.Credential, nil
		},
		PSKIdentityHint: []byte("elevator-gateway"),
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
	}

	retries := s.cfg.HandshakeRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		conn, err := dtls.Dial(s.cfg.DispatcherEndpoint, pskConfig)
		if err == nil {
			s.conn = conn
			if err := s.state.transition(Ready); err != nil {
				return err
			}
			s.backoff.success()
			s.log.Info("dispatcher session ready", zap.String("endpoint", s.cfg.DispatcherEndpoint))
			return nil
		}
		lastErr = err
		s.log.Warn("dispatcher handshake attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", retries),
			zap.Error(err))
		delay := s.backoff.failure()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.state.forceDisconnected()
			return ctx.Err()
		}
	}

	s.state.forceDisconnected()
	return fmt.Errorf("%w: %v", ErrSessionUnavailable, lastErr)
}

// Send posts one request confirmed by token to the resource at path. The
// call returns as soon as the request has been handed to the connection;
// the eventual reply (or error) surfaces later through Process. On I/O
// error at send time the session transitions to DISCONNECTED; C4 owns the
// retry, not this layer.
func (s *Session) Send(ctx context.Context, path string, token []byte, body []byte) error {
	if s.State() != Ready {
		return ErrSessionUnavailable
	}

	req, err := s.conn.NewPostRequest(ctx, path, message.AppJSON, bytes.NewReader(body))
	if err != nil {
		s.state.forceDisconnected()
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.SetToken(token)

	go func() {
		resp, err := s.conn.Do(req)
		if err != nil {
			s.replyCh <- ReplyEvent{Token: token, TransportErr: err}
			return
		}
		var respBody []byte
		if resp.Body() != nil {
			respBody, _ = io.ReadAll(resp.Body())
		}
		s.replyCh <- ReplyEvent{
			Token:   token,
			Success: resp.Code() == codes.Content || resp.Code() == codes.Created || resp.Code() == codes.Changed,
			Body:    respBody,
		}
	}()

	return nil
}

// Process is the one suspension point: it blocks up to timeout waiting for
// at least one reply, then drains every reply already queued without
// blocking further, and returns. An empty result with no error means the
// timeout elapsed with nothing to report.
func (s *Session) Process(timeout time.Duration) []ReplyEvent {
	var out []ReplyEvent
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-s.replyCh:
		out = append(out, ev)
	case <-timer.C:
		return out
	}

	for {
		select {
		case ev := <-s.replyCh:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Close releases the session. Safe to call once; the reply-dispatch
// goroutines that are still in flight will find the connection gone and
// surface a TransportErr rather than panicking.
func (s *Session) Close() error {
	if s.conn == nil {
		s.state.forceDisconnected()
		return nil
	}
	err := s.conn.Close()
	s.state.forceDisconnected()
	return err
}
