// internal/bridge/session.go
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
	"github.com/xkilldash9x/ctlbridge/internal/config"
)

var errLineTooLong = errors.New("reply line exceeds the configured limit")

// aLongTimeAgo is a deadline in the past, used to abort a blocked read.
var aLongTimeAgo = time.Unix(1, 0)

// Options configures a Session.
type Options struct {
	Address        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// DrainHandshake reads and discards one line after the probe.
	DrainHandshake bool
	MaxLineBytes   int
	// ModeSource is reported as the origin of control-mode changes.
	ModeSource string
}

// OptionsFromConfig builds session options from the bridge configuration.
func OptionsFromConfig(cfg config.BridgeConfig) Options {
	return Options{
		Address:        cfg.Address(),
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		DrainHandshake: cfg.DrainHandshake,
		MaxLineBytes:   cfg.MaxLineBytes,
		ModeSource:     cfg.ModeSource,
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 250 * time.Millisecond
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 250 * time.Millisecond
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = 1 << 20
	}
	if o.ModeSource == "" {
		o.ModeSource = "GUI"
	}
	return o
}

// Session owns the single connection to the decision server. The connection is
// opened lazily, and every exchange writes one line and reads exactly one line.
// Exchanges are serialized; a Session is safe for concurrent use.
type Session struct {
	opts   Options
	dialer *DialerConfig
	logger *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	connID string
}

// NewSession creates a Session. No connection is made until the first exchange.
func NewSession(opts Options, logger *zap.Logger) *Session {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		opts:   opts,
		dialer: NewDialerConfig(opts.ConnectTimeout),
		logger: logger.Named("session").With(zap.String("address", opts.Address)),
	}
}

// Address is the decision server address.
func (s *Session) Address() string { return s.opts.Address }

// Heartbeat reports whether the server answered a heartbeat with status OK.
func (s *Session) Heartbeat(ctx context.Context) bool {
	return s.expectStatus(ctx, heartbeatMessage{
		Type:            typeHeartbeat,
		ProtocolVersion: schemas.ProtocolVersion,
	}, statusOK)
}

// SendControlMode informs the server of an authority change. It reports whether
// the server acknowledged it with status SUCCESS.
func (s *Session) SendControlMode(ctx context.Context, mode schemas.ControlMode) bool {
	return s.expectStatus(ctx, controlModeMessage{
		Type:            typeControlMode,
		Mode:            mode.String(),
		Source:          s.opts.ModeSource,
		ProtocolVersion: schemas.ProtocolVersion,
	}, statusSuccess)
}

// NextIntent sends req and classifies the single reply line. It never returns
// an error: every failure is folded into a NO_OP Response carrying a tag.
func (s *Session) NextIntent(ctx context.Context, req *schemas.DecisionRequest) schemas.Response {
	stamped := *req
	stamped.ProtocolVersion = schemas.ProtocolVersion
	payload, err := wire.Marshal(&stamped)
	if err != nil {
		s.logger.Debug("Failed to encode decision request.", zap.Error(err))
		return schemas.Failure(withDetail(TagCommunicationFailure, err.Error()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := s.exchangeLocked(ctx, payload)
	if err != nil && !(errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0) {
		if errors.Is(err, io.EOF) {
			s.logger.Debug("Peer closed the connection.", zap.String("conn_id", s.connID))
			s.closeLocked()
			return schemas.Failure(TagEmptyResponse)
		}
		detail := describe(ctx, err)
		s.logger.Debug("Communication failure.", zap.String("conn_id", s.connID), zap.String("detail", detail))
		s.closeLocked()
		return schemas.Failure(withDetail(TagCommunicationFailure, detail))
	}

	if len(bytes.TrimSpace(line)) == 0 {
		s.logger.Debug("Empty reply line.", zap.String("conn_id", s.connID))
		s.closeLocked()
		return schemas.Failure(TagEmptyResponse)
	}

	resp := classifyDecision(line)
	if err != nil {
		// The reply arrived without its terminator and the peer is gone.
		s.closeLocked()
	}
	if !resp.IsSuccess() {
		s.logger.Debug("Decision reply rejected.", zap.String("tag", resp.ErrorMessage), zap.ByteString("raw", truncate(line)))
	}
	return resp
}

// Close drops the current connection, if any. The next exchange reconnects.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Session) expectStatus(ctx context.Context, msg any, want string) bool {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := s.exchangeLocked(ctx, payload)
	if err != nil || len(bytes.TrimSpace(line)) == 0 {
		s.logger.Debug("Status exchange failed.", zap.String("expected", want), zap.String("detail", describe(ctx, err)))
		s.closeLocked()
		return false
	}
	status, err := decodeStatus(line)
	if err != nil {
		s.logger.Debug("Unparsable status reply.", zap.Error(err))
		return false
	}
	return status == want
}

// exchangeLocked writes payload as one line and reads one line back. It returns
// whatever was read alongside a read error so callers can recognise a final
// unterminated line. s.mu must be held.
func (s *Session) exchangeLocked(ctx context.Context, payload []byte) ([]byte, error) {
	if err := s.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}

	conn := s.conn
	if err := conn.SetDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(aLongTimeAgo) })
	defer stop()
	if err := writeLine(conn, payload); err != nil {
		return nil, err
	}
	return s.readLineLocked()
}

// ensureConnectedLocked dials when there is no live connection and sends the
// handshake probe. s.mu must be held.
func (s *Session) ensureConnectedLocked(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	conn, err := DialContext(ctx, s.opts.Address, s.dialer)
	if err != nil {
		return err
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connID = uuid.NewString()[:8]
	logger := s.logger.With(zap.String("conn_id", s.connID))
	logger.Info("Connected to decision server.")

	probe, err := wire.Marshal(probeMessage{Probe: probeMarker, TS: time.Now().UnixMilli()})
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("encode handshake probe: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.opts.ConnectTimeout)); err != nil {
		s.closeLocked()
		return err
	}
	if err := writeLine(conn, probe); err != nil {
		s.closeLocked()
		return fmt.Errorf("send handshake probe: %w", err)
	}

	if s.opts.DrainHandshake {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			s.closeLocked()
			return err
		}
		ack, err := s.readLineLocked()
		switch {
		case err == nil:
			logger.Debug("Drained handshake acknowledgement.", zap.ByteString("ack", truncate(ack)))
		case isTimeout(err):
			logger.Debug("No handshake acknowledgement before the read timeout.")
		default:
			s.closeLocked()
			return fmt.Errorf("drain handshake: %w", err)
		}
	}
	return nil
}

// readLineLocked reads one newline-terminated line, without the terminator,
// refusing lines longer than MaxLineBytes.
func (s *Session) readLineLocked() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > s.opts.MaxLineBytes {
			return nil, errLineTooLong
		}
		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return line, err
		}
	}
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.logger.Debug("Connection closed.", zap.String("conn_id", s.connID))
	}
	s.conn = nil
	s.reader = nil
	s.connID = ""
}

func writeLine(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

// describe renders a transport error as a tag detail.
func describe(ctx context.Context, err error) string {
	if err == nil {
		return "no reply"
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr.Error()
	}
	if isTimeout(err) {
		return TagTimeout
	}
	return err.Error()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte) []byte {
	const limit = 256
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
