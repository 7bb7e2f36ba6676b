// internal/bridge/dialer.go
package bridge

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialerConfig holds the low-level TCP settings for the decision server link.
type DialerConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// NoDelay disables Nagle's algorithm. Every exchange is one small line that
	// waits for a reply, so batching only adds latency.
	NoDelay bool
}

// NewDialerConfig returns the defaults used by the session.
func NewDialerConfig(connectTimeout time.Duration) *DialerConfig {
	return &DialerConfig{
		Timeout:   connectTimeout,
		KeepAlive: 15 * time.Second,
		NoDelay:   true,
	}
}

// DialContext opens a TCP connection to address honouring config.Timeout.
func DialContext(ctx context.Context, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig(250 * time.Millisecond)
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: config.KeepAlive,
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, config); err != nil {
			tcpConn.Close()
			return nil, err
		}
	}
	return rawConn, nil
}

func configureTCP(conn *net.TCPConn, config *DialerConfig) error {
	if config.KeepAlive > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return fmt.Errorf("failed to enable TCP keep-alive: %w", err)
		}
		if err := conn.SetKeepAlivePeriod(config.KeepAlive); err != nil {
			return fmt.Errorf("failed to set keep-alive period: %w", err)
		}
	}
	if config.NoDelay {
		if err := conn.SetNoDelay(true); err != nil {
			return fmt.Errorf("failed to set TCP NoDelay: %w", err)
		}
	}
	return nil
}
