// Package bridgetest provides a scripted, in-process decision server for tests.
package bridgetest

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
)

// Message is one line the server received.
type Message struct {
	// Conn numbers the connection the line arrived on, starting at 1.
	Conn   int
	Raw    []byte
	Fields map[string]any
}

// IsProbe reports whether the message is a handshake probe.
func (m Message) IsProbe() bool {
	_, ok := m.Fields["_probe"]
	return ok
}

// Type returns the message "type" field, or "" for decision requests and probes.
func (m Message) Type() string {
	t, _ := m.Fields["type"].(string)
	return t
}

// Reply scripts the server's reaction to one received line.
type Reply struct {
	// Line is written followed by a newline.
	Line string
	// Partial is written as is, without a trailing newline.
	Partial string
	// Silent writes nothing.
	Silent bool
	// Close hangs up after writing.
	Close bool
	// Delay is waited out before anything is written.
	Delay time.Duration
}

// Handler decides how to answer a received message.
type Handler func(Message) Reply

// Server is a TCP decision server driven by a Handler.
type Server struct {
	ln      net.Listener
	handler Handler
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	received []Message
	conns    map[net.Conn]struct{}
	accepted int
	closed   bool
}

// NewServer starts a server on an ephemeral loopback port. It is closed when
// the test finishes.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bridgetest: listen: %v", err)
	}
	s := &Server{
		ln:      ln,
		handler: handler,
		done:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Received returns a copy of every message seen so far, probes included.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.received))
	copy(out, s.received)
	return out
}

// Requests returns every received message except handshake probes.
func (s *Server) Requests() []Message {
	var out []Message
	for _, m := range s.Received() {
		if !m.IsProbe() {
			out = append(out, m)
		}
	}
	return out
}

// Probes counts the handshake probes received.
func (s *Server) Probes() int {
	n := 0
	for _, m := range s.Received() {
		if m.IsProbe() {
			n++
		}
	}
	return n
}

// Connections counts accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the server and drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.accepted++
		id := s.accepted
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn, id)
	}
}

func (s *Server) serve(conn net.Conn, id int) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		raw := append([]byte(nil), scanner.Bytes()...)
		msg := Message{Conn: id, Raw: raw}
		_ = json.Unmarshal(raw, &msg.Fields)

		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		reply := s.handler(msg)
		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-s.done:
				return
			}
		}
		if !reply.Silent {
			var out []byte
			switch {
			case reply.Partial != "":
				out = []byte(reply.Partial)
			default:
				out = []byte(reply.Line + "\n")
			}
			if _, err := conn.Write(out); err != nil {
				return
			}
		}
		if reply.Close {
			return
		}
	}
}

// -- Handlers --

// Respond answers every non-probe message with line and ignores probes.
func Respond(line string) Handler {
	return func(m Message) Reply {
		if m.IsProbe() {
			return Reply{Silent: true}
		}
		return Reply{Line: line}
	}
}

// Decide is a well-behaved server: silent on probes, OK to heartbeats, SUCCESS
// to control-mode changes, and intent/confidence to decision requests.
func Decide(intent string, confidence float64) Handler {
	decision, _ := json.Marshal(map[string]any{"intent": intent, "confidence": confidence})
	return func(m Message) Reply {
		switch {
		case m.IsProbe():
			return Reply{Silent: true}
		case m.Type() == "HEARTBEAT":
			return Reply{Line: `{"status":"OK"}`}
		case m.Type() == "CONTROL_MODE":
			return Reply{Line: `{"status":"SUCCESS"}`}
		default:
			return Reply{Line: string(decision)}
		}
	}
}

// AckProbes wraps h so that probes are answered with an acknowledgement line
// instead of being passed to h.
func AckProbes(h Handler) Handler {
	return func(m Message) Reply {
		if m.IsProbe() {
			return Reply{Line: `{"status":"OK","probe":"ack"}`}
		}
		return h(m)
	}
}
