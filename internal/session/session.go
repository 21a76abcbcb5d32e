// Package session implements the framed, persistent-connection state
// machine shared by both the broker and its peers. Process-wide state
// reachable from a session handler belongs to the registries a
// Session's owner wires in, not to Session itself.
//
// A Session owns exactly one net.Conn. Outbound writes are
// terminator-framed and serialized; inbound reads run in a single loop
// that decodes one frame at a time and dispatches it to either a method
// handler (by name) or a pending response handler (by id), never both.
package session

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/betelgo/betelbroker/internal/rpc"
)

// Terminator is the single NUL byte separating framed JSON-RPC messages
// on the wire. NUL cannot appear inside JSON text, so the delimiter is
// never ambiguous.
const Terminator = 0x00

// State is the session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MethodHandler processes an inbound request or notification. For
// requests it returns the bytes of the response to write back (encoded
// by EncodeResponse/EncodeError; Write adds the terminator); for
// notifications it returns nil.
type MethodHandler func(s *Session, msg *rpc.Message) []byte

// ResponseHandler processes a response correlated to a prior request.
type ResponseHandler func(msg *rpc.Message)

// Session is one TCP connection plus its framing/dispatch state. The same
// type backs both the broker's accepted connections and a peer's
// broker-dialed and ephemeral service connections.
type Session struct {
	conn net.Conn
	ID   string

	writeMu sync.Mutex
	reader  *bufio.Reader

	ids *rpc.IDGenerator

	handlersMu sync.RWMutex
	handlers   map[string]MethodHandler

	pendingMu sync.Mutex
	pending   map[string]ResponseHandler

	stateMu sync.Mutex
	state   State

	readOnce sync.Once

	closeHooksMu sync.Mutex
	closeHooks   []func()
}

// New wraps conn in a Session. id is a caller-chosen identifier (the
// broker uses a UUID per connection; a peer typically uses its own agent
// id) used for logging/diagnostics and as the prefix of this session's
// outgoing request ids ("<id>-1", "<id>-2", ...).
func New(conn net.Conn, id string) *Session {
	return &Session{
		conn:     conn,
		ID:       id,
		reader:   bufio.NewReader(conn),
		ids:      rpc.NewIDGenerator(id + "-"),
		handlers: make(map[string]MethodHandler),
		pending:  make(map[string]ResponseHandler),
		state:    StateOpen,
	}
}

// Handle registers a method handler invoked for inbound requests and
// notifications matching method.
func (s *Session) Handle(method string, h MethodHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = h
}

// OnClose registers a hook run exactly once when the session transitions
// to Closed. Hooks run in registration order and are how owners purge
// registry state for this session.
func (s *Session) OnClose(hook func()) {
	s.closeHooksMu.Lock()
	defer s.closeHooksMu.Unlock()
	s.closeHooks = append(s.closeHooks, hook)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Write appends the framing terminator and sends payload. Concurrent
// writers are serialized so per-session outbound ordering matches call
// order.
func (s *Session) Write(payload []byte) error {
	if s.State() == StateClosing || s.State() == StateClosed {
		return fmt.Errorf("session %s: write on closing/closed session", s.ID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, Terminator)
	_, err := s.conn.Write(framed)
	return err
}

// NextID returns the next outgoing request id for this session.
func (s *Session) NextID() string {
	return s.ids.Next()
}

// Request writes a JSON-RPC request and records handler to be invoked
// when the correlated response arrives (or discarded on close, never
// invoked otherwise). It returns the id used, so callers needing
// cancellation semantics can track it themselves; there is no
// protocol-level timeout or cancellation.
func (s *Session) Request(method string, handler ResponseHandler, params ...interface{}) (string, error) {
	id := s.NextID()
	raw, err := rpc.EncodeRequest(id, method, params...)
	if err != nil {
		return "", err
	}
	s.pendingMu.Lock()
	s.pending[id] = handler
	s.pendingMu.Unlock()

	if err := s.Write(raw); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return "", err
	}
	return id, nil
}

// Notify writes a fire-and-forget notification.
func (s *Session) Notify(method string, params ...interface{}) error {
	raw, err := rpc.EncodeNotification(method, params...)
	if err != nil {
		return err
	}
	return s.Write(raw)
}

// Run arms the read loop if it is not already running (idempotent) and
// blocks until the connection closes or a read error occurs. Callers
// typically invoke this in its own goroutine.
func (s *Session) Run() {
	s.readOnce.Do(func() {
		s.readLoop()
	})
}

func (s *Session) readLoop() {
	defer s.Close()
	for {
		frame, err := s.reader.ReadBytes(Terminator)
		if err != nil {
			return
		}
		// Strip the terminator; an empty frame (two terminators back to
		// back, or a leading terminator) decodes to a parse error below,
		// never a panic.
		payload := frame[:len(frame)-1]
		s.dispatch(payload)
	}
}

func (s *Session) dispatch(payload []byte) {
	msg, err := rpc.Decode(payload)
	if err != nil {
		// Parse/shape errors on inbound chatter with no recoverable id
		// are silently dropped. We can't recover an id from a payload
		// that failed to decode at all, so there is nothing useful to
		// answer with.
		return
	}

	switch msg.Kind {
	case rpc.KindRequest, rpc.KindNotification:
		s.handlersMu.RLock()
		h, ok := s.handlers[msg.Method]
		s.handlersMu.RUnlock()
		if !ok {
			if msg.Kind == rpc.KindRequest {
				if raw, err := rpc.EncodeError(msg.ID, &rpc.RPCError{
					Code:    rpc.CodeMethodNotFound,
					Message: fmt.Sprintf("Method not found: %s", msg.Method),
				}); err == nil {
					_ = s.Write(raw)
				}
			}
			return
		}
		if resp := h(s, msg); resp != nil {
			_ = s.Write(resp)
		}
	case rpc.KindResponse:
		s.pendingMu.Lock()
		handler, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.pendingMu.Unlock()
		if ok && handler != nil {
			handler(msg)
		}
		// An id matching no pending request is discarded silently.
	default:
		// Unreachable: Decode never returns KindInvalid without an error.
	}
}

// Close transitions the session through Closing to Closed, closes the
// underlying connection, discards any still-pending response handlers,
// and runs close hooks exactly once.
func (s *Session) Close() error {
	s.stateMu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.stateMu.Unlock()

	err := s.conn.Close()

	s.pendingMu.Lock()
	s.pending = make(map[string]ResponseHandler)
	s.pendingMu.Unlock()

	s.setState(StateClosed)

	s.closeHooksMu.Lock()
	hooks := s.closeHooks
	s.closeHooks = nil
	s.closeHooksMu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	return err
}

// RemoteAddr exposes the underlying connection's remote address for
// logging.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
