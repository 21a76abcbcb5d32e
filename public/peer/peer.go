// Package peer implements the client side of the broker protocol: a
// persistent connection to the broker for
// publish/subscribe/register/locate, plus dynamic service invocation
// over short-lived, per-call connections to whatever address locate
// resolves.
//
// Grounded in original_source/betelbot/client.py's
// BetelbotClientConnection, reworked because the original's runtime
// method installation (patching new methods onto a live connection
// object) has no idiomatic Go equivalent: instead a Peer holds a
// map[string]address of services it has located, and callers invoke
// them through the single generic Invoke method.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/internal/rpc"
	"github.com/betelgo/betelbroker/internal/session"
)

// SubscriptionHandler receives a topic's published values whenever the
// broker fans out a notifysub for a topic this peer subscribed to. A
// handler that returns an error is removed from the topic's local
// callback list after delivery, supporting transient websocket-style
// subscribers that can disappear mid-session.
type SubscriptionHandler func(topic string, values []json.RawMessage) error

// ServiceHandler answers an inbound service request this peer
// registered and is now serving.
type ServiceHandler func(params []json.RawMessage) (interface{}, error)

// address is a located service's dial target.
type address struct {
	Host string
	Port int
}

// subEntry wraps a SubscriptionHandler so it can be removed from its
// topic's list by identity (function values themselves are only
// comparable to nil).
type subEntry struct {
	handler SubscriptionHandler
}

// Peer is one application's connection to the broker.
type Peer struct {
	log    *logging.Logger
	broker *session.Session

	subMu sync.Mutex
	subs  map[string][]*subEntry

	svcMu sync.Mutex
	svcs  map[string]address

	servedMu sync.Mutex
	served   map[string]ServiceHandler
	serveLn  net.Listener
}

// Dial connects to the broker at addr (host:port) and returns a ready
// Peer. id identifies this peer's session for logging only.
func Dial(addr, id string, log *logging.Logger) (*Peer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: dial broker: %w", err)
	}
	s := session.New(conn, id)
	p := &Peer{
		log:    log,
		broker: s,
		subs:   make(map[string][]*subEntry),
		svcs:   make(map[string]address),
		served: make(map[string]ServiceHandler),
	}
	s.Handle("notifysub", p.handleNotifySub)
	go s.Run()
	return p, nil
}

// Close disconnects from the broker and stops serving any methods.
func (p *Peer) Close() error {
	if p.serveLn != nil {
		p.serveLn.Close()
	}
	return p.broker.Close()
}

// Publish sends a publish notification for topic with the given
// positional values.
func (p *Peer) Publish(topic string, values ...interface{}) error {
	args := append([]interface{}{topic}, values...)
	return p.broker.Notify("publish", args...)
}

// Subscribe registers handler to receive topic's published values
// locally. Multiple handlers may subscribe to the same topic; only the
// first subscriber for a given topic causes the wire "subscribe"
// notification to be sent; later ones are appended to the local list
// only.
func (p *Peer) Subscribe(topic string, handler SubscriptionHandler) error {
	p.subMu.Lock()
	first := len(p.subs[topic]) == 0
	p.subs[topic] = append(p.subs[topic], &subEntry{handler: handler})
	p.subMu.Unlock()

	if !first {
		return nil
	}
	return p.broker.Notify("subscribe", topic)
}

func (p *Peer) handleNotifySub(s *session.Session, msg *rpc.Message) []byte {
	if len(msg.Params) < 1 {
		return nil
	}
	var topic string
	if err := json.Unmarshal(msg.Params[0], &topic); err != nil {
		return nil
	}
	values := msg.Params[1:]

	p.subMu.Lock()
	entries := append([]*subEntry(nil), p.subs[topic]...)
	p.subMu.Unlock()

	var failed []*subEntry
	for _, e := range entries {
		if err := e.handler(topic, values); err != nil {
			failed = append(failed, e)
		}
	}
	if len(failed) > 0 {
		p.removeEntries(topic, failed)
	}
	return nil
}

func (p *Peer) removeEntries(topic string, failed []*subEntry) {
	dead := make(map[*subEntry]bool, len(failed))
	for _, e := range failed {
		dead[e] = true
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	kept := p.subs[topic][:0]
	for _, e := range p.subs[topic] {
		if !dead[e] {
			kept = append(kept, e)
		}
	}
	p.subs[topic] = kept
}

// Register tells the broker that method is served at host:port. The
// broker overwrites any previous registration for the same method.
func (p *Peer) Register(method, host string, port int) error {
	return p.broker.Notify("register", method, port, host)
}

// Locate asks the broker where method is served and caches the
// result, blocking up to timeout for a response. If method was already
// located in a previous call, Locate returns immediately without
// re-querying the broker.
func (p *Peer) Locate(method string, timeout time.Duration) error {
	p.svcMu.Lock()
	_, already := p.svcs[method]
	p.svcMu.Unlock()
	if already {
		return nil
	}

	done := make(chan *rpc.Message, 1)
	if _, err := p.broker.Request("locate", func(msg *rpc.Message) { done <- msg }, method); err != nil {
		return fmt.Errorf("peer: locate %s: %w", method, err)
	}

	select {
	case msg := <-done:
		if msg.Error != nil {
			return msg.Error
		}
		if len(msg.Result) != 2 {
			return fmt.Errorf("peer: locate %s: result has %d elements, want [port, host]", method, len(msg.Result))
		}
		var port int
		var host string
		if err := json.Unmarshal(msg.Result[0], &port); err != nil {
			return fmt.Errorf("peer: locate %s: decode port: %w", method, err)
		}
		if err := json.Unmarshal(msg.Result[1], &host); err != nil {
			return fmt.Errorf("peer: locate %s: decode host: %w", method, err)
		}
		p.svcMu.Lock()
		p.svcs[method] = address{Host: host, Port: port}
		p.svcMu.Unlock()
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("peer: locate %s: timed out", method)
	}
}

// BatchLocate locates every method in methods concurrently and calls
// callback(true) once all of them succeed, or callback(false) as soon
// as any one of them definitively fails.
func (p *Peer) BatchLocate(methods []string, timeout time.Duration, callback func(bool)) {
	results := make(chan error, len(methods))
	for _, method := range methods {
		go func(method string) {
			results <- p.Locate(method, timeout)
		}(method)
	}

	for range methods {
		if err := <-results; err != nil {
			callback(false)
			return
		}
	}
	callback(true)
}

// Invoke calls a located method over a fresh, single-request
// connection to its registered address, then closes it. Callers must
// Locate the method first; Invoke never auto-locates so callers can
// distinguish "not located yet" from "located but unreachable".
func (p *Peer) Invoke(ctx context.Context, method string, params ...interface{}) (*rpc.Message, error) {
	p.svcMu.Lock()
	addr, ok := p.svcs[method]
	p.svcMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("peer: invoke %s: not located", method)
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", addr.Host, addr.Port))
	if err != nil {
		return nil, fmt.Errorf("peer: invoke %s: dial %s:%d: %w", method, addr.Host, addr.Port, err)
	}

	s := session.New(conn, "invoke-"+method)
	go s.Run()
	defer s.Close()

	done := make(chan *rpc.Message, 1)
	if _, err := s.Request(method, func(msg *rpc.Message) { done <- msg }, params...); err != nil {
		return nil, fmt.Errorf("peer: invoke %s: %w", method, err)
	}

	select {
	case msg := <-done:
		if msg.Error != nil {
			return msg, msg.Error
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ServeMethod installs handler for method on the address this peer
// accepts ephemeral service connections on. The caller is still
// responsible for Register-ing the method with the broker at the same
// host/port. Grounded in original_source/betelbot/pathfinder.py's
// JsonRpcServer-based acceptor.
func (p *Peer) ServeMethod(method string, handler ServiceHandler) {
	p.servedMu.Lock()
	p.served[method] = handler
	p.servedMu.Unlock()
}

// ListenAndServe accepts ephemeral, single-request connections on addr
// and dispatches each inbound request to whichever handler ServeMethod
// installed for it, until ctx is canceled.
func (p *Peer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("peer: listen %s: %w", addr, err)
	}
	p.serveLn = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("peer: accept: %w", err)
			}
		}
		go p.serveConn(conn)
	}
}

func (p *Peer) serveConn(conn net.Conn) {
	s := session.New(conn, "served")
	p.servedMu.Lock()
	for method, handler := range p.served {
		h := handler
		s.Handle(method, func(sess *session.Session, msg *rpc.Message) []byte {
			result, err := h(msg.Params)
			if err != nil {
				raw, _ := rpc.EncodeError(msg.ID, &rpc.RPCError{Code: rpc.CodeInternalError, Message: err.Error()})
				return raw
			}
			raw, _ := rpc.EncodeResponse(msg.ID, result)
			return raw
		})
	}
	p.servedMu.Unlock()
	s.Run()
}
