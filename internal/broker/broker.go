// Package broker implements the central message broker: it accepts
// TCP connections, frames each into a session, and wires the four
// broker-side methods (publish, subscribe, register, locate) to the
// topic and service registries.
//
// The accept loop runs one goroutine per accepted connection and uses
// internal/session.Session for framing/dispatch.
package broker

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/betelgo/betelbroker/internal/config"
	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/internal/registry"
	"github.com/betelgo/betelbroker/internal/rpc"
	"github.com/betelgo/betelbroker/internal/session"
	"github.com/betelgo/betelbroker/internal/topic"
)

// Broker composes the topic and service registries and serves them
// over TCP to any number of concurrently connected sessions.
type Broker struct {
	cfg    *config.BrokerConfig
	log    *logging.Logger
	topics *topic.Registry
	svcs   *registry.Registry

	mu       sync.Mutex
	sessions map[string]*session.Session
	listener net.Listener
}

// New builds a Broker from cfg, a topic catalog, and a logger. Passing
// the catalog in (rather than hardcoding topic.DefaultCatalog inside)
// keeps Broker testable with a minimal catalog.
func New(cfg *config.BrokerConfig, catalog map[string]topic.Validator, log *logging.Logger) *Broker {
	return &Broker{
		cfg:      cfg,
		log:      log,
		topics:   topic.NewRegistry(catalog),
		svcs:     registry.New(),
		sessions: make(map[string]*session.Session),
	}
}

// Start listens on the broker's configured port and serves connections
// until ctx is canceled. It blocks until the listener is closed.
func (b *Broker) Start(ctx context.Context) error {
	ln, err := net.Listen(b.cfg.Protocol, b.cfg.Port)
	if err != nil {
		return fmt.Errorf("broker: listen: %w", err)
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()
	b.log.Info("listening on %s/%s", b.cfg.Protocol, b.cfg.Port)

	go func() {
		<-ctx.Done()
		b.log.Info("shutting down")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("broker: accept: %w", err)
			}
		}
		go b.handleConnection(conn)
	}
}

// Addr returns the broker's bound address, valid once Start has
// started listening. Used by tests that bind to an ephemeral port.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

func (b *Broker) handleConnection(conn net.Conn) {
	id := uuid.NewString()
	s := session.New(conn, id)

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	s.Handle("publish", b.handlePublish)
	s.Handle("subscribe", b.handleSubscribe)
	s.Handle("register", b.handleRegister)
	s.Handle("locate", b.handleLocate)

	s.OnClose(func() {
		b.topics.Unsubscribe(s)
		b.svcs.ReleaseOwner(s)
		b.mu.Lock()
		delete(b.sessions, id)
		b.mu.Unlock()
		b.log.Debug("session %s closed", id)
	})

	b.log.Debug("session %s opened from %s", id, conn.RemoteAddr())
	s.Run()
}

// handlePublish implements the publish method: params are
// [topic, ...values]. Validation and fan-out are delegated to the
// topic registry. Sent as a notification, publish gets no reply; sent
// as a request, it is answered with an invalid-params error for a
// missing or non-string topic name and with an "ok" result otherwise,
// including when the topic is unknown or validation drops the publish.
func (b *Broker) handlePublish(s *session.Session, msg *rpc.Message) []byte {
	if len(msg.Params) == 0 {
		return replyIfRequest(msg, rpc.CodeInvalidParams, "publish requires a topic name")
	}
	var topicName string
	if err := msg.Param(0, &topicName); err != nil {
		return replyIfRequest(msg, rpc.CodeInvalidParams, "publish topic name must be a string")
	}
	b.topics.Publish(topicName, msg.Params[1:])
	return replyOKIfRequest(msg)
}

// handleSubscribe implements the subscribe method: params are
// [topic]. Subscribing to an unknown topic is a silent no-op.
func (b *Broker) handleSubscribe(s *session.Session, msg *rpc.Message) []byte {
	var topicName string
	if err := msg.Param(0, &topicName); err != nil {
		return replyIfRequest(msg, rpc.CodeInvalidParams, "subscribe requires a topic name")
	}
	b.topics.Subscribe(topicName, s)
	return replyOKIfRequest(msg)
}

// handleRegister implements the register method: params are
// (method, port, host) in that order, matching the original wire
// contract.
func (b *Broker) handleRegister(s *session.Session, msg *rpc.Message) []byte {
	var method string
	var port int
	var host string
	if err := msg.Param(0, &method); err != nil {
		return replyIfRequest(msg, rpc.CodeInvalidParams, "register requires a method name")
	}
	if err := msg.Param(1, &port); err != nil {
		return replyIfRequest(msg, rpc.CodeInvalidParams, "register requires a port")
	}
	if err := msg.Param(2, &host); err != nil {
		return replyIfRequest(msg, rpc.CodeInvalidParams, "register requires a host")
	}
	b.svcs.Register(method, host, port, s)
	b.log.Debug("registered %s -> %s:%d (session %s)", method, host, port, s.ID)
	return replyOKIfRequest(msg)
}

// handleLocate implements the locate method: params are [method],
// result is [port, host] on a hit. A miss is a CodeMethodNotFound
// error.
func (b *Broker) handleLocate(s *session.Session, msg *rpc.Message) []byte {
	var method string
	if err := msg.Param(0, &method); err != nil {
		raw, _ := rpc.EncodeError(msg.ID, &rpc.RPCError{Code: rpc.CodeInvalidParams, Message: "locate requires a method name"})
		return raw
	}
	rec, ok := b.svcs.Locate(method)
	if !ok {
		raw, _ := rpc.EncodeError(msg.ID, &rpc.RPCError{Code: rpc.CodeMethodNotFound, Message: "Method not found"})
		return raw
	}
	raw, _ := rpc.EncodeResponse(msg.ID, rec.Port, rec.Host)
	return raw
}

// replyOKIfRequest answers a request with the success result ["ok"];
// notifications (the common case for publish/subscribe/register) get
// no reply at all.
func replyOKIfRequest(msg *rpc.Message) []byte {
	if msg.Kind != rpc.KindRequest {
		return nil
	}
	raw, _ := rpc.EncodeResponse(msg.ID, "ok")
	return raw
}

func replyIfRequest(msg *rpc.Message, code int, message string) []byte {
	if msg.Kind != rpc.KindRequest {
		return nil
	}
	raw, _ := rpc.EncodeError(msg.ID, &rpc.RPCError{Code: code, Message: message})
	return raw
}
