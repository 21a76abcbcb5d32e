// Package main bridges broker topics to WebSocket clients: a browser
// connects to /socket, sends a "subscribe <topic>" text message, and
// receives every subsequent publish to that topic as a JSON array
// text message.
//
// Grounded in original_source/betelbot/websocket.py's
// VizualizerWebSocket, generalized from a single hardcoded "histogram"
// subscription to any topic name, and implemented with
// github.com/gorilla/websocket (sourced from the jinterlante
// AleutianLocal example repo's dependency stack) instead of Tornado's
// websocket handler.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/betelgo/betelbroker/internal/config"
	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/public/peer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type bridge struct {
	peer *peer.Peer
	log  *logging.Logger

	mu   sync.Mutex
	subs map[*websocket.Conn]map[string]bool
}

func newBridge(p *peer.Peer, log *logging.Logger) *bridge {
	return &bridge{peer: p, log: log, subs: make(map[*websocket.Conn]map[string]bool)}
}

func (b *bridge) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error("upgrade failed: %v", err)
		return
	}
	b.log.Info("websocket connected from %s", r.RemoteAddr)

	b.mu.Lock()
	b.subs[conn] = make(map[string]bool)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, conn)
		b.mu.Unlock()
		conn.Close()
		b.log.Info("websocket closed")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.onMessage(conn, string(message))
	}
}

func (b *bridge) onMessage(conn *websocket.Conn, message string) {
	var topic string
	if n, _ := fmt.Sscanf(message, "subscribe %s", &topic); n != 1 {
		return
	}

	b.mu.Lock()
	alreadySubscribed := b.subs[conn][topic]
	if !alreadySubscribed {
		b.subs[conn][topic] = true
	}
	b.mu.Unlock()

	if alreadySubscribed {
		return
	}
	if err := b.peer.Subscribe(topic, b.forward(conn, topic)); err != nil {
		b.log.Error("subscribe to %s failed: %v", topic, err)
	}
}

// forward builds a SubscriptionHandler that writes a topic's published
// values out to conn. It returns an error once conn has gone away
// (the write error, or an error for a socket that has already been
// closed), which makes the peer drop this handler, since a callback
// that raises on delivery is removed from the subscriber list.
func (b *bridge) forward(conn *websocket.Conn, topic string) func(string, []json.RawMessage) error {
	return func(publishedTopic string, values []json.RawMessage) error {
		if publishedTopic != topic {
			return nil
		}
		b.mu.Lock()
		subscribed := b.subs[conn] != nil && b.subs[conn][topic]
		b.mu.Unlock()
		if !subscribed {
			return fmt.Errorf("websocket for topic %s is closed", topic)
		}
		return conn.WriteJSON(values)
	}
}

func main() {
	var cfg *config.PeerConfig
	if len(os.Args) >= 2 {
		loadedCfg, err := config.LoadPeer(os.Args[1])
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", os.Args[1], err)
		}
		cfg = loadedCfg
	} else {
		cfg = config.DefaultPeer()
	}

	lg := logging.Default("wsbridge", cfg.Debug)
	brokerAddr := fmt.Sprintf("%s:%s", cfg.BrokerHost, cfg.BrokerPort)
	p, err := peer.Dial(brokerAddr, "wsbridge", lg)
	if err != nil {
		log.Fatalf("Failed to connect to broker at %s: %v", brokerAddr, err)
	}
	defer p.Close()

	b := newBridge(p, lg)
	http.HandleFunc("/socket", b.handleSocket)

	listenAddr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port)
	lg.Info("websocket bridge listening on %s", listenAddr)
	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		log.Fatalf("wsbridge: %v", err)
	}
}
