// Package main is a trivial robot driver/simulator peer: it subscribes
// to "cmd" (teleop's movement commands), advances a simulated position
// counter, publishes the move it executed to "move", and publishes a
// sense reading to "sense".
//
// Grounded in original_source/betelbot/robosim.py's RoboSim class; the
// world here is a flat ring of positions rather than a loaded map, kept
// simple since no map-loading module was part of the retrieved pack.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/betelgo/betelbroker/internal/config"
	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/public/peer"
)

var world = []string{
	"corridor-a", "corridor-b", "junction", "corridor-c", "dock",
}

type robosim struct {
	peer     *peer.Peer
	log      *logging.Logger
	position int
}

func (r *robosim) onCmdPublished(topic string, values []json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}
	var cmd string
	if err := json.Unmarshal(values[0], &cmd); err != nil {
		return nil
	}
	if cmd == "s" {
		return nil
	}
	r.position = (r.position + 1) % len(world)
	if err := r.peer.Publish("move", cmd); err != nil {
		r.log.Error("publish move failed: %v", err)
	}
	r.sense()
	return nil
}

func (r *robosim) sense() {
	if err := r.peer.Publish("sense", world[r.position]); err != nil {
		r.log.Error("publish sense failed: %v", err)
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

	lg := logging.Default("robosim", cfg.Debug)
	addr := fmt.Sprintf("%s:%s", cfg.BrokerHost, cfg.BrokerPort)
	p, err := peer.Dial(addr, "robosim", lg)
	if err != nil {
		log.Fatalf("Failed to connect to broker at %s: %v", addr, err)
	}
	defer p.Close()

	sim := &robosim{peer: p, log: lg}
	if err := p.Subscribe("cmd", sim.onCmdPublished); err != nil {
		log.Fatalf("Failed to subscribe to cmd: %v", err)
	}

	lg.Info("simulator ready at position %s", world[sim.position])
	sim.sense()

	select {}
}
