// Package main is a console teleoperation peer: it reads single-key
// movement commands from stdin, publishes them to the "cmd" topic, and
// prints whatever the driver publishes back to "move".
//
// Grounded in original_source/betelbot/teleop_cli.py, which read raw
// keypresses and published arrow-key moves; this port substitutes a
// line-oriented reader (no raw terminal mode dependency in the
// retrieved pack) but keeps the same publish/subscribe shape and the
// vi-style h/j/k/l/s command set from topic.py's CmdTopic.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/betelgo/betelbroker/internal/config"
	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/public/peer"
)

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

	lg := logging.Default("teleop", cfg.Debug)
	addr := fmt.Sprintf("%s:%s", cfg.BrokerHost, cfg.BrokerPort)
	p, err := peer.Dial(addr, "teleop", lg)
	if err != nil {
		log.Fatalf("Failed to connect to broker at %s: %v", addr, err)
	}
	defer p.Close()

	if err := p.Subscribe("move", onMovePublished); err != nil {
		log.Fatalf("Failed to subscribe to move: %v", err)
	}

	fmt.Println("Reading from keyboard")
	fmt.Println("---------------------------")
	fmt.Println("Enter one of h/j/k/l (directions) or s (stop), then Enter.")

	scanner := bufio.NewScanner(os.Stdin)
	valid := map[string]bool{"h": true, "j": true, "k": true, "l": true, "s": true}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		cmd := line[:1]
		if !valid[cmd] {
			fmt.Printf("ignoring unrecognized command %q\n", cmd)
			continue
		}
		if err := p.Publish("cmd", cmd); err != nil {
			lg.Error("publish cmd failed: %v", err)
		}
	}
}

func onMovePublished(topic string, values []json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}
	var v string
	if err := json.Unmarshal(values[0], &v); err == nil {
		fmt.Println(v)
	}
	return nil
}
