// Package main is the broker binary entry point: it loads a broker
// config (or falls back to hardcoded defaults), starts the message
// broker, and blocks until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/betelgo/betelbroker/internal/broker"
	"github.com/betelgo/betelbroker/internal/config"
	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/internal/topic"
)

func main() {
	var cfg *config.BrokerConfig
	var configSource string

	if len(os.Args) >= 2 {
		configFile := os.Args[1]
		loadedCfg, err := config.LoadBroker(configFile)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", configFile, err)
		}
		cfg = loadedCfg
		configSource = "config file: " + configFile
	} else if _, err := os.Stat("config/broker.yaml"); err == nil {
		loadedCfg, err := config.LoadBroker("config/broker.yaml")
		if err != nil {
			log.Printf("Warning: config/broker.yaml exists but failed to load: %v", err)
			cfg = config.DefaultBroker()
			configSource = "hardcoded defaults (config/broker.yaml failed to parse)"
		} else {
			cfg = loadedCfg
			configSource = "config/broker.yaml (default)"
		}
	} else {
		cfg = config.DefaultBroker()
		configSource = "hardcoded defaults"
	}

	log.Printf("Starting betelbroker using %s", configSource)
	if cfg.Debug {
		log.Printf("Debug enabled")
	}

	lg := logging.Default("broker", cfg.Debug)
	b := broker.New(cfg, topic.DefaultCatalog(), lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %s, shutting down...", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Broker exited with error: %v", err)
		}
		return
	}

	<-errCh
	log.Printf("Broker stopped")
}
