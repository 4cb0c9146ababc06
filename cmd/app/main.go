package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"SignalGate/internal/di"
	"SignalGate/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	checkOnly := flag.Bool("check", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *checkOnly {
		fmt.Printf("config ok: env=%s kafka=%t clickhouse=%t redis=%t stream=%t\n",
			cfg.Environment, cfg.Kafka.Enabled, cfg.ClickHouse.Enabled, cfg.Redis.Enabled, cfg.Stream.Enabled)
		return
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("signalgate init failed: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Printf("signalgate stopped with error: %v", err)
		os.Exit(1)
	}
}
