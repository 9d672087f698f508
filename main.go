// Copyright 2025 Certen Protocol
//
// chainsim daemon - runs the simulated value-transfer network
//
// Wires the core subsystems together: config from environment plus an
// optional YAML settings file, an in-memory KV archive, Prometheus
// metrics, and the tick-driven simulation itself.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saintthor/chainsim/pkg/archive"
	"github.com/saintthor/chainsim/pkg/config"
	"github.com/saintthor/chainsim/pkg/kvdb"
	"github.com/saintthor/chainsim/pkg/metrics"
	"github.com/saintthor/chainsim/pkg/sim"
)

// defaultDefinition provisions a small economy when no definition file
// is given: 20 chains of value 10 and 5 chains of value 100.
const defaultDefinition = `{
	"description": "default simulation economy",
	"ranges": [
		{"start": 1, "end": 20, "value": 10},
		{"start": 100, "end": 104, "value": 100}
	]
}`

func main() {
	var (
		definitionPath = flag.String("definition", "", "path to a chain definition JSON document")
		settingsPath   = flag.String("settings", "", "path to a YAML settings file")
		maxTicks       = flag.Uint64("ticks", 0, "override SIM_MAX_TICKS")
		seed           = flag.Int64("seed", 0, "override SIM_SEED")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[chainsim] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *settingsPath != "" {
		cfg.SettingsPath = *settingsPath
	}
	if cfg.SettingsPath != "" {
		if err := config.LoadSettings(cfg.SettingsPath, cfg); err != nil {
			logger.Fatalf("load settings: %v", err)
		}
	}
	if *definitionPath != "" {
		cfg.DefinitionPath = *definitionPath
	}
	if *maxTicks > 0 {
		cfg.MaxTicks = *maxTicks
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}

	definition := []byte(defaultDefinition)
	if cfg.DefinitionPath != "" {
		definition, err = os.ReadFile(cfg.DefinitionPath)
		if err != nil {
			logger.Fatalf("read definition: %v", err)
		}
	}

	// Archive over an in-memory KV store; swap the backend for a
	// persistent dbm.DB to keep snapshots across runs.
	store, err := archive.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()), nil)
	if err != nil {
		logger.Fatalf("archive: %v", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	simulation, err := sim.New(cfg, &sim.Options{Store: store, Metrics: m})
	if err != nil {
		logger.Fatalf("build simulation: %v", err)
	}
	defer simulation.Close()

	batch, err := simulation.Provision(definition)
	if err != nil {
		logger.Fatalf("provision chains: %v", err)
	}
	logger.Printf("provisioned %d chains (%d errors) for %d users",
		len(batch.Created), len(batch.CreationErrors), cfg.UserCount)

	// Metrics endpoint.
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(simulation.Snapshot())
		})
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		logger.Printf("metrics on %s/metrics, status on %s/status", cfg.MetricsAddr, cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Printf("shutting down")
		cancel()
	}()

	logger.Printf("running %d ticks over %d nodes", cfg.MaxTicks, cfg.NodeCount)
	if err := simulation.Run(ctx); err != nil && err != context.Canceled {
		logger.Printf("run: %v", err)
	}

	snapshot := simulation.Snapshot()
	out, _ := json.MarshalIndent(snapshot, "", "  ")
	fmt.Println(string(out))

	if err := simulation.Flush(); err != nil {
		logger.Printf("flush archive: %v", err)
	}
	report := simulation.Manager().ValidateIntegrity(simulation.Validator())
	logger.Printf("integrity: %d chains checked, %d failures, %d warnings",
		report.ChainsChecked, len(report.Failures), len(report.Warnings))
}
