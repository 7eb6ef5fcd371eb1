// Command fieldgate runs the FieldGate protocol execution daemon.
//
// It loads protocol specs (built-in or from a YAML file), exposes the
// device registry and query API over HTTP, populates the device context
// cache in the background, and serves Prometheus metrics on /metrics.
//
// Usage:
//
//	fieldgate [flags]
//
// Flags:
//
//	-config string  TOML configuration file
//	-specs string   YAML protocol spec file (overrides config)
//	-listen string  HTTP listen address (overrides config)
//	-version        Show version information
//
// Examples:
//
//	# Run with built-in protocol specs on the default port
//	fieldgate
//
//	# Run with a config file and custom specs
//	fieldgate -config /etc/fieldgate/fieldgate.toml -specs ./specs.yaml
package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/gateway"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/metric"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/protocol"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/session"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	configPath  = flag.String("config", "", "TOML configuration file")
	specsPath   = flag.String("specs", "", "YAML protocol spec file (overrides config)")
	listenAddr  = flag.String("listen", "", "HTTP listen address (overrides config)")
	showVersion = flag.Bool("version", false, "Show version information")
)

// snapshotInterval is how often the context cache is written to disk.
const snapshotInterval = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("fieldgate %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *specsPath != "" {
		cfg.Specs.File = *specsPath
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}

	// Event logging: console, file, or both.
	var loggers []log.Logger
	if cfg.Logging.Console {
		loggers = append(loggers, log.NewSlogAdapter(slog.Default()))
	}
	if cfg.Logging.File != "" {
		fileLogger, err := log.NewFileLogger(cfg.Logging.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open event log: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		loggers = append(loggers, fileLogger)
	}
	var logger log.Logger = log.NoopLogger{}
	if len(loggers) == 1 {
		logger = loggers[0]
	} else if len(loggers) > 1 {
		logger = log.NewMultiLogger(loggers...)
	}

	// Protocol specs: YAML file or built-in defaults.
	var protocolSpecs []*spec.ProtocolSpec
	if cfg.Specs.File != "" {
		loaded, err := spec.LoadFile(cfg.Specs.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		protocolSpecs = loaded
	} else {
		protocolSpecs = spec.DefaultSpecs()
	}
	specs, err := spec.NewRegistry(protocolSpecs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := metric.New(promReg)

	capabilities := protocol.NewRegistry(
		protocol.NewRESTCapability(),
		protocol.NewModbusCapability(),
		protocol.NewBACnetCapability(),
	)

	executor := session.NewExecutor(session.Config{
		Specs:      specs,
		Protocols:  capabilities,
		Transports: transport.DefaultRegistry(logger),
		Logger:     logger,
		Metrics:    metrics,
	})

	// Context cache with optional resolver and snapshot persistence.
	var resolver devctx.Resolver
	if cfg.Context.ResolverURL != "" {
		resolver = devctx.NewHTTPResolver(cfg.Context.ResolverURL, 0)
	}
	cache := devctx.NewCache(devctx.CacheConfig{
		Capacity:            cfg.Context.CacheCapacity,
		TTL:                 time.Duration(cfg.Context.TTL),
		ConfidenceThreshold: cfg.Context.ConfidenceThreshold,
		Resolver:            resolver,
		Logger:              logger,
		Metrics:             metrics,
	})

	var store *devctx.Store
	if cfg.Context.SnapshotPath != "" {
		store = devctx.NewStore(cfg.Context.SnapshotPath)
		records, err := store.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not restore context snapshot: %v\n", err)
		} else if len(records) > 0 {
			cache.Restore(records)
			stdlog.Printf("Restored %d context records", len(records))
		}

		go func() {
			ticker := time.NewTicker(snapshotInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := store.Save(cache.Records()); err != nil {
					stdlog.Printf("context snapshot failed: %v", err)
				}
			}
		}()
	}

	gw := gateway.New(gateway.Config{
		Devices:  device.NewRegistry(),
		Executor: executor,
		Specs:    specs,
		Cache:    cache,
		Logger:   logger,
	})
	defer gw.Close()

	srv := NewServer(cfg.Server.Listen, gw, specs, promReg, Version)
	defer srv.Close()

	stdlog.Printf("Starting FieldGate on %s", cfg.Server.Listen)
	stdlog.Printf("Protocols: %v", specs.Names())

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		return 1
	}
	return 0
}
