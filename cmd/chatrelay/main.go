/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
chatrelay Server - Main Entry Point.

USAGE:
======

	chatrelay [options]

OPTIONS:
========

	-port int         Chat listener port (default: 2222)
	-config string    Path to configuration file (JSON format)
	-drain            Deliver queued messages before shutting down
	-human-readable   Use human-readable log format instead of JSON
	-quiet            Skip banner and config display, output logs only
	-version          Show version information
	-help             Show help message

STARTUP SEQUENCE:
=================
1. Parse command line flags and config file
2. Initialize logging
3. Open the credential store and audit trail
4. Start the chat listener and auxiliary servers
5. Read operator commands until /disconnect or a shutdown signal
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/audit"
	"chatrelay/internal/auth"
	"chatrelay/internal/banner"
	"chatrelay/internal/config"
	"chatrelay/internal/console"
	"chatrelay/internal/discovery"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/health"
	"chatrelay/internal/logging"
	"chatrelay/internal/metrics"
	"chatrelay/internal/server"
	grpcserver "chatrelay/internal/server/grpc"
	"chatrelay/internal/server/ws"
)

const (
	maxPendingMessages = 10000
	heapThreshold      = 90.0
	diskThreshold      = 95.0
)

func printHelp() {
	banner.PrintTo(os.Stdout, "chatrelay", "Multi-user chat relay")
	fmt.Println("\033[1;36mUsage:\033[0m")
	fmt.Println("  chatrelay [options]")
	fmt.Println()
	fmt.Println("\033[1;36mOptions:\033[0m")
	fmt.Println("  -port int         Chat listener port (default: 2222)")
	fmt.Println("  -config string    Path to configuration file (JSON format)")
	fmt.Println("  -drain            Deliver queued messages before shutting down (default: true)")
	fmt.Println("  -human-readable   Use human-readable log format instead of JSON")
	fmt.Println("  -quiet            Skip banner and config display, output logs only")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help, -h         Show this help message")
	fmt.Println()
	fmt.Println("\033[1;36mEnvironment Variables:\033[0m")
	fmt.Println("  CHATRELAY_PORT               Chat listener port (default: 2222)")
	fmt.Println("  CHATRELAY_DATA_DIR           Data directory path")
	fmt.Println("  CHATRELAY_LOG_LEVEL          Log level: debug, info, warn, error")
	fmt.Println("  CHATRELAY_LOG_JSON           Enable JSON log output")
	fmt.Println("  CHATRELAY_DISPATCH_WORKERS   Delivery worker count (default: 10)")
	fmt.Println("  CHATRELAY_AUTH_BACKEND       Credential store: file, memory, postgres")
	fmt.Println("  CHATRELAY_DATABASE_URL       Postgres connection URL")
	fmt.Println("  CHATRELAY_WS_ENABLED         Enable the WebSocket gateway")
	fmt.Println("  CHATRELAY_GRPC_ENABLED       Enable the gRPC admin service")
	fmt.Println("  CHATRELAY_METRICS_ENABLED    Enable the Prometheus endpoint")
	fmt.Println("  CHATRELAY_KAFKA_ENABLED      Stream audit events to Kafka")
	fmt.Println("  CHATRELAY_DISCOVERY_ENABLED  Advertise the relay over mDNS")
	fmt.Println()
	fmt.Println("\033[1;36mExamples:\033[0m")
	fmt.Println("  # Start on the default port with human-readable logs")
	fmt.Println("  chatrelay -human-readable")
	fmt.Println()
	fmt.Println("  # Start on another port and drop queued messages on shutdown")
	fmt.Println("  chatrelay -port 2323 -drain=false")
	fmt.Println()
	fmt.Println("  # Start with custom config file")
	fmt.Println("  chatrelay -config /etc/chatrelay/chatrelay.json")
	fmt.Println()
}

func main() {
	// Custom flag handling for help
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" || arg == "-help" || arg == "help" {
			printHelp()
			return
		}
	}

	port := flag.Int("port", config.DefaultPort, "Chat listener port")
	configPath := flag.String("config", "", "Path to configuration file")
	drain := flag.Bool("drain", true, "Deliver queued messages before shutting down")
	humanReadable := flag.Bool("human-readable", false, "Use human-readable log format instead of JSON")
	quietMode := flag.Bool("quiet", false, "Skip banner and config display, output logs only")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		banner.PrintVersionTo(os.Stdout, "chatrelay", "Multi-user chat relay")
		return
	}

	// Load configuration first (before banner, so we can display it)
	cfgMgr := config.Global()
	if *configPath != "" {
		if err := cfgMgr.LoadFromFile(*configPath); err != nil {
			fmt.Printf("Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}
	cfgMgr.LoadFromEnv()
	cfg := cfgMgr.Get()

	// Flags given explicitly win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
			cfg.BindAddr = ""
		case "drain":
			cfg.Dispatch.DrainOnShutdown = *drain
		}
	})
	if *humanReadable {
		cfg.LogJSON = false
	}
	cfg.Finalize()

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if !*quietMode {
		banner.PrintServerWithConfig(cfg)
	}

	// Setup logging
	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("main")

	logger.Info("Starting chatrelay", "version", banner.Version, "port", cfg.Port)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := auth.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer creds.Close()

	store, err := audit.Open(cfg.Audit, cfg.Discovery.Instance)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	rec := audit.NewRecorder(store)
	defer rec.Close()

	m := metrics.Get()
	srv := server.New(cfg, server.Deps{
		Credentials: creds,
		Audit:       rec,
		Metrics:     m,
	})

	// ========================================================================
	// Auxiliary Services
	// ========================================================================

	srv.AddAuxiliary("metrics", metrics.NewServer(&cfg.Metrics, m))

	checker := health.NewChecker(banner.Version)
	checker.RegisterCheck("dispatcher", health.DispatcherCheck(maxPendingMessages, srv.Pending, srv.Stopping))
	checker.RegisterCheck("memory", health.MemoryCheck(heapThreshold, health.HeapUsage))
	checker.RegisterCheck("disk", health.DiskCheck(diskThreshold, func() float64 {
		return health.DiskUsage(cfg.DataDir)
	}))
	if pinger, ok := creds.(interface{ Ping(context.Context) error }); ok {
		checker.RegisterCheck("credentials", health.DependencyCheck(func() error {
			return pinger.Ping(srv.Context())
		}))
	}
	srv.AddAuxiliary("health", health.NewServer(&cfg.Health, checker))

	srv.AddAuxiliary("grpc", grpcserver.NewServer(&cfg.GRPC, srv))
	srv.AddAuxiliary("websocket", ws.NewGateway(&cfg.WebSocket, srv))

	disc := discovery.Config{
		Enabled:  cfg.Discovery.Enabled,
		Instance: cfg.Discovery.Instance,
		Port:     cfg.Port,
		Version:  banner.Version,
	}
	if cfg.WebSocket.Enabled {
		disc.WSAddr = cfg.WebSocket.Addr
	}
	if cfg.GRPC.Enabled {
		disc.GRPCAddr = cfg.GRPC.Addr
	}
	srv.AddAuxiliary("discovery", discovery.NewService(disc))

	if err := srv.Start(); err != nil {
		return err
	}

	mode := dispatch.StopImmediate
	if cfg.Dispatch.DrainOnShutdown {
		mode = dispatch.StopDrain
	}

	con := console.New(srv, rec, os.Stdin, os.Stdout)
	stopped, err := con.Run(ctx)
	if err != nil {
		logger.Warn("Console input failed", "error", err)
	}
	if stopped {
		return nil
	}

	// Without a terminal keep serving until a signal arrives.
	<-ctx.Done()
	logger.Info("Shutting down...", "mode", mode)
	if err := srv.Shutdown(mode); err != nil {
		logger.Error("Error stopping server", "error", err)
	}
	return nil
}
