package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/mattn/go-isatty"

	"github.com/basket/searchd/internal/audit"
	"github.com/basket/searchd/internal/brave"
	"github.com/basket/searchd/internal/bus"
	"github.com/basket/searchd/internal/config"
	"github.com/basket/searchd/internal/gateway"
	otelPkg "github.com/basket/searchd/internal/otel"
	"github.com/basket/searchd/internal/policy"
	"github.com/basket/searchd/internal/searchcache"
	"github.com/basket/searchd/internal/telemetry"
	"github.com/basket/searchd/internal/tools"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Start the search daemon
  %s status                   Show daemon health status (/healthz)
  %s doctor [-json]           Run local diagnostics

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  SEARCHD_HOME            Data directory (default: ~/.searchd)
  BRAVE_API_KEY           Brave Search subscription token (overrides config)
  SEARCHD_BIND_ADDR       Gateway bind address (overrides config)
  SEARCHD_LOG_LEVEL       Log level: debug, info, warn, error

EXAMPLES:
  Start the daemon:       %s
  Check daemon health:    %s status
  Diagnose a setup:       %s doctor
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "log to file only, keep stdout clean")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("searchd", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Initialize audit before logger so logger-init failures are audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	if cfg.NeedsBootstrap {
		if err := config.WriteStarter(cfg.HomeDir); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "home", cfg.HomeDir)
		cfg, err = config.Load()
		if err != nil {
			fatalStartup(logger, "E_CONFIG_RELOAD", err)
		}
	}

	// Initialize OpenTelemetry (no-op when disabled, zero overhead).
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	policyPath := config.PolicyPath(cfg.HomeDir)
	if _, statErr := os.Stat(policyPath); os.IsNotExist(statErr) {
		if writeErr := os.WriteFile(policyPath, []byte(policy.DefaultYAML), 0o644); writeErr != nil {
			fatalStartup(logger, "E_POLICY_BOOTSTRAP", writeErr)
		}
		logger.Info("policy.yaml bootstrapped with defaults", "path", policyPath)
	}
	polData, err := policy.Load(policyPath)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	pol := policy.NewLivePolicy(polData, policyPath)
	logger.Info("startup phase", "phase", "policy_loaded", "policy_version", pol.PolicyVersion())

	client := brave.NewClient(brave.Config{
		APIKey:        cfg.Brave.APIKey,
		SearchURL:     cfg.Brave.SearchURL,
		SummarizerURL: cfg.Brave.SummarizerURL,
		Timeout:       time.Duration(cfg.Brave.TimeoutSeconds) * time.Second,
	}, pol)
	if !client.Available() {
		logger.Warn("brave.apikey not configured; search calls will fail until it is set",
			"config", config.ConfigPath(cfg.HomeDir))
	}

	// Runtime event bus: cache and tool events flow to WS subscribers.
	events := bus.New()

	registry := tools.NewRegistry(pol, client,
		tools.WithLogger(logger),
		tools.WithCacheObserver(searchcache.Multi(
			otelPkg.NewCacheObserver(metrics),
			bus.NewCacheObserver(events),
		)),
	)
	g := genkit.Init(ctx)
	registry.RegisterAll(g)
	logger.Info("startup phase", "phase", "tools_registered", "count", len(registry.Tools))

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			switch filepath.Base(ev.Path) {
			case "policy.yaml":
				if err := pol.Reload(); err != nil {
					logger.Error("policy.yaml reload rejected; retaining previous policy", "error", err)
				} else {
					logger.Info("policy.yaml hot-reloaded", "policy_version", pol.PolicyVersion())
					events.Publish(bus.TopicPolicyReloaded, bus.ReloadEvent{Path: ev.Path, Version: pol.PolicyVersion()})
				}
			case "config.yaml":
				newCfg, err := config.Load()
				if err != nil {
					logger.Error("config.yaml reload failed", "error", err)
					break
				}
				client.SetAPIKey(newCfg.Brave.APIKey)
				logger.Info("config.yaml hot-reloaded", "config_hash", newCfg.Fingerprint())
				events.Publish(bus.TopicConfigReloaded, bus.ReloadEvent{Path: ev.Path, Version: newCfg.Fingerprint()})
			}
		}
	}()

	gw := gateway.New(gateway.Config{
		Registry:          registry,
		Policy:            pol,
		Bus:               events,
		Auth:              cfg.Auth,
		CORS:              cfg.CORS,
		AllowOrigins:      cfg.CORS.AllowedOrigins,
		ConfigFingerprint: cfg.Fingerprint(),
		MaxRequestBytes:   cfg.MaxRequestBytes,
	})

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			hint := portOccupantHint(cfg.BindAddr)
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, hint))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if isatty.IsTerminal(os.Stdout.Fd()) && !*quiet {
		fmt.Printf("searchd %s listening on %s\n", Version, cfg.BindAddr)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"searchd","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	// Try lsof to identify the occupying process (macOS/Linux).
	out, err := execCommand("lsof", "-ti", ":"+port)
	if err == nil && strings.TrimSpace(out) != "" {
		pids := strings.TrimSpace(out)
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pids, pids)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}

func execCommand(name string, args ...string) (string, error) {
	cmd := execCommandFunc(name, args...)
	out, err := cmd.Output()
	return string(out), err
}

var execCommandFunc = newExecCommand

func newExecCommand(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// loadDotEnv sets environment variables from a .env file without overriding
// values already present in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
