// Package doctor runs local diagnostics for the searchd daemon: config,
// credentials, filesystem permissions, policy and upstream DNS.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/searchd/internal/brave"
	"github.com/basket/searchd/internal/config"
	"github.com/basket/searchd/internal/policy"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkPermissions,
		checkPolicy,
		checkDaemon,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsBootstrap {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing (written with defaults on first start)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: "SKIP", Message: "Config missing"}
	}

	if os.Getenv("BRAVE_API_KEY") != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: "BRAVE_API_KEY is set"}
	}
	if cfg.Brave.APIKey != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: "brave.apikey set in config.yaml"}
	}

	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: "No Brave subscription token configured; search calls will fail",
		Detail:  "Set BRAVE_API_KEY or brave.apikey in config.yaml",
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkPolicy(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Policy", Status: "SKIP", Message: "Config missing"}
	}

	path := config.PolicyPath(cfg.HomeDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{Name: "Policy", Status: "WARN", Message: "policy.yaml missing (bootstrapped with defaults on first start)"}
	}
	pol, err := policy.Load(path)
	if err != nil {
		return CheckResult{Name: "Policy", Status: "FAIL", Message: fmt.Sprintf("policy.yaml invalid: %v", err)}
	}
	return CheckResult{Name: "Policy", Status: "PASS", Message: fmt.Sprintf("Loaded version %s", pol.PolicyVersion())}
}

// checkDaemon probes the configured bind address to tell whether a searchd
// instance is already running there.
func checkDaemon(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Daemon", Status: "SKIP", Message: "Config missing"}
	}

	conn, err := net.DialTimeout("tcp", cfg.BindAddr, 2*time.Second)
	if err != nil {
		return CheckResult{
			Name:    "Daemon",
			Status:  "WARN",
			Message: fmt.Sprintf("Nothing listening on %s (daemon not running)", cfg.BindAddr),
		}
	}
	conn.Close()
	return CheckResult{Name: "Daemon", Status: "PASS", Message: fmt.Sprintf("Listener reachable at %s", cfg.BindAddr)}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	host := upstreamHost(cfg)

	// DNS lookup with timeout.
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("addresses=%v", addrs),
	}
}

// upstreamHost extracts the host of the configured search endpoint, falling
// back to the production Brave host.
func upstreamHost(cfg *config.Config) string {
	raw := cfg.Brave.SearchURL
	if raw == "" {
		raw = brave.DefaultSearchURL
	}
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "api.search.brave.com"
}
