// Package policy controls which upstream hosts and tool capabilities searchd
// may use. The policy is a small yaml allowlist; decisions are recorded by the
// audit package at the call sites.
package policy

import (
	"fmt"
	"hash/fnv"
	"net/netip"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Checker is the interface used by consumers to check URL and capability access.
type Checker interface {
	AllowHTTPURL(raw string) bool
	AllowCapability(capability string) bool
	PolicyVersion() string
}

// Policy is the serializable policy data.
type Policy struct {
	AllowDomains      []string `yaml:"allow_domains"`
	AllowCapabilities []string `yaml:"allow_capabilities"`
	AllowLoopback     bool     `yaml:"allow_loopback"`
}

var knownCapabilities = map[string]struct{}{
	"tools.web_search":         {},
	"tools.web_search_summary": {},
}

// Default returns the out-of-the-box policy: Brave search allowed, nothing else.
func Default() Policy {
	return Policy{
		AllowDomains:      []string{"api.search.brave.com"},
		AllowCapabilities: []string{"tools.web_search", "tools.web_search_summary"},
	}
}

// Load reads a policy file. A missing or empty file yields the default policy.
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	for _, c := range p.AllowCapabilities {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := knownCapabilities[c]; !ok {
			return fmt.Errorf("unknown capability %q in allow_capabilities", c)
		}
	}
	return nil
}

func (p Policy) AllowHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if isBlockedHost(host, p.AllowLoopback) {
		return false
	}
	for _, domain := range p.AllowDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func isBlockedHost(host string, allowLoopback bool) bool {
	if host == "localhost" {
		return !allowLoopback
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false // Not an IP address (e.g. a hostname).
	}
	if allowLoopback && ip.IsLoopback() {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func (p Policy) AllowCapability(capability string) bool {
	capability = strings.ToLower(strings.TrimSpace(capability))
	if capability == "" {
		return false
	}
	for _, allowed := range p.AllowCapabilities {
		if strings.ToLower(strings.TrimSpace(allowed)) == capability {
			return true
		}
	}
	return false
}

func (p Policy) PolicyVersion() string {
	domains := append([]string(nil), p.AllowDomains...)
	caps := append([]string(nil), p.AllowCapabilities...)
	sort.Strings(domains)
	sort.Strings(caps)
	h := fnv.New64a()
	fmt.Fprintf(h, "domains=%v|caps=%v|loopback=%t", domains, caps, p.AllowLoopback)
	return fmt.Sprintf("pol-%x", h.Sum64())
}

// LivePolicy wraps a Policy with atomic replacement so the config watcher can
// reload policy.yaml without restarting.
type LivePolicy struct {
	mu   sync.RWMutex
	p    Policy
	path string
}

func NewLivePolicy(p Policy, path string) *LivePolicy {
	return &LivePolicy{p: p, path: path}
}

// Reload re-reads the policy file and swaps it in. On error the previous
// policy stays active.
func (lp *LivePolicy) Reload() error {
	p, err := Load(lp.path)
	if err != nil {
		return err
	}
	lp.mu.Lock()
	lp.p = p
	lp.mu.Unlock()
	return nil
}

func (lp *LivePolicy) current() Policy {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.p
}

func (lp *LivePolicy) AllowHTTPURL(raw string) bool { return lp.current().AllowHTTPURL(raw) }
func (lp *LivePolicy) AllowCapability(c string) bool {
	return lp.current().AllowCapability(c)
}
func (lp *LivePolicy) PolicyVersion() string { return lp.current().PolicyVersion() }

// DefaultYAML is the policy.yaml bootstrapped on first start.
const DefaultYAML = `# searchd policy: which hosts and capabilities the search tools may use.
allow_domains:
  - api.search.brave.com
allow_capabilities:
  - tools.web_search
  - tools.web_search_summary
allow_loopback: false
`
