package logic

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Blocklist filters traffic that must never be billed: known scraper and
// headless-browser user agents, abusive referrers, blocked networks, and
// internal (office/VPN) networks whose views would be self-dealing.
type Blocklist struct {
	rules atomic.Pointer[blockRules]
}

type blockRules struct {
	userAgents []*regexp.Regexp
	referrers  []*regexp.Regexp
	networks   []*net.IPNet
	internal   []*net.IPNet
}

type blocklistFile struct {
	UserAgents  []string `yaml:"user_agents"`
	Referrers   []string `yaml:"referrers"`
	Networks    []string `yaml:"networks"`
	InternalIPs []string `yaml:"internal_ips"`
}

var defaultBlockedUserAgents = []*regexp.Regexp{
	regexp.MustCompile(`(?i)headlesschrome`),
	regexp.MustCompile(`(?i)phantomjs`),
	regexp.MustCompile(`(?i)selenium`),
	regexp.MustCompile(`(?i)python-requests`),
	regexp.MustCompile(`(?i)\bcurl/`),
	regexp.MustCompile(`(?i)\bwget/`),
	regexp.MustCompile(`(?i)go-http-client`),
	regexp.MustCompile(`(?i)scrapy`),
}

var defaultInternalNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// NewBlocklist returns a blocklist carrying only the compiled-in defaults.
func NewBlocklist() *Blocklist {
	b := &Blocklist{}
	b.rules.Store(&blockRules{
		userAgents: defaultBlockedUserAgents,
		internal:   defaultInternalNetworks,
	})
	return b
}

// LoadBlocklist builds a blocklist from a YAML file layered on top of the
// defaults. An empty path returns the defaults.
func LoadBlocklist(path string) (*Blocklist, error) {
	b := NewBlocklist()
	if path == "" {
		return b, nil
	}
	if err := b.Reload(path); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads the YAML file and atomically swaps the rule set. In-flight
// checks keep using the previous rules.
func (b *Blocklist) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read blocklist: %w", err)
	}
	var f blocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse blocklist: %w", err)
	}

	rules := &blockRules{
		userAgents: append([]*regexp.Regexp{}, defaultBlockedUserAgents...),
		internal:   append([]*net.IPNet{}, defaultInternalNetworks...),
	}
	for _, pat := range f.UserAgents {
		re, err := regexp.Compile(`(?i)` + pat)
		if err != nil {
			return fmt.Errorf("blocklist user agent %q: %w", pat, err)
		}
		rules.userAgents = append(rules.userAgents, re)
	}
	for _, pat := range f.Referrers {
		re, err := regexp.Compile(`(?i)` + pat)
		if err != nil {
			return fmt.Errorf("blocklist referrer %q: %w", pat, err)
		}
		rules.referrers = append(rules.referrers, re)
	}
	for _, c := range f.Networks {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return fmt.Errorf("blocklist network %q: %w", c, err)
		}
		rules.networks = append(rules.networks, n)
	}
	for _, c := range f.InternalIPs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return fmt.Errorf("blocklist internal network %q: %w", c, err)
		}
		rules.internal = append(rules.internal, n)
	}

	b.rules.Store(rules)
	return nil
}

// BlockedUserAgent reports whether the raw UA string matches a blocked pattern.
func (b *Blocklist) BlockedUserAgent(ua string) bool {
	for _, re := range b.rules.Load().userAgents {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

// BlockedReferrer reports whether the referrer matches a blocked pattern.
// An empty referrer is never blocked.
func (b *Blocklist) BlockedReferrer(ref string) bool {
	if ref == "" {
		return false
	}
	for _, re := range b.rules.Load().referrers {
		if re.MatchString(ref) {
			return true
		}
	}
	return false
}

// BlockedIP reports whether ip falls inside a blocked network.
func (b *Blocklist) BlockedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range b.rules.Load().networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// InternalIP reports whether ip belongs to an internal network. Views and
// clicks from internal networks are recorded but never billed.
func (b *Blocklist) InternalIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range b.rules.Load().internal {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
