// Package ratelimit enforces per-client event rate limits with fixed-window
// counters. Views and clicks beyond the configured rates are recorded but
// not billed.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// nowFn is swapped in tests to control window expiry.
var nowFn = time.Now

// Rule allows Limit events per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// ParseRules parses a comma-separated rule list like "3:5m,10:1h".
func ParseRules(s string) ([]Rule, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var rules []Rule
	for _, part := range strings.Split(s, ",") {
		limitStr, windowStr, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			return nil, fmt.Errorf("rate limit rule %q: want limit:window", part)
		}
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("rate limit rule %q: bad limit", part)
		}
		window, err := time.ParseDuration(windowStr)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("rate limit rule %q: bad window", part)
		}
		rules = append(rules, Rule{Limit: limit, Window: window})
	}
	return rules, nil
}

type window struct {
	count int
	start time.Time
}

// Limiter tracks fixed windows per key. Keys are expected to be
// "(ip, event type)" pairs; state is per process.
type Limiter struct {
	mu      sync.Mutex
	rules   []Rule
	windows map[string][]window
}

// NewLimiter creates a limiter over the given rules. No rules means
// everything is allowed.
func NewLimiter(rules []Rule) *Limiter {
	return &Limiter{rules: rules, windows: map[string][]window{}}
}

// Key builds the canonical limiter key for an (ip, event type) pair.
func Key(ip, eventType string) string {
	return ip + "|" + eventType
}

// Allow consumes one event for key, reporting whether every rule still has
// room. A denied event still counts toward the windows so sustained abuse
// stays denied.
func (l *Limiter) Allow(key string) bool {
	if len(l.rules) == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := nowFn()
	ws, ok := l.windows[key]
	if !ok {
		ws = make([]window, len(l.rules))
		for i := range ws {
			ws[i].start = now
		}
		l.windows[key] = ws
	}

	allowed := true
	for i, rule := range l.rules {
		if now.Sub(ws[i].start) >= rule.Window {
			ws[i] = window{start: now}
		}
		ws[i].count++
		if ws[i].count > rule.Limit {
			allowed = false
		}
	}
	return allowed
}

// StartCleanup drops fully-expired keys every interval until stop closes.
func (l *Limiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := nowFn()
	for key, ws := range l.windows {
		expired := true
		for i, rule := range l.rules {
			if now.Sub(ws[i].start) < rule.Window {
				expired = false
				break
			}
		}
		if expired {
			delete(l.windows, key)
		}
	}
}
