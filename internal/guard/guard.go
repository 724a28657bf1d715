// Package guard is the request admission layer: a global shared-secret gate,
// and a per-IP daily counter for configured open-access hostnames. It is
// abuse damping, not precise accounting: counters are process-local and
// reset implicitly at day rollover in a fixed timezone.
package guard

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// APIKeyHeader carries the global API key when one is configured.
	APIKeyHeader = "X-API-Key"

	// DefaultDailyLimit is the per-(host, ip, day) request ceiling.
	DefaultDailyLimit = 5

	// DefaultTimezone fixes the calendar day used for counter keys.
	DefaultTimezone = "America/New_York"
)

var (
	ErrUnauthorized = errors.New("missing or invalid API key")
	ErrRateLimited  = errors.New("daily request limit reached for this domain")
)

// Counter is the increment-and-get contract behind the rate limiter. The
// in-memory implementation is process-local; a distributed counter can be
// swapped in without changing the decision logic.
type Counter interface {
	Incr(key string) int
}

type Guard struct {
	apiKey       string
	limitedHosts map[string]struct{}
	dailyLimit   int
	loc          *time.Location
	counter      Counter
	now          func() time.Time
}

type Config struct {
	APIKey       string
	LimitedHosts []string // hostnames subject to the per-IP daily limit
	DailyLimit   int      // 0 means DefaultDailyLimit
	Timezone     string   // IANA name; "" means DefaultTimezone
	Counter      Counter  // nil means a fresh in-memory counter
	Now          func() time.Time
}

func New(cfg Config) (*Guard, error) {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.Counter == nil {
		cfg.Counter = NewMemoryCounter()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	hosts := make(map[string]struct{}, len(cfg.LimitedHosts))
	for _, h := range cfg.LimitedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = struct{}{}
		}
	}

	return &Guard{
		apiKey:       cfg.APIKey,
		limitedHosts: hosts,
		dailyLimit:   cfg.DailyLimit,
		loc:          loc,
		counter:      cfg.Counter,
		now:          cfg.Now,
	}, nil
}

// Check admits or rejects a request. The global key check runs first; the
// per-domain daily limit applies only when no key is configured.
func (g *Guard) Check(r *http.Request) error {
	if g.apiKey != "" {
		if r.Header.Get(APIKeyHeader) != g.apiKey {
			return ErrUnauthorized
		}
		return nil
	}

	if len(g.limitedHosts) == 0 {
		return nil
	}

	host := normalizeHost(r.Host)
	if _, limited := g.limitedHosts[host]; !limited {
		return nil
	}

	day := g.now().In(g.loc).Format("2006-01-02")
	key := fmt.Sprintf("%s|%s|%s", host, clientIP(r), day)
	if g.counter.Incr(key) > g.dailyLimit {
		return ErrRateLimited
	}
	return nil
}

// normalizeHost lowercases a Host header and strips any port.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// clientIP extracts the caller's IP, preferring the first X-Forwarded-For
// entry when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
