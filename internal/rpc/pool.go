// Package rpc balances calls for one chain across its upstream endpoints.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/logger"
	"github.com/wnt/chainwatch/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrNoEndpoints is returned when a pool is built without URLs
var ErrNoEndpoints = errors.New("no RPC endpoints configured")

const (
	defaultRateLimit = 5.0
	defaultBurst     = 5
	defaultTimeout   = 8 * time.Second
	// unhealthy endpoints are tried again after this long
	unhealthyRetryAfter = 30 * time.Second
	rateLimitCooldown   = 5 * time.Minute
)

// Options tunes a pool. Zero values fall back to defaults.
type Options struct {
	RateLimit float64 // requests per second per endpoint
	Burst     int
	Timeout   time.Duration // per call
	// IsBenign reports errors that say nothing about endpoint health,
	// like a missing block or transaction
	IsBenign func(error) bool
}

// Endpoint is one upstream node with its own client and rate limiter
type Endpoint[C any] struct {
	URL    string
	Name   string // URL without path or query, safe for logs and metric labels
	Client C

	limiter       *rate.Limiter
	healthy       bool
	cooldownUntil time.Time
	mutex         sync.RWMutex
}

func (e *Endpoint[C]) available(now time.Time) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return now.After(e.cooldownUntil)
}

// Pool round-robins calls over the endpoints of one chain
type Pool[C any] struct {
	chain     string
	endpoints []*Endpoint[C]
	current   int
	timeout   time.Duration
	isBenign  func(error) bool
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// NewPool dials a client per URL. Dial failures are fatal: a misconfigured
// endpoint should be fixed, not skipped silently.
func NewPool[C any](chain string, urls []string, dial func(url string) (C, error), opts Options, logger zerolog.Logger) (*Pool[C], error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoEndpoints, chain)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.IsBenign == nil {
		opts.IsBenign = func(error) bool { return false }
	}

	endpoints := make([]*Endpoint[C], len(urls))
	for i, u := range urls {
		client, err := dial(u)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s endpoint %s: %w", chain, redact(u), err)
		}
		endpoints[i] = &Endpoint[C]{
			URL:     u,
			Name:    redact(u),
			Client:  client,
			limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
			healthy: true,
		}
		metrics.SetRPCEndpointHealth(endpoints[i].Name, true)
	}

	return &Pool[C]{
		chain:     chain,
		endpoints: endpoints,
		current:   rand.Intn(len(endpoints)),
		timeout:   opts.Timeout,
		isBenign:  opts.IsBenign,
		logger:    logger.With().Str("component", "rpc_pool").Str("chain", chain).Logger(),
	}, nil
}

// next returns the next endpoint that is out of cooldown and under its rate
// limit. When none is, it waits for the limiter of the first candidate.
func (p *Pool[C]) next(ctx context.Context) (*Endpoint[C], error) {
	p.mutex.Lock()
	now := time.Now()
	var fallback *Endpoint[C]

	for range p.endpoints {
		endpoint := p.endpoints[p.current]
		p.current = (p.current + 1) % len(p.endpoints)

		if !endpoint.available(now) {
			epLogger := logger.WithRPCEndpoint(p.logger, endpoint.Name)
			epLogger.Debug().Msg("Endpoint in cooldown, skipping")
			continue
		}
		if fallback == nil {
			fallback = endpoint
		}
		if endpoint.limiter.Allow() {
			p.mutex.Unlock()
			return endpoint, nil
		}
	}
	if fallback == nil {
		// Everything is cooling down; use the endpoint whose turn it is anyway
		fallback = p.endpoints[p.current]
	}
	p.mutex.Unlock()

	epLogger := logger.WithRPCEndpoint(p.logger, fallback.Name)
	epLogger.Debug().Msg("All endpoints rate limited, waiting for availability")
	if err := fallback.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return fallback, nil
}

// MarkUnhealthy takes an endpoint out of rotation for a short while
func (p *Pool[C]) MarkUnhealthy(endpoint *Endpoint[C]) {
	endpoint.mutex.Lock()
	endpoint.healthy = false
	if until := time.Now().Add(unhealthyRetryAfter); until.After(endpoint.cooldownUntil) {
		endpoint.cooldownUntil = until
	}
	endpoint.mutex.Unlock()

	metrics.SetRPCEndpointHealth(endpoint.Name, false)
	epLogger := logger.WithRPCEndpoint(p.logger, endpoint.Name)
	epLogger.Warn().Msg("Marked endpoint as unhealthy")
}

// MarkHealthy clears the unhealthy flag and any cooldown
func (p *Pool[C]) MarkHealthy(endpoint *Endpoint[C]) {
	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = true
	endpoint.cooldownUntil = time.Time{}
	endpoint.mutex.Unlock()

	if !wasHealthy {
		metrics.SetRPCEndpointHealth(endpoint.Name, true)
		epLogger := logger.WithRPCEndpoint(p.logger, endpoint.Name)
		epLogger.Info().Msg("Marked endpoint as healthy")
	}
}

// SetCooldown puts an endpoint in cooldown for the specified duration
func (p *Pool[C]) SetCooldown(endpoint *Endpoint[C], duration time.Duration) {
	endpoint.mutex.Lock()
	endpoint.cooldownUntil = time.Now().Add(duration)
	endpoint.mutex.Unlock()

	epLogger := logger.WithRPCEndpoint(p.logger, endpoint.Name)
	epLogger.Warn().
		Dur("duration", duration).
		Msg("Set endpoint cooldown")
}

// HealthyCount returns the number of endpoints currently in rotation
func (p *Pool[C]) HealthyCount() int {
	now := time.Now()
	count := 0
	for _, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		if endpoint.healthy && now.After(endpoint.cooldownUntil) {
			count++
		}
		endpoint.mutex.RUnlock()
	}
	return count
}

// EndpointStats is the health snapshot of one endpoint
type EndpointStats struct {
	Endpoint      string    `json:"endpoint"`
	Healthy       bool      `json:"healthy"`
	InCooldown    bool      `json:"in_cooldown"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Stats is the health snapshot of a pool
type Stats struct {
	Chain            string          `json:"chain"`
	TotalEndpoints   int             `json:"total_endpoints"`
	HealthyEndpoints int             `json:"healthy_endpoints"`
	Endpoints        []EndpointStats `json:"endpoints"`
}

// Stats returns pool statistics
func (p *Pool[C]) Stats() Stats {
	now := time.Now()
	stats := Stats{
		Chain:            p.chain,
		TotalEndpoints:   len(p.endpoints),
		HealthyEndpoints: p.HealthyCount(),
		Endpoints:        make([]EndpointStats, len(p.endpoints)),
	}
	for i, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		stats.Endpoints[i] = EndpointStats{
			Endpoint:      endpoint.Name,
			Healthy:       endpoint.healthy,
			InCooldown:    now.Before(endpoint.cooldownUntil),
			CooldownUntil: endpoint.cooldownUntil,
		}
		endpoint.mutex.RUnlock()
	}
	return stats
}

// redact drops credentials, paths and query strings, which often carry API keys
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-endpoint"
	}
	return u.Scheme + "://" + u.Host
}
