package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wnt/chainwatch/internal/logger"
	"github.com/wnt/chainwatch/internal/metrics"
)

// Do runs fn against the next endpoint with the per-call timeout. A failure
// that looks like the endpoint's fault is tried once more on another endpoint;
// anything else is left to the next poll cycle.
func (p *Pool[C]) Do(ctx context.Context, op string, fn func(ctx context.Context, client C) error) error {
	attempts := 1
	if len(p.endpoints) > 1 {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		endpoint, err := p.next(ctx)
		if err != nil {
			metrics.RecordRPCRequest(p.chain, "cancelled")
			return fmt.Errorf("failed to get %s endpoint: %w", p.chain, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		err = fn(callCtx, endpoint.Client)
		duration := time.Since(start)
		cancel()

		if err == nil {
			metrics.RecordRPCRequest(p.chain, "success")
			p.MarkHealthy(endpoint)
			return nil
		}
		if p.isBenign(err) {
			metrics.RecordRPCRequest(p.chain, "success")
			return err
		}
		if ctx.Err() != nil {
			metrics.RecordRPCRequest(p.chain, "cancelled")
			return ctx.Err()
		}

		if isRateLimited(err) {
			p.handleRateLimit(endpoint)
		} else {
			p.handleError(endpoint, op, err, duration)
		}
		lastErr = fmt.Errorf("%s via %s: %w", op, endpoint.Name, err)
	}
	return lastErr
}

// handleError handles RPC errors and marks endpoints as unhealthy
func (p *Pool[C]) handleError(endpoint *Endpoint[C], op string, err error, duration time.Duration) {
	epLogger := logger.WithRPCEndpoint(p.logger, endpoint.Name)
	epLogger.Error().
		Err(err).
		Str("op", op).
		Dur("duration", duration).
		Msg("RPC request failed")

	status := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		status = "timeout"
	}
	p.MarkUnhealthy(endpoint)
	metrics.RecordRPCRequest(p.chain, status)
}

// handleRateLimit handles rate limiting by setting cooldown
func (p *Pool[C]) handleRateLimit(endpoint *Endpoint[C]) {
	epLogger := logger.WithRPCEndpoint(p.logger, endpoint.Name)
	epLogger.Warn().Msg("Rate limited by endpoint")

	p.SetCooldown(endpoint, rateLimitCooldown)
	metrics.RecordRPCRequest(p.chain, "rate_limited")
}

// isRateLimited matches the HTTP 429/503 errors surfaced by both JSON-RPC clients
func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "rate limit")
}
