// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/email"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// banRecord tracks one client-facing identifier through the
// Unrestricted -> Limited -> Banned -> Unrestricted cycle.
type banRecord struct {
	windowStart time.Time
	count       int
	violations  int
	bannedUntil time.Time
}

// RateLimiter gates entry to the ingestion pipeline: a request denied here
// never reaches the queue. Counters are safe for concurrent request
// handlers.
type RateLimiter struct {
	mu      sync.Mutex
	records map[string]*banRecord

	window       time.Duration
	ceiling      int
	banThreshold int
	trustProxy   bool

	logger *logging.ChanneledLogger
	mailer email.Service

	now func() time.Time
}

// NewRateLimiter creates a limiter from the central configuration.
func NewRateLimiter(logger *logging.ChanneledLogger, mailer email.Service) *RateLimiter {
	return &RateLimiter{
		records:      make(map[string]*banRecord),
		window:       config.RateLimitWindow,
		ceiling:      config.RateLimitCeiling,
		banThreshold: config.BanViolationThreshold,
		trustProxy:   config.TrustProxyHeader,
		logger:       logger,
		mailer:       mailer,
		now:          time.Now,
	}
}

// Middleware returns the gin handler enforcing the ban state machine.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := rl.identify(c)

		if allowed, banned := rl.admit(identifier); !allowed {
			rl.logger.Abuse().Warn("Heartbeat rejected by rate limiter",
				"identifier", identifier,
				"banned", banned,
				"path", c.Request.URL.Path)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// identify selects the client-facing network identifier. Behind a trusted
// reverse proxy the forwarded-for header is preferred; if the deployment
// does not control the proxy this header is spoofable and TRUST_PROXY_HEADER
// must be disabled.
func (rl *RateLimiter) identify(c *gin.Context) string {
	if rl.trustProxy {
		if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
			if idx := strings.IndexByte(fwd, ','); idx >= 0 {
				fwd = fwd[:idx]
			}
			return strings.TrimSpace(fwd)
		}
	}
	return c.ClientIP()
}

// admit runs one request through the state machine. It returns whether the
// request may proceed and whether the identifier is currently banned.
func (rl *RateLimiter) admit(identifier string) (allowed, banned bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, exists := rl.records[identifier]
	if !exists {
		rec = &banRecord{windowStart: now}
		rl.records[identifier] = rec
	}

	// Banned -> Unrestricted once the ban elapses.
	if !rec.bannedUntil.IsZero() {
		if now.Before(rec.bannedUntil) {
			return false, true
		}
		*rec = banRecord{windowStart: now}
	}

	// A fresh window resets the counter and clears the Limited state.
	// Limited ends only when the window turns over; the ban clock applies to
	// the Banned state alone. A client that was merely rate-limited and
	// retries after the nominal ban length, but inside the same window, is
	// still over the ceiling and escalates toward a real ban.
	if now.Sub(rec.windowStart) >= rl.window {
		rec.windowStart = now
		rec.count = 0
		rec.violations = 0
	}

	rec.count++
	if rec.count < rl.ceiling {
		return true, false
	}

	// Over the ceiling: Limited. Repeated violation escalates to Banned;
	// the ban expires just before the next legitimate scheduled heartbeat.
	rec.violations++
	if rec.violations >= rl.banThreshold {
		rec.bannedUntil = now.Add(config.BanDuration())
		rl.logger.Abuse().Error("Identifier banned for repeated rate-limit violations",
			"identifier", identifier,
			"violations", rec.violations,
			"bannedUntil", rec.bannedUntil.UTC().Format(time.RFC3339))
		rl.alert(identifier, rec.violations, rec.bannedUntil)
	}

	return false, false
}

// alert fires the optional operator email without blocking the request path.
func (rl *RateLimiter) alert(identifier string, violations int, bannedUntil time.Time) {
	if rl.mailer == nil {
		return
	}
	go func() {
		if err := rl.mailer.SendBanAlert(identifier, violations, bannedUntil); err != nil {
			rl.logger.Abuse().Error("Failed to send ban alert email", "error", err.Error())
		}
	}()
}

// StartSweeper evicts stale records in the background until ctx is
// cancelled. BanRecords are ephemeral process state; anything idle past a
// full window plus the ban length can never influence an admission decision
// again.
func (rl *RateLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()
}

func (rl *RateLimiter) sweep() {
	now := rl.now()
	cutoff := rl.window + config.BanDuration()

	rl.mu.Lock()
	var evicted int
	for identifier, rec := range rl.records {
		idle := now.Sub(rec.windowStart)
		if idle > cutoff && now.After(rec.bannedUntil) {
			delete(rl.records, identifier)
			evicted++
		}
	}
	remaining := len(rl.records)
	rl.mu.Unlock()

	if evicted > 0 {
		rl.logger.Abuse().Debug("Rate limiter sweep completed",
			"evicted", evicted, "remaining", remaining)
	}
}
