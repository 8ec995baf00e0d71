// Package supervisor implements the HoneyTrap supervisor loop: a single
// ticker-driven goroutine that periodically invokes the message server's
// idle sweep and the policy engine's inactivity sweep, and that exits
// cleanly when its context is cancelled (main cancels it on
// SIGINT/SIGTERM).
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/honeytrap/gateway/internal/observability"
)

// MessageServer is the subset of msgserver.Server the loop depends on.
type MessageServer interface {
	IdleSweep() int
}

// PolicyEngine is the subset of policy.Engine the loop depends on.
type PolicyEngine interface {
	InactivitySweep() ([]string, error)
}

// Loop is the periodic sweep driver.
type Loop struct {
	log     *zap.Logger
	metrics *observability.Metrics
	server  MessageServer
	policy  PolicyEngine

	interval  time.Duration
	pollEvery time.Duration
}

// New constructs a Loop. pollEvery bounds how promptly ctx cancellation
// is observed between sweeps (spec requires <=10s granularity).
func New(log *zap.Logger, metrics *observability.Metrics, server MessageServer, policy PolicyEngine, interval, pollEvery time.Duration) *Loop {
	return &Loop{
		log:       log,
		metrics:   metrics,
		server:    server,
		policy:    policy,
		interval:  interval,
		pollEvery: pollEvery,
	}
}

// Run blocks, driving sweeps every interval, until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()

	elapsed := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("supervisor loop: shutting down")
			return
		case <-ticker.C:
			elapsed += l.pollEvery
			if elapsed < l.interval {
				continue
			}
			elapsed = 0
			l.sweep()
		}
	}
}

func (l *Loop) sweep() {
	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	closed := l.server.IdleSweep()
	if closed > 0 {
		l.log.Info("supervisor loop: idle connections closed", zap.Int("count", closed))
	}

	expired, err := l.policy.InactivitySweep()
	if err != nil {
		l.log.Error("supervisor loop: inactivity sweep failed", zap.Error(err))
		return
	}
	if len(expired) > 0 {
		l.log.Info("supervisor loop: sessions expired", zap.Strings("usernames", expired))
	}
}
