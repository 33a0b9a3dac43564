// Package heartbeat wakes the assistant on a fixed interval so it can act
// without an inbound message, with a manual trigger for on-demand wakes.
package heartbeat

import (
	"context"
	"log"
	"time"

	"github.com/ombra-ai/ombra/internal/observability"
)

// TickFunc runs on every heartbeat. source is "interval" or "manual".
type TickFunc func(ctx context.Context, source string) error

type Service struct {
	interval time.Duration
	tick     TickFunc
	metrics  *observability.Metrics
	trigger  chan struct{}
}

func New(interval time.Duration, tick TickFunc, metrics *observability.Metrics) *Service {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		interval: interval,
		tick:     tick,
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate heartbeat. It never blocks; a wake already
// queued absorbs the request.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run fires ticks until ctx is cancelled. A failing tick is logged and the
// cadence continues.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		var source string
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			source = "interval"
		case <-s.trigger:
			source = "manual"
			ticker.Reset(s.interval)
		}

		s.metrics.ObserveHeartbeat(source)
		if err := s.tick(ctx, source); err != nil {
			log.Printf("heartbeat (%s) failed: %v", source, err)
		}
	}
}
