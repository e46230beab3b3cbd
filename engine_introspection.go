package authcore

import (
	"context"
	"time"
)

// HealthStatus is an on-demand session backend health result.
type HealthStatus struct {
	Available bool
	Latency   time.Duration
}

type pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Health pings the session backend when it supports it. Backends without a
// ping report Available with zero latency.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.persistence == nil {
		return HealthStatus{}
	}
	p, ok := e.persistence.(pinger)
	if !ok {
		return HealthStatus{Available: true}
	}
	latency, err := p.Ping(ctx)
	if err != nil {
		return HealthStatus{}
	}
	return HealthStatus{Available: true, Latency: latency}
}
