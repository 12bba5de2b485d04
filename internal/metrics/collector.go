// Package metrics periodically samples counters and gauges from every
// pipeline component plus host resources into bounded per-metric ring
// buffers, and serves snapshots to the alerting engine and the status API.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
)

// Source contributes counters/gauges on every collection tick. Metric names
// are prefixed with the source name ("capture.dropped_frames").
type Source interface {
	Name() string
	Stats() map[string]float64
}

type Collector struct {
	cfg config.MetricsConfig

	mu      sync.RWMutex
	sources []Source
	custom  map[string]func() float64
	series  map[string]*ring

	current atomic.Pointer[models.MetricSnapshot]

	subMu sync.RWMutex
	subs  []func(models.MetricSnapshot)

	sampleSystem func() map[string]float64
}

func NewCollector(cfg config.MetricsConfig) *Collector {
	return &Collector{
		cfg:          cfg,
		custom:       make(map[string]func() float64),
		series:       make(map[string]*ring),
		sampleSystem: sampleSystem,
	}
}

func (c *Collector) Name() string { return "metrics" }

// RegisterSource adds a component to be pulled on every tick.
func (c *Collector) RegisterSource(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
}

// RegisterCustom adds an externally contributed metric, sampled by calling
// fn on every tick.
func (c *Collector) RegisterCustom(name string, fn func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom[name] = fn
}

// OnCollect subscribes to completed snapshots (the alerting engine's feed).
func (c *Collector) OnCollect(fn func(models.MetricSnapshot)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, fn)
}

// Run samples on every collection interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.CollectionInterval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect performs one sampling pass and publishes the snapshot.
func (c *Collector) Collect() models.MetricSnapshot {
	now := time.Now()
	values := make(map[string]float64)

	c.mu.Lock()
	for _, src := range c.sources {
		for k, v := range src.Stats() {
			values[src.Name()+"."+k] = v
		}
	}
	for name, fn := range c.custom {
		values[name] = fn()
	}
	for k, v := range c.sampleSystem() {
		values[k] = v
	}

	for name, v := range values {
		r, ok := c.series[name]
		if !ok {
			r = newRing(c.cfg.HistorySize)
			c.series[name] = r
		}
		r.append(models.MetricPoint{Timestamp: now, Value: v})
	}
	c.mu.Unlock()

	snap := models.MetricSnapshot{Timestamp: now, Source: "collector", Values: values}
	c.current.Store(&snap)

	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}

	slog.Debug("metrics collected", "metrics", len(values))
	return snap
}

// Current returns the latest snapshot. The map must not be mutated.
func (c *Collector) Current() models.MetricSnapshot {
	if snap := c.current.Load(); snap != nil {
		return *snap
	}
	return models.MetricSnapshot{Values: map[string]float64{}}
}

// History returns the points recorded for metric within the trailing window,
// oldest first.
func (c *Collector) History(metric string, window time.Duration) []models.MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.series[metric]
	if !ok {
		return nil
	}
	return r.since(time.Now().Add(-window))
}

// Metrics returns the names of all recorded series.
func (c *Collector) Metrics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	return names
}
