package delivery

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
	"github.com/oshokin/alarm-engine/internal/logger"
	"github.com/oshokin/alarm-engine/internal/metrics"
)

// Layer is one independent mechanism for producing an audible or visual
// wake signal. Layers pre-load their resources at arm time and register
// every acquired resource in the global registry when they start.
type Layer interface {
	// Name identifies the layer in reports, logs and metrics.
	Name() string
	// Preload readies the layer's resources for the config so the latency
	// between fire and first audible output stays minimal.
	Preload(ctx context.Context, cfg *domain.Config) error
	// Start begins signal delivery for the instance. It returns once
	// delivery is running (or has failed to start); it never rings
	// synchronously for the whole alarm duration.
	Start(ctx context.Context, cfg *domain.Config, instance *domain.Instance) error
}

// LayerResult is the per-layer outcome of one activation.
type LayerResult struct {
	// Layer is the layer name.
	Layer string
	// Err is nil when the layer started.
	Err error
}

// Report is the outcome of one cascade activation.
type Report struct {
	// Results holds one entry per launched layer, emergency included.
	Results []LayerResult
	// Success is true iff at least one layer started.
	Success bool
	// EmergencyUsed is true when every primary layer failed and the
	// emergency layer was launched.
	EmergencyUsed bool
}

// Started returns the names of the layers that started.
func (r *Report) Started() []string {
	started := make([]string, 0, len(r.Results))

	for _, result := range r.Results {
		if result.Err == nil {
			started = append(started, result.Layer)
		}
	}

	return started
}

// Cascade launches the delivery layers concurrently with per-layer failure
// isolation. A slow or failed layer never delays the others; only
// total-cascade failure is meaningful to the caller, and even that is
// softened by the emergency fallback layer.
type Cascade struct {
	// primary layers launch concurrently on every activation.
	primary []Layer
	// emergency launches only when all primary layers failed to start.
	emergency Layer
}

// NewCascade builds a cascade from the primary layers and the emergency
// fallback.
func NewCascade(emergency Layer, primary ...Layer) *Cascade {
	return &Cascade{
		primary:   primary,
		emergency: emergency,
	}
}

// Preload readies every layer for the config. Per-layer failures are logged
// and do not abort the others: a layer that failed to pre-load may still
// manage to start at fire time.
func (c *Cascade) Preload(ctx context.Context, cfg *domain.Config) {
	for _, layer := range c.allLayers() {
		if err := layer.Preload(ctx, cfg); err != nil {
			logger.WarnKV(ctx, "Delivery layer preload failed",
				"layer", layer.Name(), "alarm_id", cfg.ID, "error", err)
		}
	}
}

// Activate launches all primary layers concurrently and, if every one of
// them failed, the emergency layer. Layer panics and errors are contained,
// counted and reported, never propagated.
func (c *Cascade) Activate(ctx context.Context, cfg *domain.Config, instance *domain.Instance) *Report {
	report := &Report{
		Results: make([]LayerResult, len(c.primary)),
	}

	var wg sync.WaitGroup

	for i, layer := range c.primary {
		wg.Add(1)

		go func(slot int, l Layer) {
			defer wg.Done()

			report.Results[slot] = LayerResult{
				Layer: l.Name(),
				Err:   startLayer(ctx, l, cfg, instance),
			}
		}(i, layer)
	}

	wg.Wait()

	for _, result := range report.Results {
		if result.Err == nil {
			report.Success = true

			continue
		}

		metrics.DeliveryLayerFailures.WithLabelValues(result.Layer).Inc()
		logger.WarnKV(ctx, "Delivery layer failed to start",
			"layer", result.Layer, "instance_id", instance.ID, "error", result.Err)
	}

	if !report.Success && c.emergency != nil {
		report.EmergencyUsed = true

		result := LayerResult{
			Layer: c.emergency.Name(),
			Err:   startLayer(ctx, c.emergency, cfg, instance),
		}
		report.Results = append(report.Results, result)

		if result.Err == nil {
			report.Success = true
		} else {
			metrics.DeliveryLayerFailures.WithLabelValues(result.Layer).Inc()
			logger.ErrorKV(ctx, "Emergency delivery layer failed to start",
				"instance_id", instance.ID, "error", result.Err)
		}
	}

	return report
}

// allLayers returns the primary layers plus the emergency layer.
func (c *Cascade) allLayers() []Layer {
	layers := append([]Layer(nil), c.primary...)
	if c.emergency != nil {
		layers = append(layers, c.emergency)
	}

	return layers
}

// startLayer invokes the layer's Start with panic containment, so a buggy
// layer degrades into a reported failure instead of killing the process.
func startLayer(ctx context.Context, l Layer, cfg *domain.Config, instance *domain.Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layer %s panicked: %v", l.Name(), r)
		}
	}()

	return l.Start(ctx, cfg, instance)
}
