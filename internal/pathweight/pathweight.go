// Package pathweight implements the Path-Weight Controller: once per
// minute it snapshots fabric port counters, computes each candidate
// path's byte cost since the last snapshot, converts cost to a
// selection ratio by inverse weighting, and publishes the result for
// the SDN host to consume.
package pathweight

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dslb-eesm/controlplane/internal/alerts"
	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/forecast"
	"github.com/dslb-eesm/controlplane/internal/observability"
)

// Config controls the controller's timing and prediction blending.
type Config struct {
	PublishPath      string
	RemoteHost       string
	RemotePath       string
	PredictionMode   string // real | predicted | hybrid
	HybridWeight     float64
	MinHistoryPoints int
}

// Controller runs the minute-aligned snapshot/cost/ratio/publish loop.
type Controller struct {
	cfg       Config
	metrics   domain.MetricsStore
	sdn       domain.SDNClient
	copier    domain.Copier
	alertSink *alerts.Ledger
	now       func() time.Time

	forecasters map[routeKey]*forecast.PathForecaster
	lastSnap    *domain.PortSnapshot
	iteration   int

	pubMu   sync.Mutex
	lastPub *domain.Publication // most recently published artefact, for Republish
}

type routeKey struct {
	route     string
	pathIndex int
}

// New creates a Controller.
func New(cfg Config, metrics domain.MetricsStore, sdn domain.SDNClient, copier domain.Copier, alertSink *alerts.Ledger) *Controller {
	if cfg.MinHistoryPoints <= 0 {
		cfg.MinHistoryPoints = domain.HistoryCapacity
	}
	if cfg.HybridWeight <= 0 {
		cfg.HybridWeight = 0.3
	}
	return &Controller{
		cfg: cfg, metrics: metrics, sdn: sdn, copier: copier, alertSink: alertSink,
		now: time.Now, forecasters: make(map[routeKey]*forecast.PathForecaster),
	}
}

// Run blocks, ticking once per minute boundary until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		next := c.now().Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(c.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := c.Tick(ctx); err != nil {
				log.Printf("[pathweight] tick failed: %v", err)
			}
		}
	}
}

// Tick runs a single snapshot/cost/ratio/publish cycle.
func (c *Controller) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { observability.PathWeightTickDuration.Observe(time.Since(start).Seconds()) }()

	minute := c.now().Truncate(time.Minute)

	snap, err := c.metrics.PortCounters(ctx)
	if err != nil {
		c.alertSink.Raise(string(alerts.CategorySystemTelemetry), string(alerts.SeverityWarning), "Port counter collection failed", "port counter collection failed", map[string]string{"error": err.Error()})
		return err
	}

	if c.lastSnap == nil {
		c.lastSnap = &snap
		return nil // first tick has no prior snapshot to diff against
	}
	usage := domain.ComputeIntervalUsage(*c.lastSnap, snap, minute)
	c.lastSnap = &snap

	topo, err := c.sdn.Topology(ctx)
	if err != nil {
		c.alertSink.Raise(string(alerts.CategoryNetworkPath), string(alerts.SeverityWarning), "Topology fetch failed", "topology fetch failed", map[string]string{"error": err.Error()})
		return err
	}

	c.maybeRetrainForecasters(ctx, minute)

	c.iteration++
	pub := domain.Publication{
		Metadata: domain.PublicationMetadata{
			TimestampUnix:   minute.Unix(),
			Iteration:       c.iteration,
			IntervalSeconds: 60,
			Mode:            c.cfg.PredictionMode,
			UsingPredictions: c.cfg.PredictionMode != "real",
		},
		PathSelectionWeights: make(map[string]domain.RouteWeights, len(topo.Routes)),
	}

	var totalBytes uint64
	for route, paths := range topo.Routes {
		weights, err := c.weighRoute(route, paths, usage)
		if err != nil {
			continue // route has no computable paths this interval; omit rather than publish garbage
		}
		pub.PathSelectionWeights[route.Name()] = weights
		for _, d := range weights.PathDetails {
			totalBytes += d.BandwidthCost.Bytes
		}
	}
	pub.Metadata.TotalTrafficMB = float64(totalBytes) / (1024 * 1024)

	c.pubMu.Lock()
	c.lastPub = &pub
	c.pubMu.Unlock()

	return c.publish(ctx, pub)
}

// Republish re-invokes the publication routine for the most recently
// computed artefact, without re-reading telemetry or recomputing any
// ratio. It is safe to call concurrently with Run's own Tick loop: it
// only touches the mutex-guarded last publication and the immutable
// post-construction fields (cfg, copier), never the forecaster state
// Tick mutates.
func (c *Controller) Republish(ctx context.Context) error {
	c.pubMu.Lock()
	pub := c.lastPub
	c.pubMu.Unlock()
	if pub == nil {
		return domain.ErrNoPublicationYet
	}
	return c.publish(ctx, *pub)
}

// maybeRetrainForecasters drives each path forecaster's weekly
// model-validity cycle. Unlike the traffic forecaster, a path
// forecaster carries no accuracy log of its own — its "retrain" only
// refreshes the validity window against the rolling history buffer —
// so the summary alert reports a count rather than per-path R²/SMAPE.
func (c *Controller) maybeRetrainForecasters(ctx context.Context, now time.Time) {
	var retrained, failed int
	for _, f := range c.forecasters {
		if f.Validity().Usable(now) {
			continue
		}
		if err := f.Retrain(ctx, now); err != nil {
			failed++
			continue
		}
		retrained++
	}
	if retrained == 0 && failed == 0 {
		return
	}
	c.alertSink.Raise(string(alerts.CategoryModel), string(alerts.SeverityInfo), "Weekly path retrain complete",
		fmt.Sprintf("retrained %d path forecasters (%d failed)", retrained, failed), nil)
}

// weighRoute computes the ratio/cost detail for every candidate path
// of one route, folding in the prediction blend. The blend mode is
// decided once for the whole route, not per path: if any path in the
// route lacks a mature prediction, every path in the route falls back
// to real for this interval rather than mixing sources within one
// route's ratios.
func (c *Controller) weighRoute(route domain.Route, paths []domain.Path, usage domain.IntervalUsage) (domain.RouteWeights, error) {
	if len(paths) == 0 {
		return domain.RouteWeights{}, domain.ErrNoCandidatePaths
	}

	type observed struct {
		idx       int
		real      uint64
		predicted float64
	}

	var observations []observed
	allReady := true
	for idx, p := range paths {
		real, ok := usage.Cost(p)
		if !ok {
			continue
		}

		key := routeKey{route: route.CanonicalName(), pathIndex: idx}
		f := c.forecasters[key]
		if f == nil {
			f = forecast.NewPathForecaster(c.cfg.MinHistoryPoints)
			c.forecasters[key] = f
		}
		f.Observe(float64(real))

		predicted, predErr := f.Predict(usage.Minute)
		if predErr != nil {
			allReady = false
		}
		observations = append(observations, observed{idx: idx, real: real, predicted: predicted})
	}
	if len(observations) == 0 {
		return domain.RouteWeights{}, domain.ErrPathCostUnknown
	}

	mode := c.cfg.PredictionMode
	if mode != "real" && !allReady {
		mode = "real" // one unready path in the route falls the whole route back to measured data
	}

	costs := make(map[int]uint64, len(observations))
	sources := make(map[int]domain.CostSource, len(observations))
	for _, o := range observations {
		blended, source := forecast.Blend(mode, float64(o.real), o.predicted, c.cfg.HybridWeight)
		costs[o.idx] = uint64(blended)
		sources[o.idx] = source
	}

	ratios := ratiosFromCosts(costs)

	weights := domain.RouteWeights{PathDetails: make(map[string]domain.PathDetail, len(costs))}
	for idx, cost := range costs {
		weights.PathDetails[indexKey(idx)] = domain.PathDetail{
			ViaSpine:       paths[idx].Via,
			SelectionRatio: ratios[idx],
			BandwidthCost: domain.Bandwidth{
				Bytes:     cost,
				Megabytes: float64(cost) / (1024 * 1024),
				Source:    sources[idx],
			},
		}
	}
	return weights, nil
}

// ratiosFromCosts applies inverse-cost weighting normalized to sum 1.0,
// or an equal split when every candidate cost is zero.
func ratiosFromCosts(costs map[int]uint64) map[int]float64 {
	allZero := true
	for _, c := range costs {
		if c != 0 {
			allZero = false
			break
		}
	}
	ratios := make(map[int]float64, len(costs))
	if allZero {
		equal := 1.0 / float64(len(costs))
		for idx := range costs {
			ratios[idx] = equal
		}
		return ratios
	}

	weights := make(map[int]float64, len(costs))
	var total float64
	for idx, cost := range costs {
		w := 1.0 / (float64(cost) + 1)
		weights[idx] = w
		total += w
	}
	for idx, w := range weights {
		ratios[idx] = w / total
	}
	return ratios
}

func indexKey(idx int) string {
	const digits = "0123456789"
	if idx < 10 {
		return string(digits[idx])
	}
	// Paths per route are small in practice (2-4); fall back to a
	// simple decimal conversion for completeness.
	var buf []byte
	n := idx
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return string(buf)
}

func (c *Controller) publish(ctx context.Context, pub domain.Publication) error {
	data, err := marshalPublication(pub)
	if err != nil {
		return err
	}
	if err := writeAtomic(c.cfg.PublishPath, data); err != nil {
		observability.PublicationFailures.WithLabelValues("write").Inc()
		return err
	}
	if c.copier == nil || c.cfg.RemoteHost == "" {
		return nil
	}
	if err := c.copier.Copy(ctx, c.cfg.PublishPath, c.cfg.RemoteHost, c.cfg.RemotePath); err != nil {
		observability.PublicationFailures.WithLabelValues("copy").Inc()
		c.alertSink.Raise(string(alerts.CategoryNetworkPath), string(alerts.SeverityWarning), "Artefact shipping failed", "failed to ship path-weight artefact to SDN host", map[string]string{"error": err.Error()})
		return err
	}
	return nil
}
