// Package scaling implements the Server-Scaling Controller: a single
// tick-driven loop that runs the forecast gate, proactive sizing,
// health/heal dispatch, and sustained-load reactive sizing phases in
// strict order, exactly as spec'd. The driver loop's shape — a tick,
// phases evaluated top to bottom, any phase able to short-circuit the
// rest by entering a stabilisation sleep — mirrors the teacher's own
// predictive scaler, generalized from a single forecast-vs-capacity
// decision into the full four-phase sequence this domain needs.
package scaling

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/dslb-eesm/controlplane/internal/alerts"
	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/forecast"
	"github.com/dslb-eesm/controlplane/internal/heal"
	"github.com/dslb-eesm/controlplane/internal/observability"
	"github.com/dslb-eesm/controlplane/internal/state"
	"github.com/dslb-eesm/controlplane/internal/store"
)

// Config controls tick timing, thresholds, and prediction blending.
type Config struct {
	TickInterval          time.Duration
	StabiliseUp           time.Duration
	StabiliseDown         time.Duration
	DrainWait             time.Duration
	SustainedWindow       time.Duration // 30 minutes; N30 = SustainedWindow / TickInterval
	ScaleUpThresholdPct   float64
	ScaleDownThresholdPct float64
	TierPolicy            domain.TierPolicy
	PredictionMode        string
	HybridWeight          float64
	StatusPath            string
	RemoteHost            string
	RemoteStatusPath      string
}

const sustainedUpWindow = 5 * time.Minute

// Controller runs the five-second scaling tick.
type Controller struct {
	cfg        Config
	store      *state.Store
	metrics    domain.MetricsStore
	host       domain.VirtHost
	healer     *heal.Healer
	blacklist  *heal.Blacklist
	forecaster *forecast.TrafficForecaster
	alertSink  *alerts.Ledger
	db         *store.DB
	copier     domain.Copier
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)

	forecastEntry *domain.ForecastEntry
	loadBuffer    []domain.LoadSample
}

// New creates a Controller.
func New(cfg Config, st *state.Store, metrics domain.MetricsStore, host domain.VirtHost,
	healer *heal.Healer, blacklist *heal.Blacklist, forecaster *forecast.TrafficForecaster,
	alertSink *alerts.Ledger, db *store.DB, copier domain.Copier) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.StabiliseUp <= 0 {
		cfg.StabiliseUp = 80 * time.Second
	}
	if cfg.StabiliseDown <= 0 {
		cfg.StabiliseDown = 5 * time.Second
	}
	if cfg.DrainWait <= 0 {
		cfg.DrainWait = 30 * time.Second
	}
	if cfg.SustainedWindow <= 0 {
		cfg.SustainedWindow = 30 * time.Minute
	}
	if cfg.ScaleUpThresholdPct <= 0 {
		cfg.ScaleUpThresholdPct = 90
	}
	if cfg.ScaleDownThresholdPct <= 0 {
		cfg.ScaleDownThresholdPct = 3
	}
	return &Controller{
		cfg: cfg, store: st, metrics: metrics, host: host, healer: healer,
		blacklist: blacklist, forecaster: forecaster, alertSink: alertSink, db: db, copier: copier,
		now: time.Now, sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Run blocks, executing one tick every TickInterval until ctx is
// cancelled. Iterations never overlap: the wait before the next tick
// is the interval minus however long this tick actually took.
func (c *Controller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		start := c.now()
		if err := c.Tick(ctx); err != nil {
			log.Printf("[scaling] tick error: %v", err)
		}
		elapsed := c.now().Sub(start)
		wait := c.cfg.TickInterval - elapsed
		if wait < 0 {
			wait = 0
		}
		c.sleep(ctx, wait)
	}
}

// Tick runs phases A through D in order. A phase that makes a power
// change short-circuits the remainder of the tick by returning early
// after its stabilisation sleep.
func (c *Controller) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		observability.ScalingTickDuration.Observe(time.Since(start).Seconds())
		observability.ActiveServers.Set(float64(len(c.store.ActiveServing())))
	}()

	c.phaseA(ctx)

	if acted := c.phaseB(ctx); acted {
		return nil
	}

	telemetry, err := c.fetchFleetTelemetry(ctx)
	if err != nil {
		c.alertSink.Raise(string(alerts.CategorySystemTelemetry), string(alerts.SeverityWarning), "Telemetry fetch failed",
			fmt.Sprintf("telemetry fetch failed, skipping tick: %v", err), nil)
		return err
	}

	if acted := c.phaseC(ctx, telemetry); acted {
		return nil
	}

	c.phaseD(ctx, telemetry)
	return nil
}

// ─── Phase A — Forecast gate ────────────────────────────────────────────────

func (c *Controller) phaseA(ctx context.Context) {
	now := c.now()
	c.maybeRetrain(ctx, now)

	if c.forecastEntry != nil && !c.forecastEntry.Expired(now) {
		return
	}

	if _, err := c.fetchFleetTelemetry(ctx); err != nil {
		c.alertSink.Raise(string(alerts.CategoryModel), string(alerts.SeverityWarning), "Forecast gate telemetry fetch failed",
			fmt.Sprintf("forecast gate telemetry fetch failed: %v", err), nil)
		return // keep the last entry; Phase B keeps sizing against it
	}
	c.reconcileActiveSet(ctx)
	if err := c.store.Publish(ctx, c.cfg.StatusPath, c.copier, c.cfg.RemoteHost, c.cfg.RemoteStatusPath); err != nil {
		c.alertSink.Raise(string(alerts.CategoryDraining), string(alerts.SeverityWarning), "Status mirror failed",
			fmt.Sprintf("status mirror failed: %v", err), nil)
	}

	requestRate, err := c.metrics.RequestRate(ctx)
	if err != nil {
		c.alertSink.Raise(string(alerts.CategoryModel), string(alerts.SeverityWarning), "Forecast skipped",
			fmt.Sprintf("forecast skipped, request-rate query failed: %v", err), nil)
		return
	}
	lastHourRequests := int(requestRate * 3600)

	hourStart := now.Truncate(time.Hour)
	if c.forecastEntry != nil && c.forecastEntry.ValidUntil.Equal(hourStart) {
		c.forecaster.RecordActual(hourStart, c.forecastEntry.PredictedRequests, lastHourRequests)
	}
	if c.db != nil {
		_ = c.db.RecordTrafficSample(hourStart, lastHourRequests)
	}
	c.forecaster.RecordDemand(hourStart, lastHourRequests)

	nextHour := hourStart.Add(time.Hour)
	predicted, predErr := c.forecaster.Predict(nextHour)
	mode := c.cfg.PredictionMode
	if predErr != nil {
		mode = "real"
	}
	blended, _ := forecast.Blend(mode, float64(lastHourRequests), predicted, c.cfg.HybridWeight)

	c.forecastEntry = &domain.ForecastEntry{
		PredictedRequests: int(blended),
		ValidUntil:        nextHour,
	}
}

// maybeRetrain drives the traffic forecaster's weekly model-validity
// cycle: once its current window has lapsed (or was never set), it
// retrains and raises start/completion alerts carrying the refreshed
// R²/SMAPE accuracy figures.
func (c *Controller) maybeRetrain(ctx context.Context, now time.Time) {
	if c.forecaster.Validity().Usable(now) {
		return
	}
	c.alertSink.Raise(string(alerts.CategoryModel), string(alerts.SeverityInfo), "Weekly retrain started",
		"traffic forecaster's validity window has lapsed, retraining", nil)
	if err := c.forecaster.Retrain(ctx, now); err != nil {
		c.alertSink.Raise(string(alerts.CategoryModel), string(alerts.SeverityWarning), "Weekly retrain failed",
			fmt.Sprintf("traffic forecaster retrain failed: %v", err), nil)
		return
	}
	metrics := c.forecaster.Validity().LastMetrics
	c.alertSink.Raise(string(alerts.CategoryModel), string(alerts.SeveritySuccess), "Weekly retrain complete",
		fmt.Sprintf("traffic forecaster retrained, r2=%.3f smape=%.2f%%", metrics.R2, metrics.SMAPE), nil)
}

// reconcileActiveSet activates any configured server that is currently
// reporting live metrics but not yet marked active in the status
// table — e.g. a server restored outside the control plane. It never
// deactivates a server on its own: that transition belongs to the
// health/heal sequence, which must always evaluate the
// one-serving-server floor through BeginDrain.
func (c *Controller) reconcileActiveSet(ctx context.Context) {
	for _, d := range c.store.Descriptors() {
		status, ok := c.store.Status(d.Name)
		if !ok || status.Active {
			continue
		}
		if _, _, err := c.metrics.ServerLoad(ctx, d.Name); err == nil {
			_ = c.store.Activate(d.Name)
		}
	}
}

// ─── Phase B — Proactive sizing ─────────────────────────────────────────────

func (c *Controller) phaseB(ctx context.Context) bool {
	if c.forecastEntry == nil {
		return false
	}
	required := c.cfg.TierPolicy.Required(c.forecastEntry.PredictedRequests)

	descriptors := c.store.Descriptors()
	have := make(map[string]bool)
	for _, st := range c.store.ActiveServing() {
		have[st.Name] = true
	}

	var toPowerUp, toPowerDown []domain.ServerDescriptor
	for _, d := range descriptors {
		want := d.Tier <= required
		if want && !have[d.Name] {
			toPowerUp = append(toPowerUp, d)
		}
		if !want && have[d.Name] {
			toPowerDown = append(toPowerDown, d)
		}
	}

	sort.Slice(toPowerUp, func(i, j int) bool { return tierLess(toPowerUp[i], toPowerUp[j]) })
	sort.Slice(toPowerDown, func(i, j int) bool { return tierLess(toPowerDown[j], toPowerDown[i]) })

	poweredUp, poweredDown := false, false
	for _, d := range toPowerUp {
		if c.blacklist.Contains(d.Name) {
			continue
		}
		if c.powerUp(ctx, d, "proactive scale-up") {
			poweredUp = true
		}
	}
	for _, d := range toPowerDown {
		if c.drainAndPowerOff(ctx, d, "proactive scale-down") {
			poweredDown = true
		}
	}

	if !poweredUp && !poweredDown {
		return false
	}
	c.loadBuffer = nil
	// 80 s after any power-up, 5 s when the tick was pure scale-down.
	if poweredUp {
		c.sleep(ctx, c.cfg.StabiliseUp)
	} else {
		c.sleep(ctx, c.cfg.StabiliseDown)
	}
	return true
}

// Republish re-mirrors the current status table to StatusPath (and the
// SDN host, if configured) without running any tick phase. It touches
// only c.store — itself safe for concurrent access — and the
// immutable post-construction fields cfg/copier, so it never races
// with Run's own Tick goroutine over loadBuffer or forecastEntry.
func (c *Controller) Republish(ctx context.Context) error {
	return c.store.Publish(ctx, c.cfg.StatusPath, c.copier, c.cfg.RemoteHost, c.cfg.RemoteStatusPath)
}

func tierLess(a, b domain.ServerDescriptor) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	return a.Name < b.Name
}

// scalePhaseLabel classifies a human-readable scale reason into the
// "proactive"/"reactive" label ScaleEvents is keyed on.
func scalePhaseLabel(reason string) string {
	if strings.HasPrefix(reason, "reactive") {
		return "reactive"
	}
	return "proactive"
}

// scaleTitle renders one of the four scale reasons this controller
// uses ("proactive scale-up", "proactive scale-down", "reactive
// scale-up", "reactive scale-down") as the alert title spec.md's
// scenarios name (e.g. "Proactive Scale-Up").
func scaleTitle(reason string) string {
	switch reason {
	case "proactive scale-up":
		return "Proactive Scale-Up"
	case "proactive scale-down":
		return "Proactive Scale-Down"
	case "reactive scale-up":
		return "Reactive Scale-Up"
	case "reactive scale-down":
		return "Reactive Scale-Down"
	default:
		return reason
	}
}

func (c *Controller) powerUp(ctx context.Context, d domain.ServerDescriptor, reason string) bool {
	if err := c.host.PowerOn(ctx, d); err != nil {
		c.alertSink.Raise(string(alerts.CategoryServerPower), string(alerts.SeverityCritical), "Power-on failed",
			fmt.Sprintf("%s: power-on failed for %s: %v", reason, d.Name, err), map[string]string{"server": d.Name})
		return false
	}
	_ = c.store.Activate(d.Name)
	_ = c.store.SetHealthy(d.Name, true)
	observability.ScaleEvents.WithLabelValues(scalePhaseLabel(reason), "up").Inc()
	c.alertSink.Raise(string(alerts.CategoryServerPower), string(alerts.SeverityInfo), scaleTitle(reason),
		fmt.Sprintf("%s: powered on %s", reason, d.Name), map[string]string{"server": d.Name})
	return true
}

// drainAndPowerOff is the draining discipline shared by proactive and
// reactive power-down: mark draining, publish, wait for connections to
// finish, power off, publish again.
func (c *Controller) drainAndPowerOff(ctx context.Context, d domain.ServerDescriptor, reason string) bool {
	if err := c.store.BeginDrain(d.Name); err != nil {
		if err != domain.ErrLastServerStanding {
			c.alertSink.Raise(string(alerts.CategoryDraining), string(alerts.SeverityWarning), "Draining blocked",
				fmt.Sprintf("%s: could not begin draining %s: %v", reason, d.Name, err), map[string]string{"server": d.Name})
		}
		return false
	}
	_ = c.store.Publish(ctx, c.cfg.StatusPath, c.copier, c.cfg.RemoteHost, c.cfg.RemoteStatusPath)
	c.alertSink.Raise(string(alerts.CategoryDraining), string(alerts.SeverityInfo), "Draining started",
		fmt.Sprintf("%s: draining started for %s", reason, d.Name), map[string]string{"server": d.Name})

	c.sleep(ctx, c.cfg.DrainWait)

	if err := c.host.PowerOff(ctx, d); err != nil {
		// power-off failure leaves the server marked draining, which is
		// safe since draining servers are excluded from serving; retried
		// on the next matching decision.
		c.alertSink.Raise(string(alerts.CategoryServerPower), string(alerts.SeverityWarning), "Power-off failed",
			fmt.Sprintf("%s: power-off failed for %s, will retry next cycle: %v", reason, d.Name, err), map[string]string{"server": d.Name})
		return true
	}
	_ = c.store.CompleteDrain(d.Name)
	_ = c.store.Publish(ctx, c.cfg.StatusPath, c.copier, c.cfg.RemoteHost, c.cfg.RemoteStatusPath)
	observability.ScaleEvents.WithLabelValues(scalePhaseLabel(reason), "down").Inc()
	c.alertSink.Raise(string(alerts.CategoryDraining), string(alerts.SeveritySuccess), scaleTitle(reason),
		fmt.Sprintf("%s: draining complete, %s powered off", reason, d.Name), map[string]string{"server": d.Name})
	c.alertSink.Raise(string(alerts.CategoryServerPower), string(alerts.SeverityInfo), "Graceful shutdown",
		fmt.Sprintf("%s: graceful shutdown of %s", reason, d.Name), map[string]string{"server": d.Name})
	return true
}

// ─── Phase C — Telemetry + health ───────────────────────────────────────────

func (c *Controller) fetchFleetTelemetry(ctx context.Context) (map[string]domain.ServerTelemetry, error) {
	out := make(map[string]domain.ServerTelemetry)
	for _, d := range c.store.Descriptors() {
		status, ok := c.store.Status(d.Name)
		if !ok || !status.Active || status.Draining {
			continue
		}
		cpu, mem, err := c.metrics.ServerLoad(ctx, d.Name)
		if err != nil {
			return nil, fmt.Errorf("server load for %s: %w", d.Name, err)
		}
		out[d.Name] = domain.ServerTelemetry{Address: d.Address, CPU: cpu, Memory: mem, Cores: d.Cores, MemoryGB: d.MemoryGB}
	}
	return out, nil
}

// phaseC probes every active, non-draining server and dispatches the
// first unhealthy one it finds to the healer. Only one server is
// healed per tick: the heal sequence itself ends in a stabilisation
// sleep, so evaluating a second failure in the same tick would just
// queue work the next tick handles anyway.
func (c *Controller) phaseC(ctx context.Context, telemetry map[string]domain.ServerTelemetry) bool {
	for _, d := range c.store.Descriptors() {
		status, ok := c.store.Status(d.Name)
		if !ok || !status.Active || status.Draining {
			continue
		}
		healthy, err := c.host.Probe(ctx, d)
		if err != nil || !healthy {
			c.handleUnhealthy(ctx, d)
			c.loadBuffer = nil
			c.sleep(ctx, c.cfg.StabiliseUp)
			return true
		}
	}
	return false
}

func (c *Controller) handleUnhealthy(ctx context.Context, failed domain.ServerDescriptor) {
	var pool []domain.ServerDescriptor
	for _, d := range c.store.Descriptors() {
		if d.Name == failed.Name {
			continue
		}
		status, ok := c.store.Status(d.Name)
		if !ok || status.Active || c.blacklist.Contains(d.Name) {
			continue
		}
		pool = append(pool, d)
	}
	err := c.healer.Heal(ctx, c.blacklist, failed, pool)
	result := "replaced"
	switch {
	case err != nil:
		result = "no_replacement"
		log.Printf("[scaling] heal sequence for %s ended with error: %v", failed.Name, err)
	default:
		if st, ok := c.store.Status(failed.Name); ok && st.Healthy && st.Active {
			result = "recovered"
		}
	}
	observability.HealEvents.WithLabelValues(result).Inc()
}

// ─── Phase D — Sustained-load reactive sizing ───────────────────────────────

func (c *Controller) phaseD(ctx context.Context, telemetry map[string]domain.ServerTelemetry) {
	if len(telemetry) == 0 {
		return
	}
	var sumCPU, sumMem float64
	for _, t := range telemetry {
		sumCPU += t.CPU
		sumMem += t.Memory
	}
	n := float64(len(telemetry))
	c.loadBuffer = append(c.loadBuffer, domain.LoadSample{Timestamp: c.now(), AvgCPU: sumCPU / n, AvgMemory: sumMem / n})

	n5 := windowSamples(sustainedUpWindow, c.cfg.TickInterval)
	n30 := windowSamples(c.cfg.SustainedWindow, c.cfg.TickInterval)

	if len(c.loadBuffer) >= n5 {
		meanCPU, meanMem := meanWindow(c.loadBuffer, n5)
		if meanCPU > c.cfg.ScaleUpThresholdPct || meanMem > c.cfg.ScaleUpThresholdPct {
			if c.reactiveScaleUp(ctx) {
				return
			}
		}
	}

	if len(c.store.ActiveServing()) > 1 && len(c.loadBuffer) >= n30 {
		meanCPU, meanMem := meanWindow(c.loadBuffer, n30)
		if meanCPU < c.cfg.ScaleDownThresholdPct && meanMem < 20 {
			c.reactiveScaleDown(ctx)
		}
	}
}

func windowSamples(window, tick time.Duration) int {
	if tick <= 0 {
		return 1
	}
	n := int(window / tick)
	if n < 1 {
		n = 1
	}
	return n
}

func meanWindow(samples []domain.LoadSample, n int) (cpu, mem float64) {
	if n > len(samples) {
		n = len(samples)
	}
	recent := samples[len(samples)-n:]
	for _, s := range recent {
		cpu += s.AvgCPU
		mem += s.AvgMemory
	}
	return cpu / float64(n), mem / float64(n)
}

func (c *Controller) reactiveScaleUp(ctx context.Context) bool {
	have := make(map[string]bool)
	for _, st := range c.store.ActiveServing() {
		have[st.Name] = true
	}
	var candidates []domain.ServerDescriptor
	for _, d := range c.store.Descriptors() {
		if !have[d.Name] && !c.blacklist.Contains(d.Name) {
			candidates = append(candidates, d)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return tierLess(candidates[i], candidates[j]) })
	if len(candidates) == 0 {
		return false
	}
	if !c.powerUp(ctx, candidates[0], "reactive scale-up") {
		return false
	}
	c.loadBuffer = nil
	c.sleep(ctx, c.cfg.StabiliseUp)
	return true
}

func (c *Controller) reactiveScaleDown(ctx context.Context) {
	have := c.store.ActiveServing()
	if len(have) <= 1 {
		return
	}
	descriptors := make([]domain.ServerDescriptor, 0, len(have))
	for _, st := range have {
		if d, ok := c.store.Descriptor(st.Name); ok {
			descriptors = append(descriptors, d)
		}
	}
	sort.Slice(descriptors, func(i, j int) bool { return tierLess(descriptors[j], descriptors[i]) })
	if len(descriptors) == 0 {
		return
	}
	if c.drainAndPowerOff(ctx, descriptors[0], "reactive scale-down") {
		c.loadBuffer = nil
		c.sleep(ctx, c.cfg.StabiliseDown)
	}
}
