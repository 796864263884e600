// Package forecast implements the two predictive models the scaling
// and path-weight loops consult: TrafficForecaster (hourly HTTP
// request rate) and PathForecaster (per-minute path bandwidth).
// TrafficForecaster uses exponential smoothing with a seasonal index;
// PathForecaster takes the mean of its recent history. Neither is a
// learned regression model — both are simple, interpretable, and
// cheap to retrain every observation.
//
// Traditional reactive sizing waits for load to already be high before
// adding servers — that is always too late, the spike already hit
// before the response lands. A forecast lets the scaling loop add
// servers before the spike arrives.
//
// Exponential smoothing gives recent observations more weight than old
// ones; the smoothing factor alpha controls how fast the estimate
// adapts. A seasonal index (one bucket per hour of day) captures the
// repeating daily pattern on top of that smoothed baseline.
package forecast

import (
	"context"
	"sync"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/observability"
	"github.com/dslb-eesm/controlplane/internal/store"
)

const seasonalPeriod = 24 // one bucket per hour of day

// TrafficConfig configures the traffic forecaster.
type TrafficConfig struct {
	Alpha         float64 // smoothing factor for the base level, 0 < alpha <= 1
	SeasonalAlpha float64 // learning rate for the per-hour seasonal index
	MinHistory    int     // observations required before Predict is trusted
	Now           func() time.Time
}

// DefaultTrafficConfig mirrors the values the teacher's predictive
// scaler shipped with.
func DefaultTrafficConfig() TrafficConfig {
	return TrafficConfig{Alpha: 0.3, SeasonalAlpha: 0.1, MinHistory: 10, Now: time.Now}
}

// TrafficForecaster predicts the fleet's hourly request rate.
type TrafficForecaster struct {
	mu       sync.RWMutex
	cfg      TrafficConfig
	smoothed float64
	inited   bool
	seasonal [seasonalPeriod]float64
	count    int
	validity domain.ModelValidity
	db       *store.DB // optional: persists samples for Retrain to replay
	accuracy *domain.AccuracyLog
}

// NewTrafficForecaster creates a forecaster, optionally backed by db
// for durable history (nil is fine — it just won't survive a restart).
func NewTrafficForecaster(cfg TrafficConfig, db *store.DB) *TrafficForecaster {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.3
	}
	if cfg.SeasonalAlpha <= 0 || cfg.SeasonalAlpha > 1 {
		cfg.SeasonalAlpha = 0.1
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &TrafficForecaster{cfg: cfg, db: db, accuracy: domain.NewAccuracyLog(0)}
	for i := range f.seasonal {
		f.seasonal[i] = 1.0
	}
	return f
}

func seasonBucket(t time.Time) int { return t.Hour() }

// RecordDemand folds one observed hourly request count into the
// smoothed level and that hour's seasonal index.
func (f *TrafficForecaster) RecordDemand(at time.Time, requests int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	demand := float64(requests)
	bucket := seasonBucket(at)

	if !f.inited {
		f.smoothed = demand
		f.inited = true
		f.count++
		return
	}

	seasonalFactor := f.seasonal[bucket]
	if seasonalFactor <= 0 {
		seasonalFactor = 1.0
	}
	deseasonalized := demand / seasonalFactor
	f.smoothed = f.cfg.Alpha*deseasonalized + (1-f.cfg.Alpha)*f.smoothed

	if f.smoothed > 0 {
		observed := demand / f.smoothed
		f.seasonal[bucket] = f.cfg.SeasonalAlpha*observed + (1-f.cfg.SeasonalAlpha)*f.seasonal[bucket]
	}
	f.count++

	if f.db != nil {
		_ = f.db.RecordTrafficSample(at, requests) // best-effort; in-memory state is still authoritative
	}
}

// Predict implements domain.Predictor: forecast(t) = smoothed level *
// seasonal[hour(t)].
func (f *TrafficForecaster) Predict(at time.Time) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.count < f.cfg.MinHistory {
		return 0, domain.ErrForecastNotReady
	}
	return f.smoothed * f.seasonal[seasonBucket(at)], nil
}

// Validity implements domain.Predictor.
func (f *TrafficForecaster) Validity() domain.ModelValidity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.validity
}

// Retrain re-derives the model validity window from the current week
// and persists a retrain-log entry. Exponential smoothing needs no
// batch refit — "retraining" here means extending ModelValidity and
// recording the accuracy snapshot, per spec.md's weekly cadence.
func (f *TrafficForecaster) Retrain(ctx context.Context, now time.Time) error {
	f.mu.Lock()
	from, to := domain.WeekWindow(now)
	metrics := domain.RetrainMetrics{R2: f.accuracy.R2(), SMAPE: f.accuracy.SMAPE()}
	f.validity = domain.ModelValidity{ValidFrom: from, ValidTo: to, LastMetrics: metrics}
	db := f.db
	f.mu.Unlock()

	if db != nil {
		return db.LogRetrain("traffic", now, from, to, metrics.R2, metrics.SMAPE)
	}
	return nil
}

// RecordActual closes the loop on a prediction made for hour: once the
// hour's real request count is known (the next Phase A tick), the pair
// is appended to the accuracy log and the rolling SMAPE is republished
// to the dslb_eesm_forecast_traffic_smape_pct gauge.
func (f *TrafficForecaster) RecordActual(hour time.Time, predicted, actual int) {
	f.mu.Lock()
	f.accuracy.Record(domain.AccuracyPoint{Hour: hour, Predicted: predicted, Actual: actual})
	smape := f.accuracy.SMAPE()
	f.mu.Unlock()
	observability.ForecastAccuracy.Set(smape)
}

// Accuracy returns the retained predicted/actual pairs, oldest first,
// for reporting over /stats.
func (f *TrafficForecaster) Accuracy() []domain.AccuracyPoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accuracy.Points()
}

// Ready reports whether the forecaster has matured past MinHistory.
func (f *TrafficForecaster) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count >= f.cfg.MinHistory
}

// PeakHours returns the topN hours-of-day with the highest seasonal
// index, for reporting over /stats.
func (f *TrafficForecaster) PeakHours(topN int) []int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if topN <= 0 || topN > seasonalPeriod {
		topN = seasonalPeriod
	}
	type hourVal struct {
		hour int
		val  float64
	}
	hvs := make([]hourVal, seasonalPeriod)
	for i, v := range f.seasonal {
		hvs[i] = hourVal{i, v}
	}
	for i := 1; i < len(hvs); i++ {
		key := hvs[i]
		j := i - 1
		for j >= 0 && hvs[j].val < key.val {
			hvs[j+1] = hvs[j]
			j--
		}
		hvs[j+1] = key
	}
	out := make([]int, topN)
	for i := 0; i < topN; i++ {
		out[i] = hvs[i].hour
	}
	return out
}

var _ domain.Predictor = (*TrafficForecaster)(nil)
