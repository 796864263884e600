package forecast

import (
	"context"
	"sync"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// PathForecaster predicts a single path's next-minute bandwidth cost
// from its rolling history buffer. It uses a simple average-of-recent
// values rather than the hour-of-day seasonal model the traffic
// forecaster uses — per-minute path cost has no daily-cycle grounding
// in spec.md, only the bounded ten-point history.
type PathForecaster struct {
	mu       sync.RWMutex
	history  *domain.PathHistoryBuffer
	minReady int
	validity domain.ModelValidity
}

// NewPathForecaster creates a forecaster over a rolling history of
// minReady or more scaled bytes-per-minute values.
func NewPathForecaster(minReady int, preload ...float64) *PathForecaster {
	if minReady <= 0 {
		minReady = domain.HistoryCapacity
	}
	return &PathForecaster{history: domain.NewPathHistoryBuffer(preload...), minReady: minReady}
}

// Observe appends a newly measured bytes-per-minute value.
func (p *PathForecaster) Observe(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.Append(v)
}

// Predict returns the mean of the retained history — the forecast for
// the coming minute. at is accepted to satisfy domain.Predictor but
// unused: the history buffer carries no time-of-day signal.
func (p *PathForecaster) Predict(at time.Time) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.history.Ready(p.minReady) {
		return 0, domain.ErrForecastNotReady
	}
	values := p.history.Values()
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// Validity implements domain.Predictor.
func (p *PathForecaster) Validity() domain.ModelValidity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validity
}

// Retrain extends the validity window to the current week. The
// underlying average has no batch-fit step; retraining here only
// refreshes the usable window so a stale PathForecaster that hasn't
// retrained in over a week is flagged by Validity().Usable.
func (p *PathForecaster) Retrain(ctx context.Context, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	from, to := domain.WeekWindow(now)
	p.validity = domain.ModelValidity{ValidFrom: from, ValidTo: to}
	return nil
}

// Ready reports whether the history buffer has matured.
func (p *PathForecaster) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Ready(p.minReady)
}

var _ domain.Predictor = (*PathForecaster)(nil)

// Blend combines a real-time value with a predicted value according
// to mode, weighting the predicted term by weight in hybrid mode
// (default weight 0.3, per spec.md §4).
func Blend(mode string, real, predicted float64, weight float64) (value float64, source domain.CostSource) {
	switch mode {
	case "predicted":
		return predicted, domain.SourcePredicted
	case "hybrid":
		if weight <= 0 {
			weight = 0.3
		}
		return (1-weight)*real + weight*predicted, domain.SourceHybrid
	default:
		return real, domain.SourceReal
	}
}
