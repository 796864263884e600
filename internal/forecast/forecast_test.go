package forecast

import (
	"context"
	"testing"
	"time"
)

func TestTrafficForecasterNotReadyBeforeMinHistory(t *testing.T) {
	f := NewTrafficForecaster(TrafficConfig{Alpha: 0.3, SeasonalAlpha: 0.1, MinHistory: 5, Now: time.Now}, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.RecordDemand(base.Add(time.Duration(i)*time.Hour), 100)
	}
	if _, err := f.Predict(base); err == nil {
		t.Fatal("expected ErrForecastNotReady before history matures")
	}
}

func TestTrafficForecasterReadyAfterMinHistory(t *testing.T) {
	f := NewTrafficForecaster(TrafficConfig{Alpha: 0.3, SeasonalAlpha: 0.1, MinHistory: 3, Now: time.Now}, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.RecordDemand(base.Add(time.Duration(i)*time.Hour), 100)
	}
	got, err := f.Predict(base)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got <= 0 {
		t.Fatalf("expected positive forecast, got %v", got)
	}
}

func TestTrafficForecasterRetrainSetsWeekWindow(t *testing.T) {
	f := NewTrafficForecaster(DefaultTrafficConfig(), nil)
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // a Wednesday
	if err := f.Retrain(context.Background(), now); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	v := f.Validity()
	if !v.Usable(now) {
		t.Fatalf("expected model usable at retrain time, got validity %+v", v)
	}
	if v.ValidFrom.Weekday() != time.Monday {
		t.Fatalf("expected week window to start on Monday, got %v", v.ValidFrom.Weekday())
	}
}

func TestTrafficForecasterRetrainCapturesAccuracyMetrics(t *testing.T) {
	f := NewTrafficForecaster(TrafficConfig{Alpha: 0.3, SeasonalAlpha: 0.1, MinHistory: 1, Now: time.Now}, nil)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.RecordActual(base, 100, 110)
	f.RecordActual(base.Add(time.Hour), 200, 190)

	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	if err := f.Retrain(context.Background(), now); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	metrics := f.Validity().LastMetrics
	if metrics.SMAPE <= 0 {
		t.Fatalf("expected a positive SMAPE after recording actuals, got %+v", metrics)
	}
}

func TestPathForecasterNotReadyUntilHistoryFull(t *testing.T) {
	p := NewPathForecaster(10)
	for i := 0; i < 5; i++ {
		p.Observe(float64(i * 1000))
	}
	if _, err := p.Predict(time.Now()); err == nil {
		t.Fatal("expected ErrForecastNotReady with fewer than 10 points")
	}
}

func TestPathForecasterAveragesHistory(t *testing.T) {
	p := NewPathForecaster(3, 100, 200, 300)
	got, err := p.Predict(time.Now())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got != 200 {
		t.Fatalf("expected average of 200, got %v", got)
	}
}

func TestBlendModes(t *testing.T) {
	if v, src := Blend("real", 100, 50, 0.3); v != 100 || src != "realtime" {
		t.Fatalf("real mode: got %v/%v", v, src)
	}
	if v, src := Blend("predicted", 100, 50, 0.3); v != 50 || src != "prediction" {
		t.Fatalf("predicted mode: got %v/%v", v, src)
	}
	v, src := Blend("hybrid", 100, 50, 0.3)
	want := 0.7*100 + 0.3*50
	if v != want || src != "hybrid" {
		t.Fatalf("hybrid mode: got %v/%v, want %v", v, src, want)
	}
}
