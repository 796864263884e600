package pathweight

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dslb-eesm/controlplane/internal/alerts"
	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/forecast"
)

func TestRatiosFromCostsEqualWhenAllZero(t *testing.T) {
	ratios := ratiosFromCosts(map[int]uint64{0: 0, 1: 0})
	if ratios[0] != 0.5 || ratios[1] != 0.5 {
		t.Fatalf("expected equal 0.5/0.5 split, got %+v", ratios)
	}
}

func TestRatiosFromCostsFavorsLowerCost(t *testing.T) {
	ratios := ratiosFromCosts(map[int]uint64{0: 100, 1: 900})
	if ratios[0] <= ratios[1] {
		t.Fatalf("expected lower-cost path to get a higher ratio, got %+v", ratios)
	}
	sum := ratios[0] + ratios[1]
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected ratios to sum to 1.0, got %v", sum)
	}
}

type fakeMetrics struct {
	snapshots []domain.PortSnapshot
	idx       int
}

func (f *fakeMetrics) ServerLoad(ctx context.Context, name string) (float64, float64, error) {
	return 0, 0, nil
}
func (f *fakeMetrics) RequestRate(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakeMetrics) PortCounters(ctx context.Context) (domain.PortSnapshot, error) {
	s := f.snapshots[f.idx]
	if f.idx < len(f.snapshots)-1 {
		f.idx++
	}
	return s, nil
}

type fakeSDN struct{ topo domain.Topology }

func (f *fakeSDN) Topology(ctx context.Context) (domain.Topology, error) { return f.topo, nil }

func buildSnapshot(leaf1Tx, spine1Tx uint64) domain.PortSnapshot {
	return domain.PortSnapshot{
		Taken: time.Now(),
		Devices: map[string]map[int]domain.PortCounters{
			"leaf1":  {1: {BytesTx: leaf1Tx}},
			"spine1": {2: {BytesTx: spine1Tx}},
		},
	}
}

func singlePathTopology() domain.Topology {
	return domain.Topology{
		Routes: map[domain.Route][]domain.Path{
			{Src: "leaf1", Dst: "leaf2"}: {
				{Via: "spine1", Hops: []domain.Hop{{DeviceID: "leaf1", Port: 1}, {DeviceID: "spine1", Port: 2}}},
			},
		},
	}
}

func TestRepublishFailsWithoutAPriorTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	ledger := alerts.New(filepath.Join(t.TempDir(), "alerts.json"), 0, 0)
	c := New(Config{PublishPath: path, PredictionMode: "real"}, &fakeMetrics{}, &fakeSDN{}, nil, ledger)

	if err := c.Republish(context.Background()); err != domain.ErrNoPublicationYet {
		t.Fatalf("expected ErrNoPublicationYet before any Tick, got %v", err)
	}
}

func TestRepublishReemitsLastPublicationWithoutRecomputing(t *testing.T) {
	metrics := &fakeMetrics{snapshots: []domain.PortSnapshot{
		buildSnapshot(1000, 1000),
		buildSnapshot(5000, 5000),
	}}
	sdn := &fakeSDN{topo: singlePathTopology()}
	path := filepath.Join(t.TempDir(), "weights.json")
	ledger := alerts.New(filepath.Join(t.TempDir(), "alerts.json"), 0, 0)
	c := New(Config{PublishPath: path, PredictionMode: "real"}, metrics, sdn, nil, ledger)

	_ = c.Tick(context.Background())
	_ = c.Tick(context.Background())
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected publication after second tick: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.Republish(context.Background()); err != nil {
		t.Fatalf("Republish: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected Republish to recreate the artefact: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected Republish to re-emit the identical last publication, got %q vs %q", first, second)
	}
}

func TestMaybeRetrainForecastersRetrainsLapsedForecasters(t *testing.T) {
	ledger := alerts.New(filepath.Join(t.TempDir(), "alerts.json"), 0, 0)
	c := New(Config{PredictionMode: "real"}, &fakeMetrics{}, &fakeSDN{}, nil, ledger)
	key := routeKey{route: "leaf1->leaf2", pathIndex: 0}
	c.forecasters[key] = forecast.NewPathForecaster(domain.HistoryCapacity)

	now := time.Now()
	if c.forecasters[key].Validity().Usable(now) {
		t.Fatal("expected a freshly built path forecaster to start with no usable validity window")
	}
	c.maybeRetrainForecasters(context.Background(), now)
	if !c.forecasters[key].Validity().Usable(now) {
		t.Fatal("expected maybeRetrainForecasters to retrain the lapsed forecaster")
	}
}

func TestTickPublishesAfterTwoSnapshots(t *testing.T) {
	metrics := &fakeMetrics{snapshots: []domain.PortSnapshot{
		buildSnapshot(1000, 1000),
		buildSnapshot(5000, 5000),
	}}
	sdn := &fakeSDN{topo: singlePathTopology()}
	path := filepath.Join(t.TempDir(), "weights.json")
	ledger := alerts.New(filepath.Join(t.TempDir(), "alerts.json"), 0, 0)
	c := New(Config{PublishPath: path, PredictionMode: "real"}, metrics, sdn, nil, ledger)

	if err := c.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatal("expected no publication after the first snapshot (no prior to diff against)")
	}

	if err := c.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected publication after second tick: %v", err)
	}
	var pub domain.Publication
	if err := json.Unmarshal(data, &pub); err != nil {
		t.Fatalf("unmarshal publication: %v", err)
	}
	rw, ok := pub.PathSelectionWeights["leaf1->leaf2"]
	if !ok {
		t.Fatal("expected leaf1->leaf2 route in publication")
	}
	if len(rw.PathDetails) != 1 {
		t.Fatalf("expected 1 path detail, got %d", len(rw.PathDetails))
	}
}
