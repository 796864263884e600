package dwrs

import (
	"math/rand"
	"testing"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

func TestComprehensiveLoadWeighting(t *testing.T) {
	load := ComprehensiveLoad(domain.ServerTelemetry{CPU: 80, Memory: 40})
	want := 80*0.55 + 40*0.45
	if load != want {
		t.Fatalf("expected %v, got %v", want, load)
	}
}

func TestLoadToWeightFloorsAtOne(t *testing.T) {
	if w := LoadToWeight(150); w != 1 {
		t.Fatalf("expected weight 1 for load >= 100, got %d", w)
	}
	if w := LoadToWeight(100); w != 1 {
		t.Fatalf("expected weight 1 at exactly 100, got %d", w)
	}
	if w := LoadToWeight(0); w != 100 {
		t.Fatalf("expected weight 100 at load 0, got %d", w)
	}
	if w := LoadToWeight(37.8); w != 63 {
		t.Fatalf("expected floor(37.8)=37, weight 63, got %d", w)
	}
}

func TestSelectSingleServerReturnsItDirectly(t *testing.T) {
	only := domain.ServerTelemetry{Address: "10.0.0.1"}
	got, err := Select([]domain.ServerTelemetry{only}, nil)
	if err != nil || got.Address != "10.0.0.1" {
		t.Fatalf("expected the only server returned directly, got %+v err=%v", got, err)
	}
}

func TestSelectEmptySetErrors(t *testing.T) {
	if _, err := Select(nil, nil); err != domain.ErrNoEligibleServers {
		t.Fatalf("expected ErrNoEligibleServers, got %v", err)
	}
}

func TestSelectFavorsLeastLoadedOverManyDraws(t *testing.T) {
	light := domain.ServerTelemetry{Address: "light", CPU: 5, Memory: 5}
	heavy := domain.ServerTelemetry{Address: "heavy", CPU: 95, Memory: 95}
	rng := rand.New(rand.NewSource(1))

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		got, err := Select([]domain.ServerTelemetry{light, heavy}, rng)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[got.Address]++
	}
	if counts["light"] <= counts["heavy"] {
		t.Fatalf("expected the lightly loaded server to be picked more often, got %+v", counts)
	}
}

func TestSelectZeroTotalWeightIsUnreachableGivenFloor(t *testing.T) {
	// LoadToWeight never returns 0, so this path only matters if future
	// changes relax the floor — exercised here to pin that contract.
	servers := []domain.ServerTelemetry{{CPU: 100, Memory: 100}, {CPU: 100, Memory: 100}}
	weighted := Weigh(servers)
	for _, w := range weighted {
		if w.Weight < 1 {
			t.Fatalf("expected weight floor of 1, got %d", w.Weight)
		}
	}
}
