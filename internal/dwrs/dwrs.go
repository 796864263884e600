// Package dwrs implements Dynamic Weighted Random Selection: pick a
// backend server for the next request, weighted toward the least
// loaded active servers.
//
// load = 0.55*cpu% + 0.45*mem%
// weight = max(1, 100 - floor(load))
//
// A server pegged at 100% load still gets weight 1 rather than 0, so
// it remains selectable in the degenerate case where every server is
// saturated — the alternative is refusing to serve at all.
package dwrs

import (
	"math"
	"math/rand"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

const (
	cpuWeight = 0.55
	memWeight = 0.45
)

// Weighted is one server's computed selection weight alongside its
// source telemetry, returned for observability; no HTTP endpoint
// serves it.
type Weighted struct {
	Server domain.ServerTelemetry
	Load   float64
	Weight int
}

// ComprehensiveLoad computes the blended CPU/memory load score.
func ComprehensiveLoad(t domain.ServerTelemetry) float64 {
	return t.CPU*cpuWeight + t.Memory*memWeight
}

// LoadToWeight converts a load score into an integer selection weight,
// floored at 1 so no eligible server is ever unselectable.
func LoadToWeight(load float64) int {
	if load >= 100 {
		return 1
	}
	w := 100 - int(math.Floor(load))
	if w < 1 {
		w = 1
	}
	return w
}

// Weigh computes each eligible server's comprehensive load and weight.
func Weigh(servers []domain.ServerTelemetry) []Weighted {
	out := make([]Weighted, len(servers))
	for i, s := range servers {
		load := ComprehensiveLoad(s)
		out[i] = Weighted{Server: s, Load: load, Weight: LoadToWeight(load)}
	}
	return out
}

// Select picks one server from the eligible set via cumulative-weight
// random draw. A single-server set is returned directly without
// consulting the RNG. rng may be nil to use the package-level source.
func Select(servers []domain.ServerTelemetry, rng *rand.Rand) (domain.ServerTelemetry, error) {
	if len(servers) == 0 {
		return domain.ServerTelemetry{}, domain.ErrNoEligibleServers
	}
	if len(servers) == 1 {
		return servers[0], nil
	}

	weighted := Weigh(servers)
	total := 0
	for _, w := range weighted {
		total += w.Weight
	}
	if total == 0 {
		return domain.ServerTelemetry{}, domain.ErrZeroTotalWeight
	}

	pick := intn(rng, total) + 1 // 1..total, matching the original's randint(1, total_weight)
	cumulative := 0
	for _, w := range weighted {
		cumulative += w.Weight
		if cumulative >= pick {
			return w.Server, nil
		}
	}
	// Unreachable when total > 0, but fall back to the last server
	// rather than a zero value if floating point ever surprises us.
	return weighted[len(weighted)-1].Server, nil
}

func intn(rng *rand.Rand, n int) int {
	if rng != nil {
		return rng.Intn(n)
	}
	return rand.Intn(n)
}
