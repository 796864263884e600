// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Server Inventory ───────────────────────────────────────────────────────

// ServerDescriptor is the static, configured-once description of one
// physical backend. Tier rank orders power-on preference (small first)
// and power-off preference (large first); 1 is the smallest tier.
type ServerDescriptor struct {
	Name     string  `json:"name" toml:"name"`
	Address  string  `json:"address" toml:"address"`
	Tier     int     `json:"tier" toml:"tier"`
	Cores    int     `json:"cores" toml:"cores"`
	MemoryGB float64 `json:"memory_gb" toml:"memory_gb"`
}

// Capacity is the comparable (cores, memory) pair used for replacement
// candidate selection.
type Capacity struct {
	Cores    int
	MemoryGB float64
}

// Cap returns the descriptor's capacity.
func (s ServerDescriptor) Cap() Capacity {
	return Capacity{Cores: s.Cores, MemoryGB: s.MemoryGB}
}

// GreaterOrEqual reports whether c can serve at least what other needs.
func (c Capacity) GreaterOrEqual(other Capacity) bool {
	return c.Cores >= other.Cores && c.MemoryGB >= other.MemoryGB
}

// Equal reports whether two capacities match exactly.
func (c Capacity) Equal(other Capacity) bool {
	return c.Cores == other.Cores && c.MemoryGB == other.MemoryGB
}

// ─── Runtime State ──────────────────────────────────────────────────────────

// ServerStatus is the mutable, authoritative per-server runtime tuple.
//
// Invariants (enforced by internal/state and internal/scaling, not here):
//
//	draining ⇒ active
//	¬healthy ⇒ ¬active ∨ a healing step is in progress
//	the set {active ∧ ¬draining} is non-empty at any stable point
type ServerStatus struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Active   bool   `json:"active"`
	Draining bool   `json:"draining"`
	Healthy  bool   `json:"healthy"`
}

// ─── Load Sampling ──────────────────────────────────────────────────────────

// LoadSample is a single CPU/memory average across the currently-serving
// (active, non-draining) set, taken once per scaling tick.
type LoadSample struct {
	Timestamp time.Time
	AvgCPU    float64
	AvgMemory float64
}

// ─── Forecasting ────────────────────────────────────────────────────────────

// ForecastEntry is the single live hourly traffic prediction.
type ForecastEntry struct {
	PredictedRequests int       `json:"predicted_requests"`
	ValidUntil        time.Time `json:"valid_until"`
}

// Expired reports whether the entry is no longer usable at time now.
func (f ForecastEntry) Expired(now time.Time) bool {
	return f.ValidUntil.IsZero() || now.After(f.ValidUntil)
}

// AccuracyPoint is one predicted/actual pair recorded once the hour in
// question has closed.
type AccuracyPoint struct {
	Hour      time.Time
	Predicted int
	Actual    int
}

// AccuracyLog is a bounded ring of recent AccuracyPoints, used only to
// report forecaster quality over /stats — supplemental to spec.md,
// grounded on original_source's daily_predictions.py actual-vs-predicted
// tracking.
type AccuracyLog struct {
	points   []AccuracyPoint
	capacity int
}

// NewAccuracyLog creates a ring buffer holding at most capacity points.
func NewAccuracyLog(capacity int) *AccuracyLog {
	if capacity <= 0 {
		capacity = 168 // one week of hourly points
	}
	return &AccuracyLog{capacity: capacity}
}

// Record appends a point, dropping the oldest once capacity is exceeded.
func (l *AccuracyLog) Record(p AccuracyPoint) {
	l.points = append(l.points, p)
	if len(l.points) > l.capacity {
		l.points = l.points[len(l.points)-l.capacity:]
	}
}

// SMAPE returns the symmetric mean absolute percentage error over the
// retained points, or 0 if empty.
func (l *AccuracyLog) SMAPE() float64 {
	if len(l.points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range l.points {
		denom := float64(p.Predicted+p.Actual) / 2
		if denom == 0 {
			continue
		}
		diff := float64(p.Predicted - p.Actual)
		if diff < 0 {
			diff = -diff
		}
		sum += diff / denom
	}
	return sum / float64(len(l.points)) * 100
}

// R2 returns the coefficient of determination of predicted against
// actual over the retained points, or 0 if there are fewer than two
// points or the actual values have no variance to explain.
func (l *AccuracyLog) R2() float64 {
	if len(l.points) < 2 {
		return 0
	}
	var sumActual float64
	for _, p := range l.points {
		sumActual += float64(p.Actual)
	}
	mean := sumActual / float64(len(l.points))

	var ssRes, ssTot float64
	for _, p := range l.points {
		actual := float64(p.Actual)
		ssRes += (actual - float64(p.Predicted)) * (actual - float64(p.Predicted))
		ssTot += (actual - mean) * (actual - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// Points returns a copy of the retained points, oldest first.
func (l *AccuracyLog) Points() []AccuracyPoint {
	out := make([]AccuracyPoint, len(l.points))
	copy(out, l.points)
	return out
}

// ─── Tier Policy ────────────────────────────────────────────────────────────

// TierBracket maps "at least this many requests/hour" to a required
// server count. Brackets must be ordered by ascending MinRequestsPerHour
// with non-decreasing RequiredServers.
type TierBracket struct {
	MinRequestsPerHour int
	RequiredServers    int
}

// TierPolicy is the ordered, monotone bracket table driving proactive
// sizing.
type TierPolicy struct {
	Brackets []TierBracket
}

// Required returns the server count for a predicted hourly request rate.
// Brackets must already be validated monotone and ascending.
func (p TierPolicy) Required(predictedRequests int) int {
	required := 1
	for _, b := range p.Brackets {
		if predictedRequests >= b.MinRequestsPerHour {
			required = b.RequiredServers
		}
	}
	return required
}

// Validate checks ascending order and monotone non-decreasing required
// counts, per spec.md §3.
func (p TierPolicy) Validate() error {
	for i := 1; i < len(p.Brackets); i++ {
		prev, cur := p.Brackets[i-1], p.Brackets[i]
		if cur.MinRequestsPerHour <= prev.MinRequestsPerHour {
			return ErrTierPolicyNotAscending
		}
		if cur.RequiredServers < prev.RequiredServers {
			return ErrTierPolicyNotMonotone
		}
	}
	return nil
}

// ─── Path Topology ──────────────────────────────────────────────────────────

// Hop is one (device, egress-port) step along a path.
type Hop struct {
	DeviceID string
	Port     int
}

// Path is an ordered sequence of hops between two leaves.
type Path struct {
	Via  string // spine device name carried for publication (e.g. "spine1")
	Hops []Hop
}

// Route is an ordered pair of leaf switches (src, dst).
type Route struct {
	Src, Dst string
}

// CanonicalName returns the direction-agnostic name for this route:
// the lexicographically smaller leaf first.
func (r Route) CanonicalName() string {
	if r.Src <= r.Dst {
		return r.Src + "->" + r.Dst
	}
	return r.Dst + "->" + r.Src
}

// Name returns this route's directional publication key ("src->dst").
func (r Route) Name() string {
	return r.Src + "->" + r.Dst
}

// Topology is the full set of routes and their candidate paths.
type Topology struct {
	Routes map[Route][]Path
}

// ─── Port Counters ──────────────────────────────────────────────────────────

// PortCounters is one device/port's cumulative byte counters.
type PortCounters struct {
	BytesTx uint64
	BytesRx uint64
}

// PortSnapshot is a full fabric snapshot at an instant: device -> port -> counters.
type PortSnapshot struct {
	Taken   time.Time
	Devices map[string]map[int]PortCounters
}

// IntervalUsage is the per-device/port byte delta between two bracketing
// snapshots, with the rollover guard of spec.md §3 already applied.
type IntervalUsage struct {
	// Minute is the wall-clock minute that just closed.
	Minute  time.Time
	Devices map[string]map[int]uint64
}

// intervalDelta applies the counter-rollover rule: on a negative delta
// (device rebooted mid-interval), treat the end value as the interval
// delta rather than going negative.
func intervalDelta(start, end uint64) uint64 {
	if end < start {
		return end
	}
	return end - start
}

// ComputeIntervalUsage derives IntervalUsage from two bracketing
// snapshots. A port present in only one snapshot is omitted — the
// caller treats any path touching it as invalid for this interval.
func ComputeIntervalUsage(a, b PortSnapshot, minute time.Time) IntervalUsage {
	out := IntervalUsage{Minute: minute, Devices: make(map[string]map[int]uint64)}
	for device, bPorts := range b.Devices {
		aPorts, ok := a.Devices[device]
		if !ok {
			continue
		}
		ports := make(map[int]uint64)
		for port, bc := range bPorts {
			ac, ok := aPorts[port]
			if !ok {
				continue
			}
			ports[port] = intervalDelta(ac.BytesTx+ac.BytesRx, bc.BytesTx+bc.BytesRx)
		}
		if len(ports) > 0 {
			out.Devices[device] = ports
		}
	}
	return out
}

// Cost sums total-bytes-in-interval over every hop of a path. ok is
// false if any hop is missing from the usage (path invalid this
// interval).
func (u IntervalUsage) Cost(p Path) (cost uint64, ok bool) {
	for _, h := range p.Hops {
		ports, found := u.Devices[h.DeviceID]
		if !found {
			return 0, false
		}
		bytes, found := ports[h.Port]
		if !found {
			return 0, false
		}
		cost += bytes
	}
	return cost, true
}

// ─── Path History ───────────────────────────────────────────────────────────

// HistoryCapacity is the fixed size of a PathHistoryBuffer.
const HistoryCapacity = 10

// PathHistoryBuffer holds up to ten scaled bytes-per-minute values per
// canonical path, used as predictor input.
type PathHistoryBuffer struct {
	values []float64
}

// NewPathHistoryBuffer creates an empty buffer, optionally preloaded
// (e.g. from a persisted history file at startup).
func NewPathHistoryBuffer(preload ...float64) *PathHistoryBuffer {
	b := &PathHistoryBuffer{}
	for _, v := range preload {
		b.Append(v)
	}
	return b
}

// Append records a new value, dropping the oldest once full.
func (b *PathHistoryBuffer) Append(v float64) {
	b.values = append(b.values, v)
	if len(b.values) > HistoryCapacity {
		b.values = b.values[len(b.values)-HistoryCapacity:]
	}
}

// Len returns the number of retained values.
func (b *PathHistoryBuffer) Len() int { return len(b.values) }

// Values returns a copy of the retained values, oldest first.
func (b *PathHistoryBuffer) Values() []float64 {
	out := make([]float64, len(b.values))
	copy(out, b.values)
	return out
}

// Ready reports whether the buffer has matured past the minimum
// history iterations (default 10) required to honour prediction/hybrid
// blending modes.
func (b *PathHistoryBuffer) Ready(minIterations int) bool {
	return len(b.values) >= minIterations
}

// ─── Path-Weight Publication ────────────────────────────────────────────────

// CostSource records where a path's cost figure came from.
type CostSource string

const (
	SourceReal      CostSource = "realtime"
	SourcePredicted CostSource = "prediction"
	SourceHybrid    CostSource = "hybrid"
)

// Bandwidth reports a cost in both byte and megabyte form with its source.
type Bandwidth struct {
	Bytes     uint64     `json:"bytes"`
	Megabytes float64    `json:"megabytes"`
	Source    CostSource `json:"source"`
}

// PathDetail is one path's published ratio and cost within a route.
type PathDetail struct {
	ViaSpine       string    `json:"via_spine"`
	SelectionRatio float64   `json:"selection_ratio"`
	BandwidthCost  Bandwidth `json:"bandwidth_cost"`
}

// RouteWeights is the published {path-index -> detail} map for one route.
type RouteWeights struct {
	PathDetails map[string]PathDetail `json:"path_details"`
}

// PublicationMetadata carries the artefact's timestamp and collection
// parameters.
type PublicationMetadata struct {
	TimestampUnix    int64   `json:"timestamp_unix"`
	Iteration        int     `json:"iteration"`
	IntervalSeconds  int     `json:"interval_seconds"`
	TotalTrafficMB   float64 `json:"total_traffic_mb"`
	Mode             string  `json:"mode"`
	UsingPredictions bool    `json:"using_predictions"`
}

// Publication is the full artefact delivered to the SDN host.
type Publication struct {
	Metadata             PublicationMetadata     `json:"metadata"`
	PathSelectionWeights map[string]RouteWeights `json:"path_selection_weights"`
}

// ─── Model Validity ─────────────────────────────────────────────────────────

// RetrainMetrics carries opaque accuracy figures through the core.
type RetrainMetrics struct {
	R2       float64
	SMAPE    float64
	Accuracy float64
}

// ModelValidity describes the usable window of a trained predictor.
type ModelValidity struct {
	ValidFrom   time.Time
	ValidTo     time.Time
	LastMetrics RetrainMetrics
}

// Usable reports whether the model is valid at time now.
func (v ModelValidity) Usable(now time.Time) bool {
	return !now.Before(v.ValidFrom) && !now.After(v.ValidTo)
}

// WeekWindow returns the Monday-00:00-to-Sunday-23:59:59 local window
// containing t, the retraining unit of spec.md §4.6.
func WeekWindow(t time.Time) (from, to time.Time) {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO: Monday=1..Sunday=7
	}
	from = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).
		AddDate(0, 0, -(weekday - 1))
	to = from.AddDate(0, 0, 7).Add(-time.Second)
	return from, to
}

// ─── DWRS ───────────────────────────────────────────────────────────────────

// ServerTelemetry is the per-server live metrics input to the DWRS
// selector.
type ServerTelemetry struct {
	Address  string
	CPU      float64
	Memory   float64
	Cores    int
	MemoryGB float64
}
