package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// MetricsStore abstracts the external time-series store (Prometheus) that
// the scaling loop queries for per-server CPU/memory and the path-weight
// loop queries for fabric port counters.
type MetricsStore interface {
	// ServerLoad returns instantaneous CPU and memory utilisation, as
	// percentages in [0,100], for the named server.
	ServerLoad(ctx context.Context, serverName string) (cpuPct, memPct float64, err error)

	// RequestRate returns the observed HTTP requests/second across the
	// active fleet at the query instant; Phase A of the scaling loop
	// scales it to the previous hour's request count for the forecast.
	RequestRate(ctx context.Context) (float64, error)

	// PortCounters returns a full fabric snapshot of cumulative TX/RX
	// byte counters, keyed by device and port.
	PortCounters(ctx context.Context) (PortSnapshot, error)
}

// SDNClient abstracts the leaf-spine controller's administrative API.
type SDNClient interface {
	// Topology returns the current set of routes and their candidate
	// paths between leaf pairs.
	Topology(ctx context.Context) (Topology, error)
}

// VirtHost abstracts the hypervisor/power-control surface for a backend
// server — power on/off, reboot, and reachability probing.
type VirtHost interface {
	PowerOn(ctx context.Context, server ServerDescriptor) error
	PowerOff(ctx context.Context, server ServerDescriptor) error
	Reboot(ctx context.Context, server ServerDescriptor) error

	// Probe reports whether the server is currently reachable and
	// serving traffic.
	Probe(ctx context.Context, server ServerDescriptor) (healthy bool, err error)
}

// Predictor abstracts a trained forecasting model — traffic or path
// bandwidth — regardless of blending mode (real/predicted/hybrid).
type Predictor interface {
	// Predict returns the forecast value for the given future instant.
	Predict(at time.Time) (value float64, err error)

	// Validity reports the model's current usable window and last
	// recorded accuracy metrics.
	Validity() ModelValidity

	// Retrain fits a fresh model from the observations accumulated up
	// to now and extends Validity accordingly.
	Retrain(ctx context.Context, now time.Time) error
}

// Publisher delivers a finished artefact (path-weight publication,
// server-status snapshot) to its consumer, atomically.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// Copier pushes a local artefact file to a remote host, used for the
// status-sync step of the healing sequence and for shipping the
// path-weight artefact to the SDN host's well-known location.
type Copier interface {
	Copy(ctx context.Context, localPath, remoteHost, remotePath string) error
}

// AlertSink receives alerts raised by any control loop for ledger
// insertion and retention management.
type AlertSink interface {
	Raise(category, severity, title, message string, fields map[string]string)
}
