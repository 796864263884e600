// Package telemetry adapts the external Prometheus metrics store and
// the leaf-spine SDN controller's admin API into the domain's
// MetricsStore and SDNClient boundaries, plus a single-shot HTTP
// health probe.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// PromMetricsStore queries an external Prometheus instance for
// server CPU/memory utilisation and fleet-wide HTTP request rate.
// The PromQL carried here mirrors the expressions server_telemetry.py
// and number_of_http_requests_per_hour.py used to shell out to a
// metrics API before this was a native Go client.
type PromMetricsStore struct {
	api     promv1.API
	timeout time.Duration
}

// NewPromMetricsStore dials address (e.g. "http://localhost:9090").
func NewPromMetricsStore(address string, timeout time.Duration) (*PromMetricsStore, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("new prometheus client: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PromMetricsStore{api: promv1.NewAPI(client), timeout: timeout}, nil
}

func (s *PromMetricsStore) query(ctx context.Context, query string) (model.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, warnings, err := s.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	_ = warnings // surfaced via logging at the caller; not fatal
	return val, nil
}

func scalarOf(v model.Value) (float64, bool) {
	vec, ok := v.(model.Vector)
	if !ok || len(vec) == 0 {
		return 0, false
	}
	return float64(vec[0].Value), true
}

// ServerLoad returns CPU and memory utilisation percentages for
// serverName, queried from node_exporter-style gauges scoped by
// instance label.
func (s *PromMetricsStore) ServerLoad(ctx context.Context, serverName string) (cpuPct, memPct float64, err error) {
	cpuQuery := fmt.Sprintf(`100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle",instance="%s"}[1m])) * 100)`, serverName)
	memQuery := fmt.Sprintf(`100 * (1 - node_memory_MemAvailable_bytes{instance="%s"} / node_memory_MemTotal_bytes{instance="%s"})`, serverName, serverName)

	cpuVal, err := s.query(ctx, cpuQuery)
	if err != nil {
		return 0, 0, err
	}
	cpuPct, ok := scalarOf(cpuVal)
	if !ok {
		return 0, 0, domain.ErrMetricsUnavailable
	}

	memVal, err := s.query(ctx, memQuery)
	if err != nil {
		return 0, 0, err
	}
	memPct, ok = scalarOf(memVal)
	if !ok {
		return 0, 0, domain.ErrMetricsUnavailable
	}
	return cpuPct, memPct, nil
}

// RequestRate returns the fleet-wide HTTP requests/second rate over
// the trailing minute.
func (s *PromMetricsStore) RequestRate(ctx context.Context) (float64, error) {
	val, err := s.query(ctx, `sum(rate(http_requests_total[1m]))`)
	if err != nil {
		return 0, err
	}
	rate, ok := scalarOf(val)
	if !ok {
		return 0, domain.ErrMetricsUnavailable
	}
	return rate, nil
}

// PortCounters queries per-device, per-port cumulative TX/RX byte
// counters exported by the fabric's SNMP or gNMI exporter.
func (s *PromMetricsStore) PortCounters(ctx context.Context) (domain.PortSnapshot, error) {
	txVal, err := s.query(ctx, `ifHCOutOctets`)
	if err != nil {
		return domain.PortSnapshot{}, err
	}
	rxVal, err := s.query(ctx, `ifHCInOctets`)
	if err != nil {
		return domain.PortSnapshot{}, err
	}

	snap := domain.PortSnapshot{Taken: time.Now(), Devices: make(map[string]map[int]domain.PortCounters)}
	applyCounters(snap.Devices, txVal, func(c *domain.PortCounters, v uint64) { c.BytesTx = v })
	applyCounters(snap.Devices, rxVal, func(c *domain.PortCounters, v uint64) { c.BytesRx = v })
	return snap, nil
}

func applyCounters(devices map[string]map[int]domain.PortCounters, v model.Value, set func(*domain.PortCounters, uint64)) {
	vec, ok := v.(model.Vector)
	if !ok {
		return
	}
	for _, sample := range vec {
		device := string(sample.Metric["device"])
		portLabel := sample.Metric["port"]
		var port int
		fmt.Sscanf(string(portLabel), "%d", &port)
		if devices[device] == nil {
			devices[device] = make(map[int]domain.PortCounters)
		}
		c := devices[device][port]
		set(&c, uint64(sample.Value))
		devices[device][port] = c
	}
}

var _ domain.MetricsStore = (*PromMetricsStore)(nil)

// ─── SDN Client ─────────────────────────────────────────────────────────────

// SDNClient queries the leaf-spine controller's admin HTTP API for
// topology information, authenticated with HTTP basic auth — the same
// transport configure_link_bandwidth.py and nat_controller.py used
// when they shelled out to curl.
type SDNClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewSDNClient creates a client against the controller at baseURL.
func NewSDNClient(baseURL, username, password string) *SDNClient {
	return &SDNClient{baseURL: baseURL, username: username, password: password, http: &http.Client{Timeout: 5 * time.Second}}
}

// Topology fetches the current route/path table. The SDN controller's
// wire format is adapter-local and parsed here; downstream packages
// see only the domain.Topology shape.
func (c *SDNClient) Topology(ctx context.Context) (domain.Topology, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/topology", nil)
	if err != nil {
		return domain.Topology{}, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("fetch topology: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.Topology{}, fmt.Errorf("fetch topology: unexpected status %d", resp.StatusCode)
	}
	return decodeTopology(resp.Body)
}

var _ domain.SDNClient = (*SDNClient)(nil)
