package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// Prober is a single-shot HTTP health probe: GET, short timeout,
// classify. 2xx/3xx/4xx count as healthy (the server answered);
// 5xx and transport errors (timeout, connection refused) count as
// unhealthy.
type Prober struct {
	http *http.Client
	path string
}

// NewProber creates a prober hitting healthPath (e.g. "/healthz") with
// a 3-second timeout, matching the original single-shot check.
func NewProber(healthPath string) *Prober {
	if healthPath == "" {
		healthPath = "/"
	}
	return &Prober{http: &http.Client{Timeout: 3 * time.Second}, path: healthPath}
}

// Probe implements domain.VirtHost's reachability check.
func (p *Prober) Probe(ctx context.Context, server domain.ServerDescriptor) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+server.Address+p.path, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false, nil // transport error: unhealthy, not a probe failure the caller must handle specially
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500, nil
}
