package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

func serverAt(url string) domain.ServerDescriptor {
	return domain.ServerDescriptor{Name: "test", Address: strings.TrimPrefix(url, "http://")}
}

func TestDecodeTopologyBuildsRouteMap(t *testing.T) {
	body := `{"routes":[{"src":"leaf1","dst":"leaf2","paths":[
		{"via_spine":"spine1","hops":[{"device_id":"spine1","port":1}]},
		{"via_spine":"spine2","hops":[{"device_id":"spine2","port":1}]}
	]}]}`
	topo, err := decodeTopology(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decodeTopology: %v", err)
	}
	found := false
	for route, p := range topo.Routes {
		if route.Src == "leaf1" && route.Dst == "leaf2" {
			found = true
			if len(p) != 2 {
				t.Fatalf("expected 2 candidate paths, got %d", len(p))
			}
		}
	}
	if !found {
		t.Fatal("expected leaf1->leaf2 route in topology")
	}
}

func TestSDNClientTopologyFetchesAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"routes":[{"src":"leaf1","dst":"leaf2","paths":[{"via_spine":"spine1","hops":[{"device_id":"spine1","port":1}]}]}]}`))
	}))
	defer srv.Close()

	c := NewSDNClient(srv.URL, "", "")
	topo, err := c.Topology(context.Background())
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}
	if len(topo.Routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(topo.Routes))
	}
}

func TestProberClassifies5xxAsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProber("/")
	healthy, err := p.Probe(context.Background(), serverAt(srv.URL))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if healthy {
		t.Fatal("expected 5xx response to classify as unhealthy")
	}
}

func TestProberClassifies2xxAsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber("/")
	healthy, err := p.Probe(context.Background(), serverAt(srv.URL))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !healthy {
		t.Fatal("expected 2xx response to classify as healthy")
	}
}
