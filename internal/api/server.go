// Package api provides the control plane's own HTTP status surface:
// health, the last published path weights, aggregate stats for
// operators, a manual force-sync trigger, and the Prometheus /metrics
// endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dslb-eesm/controlplane/internal/alerts"
	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/forecast"
	"github.com/dslb-eesm/controlplane/internal/state"
)

// PathWeightRepublisher is satisfied by *pathweight.Controller — named
// narrowly here so this package does not need to import pathweight
// just to accept it. Republish re-emits the last computed artefact; it
// never recomputes ratios or touches forecaster state, so it is safe
// to call from an HTTP handler while the controller's own tick loop is
// running in the background.
type PathWeightRepublisher interface {
	Republish(ctx context.Context) error
}

// ScalingRepublisher is satisfied by *scaling.Controller. Republish
// re-mirrors the current status table; it never evaluates a phase or
// changes server power state.
type ScalingRepublisher interface {
	Republish(ctx context.Context) error
}

// Server is the control plane's HTTP API server.
type Server struct {
	store           *state.Store
	alertLedger     *alerts.Ledger
	forecaster      *forecast.TrafficForecaster
	pathWeightsPath string
	scaling         ScalingRepublisher
	pathWeight      PathWeightRepublisher
	metricsEnabled  bool
}

// NewServer creates a new API server. pathWeightsPath is the file the
// Path-Weight Controller publishes to; it is read fresh on every
// /current-weights request rather than cached, so the endpoint always
// reflects the latest published artefact.
func NewServer(store *state.Store, alertLedger *alerts.Ledger, forecaster *forecast.TrafficForecaster, pathWeightsPath string, scaling ScalingRepublisher, pathWeight PathWeightRepublisher) *Server {
	return &Server{
		store:           store,
		alertLedger:     alertLedger,
		forecaster:      forecaster,
		pathWeightsPath: pathWeightsPath,
		scaling:         scaling,
		pathWeight:      pathWeight,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/current-weights", s.handleCurrentWeights)
	r.Get("/stats", s.handleStats)
	r.Post("/force-sync", s.handleForceSync)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// handleHealth reports the daemon's own liveness, not fleet health —
// fleet health is what /stats and the alert ledger are for.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCurrentWeights serves the last artefact the Path-Weight
// Controller published, read straight off disk so it can never drift
// from what the SDN host itself was given.
func (s *Server) handleCurrentWeights(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.pathWeightsPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no path-weight publication yet")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type statsResponse struct {
	Servers          []serverStatsEntry    `json:"servers"`
	ActiveCount      int                   `json:"active_count"`
	RecentAlerts     []alerts.Alert        `json:"recent_alerts"`
	ForecastReady    bool                  `json:"forecast_ready"`
	ForecastValidity *validityView         `json:"forecast_validity,omitempty"`
	ForecastAccuracy []domain.AccuracyPoint `json:"forecast_accuracy,omitempty"`
}

type serverStatsEntry struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Active   bool   `json:"active"`
	Draining bool   `json:"draining"`
	Healthy  bool   `json:"healthy"`
}

type validityView struct {
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
}

// handleStats reports the current fleet status table, recent alerts,
// and the traffic forecaster's readiness — a single place for an
// operator to see everything the two control loops are doing.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	statuses := s.store.All()
	resp := statsResponse{
		Servers:      make([]serverStatsEntry, 0, len(statuses)),
		RecentAlerts: s.alertLedger.Recent(20),
	}
	for _, st := range statuses {
		if st.Active && !st.Draining {
			resp.ActiveCount++
		}
		resp.Servers = append(resp.Servers, serverStatsEntry{
			Name: st.Name, IP: st.IP, Active: st.Active, Draining: st.Draining, Healthy: st.Healthy,
		})
	}
	if s.forecaster != nil {
		resp.ForecastReady = s.forecaster.Ready()
		if v := s.forecaster.Validity(); !v.ValidFrom.IsZero() {
			resp.ForecastValidity = &validityView{ValidFrom: v.ValidFrom, ValidTo: v.ValidTo}
		}
		resp.ForecastAccuracy = s.forecaster.Accuracy()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleForceSync re-emits the most recently computed artefacts —
// the status table mirror and the last path-weight publication — to
// their configured destinations, without running either control loop's
// own tick. This handler never mutates controller state: it cannot
// power a server on or off, change draining state, or race the
// background Run goroutines, since the republish methods it calls only
// touch mutex-guarded state, never loadBuffer/forecastEntry or the
// forecaster.
func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	result := map[string]string{}
	if s.scaling != nil {
		if err := s.scaling.Republish(r.Context()); err != nil {
			result["scaling"] = "error: " + err.Error()
		} else {
			result["scaling"] = "ok"
		}
	}
	if s.pathWeight != nil {
		if err := s.pathWeight.Republish(r.Context()); err != nil {
			result["path_weight"] = "error: " + err.Error()
		} else {
			result["path_weight"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// corsMiddleware adds permissive CORS headers for dashboard clients,
// matching the teacher's development-friendly default.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
