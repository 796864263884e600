package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dslb-eesm/controlplane/internal/alerts"
	"github.com/dslb-eesm/controlplane/internal/api"
	"github.com/dslb-eesm/controlplane/internal/config"
	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/forecast"
	"github.com/dslb-eesm/controlplane/internal/heal"
	"github.com/dslb-eesm/controlplane/internal/observability"
	"github.com/dslb-eesm/controlplane/internal/pathweight"
	"github.com/dslb-eesm/controlplane/internal/scaling"
	"github.com/dslb-eesm/controlplane/internal/state"
	"github.com/dslb-eesm/controlplane/internal/store"
	"github.com/dslb-eesm/controlplane/internal/telemetry"
	"github.com/dslb-eesm/controlplane/internal/virt"
)

const historyDBPath = "/var/lib/dslb-eesm/history.db"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the Server-Scaling and Path-Weight controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
}

// runDaemon is the composition root: it wires every collaborator named
// in config.Config, starts the two control loops and the status HTTP
// server, and blocks until SIGINT/SIGTERM or an unrecoverable startup
// error.
func runDaemon(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := state.New(cfg.Servers)

	alertLedger := alerts.New(cfg.Alerts.LedgerPath, cfg.Alerts.MaxEntries, cfg.Alerts.MaxAge.Duration)
	if err := alertLedger.Load(); err != nil {
		return fmt.Errorf("load alert ledger: %w", err)
	}

	db, err := store.Open(historyDBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer db.Close()

	metricsStore, err := telemetry.NewPromMetricsStore(cfg.Metrics.Address, cfg.Metrics.Timeout.Duration)
	if err != nil {
		return fmt.Errorf("connect to metrics store: %w", err)
	}
	sdnClient := telemetry.NewSDNClient(cfg.SDN.Address, cfg.SDN.Username, cfg.SDN.Password)
	prober := telemetry.NewProber("/healthz")

	powerHost := virt.New(virt.Config{Playbook: "manage-server-power.yml", CommandTimeout: 30 * time.Second})
	host := &virt.Composed{Host: powerHost, Prober: prober}

	trafficForecaster := forecast.NewTrafficForecaster(forecast.DefaultTrafficConfig(), db)

	blacklist := heal.NewBlacklist()
	pickReplacement := func(failed domain.Capacity, pool []domain.ServerDescriptor) (domain.ServerDescriptor, bool) {
		return scaling.NewCandidateHeap(pool).PickReplacement(failed)
	}
	healer := heal.New(heal.Config{
		RebootGrace:      cfg.Scaling.RebootGrace.Duration,
		StatusPath:       "/var/lib/dslb-eesm/status.json",
		RemoteHost:       cfg.SDN.Address,
		RemoteStatusPath: "/var/lib/dslb-eesm/status.json",
	}, st, host, alertLedger, pickReplacement)

	scalingCfg := scaling.Config{
		TickInterval:          cfg.Scaling.TickInterval.Duration,
		StabiliseUp:           cfg.Scaling.StabiliseUp.Duration,
		StabiliseDown:         cfg.Scaling.StabiliseDown.Duration,
		DrainWait:             cfg.Scaling.DrainWait.Duration,
		SustainedWindow:       cfg.Scaling.SustainedWindow.Duration,
		ScaleUpThresholdPct:   cfg.Scaling.ScaleUpThreshold,
		ScaleDownThresholdPct: cfg.Scaling.ScaleDownThreshold,
		TierPolicy:            domain.TierPolicy{Brackets: cfg.Scaling.TierBrackets},
		PredictionMode:        cfg.Scaling.PredictionMode,
		HybridWeight:          cfg.Scaling.HybridWeight,
		StatusPath:            "/var/lib/dslb-eesm/status.json",
		RemoteHost:            cfg.SDN.Address,
		RemoteStatusPath:      "/var/lib/dslb-eesm/status.json",
	}
	scalingController := scaling.New(scalingCfg, st, metricsStore, host, healer, blacklist, trafficForecaster, alertLedger, db, nil)

	pathWeightCfg := pathweight.Config{
		PublishPath:      cfg.PathWeight.PublishPath,
		RemoteHost:       cfg.PathWeight.RemoteHost,
		RemotePath:       cfg.PathWeight.RemotePath,
		PredictionMode:   cfg.PathWeight.PredictionMode,
		HybridWeight:     cfg.PathWeight.HybridWeight,
		MinHistoryPoints: cfg.PathWeight.MinHistoryPoints,
	}
	pathWeightController := pathweight.New(pathWeightCfg, metricsStore, sdnClient, nil, alertLedger)

	apiServer := api.NewServer(st, alertLedger, trafficForecaster, cfg.PathWeight.PublishPath, scalingController, pathWeightController)
	apiServer.EnableMetrics()

	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: apiServer.Handler()}

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	_ = tracer // reserved for future per-tick span instrumentation

	errCh := make(chan error, 3)
	go func() { scalingController.Run(ctx) }()
	go func() { pathWeightController.Run(ctx) }()
	go func() {
		log.Printf("[controlplaned] listening on %s", cfg.HTTP.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("[controlplaned] fatal: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
