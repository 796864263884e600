// Package config loads and validates the control plane's TOML
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// Config is the full, validated runtime configuration.
type Config struct {
	Servers    []domain.ServerDescriptor `toml:"servers"`
	Scaling    ScalingConfig             `toml:"scaling"`
	PathWeight PathWeightConfig          `toml:"path_weight"`
	Metrics    MetricsConfig             `toml:"metrics"`
	SDN        SDNConfig                 `toml:"sdn"`
	Virt       VirtConfig                `toml:"virt"`
	HTTP       HTTPConfig                `toml:"http"`
	Alerts     AlertsConfig              `toml:"alerts"`
}

// ScalingConfig governs the Server-Scaling Controller tick.
type ScalingConfig struct {
	TickInterval       Duration           `toml:"tick_interval"`
	TierBrackets       []domain.TierBracket `toml:"tier_brackets"`
	StabiliseUp        Duration           `toml:"stabilise_up"`
	StabiliseDown      Duration           `toml:"stabilise_down"`
	DrainWait          Duration           `toml:"drain_wait"`
	RebootGrace        Duration           `toml:"reboot_grace"`
	SustainedWindow    Duration           `toml:"sustained_window"`
	ScaleUpThreshold   float64            `toml:"scale_up_threshold_pct"`
	ScaleDownThreshold float64            `toml:"scale_down_threshold_pct"`
	PredictionMode     string             `toml:"prediction_mode"` // real | predicted | hybrid
	HybridWeight       float64            `toml:"hybrid_weight"`
	MinHistoryPoints   int                `toml:"min_history_points"`
	RetrainWeekday     string             `toml:"retrain_weekday"` // informational; retrain window is always Mon-Sun
}

// PathWeightConfig governs the Path-Weight Controller loop.
type PathWeightConfig struct {
	PublishPath      string  `toml:"publish_path"`
	RemoteHost       string  `toml:"remote_host"`
	RemotePath       string  `toml:"remote_path"`
	PredictionMode   string  `toml:"prediction_mode"`
	HybridWeight     float64 `toml:"hybrid_weight"`
	MinHistoryPoints int     `toml:"min_history_points"`
}

// MetricsConfig points at the external metrics store (Prometheus).
type MetricsConfig struct {
	Address  string   `toml:"address"`
	Timeout  Duration `toml:"timeout"`
}

// SDNConfig points at the leaf-spine controller's admin API.
type SDNConfig struct {
	Address  string `toml:"address"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// VirtConfig configures the power-control surface.
type VirtConfig struct {
	Driver string `toml:"driver"` // e.g. "ipmi", "ssh"
}

// HTTPConfig configures the control plane's own status API.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// AlertsConfig configures the alert ledger.
type AlertsConfig struct {
	LedgerPath string   `toml:"ledger_path"`
	MaxEntries int      `toml:"max_entries"`
	MaxAge     Duration `toml:"max_age"`
}

// Duration wraps time.Duration so it can be read from TOML as a string
// like "15s" or "5m", matching how the rest of the ecosystem does it.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration populated with the defaults named in
// the operational spec: 5s scaling ticks, 15s reboot grace, hybrid
// prediction blending at w=0.3, 10-point history maturity.
func Default() Config {
	return Config{
		Scaling: ScalingConfig{
			TickInterval: Duration{5 * time.Second},
			TierBrackets: []domain.TierBracket{
				{MinRequestsPerHour: 0, RequiredServers: 1},
			},
			StabiliseUp:        Duration{80 * time.Second},
			StabiliseDown:      Duration{5 * time.Second},
			DrainWait:          Duration{30 * time.Second},
			RebootGrace:        Duration{15 * time.Second},
			SustainedWindow:    Duration{30 * time.Minute},
			ScaleUpThreshold:   90,
			ScaleDownThreshold: 3,
			PredictionMode:     "hybrid",
			HybridWeight:       0.3,
			MinHistoryPoints:   10,
		},
		PathWeight: PathWeightConfig{
			PublishPath:      "/var/lib/dslb-eesm/path-weights.json",
			PredictionMode:   "hybrid",
			HybridWeight:     0.3,
			MinHistoryPoints: 10,
		},
		Metrics: MetricsConfig{
			Address: "http://localhost:9090",
			Timeout: Duration{5 * time.Second},
		},
		Virt: VirtConfig{Driver: "ipmi"},
		HTTP: HTTPConfig{ListenAddr: ":8088"},
		Alerts: AlertsConfig{
			LedgerPath: "/var/lib/dslb-eesm/alerts.json",
			MaxEntries: 100,
			MaxAge:     Duration{24 * time.Hour},
		},
	}
}

// Load reads and validates a TOML configuration file at path, layering
// it over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants a malformed config file could
// violate; the daemon refuses to start rather than run against a
// config it cannot trust.
func (c Config) Validate() error {
	if len(c.Servers) == 0 {
		return domain.ErrNoServersConfigured
	}
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" || s.Address == "" {
			return fmt.Errorf("server entry missing name or address: %+v", s)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.Scaling.TickInterval.Duration <= 0 {
		return domain.ErrInvalidInterval
	}
	policy := domain.TierPolicy{Brackets: c.Scaling.TierBrackets}
	if err := policy.Validate(); err != nil {
		return err
	}
	switch c.Scaling.PredictionMode {
	case "real", "predicted", "hybrid":
	default:
		return fmt.Errorf("scaling.prediction_mode must be real, predicted or hybrid, got %q", c.Scaling.PredictionMode)
	}
	switch c.PathWeight.PredictionMode {
	case "real", "predicted", "hybrid":
	default:
		return fmt.Errorf("path_weight.prediction_mode must be real, predicted or hybrid, got %q", c.PathWeight.PredictionMode)
	}
	if c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address must be set")
	}
	return nil
}

// WriteExample writes an example config (the defaults plus two sample
// servers, without comments) to path, used by the CLI's "config-init"
// command.
func WriteExample(path string) error {
	cfg := Default()
	cfg.Servers = []domain.ServerDescriptor{
		{Name: "srv1", Address: "10.0.1.11", Tier: 1, Cores: 8, MemoryGB: 16},
		{Name: "srv2", Address: "10.0.1.12", Tier: 2, Cores: 16, MemoryGB: 32},
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
