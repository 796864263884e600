package config

import (
	"path/filepath"
	"testing"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

func TestValidateRejectsEmptyInventory(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty server inventory")
	}
}

func TestValidateRejectsNonAscendingBrackets(t *testing.T) {
	cfg := Default()
	cfg.Servers = append(cfg.Servers, domain.ServerDescriptor{Name: "a", Address: "10.0.0.1", Cores: 4, MemoryGB: 8})
	cfg.Scaling.TierBrackets = append(cfg.Scaling.TierBrackets, domain.TierBracket{MinRequestsPerHour: 0, RequiredServers: 1})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-ascending tier brackets")
	}
}

func TestLoadRoundTripsWrittenExample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controlplane.toml")
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if cfg.Scaling.HybridWeight != 0.3 {
		t.Fatalf("expected default hybrid weight 0.3, got %v", cfg.Scaling.HybridWeight)
	}
}
