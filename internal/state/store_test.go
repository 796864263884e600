package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

func twoServers() []domain.ServerDescriptor {
	return []domain.ServerDescriptor{
		{Name: "srv1", Address: "10.0.0.1", Cores: 4, MemoryGB: 8},
		{Name: "srv2", Address: "10.0.0.2", Cores: 8, MemoryGB: 16},
	}
}

func TestBeginDrainRefusesLastServerStanding(t *testing.T) {
	s := New([]domain.ServerDescriptor{{Name: "only", Address: "10.0.0.1"}})
	if err := s.BeginDrain("only"); err != domain.ErrLastServerStanding {
		t.Fatalf("expected ErrLastServerStanding, got %v", err)
	}
}

func TestBeginDrainAllowedWithAnotherActiveServer(t *testing.T) {
	s := New(twoServers())
	if err := s.BeginDrain("srv1"); err != nil {
		t.Fatalf("BeginDrain: %v", err)
	}
	st, _ := s.Status("srv1")
	if !st.Draining || !st.Active {
		t.Fatalf("expected draining server to remain active until CompleteDrain, got %+v", st)
	}
}

func TestBeginDrainAllowedWhenOthersUnhealthy(t *testing.T) {
	s := New(twoServers())
	if err := s.SetHealthy("srv2", false); err != nil {
		t.Fatalf("SetHealthy: %v", err)
	}
	if err := s.BeginDrain("srv1"); err != nil {
		t.Fatalf("expected drain to proceed when the only alternative is unhealthy, got %v", err)
	}
}

func TestCompleteDrainPowersOff(t *testing.T) {
	s := New(twoServers())
	_ = s.BeginDrain("srv1")
	if err := s.CompleteDrain("srv1"); err != nil {
		t.Fatalf("CompleteDrain: %v", err)
	}
	st, _ := s.Status("srv1")
	if st.Active || st.Draining {
		t.Fatalf("expected powered-off server to be inactive and non-draining, got %+v", st)
	}
}

func TestActiveServingExcludesDrainingAndInactive(t *testing.T) {
	s := New(twoServers())
	_ = s.BeginDrain("srv1")
	serving := s.ActiveServing()
	if len(serving) != 1 || serving[0].Name != "srv2" {
		t.Fatalf("expected only srv2 serving, got %+v", serving)
	}
}

func TestPublishWritesAtomicSnapshot(t *testing.T) {
	s := New(twoServers())
	path := filepath.Join(t.TempDir(), "status.json")
	if err := s.Publish(context.Background(), path, nil, "", ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read published snapshot: %v", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(doc.Servers) != 2 {
		t.Fatalf("expected 2 servers in snapshot, got %d", len(doc.Servers))
	}
}

type recordingCopier struct {
	calledWith string
}

func (c *recordingCopier) Copy(_ context.Context, localPath, remoteHost, remotePath string) error {
	c.calledWith = localPath + "|" + remoteHost + "|" + remotePath
	return nil
}

func TestPublishInvokesCopier(t *testing.T) {
	s := New(twoServers())
	path := filepath.Join(t.TempDir(), "status.json")
	copier := &recordingCopier{}
	if err := s.Publish(context.Background(), path, copier, "sdn-host", "/remote/status.json"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if copier.calledWith == "" {
		t.Fatal("expected copier to be invoked")
	}
}
