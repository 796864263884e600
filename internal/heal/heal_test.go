package heal

import (
	"context"
	"testing"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/scaling"
	"github.com/dslb-eesm/controlplane/internal/state"
)

func pickViaHeap(failed domain.Capacity, pool []domain.ServerDescriptor) (domain.ServerDescriptor, bool) {
	return scaling.NewCandidateHeap(pool).PickReplacement(failed)
}

type fakeHost struct {
	rebootErr  error
	probeHealthy bool
	probeErr   error
	poweredOff []string
	poweredOn  []string
}

func (f *fakeHost) PowerOn(ctx context.Context, s domain.ServerDescriptor) error {
	f.poweredOn = append(f.poweredOn, s.Name)
	return nil
}
func (f *fakeHost) PowerOff(ctx context.Context, s domain.ServerDescriptor) error {
	f.poweredOff = append(f.poweredOff, s.Name)
	return nil
}
func (f *fakeHost) Reboot(ctx context.Context, s domain.ServerDescriptor) error { return f.rebootErr }
func (f *fakeHost) Probe(ctx context.Context, s domain.ServerDescriptor) (bool, error) {
	return f.probeHealthy, f.probeErr
}

type fakeSink struct{ messages []string }

func (f *fakeSink) Raise(category, severity, title, message string, fields map[string]string) {
	f.messages = append(f.messages, message)
}

func servers() []domain.ServerDescriptor {
	return []domain.ServerDescriptor{
		{Name: "srv1", Address: "10.0.0.1", Cores: 4, MemoryGB: 8},
		{Name: "srv2", Address: "10.0.0.2", Cores: 4, MemoryGB: 8},
		{Name: "srv3", Address: "10.0.0.3", Cores: 8, MemoryGB: 16},
	}
}

func TestHealRecoversAfterSuccessfulReboot(t *testing.T) {
	st := state.New(servers())
	host := &fakeHost{probeHealthy: true}
	sink := &fakeSink{}
	h := New(Config{RebootGrace: time.Millisecond}, st, host, sink, pickViaHeap)
	bl := NewBlacklist()

	failed, _ := st.Descriptor("srv1")
	if err := h.Heal(context.Background(), bl, failed, nil); err != nil {
		t.Fatalf("Heal: %v", err)
	}

	status, _ := st.Status("srv1")
	if !status.Healthy || !status.Active || status.Draining {
		t.Fatalf("expected recovered server to be active, healthy, non-draining, got %+v", status)
	}
	if bl.Contains("srv1") {
		t.Fatal("expected recovered server to be removed from blacklist")
	}
}

func TestHealReplacesWhenStillUnhealthy(t *testing.T) {
	st := state.New(servers())
	host := &fakeHost{probeHealthy: false}
	sink := &fakeSink{}
	h := New(Config{RebootGrace: time.Millisecond}, st, host, sink, pickViaHeap)
	bl := NewBlacklist()

	failed, _ := st.Descriptor("srv1")
	pool := []domain.ServerDescriptor{{Name: "srv2", Address: "10.0.0.2", Cores: 4, MemoryGB: 8}}
	if err := h.Heal(context.Background(), bl, failed, pool); err != nil {
		t.Fatalf("Heal: %v", err)
	}

	failedStatus, _ := st.Status("srv1")
	if failedStatus.Active {
		t.Fatalf("expected failed server powered off, got %+v", failedStatus)
	}
	replacementStatus, _ := st.Status("srv2")
	if !replacementStatus.Active || !replacementStatus.Healthy {
		t.Fatalf("expected replacement activated, got %+v", replacementStatus)
	}
	if len(host.poweredOn) != 1 || host.poweredOn[0] != "srv2" {
		t.Fatalf("expected srv2 powered on, got %v", host.poweredOn)
	}
}

func TestHealRaisesAlertWhenNoReplacementAvailable(t *testing.T) {
	st := state.New(servers())
	host := &fakeHost{probeHealthy: false}
	sink := &fakeSink{}
	h := New(Config{RebootGrace: time.Millisecond}, st, host, sink, pickViaHeap)
	bl := NewBlacklist()

	failed, _ := st.Descriptor("srv1")
	err := h.Heal(context.Background(), bl, failed, nil)
	if err != domain.ErrNoHealthyReplacement {
		t.Fatalf("expected ErrNoHealthyReplacement, got %v", err)
	}
	found := false
	for _, m := range sink.messages {
		if m != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one alert raised")
	}
}
