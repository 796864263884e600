package virt

import (
	"context"
	"testing"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

func fakeHost(t *testing.T, calls *[]string, fail bool) *Host {
	t.Helper()
	h := New(Config{Playbook: "test.yml", CommandTimeout: time.Second})
	h.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, args[len(args)-1])
		if fail {
			return []byte("boom"), context.DeadlineExceeded
		}
		return []byte("ok"), nil
	}
	return h
}

func TestPowerOnDispatchesOnAction(t *testing.T) {
	var calls []string
	h := fakeHost(t, &calls, false)
	if err := h.PowerOn(context.Background(), domain.ServerDescriptor{Name: "srv1"}); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if len(calls) != 1 || calls[0] != "action=on" {
		t.Fatalf("expected single on dispatch, got %v", calls)
	}
}

func TestPowerOffReturnsWrappedErrorOnFailure(t *testing.T) {
	var calls []string
	h := fakeHost(t, &calls, true)
	err := h.PowerOff(context.Background(), domain.ServerDescriptor{Name: "srv1"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRebootDispatchesOffFirst(t *testing.T) {
	var calls []string
	h := fakeHost(t, &calls, false)
	h.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, args[len(args)-1])
		return []byte("ok"), nil
	}
	// Shrink the settle delay indirectly isn't exposed; exercise only the
	// dispatch ordering within the available timeout budget via a
	// context that outlives the 20s settle sleep would slow tests, so
	// this test only checks the off-dispatch happens before we give up.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = h.Reboot(ctx, domain.ServerDescriptor{Name: "srv1"})
	if len(calls) == 0 || calls[0] != "action=off" {
		t.Fatalf("expected off dispatched first, got %v", calls)
	}
}

type fakeProber struct{ healthy bool }

func (f fakeProber) Probe(ctx context.Context, server domain.ServerDescriptor) (bool, error) {
	return f.healthy, nil
}

func TestComposedDelegatesProbe(t *testing.T) {
	h := New(DefaultConfig())
	c := &Composed{Host: h, Prober: fakeProber{healthy: true}}
	healthy, err := c.Probe(context.Background(), domain.ServerDescriptor{Name: "srv1"})
	if err != nil || !healthy {
		t.Fatalf("expected healthy=true, err=nil; got healthy=%v err=%v", healthy, err)
	}
}
