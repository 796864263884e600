// Package heal implements the health/heal/replace sequence: a server
// failing its probe is marked draining and unhealthy and blacklisted
// from new selection, rebooted, re-probed after a grace period, and
// either recovered or powered off and substituted by a healthy
// replacement of at least its own capacity.
//
// This mirrors a cluster membership failure detector's probe/ack/
// suspect/dead state progression — adapted here from continuous
// gossip-style suspicion to a single-shot reboot-and-reprobe cycle,
// since a backend server's failure mode is "stuck, needs a power
// cycle" rather than "unreachable, may still be alive elsewhere".
package heal

import (
	"context"
	"fmt"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/state"
)

// ReplacementPicker selects a substitute for a failed server from a
// pool of inactive candidates, preferring an exact capacity match and
// otherwise the smallest capacity meeting or exceeding the failed
// server's own. Satisfied by scaling.NewCandidateHeap(pool).PickReplacement
// — injected rather than imported directly so internal/heal does not
// depend on internal/scaling, which depends on internal/heal for the
// tick loop's Phase C.
type ReplacementPicker func(failed domain.Capacity, pool []domain.ServerDescriptor) (domain.ServerDescriptor, bool)

// Config controls the healing sequence's timing and where it mirrors
// ServerRuntimeState after each mutating step.
type Config struct {
	RebootGrace time.Duration // wait after reboot before re-probing

	StatusPath       string // local path state.Store publishes server status to
	Copier           domain.Copier
	RemoteHost       string
	RemoteStatusPath string
}

// DefaultConfig waits the 15-second grace period spec.md names.
func DefaultConfig() Config {
	return Config{RebootGrace: 15 * time.Second}
}

// Healer drives one server through the health/heal/replace sequence.
type Healer struct {
	cfg    Config
	store  *state.Store
	host   domain.VirtHost
	alerts domain.AlertSink
	pick   ReplacementPicker
	now    func() time.Time
}

// New creates a Healer. pick selects a replacement candidate during
// the replace() step — see ReplacementPicker.
func New(cfg Config, store *state.Store, host domain.VirtHost, alerts domain.AlertSink, pick ReplacementPicker) *Healer {
	if cfg.RebootGrace <= 0 {
		cfg.RebootGrace = 15 * time.Second
	}
	return &Healer{cfg: cfg, store: store, host: host, alerts: alerts, pick: pick, now: time.Now}
}

// publish mirrors the current status table after a mutating step. A
// blank StatusPath (e.g. in a unit test) is treated as "no mirroring
// configured" rather than an error.
func (h *Healer) publish(ctx context.Context) {
	if h.cfg.StatusPath == "" {
		return
	}
	if err := h.store.Publish(ctx, h.cfg.StatusPath, h.cfg.Copier, h.cfg.RemoteHost, h.cfg.RemoteStatusPath); err != nil {
		h.alerts.Raise("draining", "warning", "Status mirror failed", fmt.Sprintf("status mirror failed during heal sequence: %v", err), nil)
	}
}

// Blacklist tracks servers currently excluded from DWRS selection
// because they failed a health probe. It is intentionally simple — a
// server is either blacklisted or not, with no TTL. Heal clears an
// entry only when the re-probe after reboot succeeds; a server that is
// replaced, or for which no replacement exists, stays blacklisted.
type Blacklist struct {
	names map[string]bool
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist { return &Blacklist{names: make(map[string]bool)} }

// Add blacklists name.
func (b *Blacklist) Add(name string) { b.names[name] = true }

// Remove clears name from the blacklist.
func (b *Blacklist) Remove(name string) { delete(b.names, name) }

// Contains reports whether name is currently blacklisted.
func (b *Blacklist) Contains(name string) bool { return b.names[name] }

// Heal runs the full sequence for a server that just failed its probe:
//
//  1. mark draining, unhealthy, and blacklisted
//  2. reboot
//  3. wait the reboot grace period
//  4. re-probe
//  5. if healthy: mark healthy and active, clear the blacklist entry
//  6. if still unhealthy: power off, find a replacement by exact-then-
//     smallest-sufficient capacity, power it on (or alert if none exists)
func (h *Healer) Heal(ctx context.Context, blacklist *Blacklist, failed domain.ServerDescriptor, replacementPool []domain.ServerDescriptor) error {
	_ = h.store.BeginDrain(failed.Name) // best-effort: CompleteDrain/replace force the final state regardless
	_ = h.store.SetHealthy(failed.Name, false)
	blacklist.Add(failed.Name)
	h.alerts.Raise("server-health", "critical", "Failover initiated", fmt.Sprintf("server %s failed health probe, beginning heal sequence", failed.Name), map[string]string{"server": failed.Name})
	h.publish(ctx)

	if err := h.host.Reboot(ctx, failed); err != nil {
		h.alerts.Raise("server-power", "critical", "Reboot failed", fmt.Sprintf("reboot failed for %s: %v", failed.Name, err), map[string]string{"server": failed.Name})
		return h.replace(ctx, blacklist, failed, replacementPool)
	}

	select {
	case <-time.After(h.cfg.RebootGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	healthy, err := h.host.Probe(ctx, failed)
	if err != nil {
		healthy = false
	}

	if healthy {
		_ = h.store.SetHealthy(failed.Name, true)
		_ = h.store.Activate(failed.Name)
		blacklist.Remove(failed.Name)
		h.alerts.Raise("server-health", "success", "Server recovered", fmt.Sprintf("server %s recovered after reboot", failed.Name), map[string]string{"server": failed.Name})
		h.publish(ctx)
		return nil
	}

	return h.replace(ctx, blacklist, failed, replacementPool)
}

// replace powers off the failed server and finds a healthy substitute
// of at least its capacity. If no candidate exists, it raises a
// no-replacement alert — the fleet runs short a server until the
// operator intervenes.
func (h *Healer) replace(ctx context.Context, blacklist *Blacklist, failed domain.ServerDescriptor, pool []domain.ServerDescriptor) error {
	if err := h.host.PowerOff(ctx, failed); err != nil {
		h.alerts.Raise("server-power", "critical", "Power-off failed", fmt.Sprintf("power-off failed for %s: %v", failed.Name, err), map[string]string{"server": failed.Name})
	}
	_ = h.store.CompleteDrain(failed.Name)

	replacement, ok := h.pick(failed.Cap(), pool)
	if !ok {
		h.alerts.Raise("server-health", "critical", "No replacement available", fmt.Sprintf("no healthy replacement available for failed server %s", failed.Name), map[string]string{"server": failed.Name})
		return domain.ErrNoHealthyReplacement
	}

	if err := h.host.PowerOn(ctx, replacement); err != nil {
		h.alerts.Raise("server-power", "critical", "Power-on failed", fmt.Sprintf("power-on failed for replacement %s: %v", replacement.Name, err), map[string]string{"server": replacement.Name})
		return err
	}
	_ = h.store.Activate(replacement.Name)
	_ = h.store.SetHealthy(replacement.Name, true)
	h.alerts.Raise("server-health", "success", "Failover complete", fmt.Sprintf("server %s replaced by %s", failed.Name, replacement.Name), map[string]string{"failed": failed.Name, "replacement": replacement.Name})
	h.publish(ctx)
	return nil
}
