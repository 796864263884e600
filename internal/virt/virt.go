// Package virt dispatches power-control commands — power-on, power-off,
// reboot — against the hypervisor managing the backend fleet's VMs.
package virt

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// Config controls the command dispatcher.
type Config struct {
	Playbook       string        // path to the Ansible playbook invoked for each action
	CommandTimeout time.Duration // per-call timeout
}

// DefaultConfig returns conservative defaults: a 30s timeout, matching
// the reboot sequence's own 15s grace plus margin for the playbook's
// connection setup.
func DefaultConfig() Config {
	return Config{Playbook: "manage-server-power.yml", CommandTimeout: 30 * time.Second}
}

// Host dispatches power-control commands through an Ansible playbook
// invoked via os/exec, one process per call, with per-call timeout and
// result logging.
type Host struct {
	cfg Config
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates a Host using the real os/exec runner.
func New(cfg Config) *Host {
	return &Host{cfg: cfg, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func (h *Host) dispatch(ctx context.Context, action string, server domain.ServerDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CommandTimeout)
	defer cancel()

	out, err := h.run(ctx, "ansible-playbook", h.cfg.Playbook,
		"-e", fmt.Sprintf("target=%s", server.Name),
		"-e", fmt.Sprintf("action=%s", action))

	log.Printf("[virt] %s server=%s output=%q err=%v", action, server.Name, bytes.TrimSpace(out), err)
	return err
}

// PowerOn boots server.
func (h *Host) PowerOn(ctx context.Context, server domain.ServerDescriptor) error {
	if err := h.dispatch(ctx, "on", server); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPowerOnFailed, server.Name, err)
	}
	return nil
}

// PowerOff shuts server down.
func (h *Host) PowerOff(ctx context.Context, server domain.ServerDescriptor) error {
	if err := h.dispatch(ctx, "off", server); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPowerOffFailed, server.Name, err)
	}
	return nil
}

// Reboot power-cycles server: off, a fixed settle delay, then on —
// the original's "restart = off; sleep 20s; on" sequence.
func (h *Host) Reboot(ctx context.Context, server domain.ServerDescriptor) error {
	if err := h.dispatch(ctx, "off", server); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRebootFailed, server.Name, err)
	}
	select {
	case <-time.After(20 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := h.dispatch(ctx, "on", server); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRebootFailed, server.Name, err)
	}
	return nil
}

// prober is the narrow reachability check Host composes with to
// satisfy domain.VirtHost in full — power control and health probing
// are separate concerns with separate transports (exec vs. HTTP), but
// the healing state machine wants a single collaborator.
type prober interface {
	Probe(ctx context.Context, server domain.ServerDescriptor) (bool, error)
}

// Composed pairs a power-control Host with an HTTP reachability
// prober, together satisfying domain.VirtHost.
type Composed struct {
	*Host
	Prober prober
}

// Probe delegates to the composed prober.
func (c *Composed) Probe(ctx context.Context, server domain.ServerDescriptor) (bool, error) {
	return c.Prober.Probe(ctx, server)
}

var _ domain.VirtHost = (*Composed)(nil)
