// Package state owns the authoritative in-memory ServerStatus table for
// the backend fleet and its publication to disk for external consumers
// (monitoring dashboards, the SDN host's status-sync step).
package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

// Store is the single mutex-guarded owner of every server's runtime
// status. All mutation goes through its methods so the invariants of
// domain.ServerStatus — draining implies active, and the active
// non-draining set stays non-empty unless every server is unhealthy —
// are enforced in one place.
type Store struct {
	mu          sync.Mutex
	descriptors map[string]domain.ServerDescriptor
	status      map[string]domain.ServerStatus
	now         func() time.Time
}

// New creates a Store seeded from the configured inventory. Every
// server starts active, non-draining, and healthy — the daemon's first
// scaling tick reconciles this against live telemetry.
func New(servers []domain.ServerDescriptor) *Store {
	s := &Store{
		descriptors: make(map[string]domain.ServerDescriptor, len(servers)),
		status:      make(map[string]domain.ServerStatus, len(servers)),
		now:         time.Now,
	}
	for _, d := range servers {
		s.descriptors[d.Name] = d
		s.status[d.Name] = domain.ServerStatus{Name: d.Name, IP: d.Address, Active: true, Draining: false, Healthy: true}
	}
	return s
}

// Descriptor returns the static descriptor for name.
func (s *Store) Descriptor(name string) (domain.ServerDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[name]
	return d, ok
}

// Descriptors returns every configured server descriptor, sorted by
// name — callers that need tier-rank iteration sort explicitly.
func (s *Store) Descriptors() []domain.ServerDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ServerDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status returns the current status of name.
func (s *Store) Status(name string) (domain.ServerStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	return st, ok
}

// All returns every server's status, sorted by name for deterministic
// output.
func (s *Store) All() []domain.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ServerStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveServing returns servers that are active and not draining — the
// set DWRS selects across and the scaling loop samples load from.
func (s *Store) ActiveServing() []domain.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ServerStatus
	for _, st := range s.status {
		if st.Active && !st.Draining {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// activeServingCountLocked counts the active-non-draining set. Caller
// must hold mu.
func (s *Store) activeServingCountLocked(excluding string) int {
	n := 0
	for name, st := range s.status {
		if name == excluding {
			continue
		}
		if st.Active && !st.Draining {
			n++
		}
	}
	return n
}

// anyHealthyLocked reports whether any server other than excluding is
// healthy. Caller must hold mu.
func (s *Store) anyHealthyLocked(excluding string) bool {
	for name, st := range s.status {
		if name == excluding {
			continue
		}
		if st.Healthy {
			return true
		}
	}
	return false
}

// BeginDrain marks name as draining in preparation for power-off. It
// refuses to drain the last remaining active-non-draining server,
// unless there are other servers and every one of them is unhealthy —
// in that degraded case the
// scaling loop has no better option and the refusal would just stall
// forever.
func (s *Store) BeginDrain(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		return domain.ErrUnknownServer
	}
	if !st.Active {
		return domain.ErrServerNotActive
	}
	if st.Draining {
		return domain.ErrServerAlreadyDraining
	}
	if s.activeServingCountLocked(name) == 0 && (len(s.status) == 1 || s.anyHealthyLocked(name)) {
		return domain.ErrLastServerStanding
	}
	st.Draining = true
	s.status[name] = st
	return nil
}

// CompleteDrain transitions a drained server to powered off
// (inactive, non-draining).
func (s *Store) CompleteDrain(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		return domain.ErrUnknownServer
	}
	st.Active = false
	st.Draining = false
	s.status[name] = st
	return nil
}

// Activate marks a powered-on server active and non-draining.
func (s *Store) Activate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		return domain.ErrUnknownServer
	}
	st.Active = true
	st.Draining = false
	s.status[name] = st
	return nil
}

// SetHealthy records a health-probe result. Marking a server unhealthy
// does not by itself change Active/Draining — the healing state
// machine in internal/heal drives that transition explicitly so the
// last-server-standing guard is always evaluated by BeginDrain.
func (s *Store) SetHealthy(name string, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		return domain.ErrUnknownServer
	}
	st.Healthy = healthy
	s.status[name] = st
	return nil
}

// snapshotDoc is the on-disk shape of a published status snapshot.
type snapshotDoc struct {
	TimestampUnix int64                 `json:"timestamp_unix"`
	Servers       []domain.ServerStatus `json:"servers"`
}

// Publish writes the current status table to path atomically
// (write-temp-then-rename) and, if copier is non-nil, ships the file
// to remoteHost/remotePath — the status-sync step of the healing
// sequence. A remote-copy failure is reported to the caller so it can
// raise an alert, but does not unwind the local write.
func (s *Store) Publish(ctx context.Context, path string, copier domain.Copier, remoteHost, remotePath string) error {
	doc := snapshotDoc{TimestampUnix: s.now().Unix(), Servers: s.All()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if copier == nil {
		return nil
	}
	return copier.Copy(ctx, path, remoteHost, remotePath)
}
