// Package alerts implements the operator-facing alert ledger: a bounded,
// age-capped, append-at-front log of events raised by either control
// loop.
package alerts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dslb-eesm/controlplane/internal/domain"
	"github.com/dslb-eesm/controlplane/internal/observability"
)

// Category groups an alert by the subsystem that raised it.
type Category string

const (
	CategoryServerPower        Category = "server-power"
	CategoryServerHealth       Category = "server-health"
	CategoryModel              Category = "model"
	CategoryDraining           Category = "draining"
	CategoryResourceThreshold  Category = "resource-threshold"
	CategorySystemTelemetry    Category = "system-telemetry"
	CategoryNetworkPath        Category = "network-path"
)

// Severity ranks how urgently an alert needs operator attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeveritySuccess  Severity = "success"
	SeverityInfo     Severity = "info"
)

var validCategories = map[Category]bool{
	CategoryServerPower: true, CategoryServerHealth: true, CategoryModel: true,
	CategoryDraining: true, CategoryResourceThreshold: true,
	CategorySystemTelemetry: true, CategoryNetworkPath: true,
}

var validSeverities = map[Severity]bool{
	SeverityCritical: true, SeverityWarning: true, SeveritySuccess: true, SeverityInfo: true,
}

// Alert is a single ledger entry.
type Alert struct {
	ID             string            `json:"id"`
	Category       Category          `json:"category"`
	Severity       Severity          `json:"severity"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Fields         map[string]string `json:"fields,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Acknowledged   bool              `json:"acknowledged"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
}

const (
	defaultMaxEntries = 100
	defaultMaxAge     = 24 * time.Hour
)

// Ledger holds alerts in memory and mirrors them to a JSON file on disk.
// One goroutine at a time may call Raise; reads are safe from any
// goroutine.
type Ledger struct {
	mu         sync.Mutex
	entries    []Alert
	path       string
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
}

// New creates a Ledger that persists to path. Pass maxEntries<=0 or
// maxAge<=0 to fall back to the 100-entry / 24-hour defaults.
func New(path string, maxEntries int, maxAge time.Duration) *Ledger {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Ledger{path: path, maxEntries: maxEntries, maxAge: maxAge, now: time.Now}
}

// Load restores a previously persisted ledger from disk. A missing file
// is not an error — the ledger simply starts empty.
func (l *Ledger) Load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []Alert
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	l.pruneLocked()
	return nil
}

// Raise records a new alert at the front of the ledger and persists it.
// An unknown category is coerced to "system-telemetry" and an unknown
// severity to "info" rather than dropping the alert — a malformed
// alert is still worth surfacing.
func (l *Ledger) Raise(category, severity, title, message string, fields map[string]string) {
	cat := Category(category)
	if !validCategories[cat] {
		cat = CategorySystemTelemetry
	}
	sev := Severity(severity)
	if !validSeverities[sev] {
		sev = SeverityInfo
	}
	observability.AlertsRaised.WithLabelValues(string(cat), string(sev)).Inc()
	l.raise(Alert{
		ID:        uuid.NewString()[:8],
		Category:  cat,
		Severity:  sev,
		Title:     title,
		Message:   message,
		Fields:    fields,
		Timestamp: l.now(),
	})
}

func (l *Ledger) raise(a Alert) {
	l.mu.Lock()
	l.entries = append([]Alert{a}, l.entries...)
	l.pruneLocked()
	snapshot := make([]Alert, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	_ = l.persist(snapshot) // best-effort; an unwritten alert is still visible in memory
}

// pruneLocked drops entries beyond maxEntries and entries older than
// maxAge. Caller must hold mu.
func (l *Ledger) pruneLocked() {
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[:l.maxEntries]
	}
	cutoff := l.now().Add(-l.maxAge)
	kept := l.entries[:0:0]
	for _, a := range l.entries {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	l.entries = kept
}

// persist writes the ledger to disk atomically (write-temp, rename),
// matching the publish discipline used for the path-weight artefact.
func (l *Ledger) persist(entries []Alert) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".alerts-*.tmp")
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
	return os.Rename(tmpName, l.path)
}

// Recent returns up to n of the most recent alerts, newest first. n<=0
// returns everything retained.
func (l *Ledger) Recent(n int) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Alert, n)
	copy(out, l.entries[:n])
	return out
}

// ByCategory returns retained alerts in the named category, newest first.
func (l *Ledger) ByCategory(cat Category) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Alert
	for _, a := range l.entries {
		if a.Category == cat {
			out = append(out, a)
		}
	}
	return out
}

// Filter narrows List's results. A nil Category/Severity means "don't
// filter on this dimension"; ExcludeAcknowledged drops already-
// acknowledged alerts (default: include them, matching get_alerts'
// include_acknowledged=True default). Limit<=0 means no limit.
type Filter struct {
	Category            *Category
	Severity            *Severity
	ExcludeAcknowledged bool
	Limit               int
}

// List returns retained alerts matching filter, newest first. With a
// zero-value Filter this is equivalent to Recent(0).
func (l *Ledger) List(filter Filter) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Alert
	for _, a := range l.entries {
		if filter.Category != nil && a.Category != *filter.Category {
			continue
		}
		if filter.Severity != nil && a.Severity != *filter.Severity {
			continue
		}
		if filter.ExcludeAcknowledged && a.Acknowledged {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Acknowledge marks the alert with the given id as acknowledged and
// persists the change. It reports whether a matching alert was found.
func (l *Ledger) Acknowledge(id string) bool {
	l.mu.Lock()
	found := false
	for i, a := range l.entries {
		if a.ID == id {
			now := l.now()
			l.entries[i].Acknowledged = true
			l.entries[i].AcknowledgedAt = &now
			found = true
			break
		}
	}
	if !found {
		l.mu.Unlock()
		return false
	}
	snapshot := make([]Alert, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()
	_ = l.persist(snapshot)
	return true
}

// Delete removes the alert with the given id and persists the change.
// It reports whether a matching alert was found.
func (l *Ledger) Delete(id string) bool {
	l.mu.Lock()
	before := len(l.entries)
	kept := l.entries[:0:0]
	for _, a := range l.entries {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	l.entries = kept
	if len(l.entries) == before {
		l.mu.Unlock()
		return false
	}
	snapshot := make([]Alert, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()
	_ = l.persist(snapshot)
	return true
}

// Clear removes every retained alert and persists the empty ledger,
// returning the number of alerts that were cleared.
func (l *Ledger) Clear() int {
	l.mu.Lock()
	n := len(l.entries)
	l.entries = nil
	l.mu.Unlock()
	_ = l.persist(nil)
	return n
}

// Counts summarizes the ledger by severity plus a total and an
// unacknowledged count, for a single-glance operator view.
type Counts struct {
	Total          int `json:"total"`
	Critical       int `json:"critical"`
	Warning        int `json:"warning"`
	Success        int `json:"success"`
	Info           int `json:"info"`
	Unacknowledged int `json:"unacknowledged"`
}

// Counts tallies the current ledger contents.
func (l *Ledger) Counts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	var c Counts
	c.Total = len(l.entries)
	for _, a := range l.entries {
		switch a.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityWarning:
			c.Warning++
		case SeveritySuccess:
			c.Success++
		case SeverityInfo:
			c.Info++
		}
		if !a.Acknowledged {
			c.Unacknowledged++
		}
	}
	return c
}

var _ domain.AlertSink = (*Ledger)(nil)
