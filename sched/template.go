package sched

import (
	"fmt"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/id"
)

// MaintenanceWindow is a daily wall-clock range during which a template's
// automatic firings are suppressed. Times are "HH:MM" in the given
// location; an end before the start wraps past midnight (22:00-02:00).
type MaintenanceWindow struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
}

// Validate checks the window's time syntax.
func (w *MaintenanceWindow) Validate() error {
	if _, err := parseClock(w.Start); err != nil {
		return fmt.Errorf("pulse: maintenance window start: %w", err)
	}
	if _, err := parseClock(w.End); err != nil {
		return fmt.Errorf("pulse: maintenance window end: %w", err)
	}
	if w.Location != "" {
		if _, err := time.LoadLocation(w.Location); err != nil {
			return fmt.Errorf("pulse: maintenance window location: %w", err)
		}
	}
	return nil
}

// Contains reports whether t falls inside the window. Start is inclusive,
// End exclusive.
func (w *MaintenanceWindow) Contains(t time.Time) bool {
	loc := time.UTC
	if w.Location != "" {
		if l, err := time.LoadLocation(w.Location); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}

	if start <= end {
		return minute >= start && minute < end
	}
	// Overnight wrap.
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return h*60 + m, nil
}

// Template is a registered recurring job definition. Each firing produces
// one durable job.
type Template struct {
	pulse.Entity

	ID       id.TemplateID `json:"id"`
	Name     string        `json:"name"`
	JobName  string        `json:"job_name"`
	Queue    string        `json:"queue"`
	Schedule string        `json:"schedule"`
	Payload  []byte        `json:"payload,omitempty"`
	Priority int           `json:"priority"`

	// Window, when set, suppresses automatic firings that land inside it.
	Window *MaintenanceWindow `json:"window,omitempty"`

	Enabled      bool       `json:"enabled"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	SkippedCount int64      `json:"skipped_count"`
}

// Status is the read-only view of one template exported by the scheduler's
// control surface.
type Status struct {
	ID           id.TemplateID `json:"id"`
	Name         string        `json:"name"`
	JobName      string        `json:"job_name"`
	Schedule     string        `json:"schedule"`
	Enabled      bool          `json:"enabled"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time    `json:"next_run_at,omitempty"`
	SkippedCount int64         `json:"skipped_count"`
}
