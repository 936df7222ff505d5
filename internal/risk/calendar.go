package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// EconEvent is a scheduled economic release.
type EconEvent struct {
	Name        string
	ReleaseTime time.Time
}

// EconCalendar holds the day's scheduled events.
type EconCalendar struct {
	events []EconEvent
}

func NewEconCalendar(events []EconEvent) *EconCalendar {
	return &EconCalendar{events: events}
}

// Between returns the events with release times inside [start, end].
func (c *EconCalendar) Between(start, end time.Time) []EconEvent {
	var out []EconEvent
	for _, event := range c.events {
		if !event.ReleaseTime.Before(start) && !event.ReleaseTime.After(end) {
			out = append(out, event)
		}
	}
	return out
}

// Events returns all calendar entries.
func (c *EconCalendar) Events() []EconEvent {
	return c.events
}

// LoadCalendar reads a JSON array of {"name": ..., "time": RFC3339} entries.
// A missing file yields an empty calendar.
func LoadCalendar(path string) (*EconCalendar, error) {
	if path == "" {
		return NewEconCalendar(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewEconCalendar(nil), nil
		}
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	var entries []struct {
		Name string `json:"name"`
		Time string `json:"time"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	events := make([]EconEvent, 0, len(entries))
	for _, entry := range entries {
		release, err := time.Parse(time.RFC3339, entry.Time)
		if err != nil {
			return nil, fmt.Errorf("parse calendar time %q: %w", entry.Time, err)
		}
		events = append(events, EconEvent{Name: entry.Name, ReleaseTime: release})
	}
	return NewEconCalendar(events), nil
}

// HaltWindow is a labeled no-entry interval around a release.
type HaltWindow struct {
	Label string
	Start time.Time
	End   time.Time
}

// Scheduler answers halt-window queries for entry admission.
type Scheduler struct {
	windows []HaltWindow
}

func NewScheduler(windows []HaltWindow) *Scheduler {
	return &Scheduler{windows: windows}
}

// SchedulerFromCalendar pads every calendar event by ±paddingMinutes.
func SchedulerFromCalendar(calendar *EconCalendar, paddingMinutes int) *Scheduler {
	windows := make([]HaltWindow, 0, len(calendar.Events()))
	for _, event := range calendar.Events() {
		start, end := BuildWindow(event.ReleaseTime, paddingMinutes)
		windows = append(windows, HaltWindow{Label: event.Name, Start: start, End: end})
	}
	return NewScheduler(windows)
}

// IsHalted reports whether any window covers now (inclusive bounds).
func (s *Scheduler) IsHalted(now time.Time) bool {
	for _, window := range s.windows {
		if !now.Before(window.Start) && !now.After(window.End) {
			return true
		}
	}
	return false
}

// MinutesToNext returns whole minutes until the next window opens, or 10000
// when none remain.
func (s *Scheduler) MinutesToNext(now time.Time) int {
	future := make([]HaltWindow, 0, len(s.windows))
	for _, window := range s.windows {
		if window.Start.After(now) {
			future = append(future, window)
		}
	}
	if len(future) == 0 {
		return 10_000
	}
	sort.Slice(future, func(i, j int) bool { return future[i].Start.Before(future[j].Start) })
	minutes := int(future[0].Start.Sub(now).Minutes())
	if minutes < 0 {
		return 0
	}
	return minutes
}

// BuildWindow pads a release time symmetrically.
func BuildWindow(release time.Time, paddingMinutes int) (time.Time, time.Time) {
	pad := time.Duration(paddingMinutes) * time.Minute
	return release.Add(-pad), release.Add(pad)
}
