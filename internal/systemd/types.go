// Package systemd talks to the per-user systemd instance over the session
// D-Bus and exposes unit state as plain values. State strings are reported
// verbatim from the bus; they are not a closed set and are deliberately not
// modeled as enums.
package systemd

import "errors"

// PropertyUnset is the value systemd reports for accounting properties that
// are unavailable (accounting disabled, or the unit has no cgroup).
const PropertyUnset = ^uint64(0)

// UnitSnapshot is one unit's state as read from the bus.
type UnitSnapshot struct {
	Name          string
	ActiveState   string
	SubState      string
	LoadState     string
	UnitFileState string
	MainPID       uint32
	RestartCount  uint32
	MemoryCurrent uint64
	CPUUsageNSec  uint64
}

// EventKind classifies a unit change notification.
type EventKind string

const (
	EventStateChanged      EventKind = "state_changed"
	EventPropertiesChanged EventKind = "properties_changed"
	EventRemoved           EventKind = "removed"
)

// UnitEvent is one lifecycle or property-change notification.
type UnitEvent struct {
	Name string
	Kind EventKind
}

// Sentinel errors forming the gateway failure taxonomy. Both are transient
// from the monitor's point of view: BusUnavailable is retried at the next
// scheduled subscribe/poll, UnitNotFound is treated as absence.
var (
	ErrBusUnavailable = errors.New("session bus unavailable")
	ErrUnitNotFound   = errors.New("unit not found")
)
