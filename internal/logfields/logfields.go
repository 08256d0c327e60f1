package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyUnit        = "unit"
	KeyActiveState = "active_state"
	KeyKind        = "event_kind"
	KeyUnits       = "units"
	KeySocket      = "socket"
	KeyInterval    = "interval"
	KeyDurationMS  = "duration_ms"
	KeyPattern     = "pattern"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Unit(name string) slog.Attr      { return slog.String(KeyUnit, name) }
func ActiveState(s string) slog.Attr  { return slog.String(KeyActiveState, s) }
func EventKind(k string) slog.Attr    { return slog.String(KeyKind, k) }
func Units(n int) slog.Attr           { return slog.Int(KeyUnits, n) }
func Socket(path string) slog.Attr    { return slog.String(KeySocket, path) }
func Interval(s string) slog.Attr     { return slog.String(KeyInterval, s) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Pattern(p string) slog.Attr      { return slog.String(KeyPattern, p) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
