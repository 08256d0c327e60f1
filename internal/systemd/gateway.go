package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sd "github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"

	"git.home.luguber.info/inful/unitmon/internal/logfields"
)

const dbusErrNoSuchUnit = "org.freedesktop.systemd1.NoSuchUnit"

// Gateway is the read-only view of the session bus the engine consumes.
type Gateway interface {
	// ListUnits returns a snapshot of every currently loaded unit.
	ListUnits(ctx context.Context) ([]UnitSnapshot, error)
	// SubscribeEvents returns a stream of unit change notifications. The
	// channel is closed when the bus connection is lost; callers re-subscribe.
	SubscribeEvents(ctx context.Context) (<-chan UnitEvent, error)
	// UnitProperties reads the full current state of one unit.
	UnitProperties(ctx context.Context, name string) (UnitSnapshot, error)
	// Close releases the bus connection.
	Close()
}

// Client implements Gateway against the systemd user instance.
type Client struct {
	mu            sync.Mutex
	conn          *sd.Conn
	eventInterval time.Duration

	newConn func(ctx context.Context) (*sd.Conn, error)
}

// Option configures a Client.
type Option func(*Client)

// WithEventInterval overrides the unit change detection interval.
func WithEventInterval(d time.Duration) Option {
	return func(c *Client) { c.eventInterval = d }
}

// NewClient connects to the session bus of the calling user.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	c := &Client{
		eventInterval: time.Second,
		newConn:       sd.NewUserConnectionContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := c.connection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connection returns the live bus connection, dialing if needed.
func (c *Client) connection(ctx context.Context) (*sd.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.Connected() {
		return c.conn, nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	conn, err := c.newConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	c.conn = conn
	return conn, nil
}

// dropConnection discards a connection after a bus-level failure so the next
// call redials.
func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the bus connection.
func (c *Client) Close() {
	c.dropConnection()
}

// ListUnits returns a snapshot of every loaded unit. Units that vanish while
// their extended properties are being read are skipped, not failed.
func (c *Client) ListUnits(ctx context.Context) ([]UnitSnapshot, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := conn.ListUnitsContext(ctx)
	if err != nil {
		c.dropConnection()
		return nil, fmt.Errorf("%w: list units: %v", ErrBusUnavailable, err)
	}

	snapshots := make([]UnitSnapshot, 0, len(statuses))
	for _, st := range statuses {
		snap := UnitSnapshot{
			Name:          st.Name,
			ActiveState:   st.ActiveState,
			SubState:      st.SubState,
			LoadState:     st.LoadState,
			UnitFileState: "unknown",
			MemoryCurrent: PropertyUnset,
			CPUUsageNSec:  PropertyUnset,
		}
		if err := c.fillExtendedProperties(ctx, conn, &snap); err != nil {
			if errors.Is(err, ErrUnitNotFound) {
				slog.Debug("Unit vanished during list", logfields.Unit(st.Name))
				continue
			}
			slog.Debug("Extended properties unavailable", logfields.Unit(st.Name), logfields.Error(err))
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// UnitProperties reads the full current state of one unit.
func (c *Client) UnitProperties(ctx context.Context, name string) (UnitSnapshot, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return UnitSnapshot{}, err
	}

	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		return UnitSnapshot{}, c.classify(err, name)
	}

	snap := UnitSnapshot{
		Name:          name,
		ActiveState:   asString(props["ActiveState"]),
		SubState:      asString(props["SubState"]),
		LoadState:     asString(props["LoadState"]),
		UnitFileState: "unknown",
		MemoryCurrent: PropertyUnset,
		CPUUsageNSec:  PropertyUnset,
	}
	if s := asString(props["UnitFileState"]); s != "" {
		snap.UnitFileState = s
	}
	if err := c.fillExtendedProperties(ctx, conn, &snap); err != nil && !errors.Is(err, ErrUnitNotFound) {
		slog.Debug("Extended properties unavailable", logfields.Unit(name), logfields.Error(err))
	}
	return snap, nil
}

// fillExtendedProperties reads pid, restart count and resource accounting
// from the unit's type-specific interface. Only cgroup-backed unit types
// carry accounting; others keep the unset sentinel.
func (c *Client) fillExtendedProperties(ctx context.Context, conn *sd.Conn, snap *UnitSnapshot) error {
	unitType := typeInterfaceFor(snap.Name)
	if unitType == "" {
		return nil
	}
	if snap.UnitFileState == "unknown" {
		if ufs, err := conn.GetUnitPropertyContext(ctx, snap.Name, "UnitFileState"); err == nil {
			if s, ok := ufs.Value.Value().(string); ok && s != "" {
				snap.UnitFileState = s
			}
		}
	}
	props, err := conn.GetUnitTypePropertiesContext(ctx, snap.Name, unitType)
	if err != nil {
		return c.classify(err, snap.Name)
	}
	if unitType == "Service" {
		snap.MainPID = asUint32(props["MainPID"])
		snap.RestartCount = asUint32(props["NRestarts"])
	}
	if v, ok := asUint64(props["MemoryCurrent"]); ok {
		snap.MemoryCurrent = v
	}
	if v, ok := asUint64(props["CPUUsageNSec"]); ok {
		snap.CPUUsageNSec = v
	}
	return nil
}

// SubscribeEvents starts change detection on the bus and adapts it to a
// stream of UnitEvents. The returned channel closes on bus failure.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan UnitEvent, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Subscribe(); err != nil {
		c.dropConnection()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrBusUnavailable, err)
	}

	changes, errs := conn.SubscribeUnitsCustom(c.eventInterval, 16,
		func(a, b *sd.UnitStatus) bool { return *a != *b },
		nil)

	out := make(chan UnitEvent, 16)
	go c.forwardEvents(ctx, changes, errs, out)
	return out, nil
}

// forwardEvents converts raw unit status deltas into typed events. It keeps
// the last observed active/sub state per unit to distinguish state
// transitions from property-only changes.
func (c *Client) forwardEvents(ctx context.Context, changes <-chan map[string]*sd.UnitStatus, errs <-chan error, out chan<- UnitEvent) {
	defer close(out)
	lastState := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			slog.Warn("Unit subscription failed", logfields.Error(err))
			c.dropConnection()
			return
		case delta, ok := <-changes:
			if !ok {
				return
			}
			for name, status := range delta {
				ev := UnitEvent{Name: name}
				switch {
				case status == nil:
					ev.Kind = EventRemoved
					delete(lastState, name)
				case lastState[name] != status.ActiveState+"/"+status.SubState:
					ev.Kind = EventStateChanged
					lastState[name] = status.ActiveState + "/" + status.SubState
				default:
					ev.Kind = EventPropertiesChanged
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// classify maps a D-Bus error to the gateway taxonomy.
func (c *Client) classify(err error, unit string) error {
	var dbusErr godbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == dbusErrNoSuchUnit {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unit)
	}
	if strings.Contains(err.Error(), "not loaded") {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unit)
	}
	c.dropConnection()
	return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
}

// typeInterfaceFor maps a unit name to its systemd type interface suffix.
// Only types with cgroup-backed resource accounting are listed.
func typeInterfaceFor(name string) string {
	switch strings.TrimPrefix(filepath.Ext(name), ".") {
	case "service":
		return "Service"
	case "socket":
		return "Socket"
	case "mount":
		return "Mount"
	case "swap":
		return "Swap"
	case "slice":
		return "Slice"
	case "scope":
		return "Scope"
	default:
		return ""
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asUint32(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int32:
		if n < 0 {
			return 0
		}
		return uint32(n)
	case uint64:
		return uint32(n)
	default:
		return 0
	}
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint32:
		return uint64(n), true
	default:
		return 0, false
	}
}
