package systemd

import (
	"errors"
	"fmt"
	"testing"

	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

func TestTypeInterfaceFor(t *testing.T) {
	cases := map[string]string{
		"nginx.service":   "Service",
		"docker.socket":   "Socket",
		"home.mount":      "Mount",
		"dev-sda2.swap":   "Swap",
		"user-1000.slice": "Slice",
		"session-2.scope": "Scope",
		"cron.timer":      "",
		"boot.automount":  "",
		"noext":           "",
	}
	for name, want := range cases {
		require.Equal(t, want, typeInterfaceFor(name), "unit %s", name)
	}
}

func TestClassifyNoSuchUnit(t *testing.T) {
	c := &Client{}
	err := c.classify(godbus.Error{Name: dbusErrNoSuchUnit}, "gone.service")
	require.ErrorIs(t, err, ErrUnitNotFound)
	require.Contains(t, err.Error(), "gone.service")
}

func TestClassifyNotLoadedMessage(t *testing.T) {
	c := &Client{}
	err := c.classify(fmt.Errorf("Unit gone.service not loaded."), "gone.service")
	require.ErrorIs(t, err, ErrUnitNotFound)
}

func TestClassifyBusFailure(t *testing.T) {
	c := &Client{}
	err := c.classify(errors.New("connection closed"), "any.service")
	require.ErrorIs(t, err, ErrBusUnavailable)
}

func TestNumericCoercion(t *testing.T) {
	require.Equal(t, uint32(42), asUint32(uint32(42)))
	require.Equal(t, uint32(42), asUint32(int32(42)))
	require.Equal(t, uint32(0), asUint32(int32(-1)))
	require.Equal(t, uint32(0), asUint32("nope"))

	v, ok := asUint64(uint64(7))
	require.True(t, ok)
	require.Equal(t, uint64(7), v)

	_, ok = asUint64(int64(-1))
	require.False(t, ok)

	_, ok = asUint64(nil)
	require.False(t, ok)
}
