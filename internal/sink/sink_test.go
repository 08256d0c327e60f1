package sink

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeConn records writes and can be told to fail.
type fakeConn struct {
	net.Conn
	writes  [][]byte
	failing bool
	closed  bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.failing {
		return 0, errors.New("broken pipe")
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	c.writes = append(c.writes, buf)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestSendWritesRecord(t *testing.T) {
	conn := &fakeConn{}
	s := NewTelegraf("/tmp/ignored.sock")
	s.dial = func() (net.Conn, error) { return conn, nil }

	require.NoError(t, s.Send([]byte("m,unit=\"a\" f=1i 1\n")))
	require.Len(t, conn.writes, 1)

	// Second send reuses the connection.
	require.NoError(t, s.Send([]byte("m,unit=\"a\" f=2i 2\n")))
	require.Len(t, conn.writes, 2)
}

func TestSendReconnectsOnceOnWriteFailure(t *testing.T) {
	dead := &fakeConn{failing: true}
	fresh := &fakeConn{}
	conns := []net.Conn{dead, fresh}
	dials := 0

	s := NewTelegraf("/tmp/ignored.sock")
	s.dial = func() (net.Conn, error) {
		c := conns[dials]
		dials++
		return c, nil
	}

	require.NoError(t, s.Send([]byte("record\n")))
	require.Equal(t, 2, dials)
	require.True(t, dead.closed)
	require.Len(t, fresh.writes, 1)
}

func TestSendDropsAfterRetryFailure(t *testing.T) {
	dials := 0
	s := NewTelegraf("/tmp/ignored.sock")
	s.dial = func() (net.Conn, error) {
		dials++
		return &fakeConn{failing: true}, nil
	}

	err := s.Send([]byte("record\n"))
	require.Error(t, err)
	require.Equal(t, 2, dials, "exactly one reconnect attempt")

	// Sink stays usable afterwards.
	s.dial = func() (net.Conn, error) { return &fakeConn{}, nil }
	require.NoError(t, s.Send([]byte("record\n")))
}

func TestSendConnectFailure(t *testing.T) {
	s := NewTelegraf("/tmp/ignored.sock")
	s.dial = func() (net.Conn, error) { return nil, errors.New("no such socket") }

	require.Error(t, s.Send([]byte("record\n")))
}

func TestSendOverRealSocket(t *testing.T) {
	path := t.TempDir() + "/telegraf.sock"
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	s := NewTelegraf(path)
	defer s.Close()

	line := []byte("systemd_units,unit=\"a.service\" main_pid=1i 1\n")
	require.NoError(t, s.Send(line))
	require.Equal(t, line, <-received)
}
