// Package sink delivers encoded metric records to the local Telegraf socket.
package sink

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"git.home.luguber.info/inful/unitmon/internal/logfields"
)

// Sink accepts encoded records for best-effort delivery.
type Sink interface {
	Send(record []byte) error
	Close() error
}

// Telegraf writes records to a unix-domain stream socket. Delivery is
// best-effort: a failed write triggers exactly one reconnect and retry,
// after which the record is dropped. The caller is never blocked beyond
// that single retry.
type Telegraf struct {
	path        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn

	dial func() (net.Conn, error)
}

// NewTelegraf creates a sink for the given socket path. The socket is dialed
// lazily on first send, so a not-yet-running Telegraf does not block startup.
func NewTelegraf(path string) *Telegraf {
	s := &Telegraf{
		path:        path,
		dialTimeout: 5 * time.Second,
	}
	s.dial = func() (net.Conn, error) {
		return net.DialTimeout("unix", s.path, s.dialTimeout)
	}
	return s
}

// Send writes one record. On write failure it reconnects and retries once;
// a second failure drops the record and returns the error for logging.
func (s *Telegraf) Send(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
	}

	if _, err := s.conn.Write(record); err != nil {
		slog.Debug("Write failed, reconnecting", logfields.Socket(s.path), logfields.Error(err))
		s.closeLocked()
		if err := s.connectLocked(); err != nil {
			return err
		}
		if _, err := s.conn.Write(record); err != nil {
			s.closeLocked()
			return fmt.Errorf("write to %s after reconnect: %w", s.path, err)
		}
	}
	return nil
}

// Close releases the socket connection.
func (s *Telegraf) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Telegraf) connectLocked() error {
	conn, err := s.dial()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.path, err)
	}
	s.conn = conn
	return nil
}

func (s *Telegraf) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
