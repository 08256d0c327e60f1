// Package identity resolves the session owner whose units are monitored.
package identity

import (
	"fmt"
	"os/user"
	"strconv"
)

// Session identifies the user session. It is resolved once at startup and
// attached as tags to every emitted metric.
type Session struct {
	Username string
	UID      int
}

// Resolve looks up the current process owner.
func Resolve() (Session, error) {
	u, err := user.Current()
	if err != nil {
		return Session{}, fmt.Errorf("resolve current user: %w", err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Session{}, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	return Session{Username: u.Username, UID: uid}, nil
}
