package db

import (
	"strings"

	"github.com/teranos/intake/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically while the server shuts down with workers still draining.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is gone. The driver
// returns its own error values, so the message is checked as a fallback.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
