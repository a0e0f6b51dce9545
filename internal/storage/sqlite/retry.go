package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/camcal/internal/timeutil"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is SQLite's "database is locked" error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusyWith runs fn until it succeeds, fails with a non-busy error, or
// busyMaxAttempts attempts have been made. The delay doubles after each busy
// attempt starting at busyBaseDelay.
func retryOnBusyWith(clock timeutil.Clock, fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 1; attempt <= busyMaxAttempts; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyMaxAttempts {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
