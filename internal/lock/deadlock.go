//go:build deadlock

package lock

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	// clone of a large repository can legitimately hold the write lock
	// for a few minutes
	deadlock.Opts.DeadlockTimeout = 10 * time.Minute
}

// Mutex is a mutual exclusion lock
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock
type RWMutex struct {
	deadlock.RWMutex
}
