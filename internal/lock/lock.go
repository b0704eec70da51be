//go:build !deadlock

// Package lock provides the mutex types used across the module.
// Build with `-tags deadlock` to swap them for go-deadlock implementations
// which report lock ordering problems and long held locks.
package lock

import "sync"

// Mutex is a mutual exclusion lock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock
type RWMutex struct {
	sync.RWMutex
}
