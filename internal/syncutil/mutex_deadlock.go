//go:build deadlock

// Package syncutil provides the mutex types used by the session, correlator and
// monitor. This file is compiled when building with -tags=deadlock and swaps
// in github.com/sasha-s/go-deadlock so lock-order bugs in recovery paths show up
// in tests.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex wraps deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
