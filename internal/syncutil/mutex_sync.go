//go:build !deadlock

// Package syncutil provides the mutex types used by the session, correlator and
// monitor. Default builds use the standard library types; build with
// -tags=deadlock to get github.com/sasha-s/go-deadlock instead.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
//
//nolint:gocritic // embedding exposes the RWMutex method set directly
type RWMutex struct {
	sync.RWMutex
}
