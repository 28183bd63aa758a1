// Copyright 2026 The HiDock Next Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package monitor keeps a long-lived HiDock session healthy in the
// background. It pings the device on an interval, runs recovery when the
// ping fails, and reports transitions through callbacks. Callers pause it
// around bulk transfers so pings never compete with a download.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sgeraldes/hidock-next-sub003"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

// Target is the device surface the monitor drives. *jensen.Device satisfies it.
type Target interface {
	// Ping runs a short health check.
	Ping(ctx context.Context) error
	// Recover reopens the device; it returns jensen.ErrDeviceUnrecoverable
	// once its attempt budget is spent.
	Recover(ctx context.Context) error
}

// Metrics counts monitor activity.
type Metrics struct {
	LastCheck      time.Time
	LastError      error
	Checks         int64
	Failures       int64
	Recoveries     int64
	SleepsDetected int64
}

// Monitor runs periodic health checks against one device.
type Monitor struct {
	onUnhealthy func(err error)
	onRecovered func()
	onLost      func(err error)
	target      Target
	config      *Config
	pauseChan   chan struct{}
	resumeChan  chan struct{}
	ackChan     chan struct{}
	now         func() time.Time
	lastCheck   time.Time
	metrics     Metrics
	mu          syncutil.RWMutex
	running     atomic.Bool
	isPaused    atomic.Bool
	unhealthy   atomic.Bool
}

// New creates a monitor for target. A nil config uses DefaultConfig.
func New(target Target, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Monitor{
		target:     target,
		config:     config,
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
		now:        time.Now,
	}
}

// SetOnUnhealthy sets the callback fired when a ping first fails.
func (m *Monitor) SetOnUnhealthy(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnhealthy = callback
}

// SetOnRecovered sets the callback fired when an unhealthy device answers again.
func (m *Monitor) SetOnRecovered(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovered = callback
}

// SetOnLost sets the callback fired when recovery gives up.
func (m *Monitor) SetOnLost(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = callback
}

// Healthy reports whether the last check succeeded.
func (m *Monitor) Healthy() bool {
	return !m.unhealthy.Load()
}

// Metrics returns a snapshot of the monitor counters.
func (m *Monitor) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Start runs the check loop until ctx ends or the device is lost. It returns
// ctx.Err() on cancellation and an error wrapping
// jensen.ErrDeviceUnrecoverable when recovery gives up.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor already running")
	}
	defer m.running.Store(false)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	m.lastCheck = m.now()

	for {
		if err := m.handleContextAndPause(ctx); err != nil {
			return err
		}
		if err := m.check(ctx); err != nil {
			return err
		}
		if err := m.waitForNextCheckOrPause(ctx, ticker); err != nil {
			return err
		}
	}
}

// Pause stops health checks until Resume. A check already in flight completes.
func (m *Monitor) Pause() {
	if m.isPaused.CompareAndSwap(false, true) {
		select {
		case m.pauseChan <- struct{}{}:
		default:
		}
	}
}

// PauseWithAck pauses and waits briefly for the loop to acknowledge, so the
// caller knows no ping is about to start.
func (m *Monitor) PauseWithAck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !m.isPaused.CompareAndSwap(false, true) {
		return nil
	}

	select {
	case m.pauseChan <- struct{}{}:
	default:
		return nil
	}
	if !m.running.Load() {
		return nil
	}

	ackTimeout := time.NewTimer(m.config.Interval + 100*time.Millisecond)
	defer ackTimeout.Stop()
	select {
	case <-m.ackChan:
		return nil
	case <-ackTimeout.C:
		return nil
	case <-ctx.Done():
		m.isPaused.Store(false)
		return ctx.Err()
	}
}

// Resume restarts health checks after a pause
func (m *Monitor) Resume() {
	if m.isPaused.CompareAndSwap(true, false) {
		select {
		case m.resumeChan <- struct{}{}:
		default:
		}
	}
}

// Paused reports whether the monitor is paused.
func (m *Monitor) Paused() bool {
	return m.isPaused.Load()
}

// check runs one ping and, when it fails, one round of recovery.
func (m *Monitor) check(ctx context.Context) error {
	now := m.now()
	elapsed := now.Sub(m.lastCheck)
	woke := m.config.SleepRecovery.DetectSleep(elapsed, m.config.Interval)
	m.lastCheck = now
	if woke {
		jensen.Debugf("monitor: time jump of %v, assuming host sleep", elapsed)
		m.update(func(mt *Metrics) { mt.SleepsDetected++ })
	}

	err := m.target.Ping(ctx)
	m.update(func(mt *Metrics) {
		mt.Checks++
		mt.LastCheck = now
		mt.LastError = err
		if err != nil {
			mt.Failures++
		}
	})
	if err == nil {
		if m.unhealthy.CompareAndSwap(true, false) {
			m.fireRecovered()
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if m.unhealthy.CompareAndSwap(false, true) {
		jensen.Log().Warn().Err(err).Msg("device unhealthy")
		m.fireUnhealthy(err)
	}
	return m.recover(ctx, woke)
}

// recover makes one attempt per tick, or up to MaxRecoveryAttempts with
// backoff right after a wake.
func (m *Monitor) recover(ctx context.Context, woke bool) error {
	attempts := 1
	if woke && m.config.SleepRecovery.MaxRecoveryAttempts > 1 {
		attempts = m.config.SleepRecovery.MaxRecoveryAttempts
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.config.SleepRecovery.RecoveryBackoff):
			}
		}

		lastErr = m.target.Recover(ctx)
		if lastErr == nil {
			m.unhealthy.Store(false)
			m.update(func(mt *Metrics) { mt.Recoveries++ })
			jensen.Log().Info().Int("attempt", attempt+1).Msg("device recovered")
			m.fireRecovered()
			return nil
		}
		if errors.Is(lastErr, jensen.ErrDeviceUnrecoverable) {
			jensen.Log().Error().Err(lastErr).Msg("device lost")
			m.fireLost(lastErr)
			return fmt.Errorf("monitor stopped: %w", lastErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		jensen.Debugf("monitor: recovery attempt %d failed: %v", attempt+1, lastErr)
	}
	return nil
}

func (m *Monitor) update(fn func(*Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.metrics)
}

func (m *Monitor) waitForNextCheckOrPause(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-m.pauseChan:
		return m.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) handlePauseSignal(ctx context.Context) error {
	select {
	case m.ackChan <- struct{}{}:
	default:
	}
	return m.waitForResume(ctx)
}

func (m *Monitor) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.pauseChan:
		return m.handlePauseSignal(ctx)
	default:
		return nil
	}
}

// waitForResume blocks until Resume. The paused span is not a time jump.
func (m *Monitor) waitForResume(ctx context.Context) error {
	select {
	case <-m.resumeChan:
		m.lastCheck = m.now()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) fireUnhealthy(err error) {
	m.mu.RLock()
	cb := m.onUnhealthy
	m.mu.RUnlock()
	if cb != nil {
		safeCall("unhealthy", func() { cb(err) })
	}
}

func (m *Monitor) fireRecovered() {
	m.mu.RLock()
	cb := m.onRecovered
	m.mu.RUnlock()
	if cb != nil {
		safeCall("recovered", cb)
	}
}

func (m *Monitor) fireLost(err error) {
	m.mu.RLock()
	cb := m.onLost
	m.mu.RUnlock()
	if cb != nil {
		safeCall("lost", func() { cb(err) })
	}
}

// safeCall runs a callback with panic recovery
func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			jensen.Debugf("monitor: %s callback panicked: %v", name, r)
		}
	}()
	fn()
}
