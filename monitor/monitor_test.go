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

package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sgeraldes/hidock-next-sub003"
	testutil "github.com/sgeraldes/hidock-next-sub003/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget fails pings while failing is set and answers Recover from a script.
type fakeTarget struct {
	recoverErr func(call int64) error
	failing    atomic.Bool
	pings      atomic.Int64
	recovers   atomic.Int64
}

func (f *fakeTarget) Ping(context.Context) error {
	f.pings.Add(1)
	if f.failing.Load() {
		return jensen.NewTimeoutError("read", "fake")
	}
	return nil
}

func (f *fakeTarget) Recover(context.Context) error {
	n := f.recovers.Add(1)
	if f.recoverErr != nil {
		if err := f.recoverErr(n); err != nil {
			return err
		}
	}
	f.failing.Store(false)
	return nil
}

func fastConfig() *Config {
	return &Config{
		Interval: 5 * time.Millisecond,
		SleepRecovery: SleepRecoveryConfig{
			Enabled:                    true,
			TimeDiscontinuityThreshold: time.Hour,
			MaxRecoveryAttempts:        3,
			RecoveryBackoff:            time.Millisecond,
		},
	}
}

func runMonitor(t *testing.T, m *Monitor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestSleepRecoveryConfig_DetectSleep(t *testing.T) {
	t.Parallel()

	cfg := DefaultSleepRecoveryConfig()
	tests := []struct {
		name     string
		enabled  bool
		elapsed  time.Duration
		expected bool
	}{
		{name: "on time", enabled: true, elapsed: 5 * time.Second},
		{name: "inside threshold", enabled: true, elapsed: 6900 * time.Millisecond},
		{name: "past threshold", enabled: true, elapsed: 8 * time.Second, expected: true},
		{name: "disabled", enabled: false, elapsed: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := cfg
			c.Enabled = tt.enabled
			assert.Equal(t, tt.expected, c.DetectSleep(tt.elapsed, 5*time.Second))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.True(t, cfg.SleepRecovery.Enabled)
	assert.Equal(t, 3, cfg.SleepRecovery.MaxRecoveryAttempts)
	assert.Equal(t, 500*time.Millisecond, New(&fakeTarget{}, nil).config.SleepRecovery.RecoveryBackoff)
}

func TestMonitor_HealthyLoop(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	m := New(target, fastConfig())
	cancel, done := runMonitor(t, m)

	require.Eventually(t, func() bool { return target.pings.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, m.Healthy())
	assert.Zero(t, target.recovers.Load())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	metrics := m.Metrics()
	assert.GreaterOrEqual(t, metrics.Checks, int64(3))
	assert.Zero(t, metrics.Failures)
	assert.False(t, metrics.LastCheck.IsZero())
}

func TestMonitor_AlreadyRunning(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	m := New(target, fastConfig())
	runMonitor(t, m)
	require.Eventually(t, func() bool { return target.pings.Load() > 0 }, time.Second, time.Millisecond)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestMonitor_UnhealthyThenRecovered(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{
		recoverErr: func(call int64) error {
			if call == 1 {
				return jensen.NewDeviceGoneError("open", "fake", errors.New("gone"))
			}
			return nil
		},
	}
	target.failing.Store(true)

	var unhealthy, recovered atomic.Int32
	m := New(target, fastConfig())
	m.SetOnUnhealthy(func(err error) {
		assert.ErrorIs(t, err, jensen.ErrTransportTimeout)
		unhealthy.Add(1)
	})
	m.SetOnRecovered(func() { recovered.Add(1) })
	m.SetOnLost(func(error) { t.Error("device reported lost") })
	runMonitor(t, m)

	require.Eventually(t, func() bool { return recovered.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), unhealthy.Load())
	assert.Equal(t, int64(2), target.recovers.Load())
	assert.True(t, m.Healthy())
	assert.Equal(t, int64(1), m.Metrics().Recoveries)
}

func TestMonitor_LostStopsLoop(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{
		recoverErr: func(int64) error {
			return jensen.ErrDeviceUnrecoverable
		},
	}
	target.failing.Store(true)

	var lost atomic.Int32
	m := New(target, fastConfig())
	m.SetOnLost(func(err error) {
		assert.ErrorIs(t, err, jensen.ErrDeviceUnrecoverable)
		lost.Add(1)
	})

	err := m.Start(context.Background())
	require.ErrorIs(t, err, jensen.ErrDeviceUnrecoverable)
	assert.Equal(t, int32(1), lost.Load())
	assert.False(t, m.Healthy())
}

func TestMonitor_PauseResume(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	m := New(target, fastConfig())
	runMonitor(t, m)
	require.Eventually(t, func() bool { return target.pings.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, m.PauseWithAck(context.Background()))
	assert.True(t, m.Paused())
	paused := target.pings.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, target.pings.Load(), paused+1)

	m.Resume()
	assert.False(t, m.Paused())
	require.Eventually(t, func() bool { return target.pings.Load() > paused+2 }, time.Second, time.Millisecond)
}

func TestMonitor_PauseWithAckCanceled(t *testing.T) {
	t.Parallel()

	m := New(&fakeTarget{}, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.PauseWithAck(ctx), context.Canceled)
	assert.False(t, m.Paused())
}

func TestMonitor_SleepTriggersRecoveryBurst(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{
		recoverErr: func(call int64) error {
			if call < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	}
	target.failing.Store(true)

	cfg := fastConfig()
	cfg.SleepRecovery.TimeDiscontinuityThreshold = time.Second
	m := New(target, cfg)

	base := time.Now()
	m.lastCheck = base
	m.now = func() time.Time { return base.Add(time.Hour) }

	require.NoError(t, m.check(context.Background()))
	assert.Equal(t, int64(3), target.recovers.Load())
	assert.True(t, m.Healthy())
	assert.Equal(t, int64(1), m.Metrics().SleepsDetected)
}

func TestMonitor_SingleRecoveryPerTick(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{recoverErr: func(int64) error { return errors.New("still gone") }}
	target.failing.Store(true)
	m := New(target, fastConfig())
	m.lastCheck = time.Now()

	require.NoError(t, m.check(context.Background()))
	assert.Equal(t, int64(1), target.recovers.Load())
	assert.False(t, m.Healthy())
}

func TestMonitor_CallbackPanic(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	target.failing.Store(true)
	m := New(target, fastConfig())
	m.lastCheck = time.Now()
	m.SetOnUnhealthy(func(error) { panic("boom") })

	require.NotPanics(t, func() {
		require.NoError(t, m.check(context.Background()))
	})
}

// simTransport adapts the simulator transport to jensen.Transport.
type simTransport struct {
	*testutil.SimulatorTransport
}

func (simTransport) Type() jensen.TransportType {
	return jensen.TransportSimulator
}

func TestMonitor_WithSimulatedDevice(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualHiDock()
	var unplugged atomic.Bool
	factory := func(context.Context, jensen.ConnectParams) (jensen.Transport, error) {
		if unplugged.Load() {
			return nil, jensen.NewDeviceGoneError("open", "simulator", errors.New("no device"))
		}
		return simTransport{testutil.NewSimulatorTransport(sim)}, nil
	}
	device, err := jensen.New(factory,
		jensen.WithReadPollInterval(2*time.Millisecond),
		jensen.WithCommandTimeout(100*time.Millisecond),
		jensen.WithHealthCheckTimeout(50*time.Millisecond),
		jensen.WithRecoverySettleDelay(time.Millisecond),
		jensen.WithMaxRecoveryAttempts(2),
	)
	require.NoError(t, err)
	params := jensen.DefaultConnectParams()
	params.AutoRetry = false
	require.NoError(t, device.Connect(context.Background(), params))
	t.Cleanup(func() { _ = device.Close() })

	var unhealthy, recovered atomic.Int32
	m := New(device, fastConfig())
	m.SetOnUnhealthy(func(error) { unhealthy.Add(1) })
	m.SetOnRecovered(func() { recovered.Add(1) })

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	// A hang that a reset clears is healed by the first recovery.
	sim.HangUntilReset()
	require.Eventually(t, func() bool { return recovered.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), unhealthy.Load())

	// An unplugged recorder exhausts the recovery budget and ends the loop.
	unplugged.Store(true)
	sim.SetUnresponsive(true)
	select {
	case err := <-done:
		require.ErrorIs(t, err, jensen.ErrDeviceUnrecoverable)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
