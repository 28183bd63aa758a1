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

//go:build !prod

package jensen

import (
	"context"
	"testing"
	"time"

	testutil "github.com/sgeraldes/hidock-next-sub003/internal/testing"
	"github.com/stretchr/testify/require"
)

// simTransport adapts testutil.SimulatorTransport to Transport; the test
// helpers cannot import this package.
type simTransport struct {
	*testutil.SimulatorTransport
}

func (simTransport) Type() TransportType {
	return TransportSimulator
}

// fastOptions keeps unit tests quick: short polls and short timeouts.
func fastOptions() []Option {
	return []Option{
		WithReadPollInterval(2 * time.Millisecond),
		WithCommandTimeout(150 * time.Millisecond),
		WithHealthCheckTimeout(150 * time.Millisecond),
		WithListTimeout(300 * time.Millisecond),
		WithRecoverySettleDelay(time.Millisecond),
		WithConnectionRetryConfig(&RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
			RetryTimeout:      time.Second,
		}),
	}
}

// simulatorFactory opens a fresh transport on sim for every Connect and
// Recover, recording each one.
type simulatorFactory struct {
	sim    *testutil.VirtualHiDock
	jitter *testutil.JitterConfig
	opened []*testutil.SimulatorTransport
	fail   error
}

func (f *simulatorFactory) open(_ context.Context, _ ConnectParams) (Transport, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var tr *testutil.SimulatorTransport
	if f.jitter != nil {
		tr = testutil.NewJitterySimulatorTransport(f.sim, *f.jitter)
	} else {
		tr = testutil.NewSimulatorTransport(f.sim)
	}
	f.opened = append(f.opened, tr)
	return simTransport{tr}, nil
}

func (f *simulatorFactory) last() *testutil.SimulatorTransport {
	return f.opened[len(f.opened)-1]
}

// newSimulatedDevice returns a connected Device talking to a fresh
// VirtualHiDock.
func newSimulatedDevice(t *testing.T, opts ...Option) (*Device, *testutil.VirtualHiDock, *simulatorFactory) {
	t.Helper()
	sim := testutil.NewVirtualHiDock()
	factory := &simulatorFactory{sim: sim}
	device, err := New(factory.open, append(fastOptions(), opts...)...)
	require.NoError(t, err)
	require.NoError(t, device.Connect(context.Background(), DefaultConnectParams()))
	t.Cleanup(func() { _ = device.Close() })
	return device, sim, factory
}

// createMockDeviceWithTransport returns a connected Device over a scripted
// MockTransport that answers GetDeviceInfo.
func createMockDeviceWithTransport(t *testing.T, opts ...Option) (*Device, *MockTransport) {
	t.Helper()
	mock := NewMockTransport()
	mock.SetResponse(CmdGetDeviceInfo, testutil.DeviceInfoBody(testutil.DefaultVersionCode, testutil.DefaultSerial))
	factory := func(context.Context, ConnectParams) (Transport, error) {
		mock.Reopen()
		return mock, nil
	}
	device, err := New(factory, append(fastOptions(), opts...)...)
	require.NoError(t, err)
	require.NoError(t, device.Connect(context.Background(), DefaultConnectParams()))
	t.Cleanup(func() { _ = device.Close() })
	return device, mock
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
