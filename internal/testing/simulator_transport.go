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

package testing

import (
	"fmt"
	"io"
	"time"

	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

// TransportType mirrors jensen.TransportType to avoid an import cycle.
type TransportType string

// TransportSimulator identifies the in-process simulator transport.
const TransportSimulator TransportType = "simulator"

const simulatorPollInterval = time.Millisecond

// SimulatorTransport exposes a VirtualHiDock, optionally behind a
// JitteryConnection, through the jensen.Transport method set.
type SimulatorTransport struct {
	sim          *VirtualHiDock
	conn         io.ReadWriter
	jitter       *JitteryConnection
	readErr      error
	writeErr     error
	writeTimeout time.Duration
	mu           syncutil.Mutex
	writes       int
	resets       int
	closed       bool
}

// NewSimulatorTransport creates a transport that talks to sim directly.
func NewSimulatorTransport(sim *VirtualHiDock) *SimulatorTransport {
	return &SimulatorTransport{sim: sim, conn: sim, writeTimeout: time.Second}
}

// NewJitterySimulatorTransport creates a transport whose reads are delayed
// and fragmented according to cfg.
func NewJitterySimulatorTransport(sim *VirtualHiDock, cfg JitterConfig) *SimulatorTransport {
	j := NewJitteryConnection(sim, cfg)
	return &SimulatorTransport{sim: sim, conn: j, jitter: j, writeTimeout: time.Second}
}

// Write forwards data to the simulator.
func (t *SimulatorTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.ErrClosedPipe
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	t.writes++
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("simulator write: %w", err)
	}
	return nil
}

// Read polls the simulator until bytes arrive or timeout elapses. A
// timeout yields an empty slice and a nil error.
func (t *SimulatorTransport) Read(maxBytes int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, maxBytes)
	for {
		n, err := t.readOnce(buf)
		if err != nil || n > 0 {
			return buf[:n], err
		}
		if !time.Now().Before(deadline) {
			return []byte{}, nil
		}
		time.Sleep(min(simulatorPollInterval, time.Until(deadline)))
	}
}

func (t *SimulatorTransport) readOnce(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.readErr != nil {
		return 0, t.readErr
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("simulator read: %w", err)
	}
	return n, nil
}

// SetWriteTimeout records the write timeout. Simulator writes never block.
func (t *SimulatorTransport) SetWriteTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeTimeout = timeout
	return nil
}

// WriteTimeout returns the last value passed to SetWriteTimeout.
func (t *SimulatorTransport) WriteTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeTimeout
}

// Reset resets the simulated device and drops buffered jitter data.
func (t *SimulatorTransport) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.ErrClosedPipe
	}
	t.resets++
	t.sim.Reset()
	if t.jitter != nil {
		t.jitter.ClearBuffer()
	}
	return nil
}

// Close marks the transport closed. The simulator keeps its state so a new
// transport can be opened on it.
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// IsConnected returns whether the transport is open.
func (t *SimulatorTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns the transport type
func (*SimulatorTransport) Type() TransportType {
	return TransportSimulator
}

func (*SimulatorTransport) String() string {
	return "simulator:10d6:b00d"
}

// ProductID reports the simulated model.
func (*SimulatorTransport) ProductID() uint16 {
	return 0xB00D
}

// FailReads makes every Read return err until cleared with nil.
func (t *SimulatorTransport) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
}

// FailWrites makes every Write return err until cleared with nil.
func (t *SimulatorTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Resets returns how many times Reset was called on this transport.
func (t *SimulatorTransport) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Writes returns how many successful writes went through this transport.
func (t *SimulatorTransport) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// Simulator returns the underlying VirtualHiDock for test setup.
func (t *SimulatorTransport) Simulator() *VirtualHiDock {
	return t.sim
}
