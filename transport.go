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

package jensen

import (
	"context"
	"fmt"
	"time"

	"github.com/sgeraldes/hidock-next-sub003/internal/frame"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

// Transport moves raw bytes to and from a HiDock's bulk endpoints. It has no
// notion of frames and performs no retries.
type Transport interface {
	// Write sends data on the OUT endpoint. Fails with *TransportError on a
	// USB error or when the write timeout elapses.
	Write(data []byte) error

	// Read returns whatever bytes arrive within timeout, up to maxBytes.
	// A timeout yields an empty slice and a nil error.
	Read(maxBytes int, timeout time.Duration) ([]byte, error)

	// SetWriteTimeout bounds subsequent Write calls.
	SetWriteTimeout(timeout time.Duration) error

	// Reset issues a USB port reset and reclaims the interface.
	Reset() error

	// Close releases the interface and the device handle.
	Close() error

	// IsConnected returns true while the handle is open.
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUSB represents a libusb bulk transport.
	TransportUSB TransportType = "usb"
	// TransportSimulator represents the in-process virtual HiDock.
	TransportSimulator TransportType = "simulator"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportFactory opens a transport for the device described by params.
// The session calls it on every Connect and Recover.
type TransportFactory func(ctx context.Context, params ConnectParams) (Transport, error)

// transportPort names a transport for logs and traces.
func transportPort(t Transport) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return string(t.Type())
}

// MockTransport is a byte-level scripted device for unit tests. It decodes
// every written request and answers with frames configured per command,
// echoing the request's sequence id.
type MockTransport struct {
	responses    map[Command][][]byte
	errorMap     map[Command]error
	dropReplies  map[Command]int
	callCount    map[Command]int
	notify       chan struct{}
	readErr      error
	decoder      *frame.Decoder
	requests     []frame.Frame
	inbound      []byte
	delay        time.Duration
	writeTimeout time.Duration
	readChunk    int
	resetCount   int
	mu           syncutil.Mutex
	connected    bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:    make(map[Command][][]byte),
		errorMap:     make(map[Command]error),
		dropReplies:  make(map[Command]int),
		callCount:    make(map[Command]int),
		notify:       make(chan struct{}, 1),
		decoder:      frame.NewDecoder(),
		writeTimeout: DefaultWriteTimeout,
		connected:    true,
	}
}

// Write implements Transport interface
func (m *MockTransport) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return NewTransportClosedError("write", "mock")
	}

	frames, _ := m.decoder.Feed(data)
	for _, req := range frames {
		cmd := Command(req.CommandID)
		m.callCount[cmd]++
		m.requests = append(m.requests, req)

		if err, exists := m.errorMap[cmd]; exists {
			return err
		}
		if m.dropReplies[cmd] > 0 {
			m.dropReplies[cmd]--
			continue
		}
		for _, body := range m.responses[cmd] {
			m.inbound = append(m.inbound, frame.Encode(req.CommandID, req.SequenceID, body)...)
		}
	}
	m.signal()
	return nil
}

// Read implements Transport interface
func (m *MockTransport) Read(maxBytes int, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if !m.connected {
			m.mu.Unlock()
			return nil, NewTransportClosedError("read", "mock")
		}
		if m.readErr != nil {
			err := m.readErr
			m.mu.Unlock()
			return nil, err
		}
		if len(m.inbound) > 0 {
			n := min(maxBytes, len(m.inbound))
			if m.readChunk > 0 {
				n = min(n, m.readChunk)
			}
			out := make([]byte, n)
			copy(out, m.inbound)
			m.inbound = m.inbound[n:]
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-deadline.C:
			return []byte{}, nil
		}
	}
}

// signal wakes a blocked Read. Callers hold m.mu.
func (m *MockTransport) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// SetWriteTimeout implements Transport interface
func (m *MockTransport) SetWriteTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.writeTimeout = timeout
	m.mu.Unlock()
	return nil
}

// Reset implements Transport interface. Pending inbound bytes are discarded.
func (m *MockTransport) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return NewTransportClosedError("reset", "mock")
	}
	m.resetCount++
	m.inbound = nil
	m.decoder.Reset()
	return nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.signal()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// Reopen marks a closed mock as connected again, as a factory reopening the
// same device would.
func (m *MockTransport) Reopen() {
	m.mu.Lock()
	m.connected = true
	m.inbound = nil
	m.decoder.Reset()
	m.mu.Unlock()
}

// SetResponse configures the single response body sent for every cmd request.
func (m *MockTransport) SetResponse(cmd Command, body []byte) {
	m.SetResponseFrames(cmd, body)
}

// SetResponseFrames configures several frames sent in order for every cmd
// request, as streaming commands and continued file lists need.
func (m *MockTransport) SetResponseFrames(cmd Command, bodies ...[]byte) {
	m.mu.Lock()
	m.responses[cmd] = bodies
	m.mu.Unlock()
}

// SetError configures an error returned by Write for a specific command
func (m *MockTransport) SetError(cmd Command, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command
func (m *MockTransport) ClearError(cmd Command) {
	m.mu.Lock()
	delete(m.errorMap, cmd)
	m.mu.Unlock()
}

// DropReplies makes the next n cmd requests go unanswered.
func (m *MockTransport) DropReplies(cmd Command, n int) {
	m.mu.Lock()
	m.dropReplies[cmd] = n
	m.mu.Unlock()
}

// SetReadError makes every Read fail with err until cleared with nil.
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
	m.signal()
}

// SetReadChunk limits how many bytes a single Read returns, to exercise
// reassembly across USB transfers. Zero means unlimited.
func (m *MockTransport) SetReadChunk(n int) {
	m.mu.Lock()
	m.readChunk = n
	m.mu.Unlock()
}

// SetDelay configures a delay before every Read to simulate bus latency
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// InjectRaw queues bytes for Read as if the device had sent them unprompted.
func (m *MockTransport) InjectRaw(data []byte) {
	m.mu.Lock()
	m.inbound = append(m.inbound, data...)
	m.signal()
	m.mu.Unlock()
}

// InjectFrame queues an encoded frame for Read.
func (m *MockTransport) InjectFrame(cmd Command, seq uint32, body []byte) {
	m.InjectRaw(frame.Encode(uint16(cmd), seq, body))
}

// GetCallCount returns how many times a command was sent
func (m *MockTransport) GetCallCount(cmd Command) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[cmd]
}

// Requests returns every decoded request frame in send order.
func (m *MockTransport) Requests() []frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]frame.Frame, len(m.requests))
	copy(out, m.requests)
	return out
}

// ResetCount returns how many times Reset was called.
func (m *MockTransport) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount
}

// WriteTimeout returns the last value passed to SetWriteTimeout.
func (m *MockTransport) WriteTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeTimeout
}
