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
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Error categories for retry and recovery decisions.
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")

	// Device errors
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceBusy          = errors.New("device busy")
	ErrNotConnected        = errors.New("device not connected")
	ErrCommandTimeout      = errors.New("command timeout")
	ErrDeviceUnrecoverable = errors.New("device unrecoverable")
	ErrInvalidResponse     = errors.New("invalid response format")
	ErrCommandFailed       = errors.New("command execution failed")
	ErrUnsupportedCommand  = errors.New("command not supported")

	// Data errors - not retryable
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrFileNotFound     = errors.New("file not found on device")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps USB-level failures with the operation and port that failed.
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Bus/address or VID:PID of the device
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CommandTimeoutError reports that no response with the request's sequence id
// arrived within the command's budget.
type CommandTimeoutError struct {
	Command  Command
	Sequence uint32
	Elapsed  time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("%s (seq %d): no response after %v", e.Command, e.Sequence, e.Elapsed.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrCommandTimeout) true.
func (*CommandTimeoutError) Is(target error) bool {
	return target == ErrCommandTimeout
}

// DeviceCommandError is returned when a response arrived intact but its body
// reports a failure or cannot be parsed for the command that was sent.
type DeviceCommandError struct {
	Command Command
	Detail  string
	Status  int // device status byte, -1 when the body was unparseable
}

func (e *DeviceCommandError) Error() string {
	if e.Status >= 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Command, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Detail)
}

// Is matches ErrCommandFailed for status failures and ErrInvalidResponse for
// unparseable bodies.
func (e *DeviceCommandError) Is(target error) bool {
	if e.Status >= 0 {
		return target == ErrCommandFailed
	}
	return target == ErrInvalidResponse
}

// NewDeviceCommandError creates an error for a device-reported status failure.
func NewDeviceCommandError(cmd Command, status byte, detail string) *DeviceCommandError {
	return &DeviceCommandError{Command: cmd, Status: int(status), Detail: detail}
}

// NewInvalidResponseError creates an error for a body that cannot be parsed.
func NewInvalidResponseError(cmd Command, format string, args ...any) *DeviceCommandError {
	return &DeviceCommandError{Command: cmd, Status: -1, Detail: fmt.Sprintf(format, args...)}
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	// Device-reported failures are answered deliberately; repeating them won't help.
	var dce *DeviceCommandError
	if errors.As(err, &dce) {
		return false
	}

	switch {
	case errors.Is(err, ErrCommandTimeout),
		errors.Is(err, ErrDeviceBusy),
		errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrTransportNotReady):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device is gone and the
// session cannot continue without a fresh Connect.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrDeviceUnrecoverable),
		errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// classifyIOError wraps a raw transport error in a *TransportError unless it
// already is one. Device-gone errnos and closed pipes become permanent failures.
func classifyIOError(op, port string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if isDeviceGoneError(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return NewDeviceGoneError(op, port, err)
	}
	if op == "write" {
		return NewTransportWriteError(op, port, err)
	}
	return NewTransportReadError(op, port, err)
}

// IsTransportFailure reports whether err came from the USB link itself rather
// than from the device's answer.
func IsTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportWrite, cause), ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportRead, cause), ErrorTypeTransient)
}

// NewTransportClosedError creates an error for I/O on a closed handle (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// NewDeviceGoneError creates an error for a device that disappeared mid-session (permanent)
func NewDeviceGoneError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrDeviceNotFound, cause), ErrorTypePermanent)
}

// NewDeviceBusyError creates an error for an interface claimed elsewhere (transient)
func NewDeviceBusyError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrDeviceBusy, cause), ErrorTypeTransient)
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds wire-level trace data in errors so callers can see the
// last frames exchanged before a failure.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the device
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the device
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
//
//	var te *jensen.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	const maxShown = 32
	shown := data
	if len(data) > maxShown {
		shown = data[:maxShown]
	}
	parts := make([]string, len(shown))
	for i, b := range shown {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	if len(data) > maxShown {
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return strings.Join(parts, " ")
}

// TraceBuffer keeps the most recent wire entries of a session in a fixed-size ring.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records a transmission to the device
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the device
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	// Streaming chunks can be large; only the head is useful in a trace.
	const keep = 64
	if len(data) > keep {
		note = fmt.Sprintf("%s, %d bytes", note, len(data))
		data = data[:keep]
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	out := make([]TraceEntry, len(tb.entries))
	copy(out, tb.entries)
	return out
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Trace:     tb.Entries(),
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
