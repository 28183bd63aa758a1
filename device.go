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

	"github.com/sgeraldes/hidock-next-sub003/detection"
	"github.com/sgeraldes/hidock-next-sub003/internal/frame"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

// ConnectionState is the lifecycle state of a Device session.
type ConnectionState int

const (
	// StateDisconnected means no USB handle is held.
	StateDisconnected ConnectionState = iota
	// StateConnecting means Connect is opening and probing the device.
	StateConnecting
	// StateConnected means the last health check or command succeeded.
	StateConnected
	// StateUnhealthy means the link is open but has stalled.
	StateUnhealthy
	// StateRecovering means Recover is resetting and reopening the device.
	StateRecovering
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateUnhealthy:
		return "unhealthy"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// ConnectionRetry is the backoff used by Connect when AutoRetry is set
	ConnectionRetry *RetryConfig
	// OnStateChange is called on every state transition while the device
	// lock is held; it must not call back into the Device.
	OnStateChange func(old, current ConnectionState)
	// CommandTimeout is the default budget of a request/response exchange
	CommandTimeout time.Duration
	// HealthCheckTimeout bounds the GetDeviceInfo health check of Connect and Recover
	HealthCheckTimeout time.Duration
	// ListTimeout is the default budget of ListFiles
	ListTimeout time.Duration
	// ReadPollInterval is the longest single transport read wait
	ReadPollInterval time.Duration
	// WriteTimeout bounds a single bulk OUT transfer
	WriteTimeout time.Duration
	// RecoverySettleDelay is the pause between closing and reopening the device
	RecoverySettleDelay time.Duration
	// ReadChunkSize is the maximum bytes requested per transport read
	ReadChunkSize int
	// StallThreshold is the number of consecutive timeouts that mark the link unhealthy
	StallThreshold int
	// MaxRecoveryAttempts bounds consecutive Recover calls without a success
	MaxRecoveryAttempts int
	// ProgressInterval is the byte granularity of streaming progress callbacks
	ProgressInterval int64
	// AutoRecover runs Recover once, then retries, when a command leaves the link unhealthy
	AutoRecover bool
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		ConnectionRetry:     ConnectionRetryConfig(),
		CommandTimeout:      DefaultCommandTimeout,
		HealthCheckTimeout:  DefaultHealthCheckTimeout,
		ListTimeout:         DefaultListTimeout,
		ReadPollInterval:    DefaultReadPollInterval,
		WriteTimeout:        DefaultWriteTimeout,
		RecoverySettleDelay: DefaultRecoverySettleDelay,
		ReadChunkSize:       DefaultReadChunkSize,
		StallThreshold:      DefaultStallThreshold,
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		ProgressInterval:    DefaultProgressInterval,
	}
}

// ConnectParams selects the USB device and how to open it.
type ConnectParams struct {
	// VendorID and ProductID select the device; ProductID 0 accepts any known HiDock.
	VendorID  uint16
	ProductID uint16
	// Interface is the USB interface number to claim.
	Interface int
	// AutoRetry retries busy, stale-state and transient failures with
	// ConnectionRetry backoff. See ClassifyConnectError.
	AutoRetry bool
	// ForceReset issues a USB port reset before the first exchange.
	ForceReset bool
}

// DefaultConnectParams targets any HiDock on interface 0 with retries enabled.
func DefaultConnectParams() ConnectParams {
	return ConnectParams{
		VendorID:  detection.HiDockVendorID,
		Interface: 0,
		AutoRetry: true,
	}
}

func (p ConnectParams) String() string {
	return fmt.Sprintf("%04x:%04x", p.VendorID, p.ProductID)
}

// productIDReporter is implemented by transports that know which product id
// they actually opened.
type productIDReporter interface {
	ProductID() uint16
}

// Device is a session with one HiDock recorder.
//
// Thread Safety: every exported method takes the device lock, so commands,
// downloads and recovery never interleave on the wire. Long operations such
// as StreamFile hold it for their whole duration.
type Device struct {
	factory          TransportFactory
	config           *DeviceConfig
	transport        Transport
	session          *SessionContext
	correlator       *Correlator
	info             *DeviceInfo
	params           ConnectParams
	state            ConnectionState
	recoveryAttempts int
	mu               syncutil.Mutex
	everConnected    bool
}

// New creates a disconnected device that opens transports through factory.
func New(factory TransportFactory, opts ...Option) (*Device, error) {
	if factory == nil {
		return nil, fmt.Errorf("transport factory not provided: %w", ErrInvalidParameter)
	}
	device := &Device{
		factory: factory,
		config:  DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Connect opens the device, optionally resets it, and confirms it answers
// GetDeviceInfo. With params.AutoRetry, retryable failures are retried with
// backoff, and a health check that gets no usable answer makes the following
// attempts reset the port first. On failure the session is left Disconnected
// and the error explains why. Connecting resets the recovery attempt counter;
// an existing session is torn down first.
func (d *Device) Connect(ctx context.Context, params ConnectParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport != nil {
		_ = d.disconnectLocked()
	}
	d.recoveryAttempts = 0
	d.params = params
	d.everConnected = true
	d.setState(StateConnecting)

	var err error
	if params.AutoRetry {
		err = connectWithRetry(ctx, d.config.ConnectionRetry, params, d.openLocked)
	} else {
		err = d.openLocked(ctx, params)
	}
	if err != nil {
		d.setState(StateDisconnected)
		return fmt.Errorf("connect %s: %w", params, err)
	}
	return nil
}

// openLocked opens a transport, builds a fresh session around it and runs the
// health check. On success the device is Connected.
func (d *Device) openLocked(ctx context.Context, params ConnectParams) error {
	transport, err := d.factory(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}

	if params.ForceReset {
		if err := transport.Reset(); err != nil {
			_ = transport.Close()
			return fmt.Errorf("usb reset: %w", err)
		}
	}
	if err := transport.SetWriteTimeout(d.config.WriteTimeout); err != nil {
		_ = transport.Close()
		return fmt.Errorf("failed to set write timeout: %w", err)
	}

	session := NewSessionContext(transport.Type(), transportPort(transport))
	correlator := NewCorrelator(transport, session, CorrelatorConfig{
		ReadChunkSize:    d.config.ReadChunkSize,
		ReadPollInterval: d.config.ReadPollInterval,
		StallThreshold:   d.config.StallThreshold,
	})

	// Leftovers of an interrupted transfer would otherwise be parsed as responses.
	correlator.Drain(d.config.ReadPollInterval)

	productID := params.ProductID
	if r, ok := transport.(productIDReporter); ok {
		productID = r.ProductID()
	}

	info, err := queryDeviceInfo(ctx, correlator, d.config.HealthCheckTimeout, productID)
	if err != nil {
		Log().Debug().
			Str("session", session.ID()).
			Str("port", transportPort(transport)).
			Bool("reset", params.ForceReset).
			Err(err).
			Msg("health check failed")
		_ = transport.Close()
		return fmt.Errorf("health check: %w", err)
	}

	d.transport = transport
	d.session = session
	d.correlator = correlator
	d.info = info
	d.setState(StateConnected)
	Log().Info().
		Str("session", session.ID()).
		Str("model", info.Model).
		Str("serial", info.SerialNumber).
		Str("firmware", info.VersionNumber).
		Str("port", transportPort(transport)).
		Msg("connected")
	return nil
}

// Disconnect closes the transport and discards the session. Calling it on a
// disconnected device does nothing.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectLocked()
}

// Close is Disconnect, for use as an io.Closer.
func (d *Device) Close() error {
	return d.Disconnect()
}

func (d *Device) disconnectLocked() error {
	var err error
	if d.transport != nil {
		if cerr := d.transport.Close(); cerr != nil {
			err = fmt.Errorf("failed to close transport: %w", cerr)
			Debugf("disconnect: %v", err)
		}
	}
	if d.session != nil {
		stats := d.session.Stats()
		Log().Debug().
			Str("session", d.session.ID()).
			Dur("age", d.session.Age()).
			Uint64("sent", stats.Sent).
			Uint64("received", stats.Received).
			Uint64("timeouts", stats.Timeouts).
			Msg("session closed")
	}
	d.transport = nil
	d.session = nil
	d.correlator = nil
	d.setState(StateDisconnected)
	return err
}

// ResetDeviceState clears protocol state, drains stale input and, when a
// handle is open, issues a USB reset. It never fails; problems are logged.
func (d *Device) ResetDeviceState(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.correlator == nil {
		return
	}
	d.correlator.ResetState()
	if ctx.Err() == nil {
		d.correlator.Drain(StreamDrainDuration)
	}
	if d.transport != nil && d.transport.IsConnected() {
		if err := d.transport.Reset(); err != nil {
			Debugf("reset device state: usb reset failed: %v", err)
			d.setState(StateUnhealthy)
			return
		}
	}
	if d.state == StateUnhealthy {
		d.setState(StateConnected)
	}
}

// IsConnected reports whether the session holds an open handle.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil && (d.state == StateConnected || d.state == StateUnhealthy)
}

// State returns the current lifecycle state.
func (d *Device) State() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// DeviceInfo returns the identity captured by the last successful health
// check, or nil before the first Connect.
func (d *Device) DeviceInfo() *DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info == nil {
		return nil
	}
	info := *d.info
	return &info
}

// Healthy reports whether the session is connected and not stalled.
func (d *Device) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateConnected && d.correlator != nil && !d.correlator.Stalled()
}

// Stats returns the correlator counters of the current session.
func (d *Device) Stats() CorrelatorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.correlator == nil {
		return CorrelatorStats{}
	}
	return d.correlator.Stats()
}

// Config returns the device configuration.
func (d *Device) Config() *DeviceConfig {
	return d.config
}

func (d *Device) setState(next ConnectionState) {
	prev := d.state
	if prev == next {
		return
	}
	d.state = next
	Log().Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state change")
	if d.config.OnStateChange != nil {
		d.config.OnStateChange(prev, next)
	}
}

// connectedLocked returns the correlator or ErrNotConnected.
func (d *Device) connectedLocked() (*Correlator, error) {
	if d.correlator == nil || (d.state != StateConnected && d.state != StateUnhealthy) {
		return nil, ErrNotConnected
	}
	return d.correlator, nil
}

// afterSuccessLocked marks an unhealthy session connected again once an
// exchange has completed.
func (d *Device) afterSuccessLocked() {
	if d.state == StateUnhealthy {
		d.setState(StateConnected)
	}
}

// afterFailureLocked updates the health state after a failed exchange and
// reports whether an automatic recovery should be attempted.
func (d *Device) afterFailureLocked(ctx context.Context, err error) bool {
	if d.correlator == nil {
		return false
	}
	if d.correlator.Stalled() || IsFatal(err) {
		d.setState(StateUnhealthy)
	}
	return d.config.AutoRecover && d.state == StateUnhealthy && ctx.Err() == nil
}

// roundTrip sends one command and returns the response frame, recovering and
// retrying once when auto-recovery is enabled. Callers hold d.mu.
func (d *Device) roundTrip(ctx context.Context, cmd Command, body []byte, timeout time.Duration) (*frame.Frame, error) {
	correlator, err := d.connectedLocked()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	if timeout <= 0 {
		timeout = d.config.CommandTimeout
	}

	resp, err := correlator.SendAndReceive(ctx, cmd, body, timeout)
	if err == nil {
		d.afterSuccessLocked()
		return resp, nil
	}

	if !d.afterFailureLocked(ctx, err) {
		return nil, err
	}

	Debugf("%s failed on unhealthy link, recovering: %v", cmd, err)
	if rerr := d.recoverLocked(ctx); rerr != nil {
		return nil, fmt.Errorf("%w; recovery failed: %w", err, rerr)
	}
	resp, err = d.correlator.SendAndReceive(ctx, cmd, body, timeout)
	if err != nil {
		d.afterFailureLocked(ctx, err)
		return nil, err
	}
	return resp, nil
}

// exchange is roundTrip under the device lock, checking the response id.
func (d *Device) exchange(ctx context.Context, cmd Command, body []byte, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.roundTrip(ctx, cmd, body, timeout)
	if err != nil {
		return nil, err
	}
	if Command(resp.CommandID) != cmd {
		return nil, NewInvalidResponseError(cmd, "response carries command %d", resp.CommandID)
	}
	return resp.Body, nil
}

// Option configures a Device.
type Option func(*Device) error

// WithCommandTimeout sets the default per-command budget.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("command timeout must be positive, got %v: %w", timeout, ErrInvalidParameter)
		}
		d.config.CommandTimeout = timeout
		return nil
	}
}

// WithHealthCheckTimeout sets the GetDeviceInfo health check budget.
func WithHealthCheckTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("health check timeout must be positive, got %v: %w", timeout, ErrInvalidParameter)
		}
		d.config.HealthCheckTimeout = timeout
		return nil
	}
}

// WithListTimeout sets the default ListFiles budget.
func WithListTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		d.config.ListTimeout = timeout
		return nil
	}
}

// WithReadChunkSize sets the maximum bytes per bulk read.
func WithReadChunkSize(size int) Option {
	return func(d *Device) error {
		if size < frame.HeaderSize {
			return fmt.Errorf("read chunk size %d below frame header size: %w", size, ErrInvalidParameter)
		}
		d.config.ReadChunkSize = size
		return nil
	}
}

// WithReadPollInterval sets the longest single read wait.
func WithReadPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("read poll interval must be positive: %w", ErrInvalidParameter)
		}
		d.config.ReadPollInterval = interval
		return nil
	}
}

// WithWriteTimeout sets the bulk OUT timeout.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		d.config.WriteTimeout = timeout
		return nil
	}
}

// WithStallThreshold sets how many consecutive timeouts mark the link unhealthy.
func WithStallThreshold(n int) Option {
	return func(d *Device) error {
		if n < 1 {
			return fmt.Errorf("stall threshold must be at least 1, got %d: %w", n, ErrInvalidParameter)
		}
		d.config.StallThreshold = n
		return nil
	}
}

// WithMaxRecoveryAttempts bounds consecutive recoveries without a success.
func WithMaxRecoveryAttempts(n int) Option {
	return func(d *Device) error {
		if n < 1 {
			return fmt.Errorf("max recovery attempts must be at least 1, got %d: %w", n, ErrInvalidParameter)
		}
		d.config.MaxRecoveryAttempts = n
		return nil
	}
}

// WithRecoverySettleDelay sets the pause between closing and reopening during recovery.
func WithRecoverySettleDelay(delay time.Duration) Option {
	return func(d *Device) error {
		d.config.RecoverySettleDelay = delay
		return nil
	}
}

// WithAutoRecover enables recover-and-retry-once on unhealthy links.
func WithAutoRecover(enabled bool) Option {
	return func(d *Device) error {
		d.config.AutoRecover = enabled
		return nil
	}
}

// WithConnectionRetryConfig sets the Connect backoff.
func WithConnectionRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return fmt.Errorf("connection retry config is nil: %w", ErrInvalidParameter)
		}
		d.config.ConnectionRetry = config
		return nil
	}
}

// WithProgressInterval sets the byte granularity of progress callbacks.
func WithProgressInterval(n int64) Option {
	return func(d *Device) error {
		if n <= 0 {
			return fmt.Errorf("progress interval must be positive: %w", ErrInvalidParameter)
		}
		d.config.ProgressInterval = n
		return nil
	}
}

// WithOnStateChange registers a state transition callback.
func WithOnStateChange(fn func(old, current ConnectionState)) Option {
	return func(d *Device) error {
		d.config.OnStateChange = fn
		return nil
	}
}
