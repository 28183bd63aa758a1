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
	"errors"
	"fmt"
	"time"
)

// errNeverConnected is returned by Recover before any Connect.
var errNeverConnected = errors.New("recover called before connect")

// Recover brings an unhealthy session back: it discards the USB handle,
// waits the settle delay, reopens the device with a forced reset and runs a
// short GetDeviceInfo health check. It returns nil only when the health check
// succeeds; otherwise the session is left Disconnected.
//
// Consecutive failed recoveries are counted. Once MaxRecoveryAttempts have
// failed, Recover returns ErrDeviceUnrecoverable without touching the device
// until a successful Connect resets the count.
func (d *Device) Recover(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recoverLocked(ctx)
}

// RecoveryAttempts returns the number of consecutive failed recoveries.
func (d *Device) RecoveryAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recoveryAttempts
}

func (d *Device) recoverLocked(ctx context.Context) error {
	if !d.everConnected {
		return fmt.Errorf("recover: %w", errors.Join(ErrNotConnected, errNeverConnected))
	}
	if d.recoveryAttempts >= d.config.MaxRecoveryAttempts {
		return fmt.Errorf("recover after %d failed attempts: %w", d.recoveryAttempts, ErrDeviceUnrecoverable)
	}
	d.recoveryAttempts++
	attempt := d.recoveryAttempts

	Debugf("recovery attempt %d/%d for %s", attempt, d.config.MaxRecoveryAttempts, d.params)
	d.setState(StateRecovering)

	// Tier 1: drop the handle; a stalled endpoint rarely survives in place.
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			Debugf("recovery: close: %v", err)
		}
	}
	d.transport = nil
	d.session = nil
	d.correlator = nil

	if err := sleepCtx(ctx, d.config.RecoverySettleDelay); err != nil {
		d.setState(StateDisconnected)
		return fmt.Errorf("recovery attempt %d: %w", attempt, err)
	}

	// Tier 2: reopen with a port reset and health check.
	params := d.params
	params.ForceReset = true
	if err := d.openLocked(ctx, params); err != nil {
		d.setState(StateDisconnected)
		return fmt.Errorf("recovery attempt %d/%d: %w", attempt, d.config.MaxRecoveryAttempts, err)
	}

	d.recoveryAttempts = 0
	Debugf("recovered %s after %d attempt(s)", d.params, attempt)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
