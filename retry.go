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
	"math/rand/v2"
	"time"
)

// RetryConfig is the backoff Connect follows when ConnectParams.AutoRetry is set.
type RetryConfig struct {
	// MaxAttempts counts every open, the first one included. Values below one
	// mean a single attempt.
	MaxAttempts int
	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after every failed attempt.
	BackoffMultiplier float64
	// Jitter stretches each wait by a random fraction of up to this much, so
	// several hosts on one hub don't reopen in lockstep.
	Jitter float64
	// RetryTimeout bounds all attempts together.
	RetryTimeout time.Duration
}

// ConnectionRetryConfig returns the backoff used by Connect when AutoRetry is set.
func ConnectionRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// backoff returns the unjittered wait after the given failed attempt (1-based).
func (c *RetryConfig) backoff(attempt int) time.Duration {
	wait := c.InitialBackoff
	for range attempt - 1 {
		wait = time.Duration(float64(wait) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && wait >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 {
		return min(wait, c.MaxBackoff)
	}
	return wait
}

// withJitter adds a random share of up to factor*wait.
func withJitter(wait time.Duration, factor float64) time.Duration {
	if factor <= 0 || wait <= 0 {
		return wait
	}
	return wait + time.Duration(rand.Float64()*factor*float64(wait))
}

// ConnectFailure says what a failed connection attempt means for the next one.
type ConnectFailure int

const (
	// ConnectFailurePermanent ends the attempts: no matching device, no
	// permission, or a device that rejected the health check.
	ConnectFailurePermanent ConnectFailure = iota
	// ConnectFailureBusy means another process has claimed the interface.
	ConnectFailureBusy
	// ConnectFailureStaleState means the handle opened but the health check got
	// no usable answer, usually because the device is still pushing chunks of
	// an abandoned transfer. The attempts that follow reset the port first.
	ConnectFailureStaleState
	// ConnectFailureTransient covers other retryable USB I/O errors.
	ConnectFailureTransient
)

func (f ConnectFailure) String() string {
	switch f {
	case ConnectFailurePermanent:
		return "permanent"
	case ConnectFailureBusy:
		return "busy"
	case ConnectFailureStaleState:
		return "stale-state"
	case ConnectFailureTransient:
		return "transient"
	default:
		return fmt.Sprintf("ConnectFailure(%d)", int(f))
	}
}

// Retryable reports whether another attempt may succeed.
func (f ConnectFailure) Retryable() bool {
	return f != ConnectFailurePermanent
}

// ClassifyConnectError maps the error of one Connect attempt to a ConnectFailure.
func ClassifyConnectError(err error) ConnectFailure {
	var dce *DeviceCommandError
	switch {
	case err == nil:
		return ConnectFailurePermanent
	case errors.Is(err, ErrDeviceBusy):
		return ConnectFailureBusy
	case errors.Is(err, ErrCommandTimeout):
		return ConnectFailureStaleState
	case errors.As(err, &dce) && errors.Is(err, ErrInvalidResponse):
		return ConnectFailureStaleState
	case IsFatal(err):
		return ConnectFailurePermanent
	case IsRetryable(err):
		return ConnectFailureTransient
	default:
		return ConnectFailurePermanent
	}
}

// openFunc makes one connection attempt.
type openFunc func(ctx context.Context, params ConnectParams) error

// connectWithRetry calls open until it succeeds, fails permanently, or the
// attempts or RetryTimeout run out, and returns the last attempt's error.
// After a stale-state failure every later attempt runs with ForceReset.
func connectWithRetry(ctx context.Context, config *RetryConfig, params ConnectParams, open openFunc) error {
	if config == nil {
		config = ConnectionRetryConfig()
	}
	attempts := max(config.MaxAttempts, 1)
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("connect cancelled: %w", err)
		}

		err := open(ctx, params)
		if err == nil {
			if attempt > 1 {
				Log().Info().
					Str("device", params.String()).
					Int("attempt", attempt).
					Bool("reset", params.ForceReset).
					Msg("connected after retry")
			}
			return nil
		}
		lastErr = err

		failure := ClassifyConnectError(err)
		Log().Warn().
			Str("device", params.String()).
			Int("interface", params.Interface).
			Int("attempt", attempt).
			Int("max", attempts).
			Bool("reset", params.ForceReset).
			Stringer("failure", failure).
			Err(err).
			Msg("connect attempt failed")
		if !failure.Retryable() || attempt == attempts {
			break
		}
		if failure == ConnectFailureStaleState {
			params.ForceReset = true
		}
		if sleepCtx(ctx, withJitter(config.backoff(attempt), config.Jitter)) != nil {
			break
		}
	}
	return lastErr
}
