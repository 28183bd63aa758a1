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

import "time"

// Connection retry constants control Connect with AutoRetry.
const (
	// DefaultConnectionRetries is the number of attempts to open a device.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 250 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 2 * time.Second
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 15 * time.Second
)

// Command timing.
const (
	// DefaultCommandTimeout bounds an ordinary request/response exchange.
	DefaultCommandTimeout = 5 * time.Second
	// DefaultHealthCheckTimeout bounds the GetDeviceInfo health check used by Connect and Recover.
	DefaultHealthCheckTimeout = 2 * time.Second
	// DefaultListTimeout bounds GetFileList, which grows with the number of recordings.
	DefaultListTimeout = 30 * time.Second
	// DefaultReadPollInterval is the slice each Transport.Read waits for data.
	DefaultReadPollInterval = 100 * time.Millisecond
	// DefaultReadChunkSize is the maximum bytes requested per bulk read.
	DefaultReadChunkSize = 64 * 1024
	// DefaultWriteTimeout bounds a single bulk OUT transfer.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultStallThreshold is the number of consecutive command timeouts that mark a session unhealthy.
	DefaultStallThreshold = 3
)

// Download timing. A HiDock sustains well above 1 MiB/s over USB 2.0; the
// budget assumes a pessimistic rate so slow hubs still finish.
const (
	// TransferMinTimeout is the floor of the overall transfer deadline.
	TransferMinTimeout = 60 * time.Second
	// TransferMaxTimeout caps the overall transfer deadline.
	TransferMaxTimeout = 30 * time.Minute
	// TransferAssumedRate is the throughput, in bytes per second, used to scale the deadline.
	TransferAssumedRate = 256 * 1024
	// DefaultProgressInterval is the byte granularity of progress callbacks.
	DefaultProgressInterval = 64 * 1024
	// StreamDrainDuration is how long stale chunks are discarded after a failed transfer.
	StreamDrainDuration = 500 * time.Millisecond
)

// Download retry constants for caller-side retry around StreamFile.
const (
	// DownloadMaxRetries is the number of retries after the first failed attempt.
	DownloadMaxRetries = 3
	// DownloadRetryDelay is the fixed pause before each retry.
	DownloadRetryDelay = 2 * time.Second
)

// Recovery constants.
const (
	// DefaultMaxRecoveryAttempts bounds consecutive Recover calls without a success.
	DefaultMaxRecoveryAttempts = 3
	// DefaultRecoverySettleDelay is the pause between dropping and reopening the handle.
	DefaultRecoverySettleDelay = 500 * time.Millisecond
)

// TransferTimeout returns the default overall deadline for streaming a file
// of the given length.
func TransferTimeout(length int64) time.Duration {
	if length <= 0 {
		return TransferMinTimeout
	}
	d := TransferMinTimeout + time.Duration(length/TransferAssumedRate)*time.Second
	if d > TransferMaxTimeout {
		return TransferMaxTimeout
	}
	return d
}
