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
	"io"
	"time"
)

// SinkFactory opens a fresh destination for one download attempt.
type SinkFactory func() (io.Writer, error)

// DownloadPolicy is the caller-side retry policy around StreamFile.
type DownloadPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the fixed pause before each retry.
	RetryDelay time.Duration
	// RecoverBetween runs Recover before a retry when the link is unhealthy.
	RecoverBetween bool
}

// DefaultDownloadPolicy returns the bulk downloader's policy.
func DefaultDownloadPolicy() DownloadPolicy {
	return DownloadPolicy{
		MaxRetries:     DownloadMaxRetries,
		RetryDelay:     DownloadRetryDelay,
		RecoverBetween: true,
	}
}

// DownloadRequest is a StreamRequest whose sink is reopened per attempt.
type DownloadRequest struct {
	Open     SinkFactory
	Progress ProgressFunc
	Name     string
	Length   int64
	Timeout  time.Duration
}

// DownloadWithRetry streams a file, retrying on any status other than OK or
// CANCELLED. Each attempt gets a new sink from req.Open; StreamFile already
// discards partial output of sinks that implement Aborter. The returned
// result is that of the last attempt, with Attempts set to the total made.
func DownloadWithRetry(ctx context.Context, d *Device, req DownloadRequest, policy DownloadPolicy) (*StreamResult, error) {
	if req.Open == nil {
		return nil, fmt.Errorf("download %s: nil sink factory: %w", req.Name, ErrInvalidParameter)
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	var last *StreamResult
	for attempt := range policy.MaxRetries + 1 {
		if attempt > 0 {
			Debugf("%s attempt %d failed (%s), retrying in %v: %v",
				req.Name, attempt, last.Status, policy.RetryDelay, last.Err)
			if err := sleepCtx(ctx, policy.RetryDelay); err != nil {
				return &StreamResult{Status: StatusCancelled, Err: err, Attempts: attempt}, nil
			}
			if policy.RecoverBetween && !d.Healthy() {
				if err := d.Recover(ctx); err != nil {
					Debugf("%s: recovery before retry failed: %v", req.Name, err)
					if errors.Is(err, ErrDeviceUnrecoverable) {
						return last, nil
					}
				}
			}
		}

		sink, err := req.Open()
		if err != nil {
			return last, fmt.Errorf("open sink for %s: %w", req.Name, err)
		}

		result, err := d.StreamFile(ctx, StreamRequest{
			Name:     req.Name,
			Length:   req.Length,
			Sink:     sink,
			Progress: req.Progress,
			Timeout:  req.Timeout,
		})
		if err != nil {
			if a, ok := sink.(Aborter); ok {
				_ = a.Abort()
			}
			return last, err
		}
		result.Attempts = attempt + 1
		last = result

		if result.Status == StatusOK || result.Status == StatusCancelled {
			break
		}
	}
	return last, nil
}
