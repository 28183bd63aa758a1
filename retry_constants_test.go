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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryConstants_ConnectionValues(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, DefaultConnectionRetries, 1)
	assert.LessOrEqual(t, DefaultConnectionRetries, 10)
	assert.Greater(t, ConnectionMaxBackoff, ConnectionInitialBackoff)

	minExpected := time.Duration(DefaultConnectionRetries) * ConnectionInitialBackoff
	assert.Greater(t, ConnectionRetryTimeout, minExpected,
		"overall connection budget must fit every attempt")
}

func TestRetryConstants_Timing(t *testing.T) {
	t.Parallel()

	assert.Less(t, DefaultHealthCheckTimeout, DefaultCommandTimeout,
		"health checks should fail faster than ordinary commands")
	assert.Less(t, DefaultReadPollInterval, DefaultHealthCheckTimeout)
	assert.Greater(t, DefaultListTimeout, DefaultCommandTimeout)
	assert.GreaterOrEqual(t, DefaultStallThreshold, 2)
}

func TestTransferTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		length   int64
		expected time.Duration
	}{
		{name: "zero length gets floor", length: 0, expected: TransferMinTimeout},
		{name: "negative gets floor", length: -5, expected: TransferMinTimeout},
		{name: "small file", length: 1024, expected: TransferMinTimeout},
		{name: "ten rate units", length: 10 * TransferAssumedRate, expected: TransferMinTimeout + 10*time.Second},
		{name: "huge file capped", length: 1 << 40, expected: TransferMaxTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, TransferTimeout(tt.length))
		})
	}
}
