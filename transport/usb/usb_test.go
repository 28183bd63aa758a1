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

package usb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/gousb"
	"github.com/sgeraldes/hidock-next-sub003"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err       error
		target    error
		name      string
		op        string
		retryable bool
		fatal     bool
	}{
		{name: "no device", op: "read", err: gousb.ErrorNoDevice, target: jensen.ErrDeviceNotFound, fatal: true},
		{name: "transfer no device", op: "write", err: gousb.TransferNoDevice, target: jensen.ErrDeviceNotFound, fatal: true},
		{name: "busy", op: "claim", err: gousb.ErrorBusy, target: jensen.ErrDeviceBusy, retryable: true},
		{name: "timeout", op: "write", err: gousb.ErrorTimeout, target: jensen.ErrTransportTimeout, retryable: true},
		{name: "transfer timed out", op: "read", err: gousb.TransferTimedOut, target: jensen.ErrTransportTimeout, retryable: true},
		{name: "stall on write", op: "write", err: gousb.TransferStall, target: jensen.ErrTransportWrite, retryable: true},
		{name: "io on read", op: "read", err: gousb.ErrorIO, target: jensen.ErrTransportRead, retryable: true},
		{name: "access denied", op: "claim", err: gousb.ErrorAccess, target: gousb.ErrorAccess, fatal: true},
		{name: "wrapped", op: "read", err: fmt.Errorf("bulk: %w", gousb.ErrorNoDevice), target: jensen.ErrDeviceNotFound, fatal: true},
		{name: "unknown", op: "read", err: errors.New("odd"), target: jensen.ErrTransportRead, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := classify(tt.op, "usb:10d6:b00d@1.4", tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.retryable, jensen.IsRetryable(err))
			assert.Equal(t, tt.fatal, jensen.IsFatal(err))

			var te *jensen.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.op, te.Op)
		})
	}
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	assert.True(t, isTimeout(gousb.TransferTimedOut))
	assert.True(t, isTimeout(gousb.TransferCancelled))
	assert.True(t, isTimeout(gousb.ErrorTimeout))
	assert.False(t, isTimeout(gousb.ErrorIO))
	assert.False(t, isTimeout(errors.New("x")))
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params jensen.ConnectParams
		vid    uint16
		pid    uint16
		want   bool
	}{
		{name: "any known model", params: jensen.ConnectParams{VendorID: 0x10D6}, vid: 0x10D6, pid: 0xB00D, want: true},
		{name: "unknown product", params: jensen.ConnectParams{VendorID: 0x10D6}, vid: 0x10D6, pid: 0x1234},
		{name: "other vendor", params: jensen.ConnectParams{VendorID: 0x10D6}, vid: 0x05AC, pid: 0xB00D},
		{name: "explicit product", params: jensen.ConnectParams{VendorID: 0x10D6, ProductID: 0x1234}, vid: 0x10D6, pid: 0x1234, want: true},
		{name: "explicit product mismatch", params: jensen.ConnectParams{VendorID: 0x10D6, ProductID: 0xAF0C}, vid: 0x10D6, pid: 0xB00D},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, matches(tt.params, tt.vid, tt.pid))
		})
	}
}

func TestReadSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 512, readSize(100, 512))
	assert.Equal(t, 1024, readSize(513, 512))
	assert.Equal(t, 65536, readSize(65536, 512))
	assert.Equal(t, 100, readSize(100, 0))
	assert.Equal(t, 64, readSize(0, 64))
}

func TestClosedTransport(t *testing.T) {
	t.Parallel()

	tr := &Transport{name: "usb:10d6:b00d@1.4"}
	assert.False(t, tr.IsConnected())
	require.ErrorIs(t, tr.Write([]byte{1}), jensen.ErrTransportClosed)
	_, err := tr.Read(64, 0)
	require.ErrorIs(t, err, jensen.ErrTransportClosed)
	require.ErrorIs(t, tr.Reset(), jensen.ErrTransportClosed)
	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.SetWriteTimeout(0), jensen.ErrInvalidParameter)
	assert.Equal(t, jensen.TransportUSB, tr.Type())
	assert.Equal(t, "usb:10d6:b00d@1.4", tr.String())
}
