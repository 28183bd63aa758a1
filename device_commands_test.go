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
	"testing"
	"time"

	testutil "github.com/sgeraldes/hidock-next-sub003/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       []byte
		wantVer    string
		wantSerial string
		wantErr    bool
	}{
		{
			name:       "full",
			body:       testutil.DeviceInfoBody(0x00060203, "HD1E243505435"),
			wantVer:    "6.2.3",
			wantSerial: "HD1E243505435",
		},
		{
			name:    "version only",
			body:    []byte{0x00, 0x01, 0x0A, 0xFF},
			wantVer: "1.10.255",
		},
		{
			name:       "serial with junk",
			body:       append([]byte{0, 1, 2, 3}, 'A', 0x01, 'B', 0, 0),
			wantVer:    "1.2.3",
			wantSerial: "AB",
		},
		{name: "short", body: []byte{0, 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := parseDeviceInfo(tt.body, 0xAF0C)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVer, info.VersionNumber)
			assert.Equal(t, tt.wantSerial, info.SerialNumber)
			assert.Equal(t, "HiDock H1", info.Model)
		})
	}
}

func TestBCDTime(t *testing.T) {
	t.Parallel()

	when := time.Date(2025, time.May, 13, 16, 4, 5, 0, time.Local)
	body := encodeBCDTime(when)
	assert.Equal(t, []byte{0x20, 0x25, 0x05, 0x13, 0x16, 0x04, 0x05}, body)

	got, err := decodeBCDTime(body)
	require.NoError(t, err)
	assert.True(t, when.Equal(got))

	zero, err := decodeBCDTime(make([]byte, 7))
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	tests := []struct {
		name string
		body []byte
	}{
		{name: "short", body: []byte{0x20, 0x25}},
		{name: "bad digit", body: []byte{0x20, 0x2A, 0x05, 0x13, 0x16, 0x04, 0x05}},
		{name: "month 13", body: []byte{0x20, 0x25, 0x13, 0x01, 0x00, 0x00, 0x00}},
		{name: "hour 24", body: []byte{0x20, 0x25, 0x01, 0x01, 0x24, 0x00, 0x00}},
	}
	for _, tt := range tests {
		_, err := decodeBCDTime(tt.body)
		require.ErrorIs(t, err, ErrInvalidResponse, tt.name)
	}
}

func TestDevice_DeviceTime(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	ctx := testContext(t)

	got, err := device.GetDeviceTime(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "unset clock")

	when := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.Local)
	require.NoError(t, device.SetDeviceTime(ctx, when))
	clock, ok := sim.Clock()
	require.True(t, ok)
	assert.True(t, when.Equal(clock))

	got, err = device.GetDeviceTime(ctx)
	require.NoError(t, err)
	assert.True(t, when.Equal(got))
}

func TestDevice_GetDeviceInfoRefreshesCache(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	sim.SetIdentity(0x00070001, "NEWSERIAL")

	info, err := device.GetDeviceInfo(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "7.0.1", info.VersionNumber)
	assert.Equal(t, "NEWSERIAL", device.DeviceInfo().SerialNumber)
	assert.Equal(t, uint16(0xB00D), info.ProductID)
}

func TestDevice_Ping(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	require.NoError(t, device.Ping(testContext(t)))

	sim.SetUnresponsive(true)
	err := device.Ping(testContext(t))
	require.ErrorIs(t, err, ErrCommandTimeout)
}

func TestDevice_FileCountAndDelete(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	ctx := testContext(t)
	for i := range 3 {
		sim.AddRecording(testutil.NewRecording(testutil.RecordingName(i), 100, 1))
	}

	n, err := device.GetFileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, device.DeleteFile(ctx, testutil.RecordingName(1)))
	n, err = device.GetFileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = device.DeleteFile(ctx, testutil.RecordingName(1))
	require.ErrorIs(t, err, ErrFileNotFound)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.False(t, IsRetryable(err))

	require.ErrorIs(t, device.DeleteFile(ctx, ""), ErrInvalidParameter)
}

func TestDevice_DeleteStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     []byte
		wantErr  error
		notFound bool
	}{
		{name: "ok", body: []byte{0}},
		{name: "not found", body: []byte{1}, wantErr: ErrCommandFailed, notFound: true},
		{name: "failed", body: []byte{2}, wantErr: ErrCommandFailed},
		{name: "unknown", body: []byte{9}, wantErr: ErrCommandFailed},
		{name: "empty", body: nil, wantErr: ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			device, mock := createMockDeviceWithTransport(t)
			mock.SetResponse(CmdDeleteFile, tt.body)

			err := device.DeleteFile(testContext(t), "x.hda")
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.notFound, errorIsNotFound(err))
		})
	}
}

func errorIsNotFound(err error) bool {
	var target *fileNotFoundError
	return errors.As(err, &target)
}

func TestDevice_FileCountEmptyBody(t *testing.T) {
	t.Parallel()

	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponse(CmdGetFileCount, nil)
	n, err := device.GetFileCount(testContext(t))
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.SetResponse(CmdGetFileCount, []byte{1, 2})
	_, err = device.GetFileCount(testContext(t))
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestDevice_Settings(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	ctx := testContext(t)

	got, err := device.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, Settings{AutoRecord: true, NotificationSound: true, BluetoothTone: true}, *got)

	on, off := true, false
	require.NoError(t, device.SetSettings(ctx, SettingsUpdate{AutoPlay: &on, BluetoothTone: &off}))
	assert.Equal(t, testutil.SettingsState{
		AutoRecord:        true,
		AutoPlay:          true,
		NotificationSound: true,
	}, sim.Settings())
	assert.Equal(t, 2, sim.CommandCount(uint16(CmdSetSettings)))

	got, err = device.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.AutoPlay)
	assert.False(t, got.BluetoothTone)

	require.ErrorIs(t, device.SetSettings(ctx, SettingsUpdate{}), ErrInvalidParameter)
}

func TestSettingBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		want     []byte
		length   int
		enabled  bool
		inverted bool
	}{
		{name: "auto record on", length: 4, enabled: true, want: []byte{0, 0, 0, 1}},
		{name: "auto record off", length: 4, want: []byte{0, 0, 0, 2}},
		{name: "tone on", length: 16, enabled: true, inverted: true, want: append(make([]byte, 15), 2)},
		{name: "tone off", length: 16, inverted: true, want: append(make([]byte, 15), 1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, settingBody(tt.length, tt.enabled, tt.inverted), tt.name)
	}
}

func TestDevice_SetSettingsRejected(t *testing.T) {
	t.Parallel()

	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponse(CmdSetSettings, []byte{1})
	on := true
	err := device.SetSettings(testContext(t), SettingsUpdate{AutoRecord: &on, AutoPlay: &on})
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "auto record")
	assert.Equal(t, 1, mock.GetCallCount(CmdSetSettings), "stops at the first failure")
}

func TestDevice_StorageAndFormat(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	ctx := testContext(t)
	sim.AddRecording(testutil.NewRecording(testutil.RecordingName(1), 2<<20, 1))

	info, err := device.GetStorageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.UsedMiB)
	assert.Equal(t, uint32(testutil.DefaultCapacityMiB), info.CapacityMiB)
	assert.Equal(t, uint32(testutil.DefaultCapacityMiB-2), info.FreeMiB())

	require.NoError(t, device.FormatCard(ctx))
	assert.Empty(t, sim.Recordings())
	reqs := sim.Requests()
	assert.Equal(t, []byte{1, 2, 3, 4}, reqs[len(reqs)-1].Body)

	require.NoError(t, device.RestoreFactorySettings(ctx))
}

func TestStorageInfo_FreeMiB(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(10), StorageInfo{UsedMiB: 5, CapacityMiB: 15}.FreeMiB())
	assert.Zero(t, StorageInfo{UsedMiB: 20, CapacityMiB: 15}.FreeMiB())
}

func TestDevice_RestoreRejected(t *testing.T) {
	t.Parallel()

	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponse(CmdRestoreFactorySettings, []byte{1})
	require.ErrorIs(t, device.RestoreFactorySettings(testContext(t)), ErrCommandFailed)

	mock.SetResponse(CmdGetCardInfo, []byte{0, 0})
	_, err := device.GetStorageInfo(testContext(t))
	require.ErrorIs(t, err, ErrInvalidResponse)
}
