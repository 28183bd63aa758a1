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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sgeraldes/hidock-next-sub003/detection"
)

// DeviceInfo is the identity a HiDock reports for GetDeviceInfo.
type DeviceInfo struct {
	// VersionNumber is the firmware version formatted as "a.b.c".
	VersionNumber string
	SerialNumber  string
	// Model is derived from the USB product id.
	Model     string
	ProductID uint16
	// VersionCode is the raw big-endian firmware version word.
	VersionCode uint32
}

// StorageInfo describes the recorder's SD card, in MiB.
type StorageInfo struct {
	UsedMiB     uint32
	CapacityMiB uint32
	Status      uint32
}

// FreeMiB returns the unused capacity.
func (s StorageInfo) FreeMiB() uint32 {
	if s.UsedMiB >= s.CapacityMiB {
		return 0
	}
	return s.CapacityMiB - s.UsedMiB
}

// Settings are the recorder's behaviour toggles.
type Settings struct {
	AutoRecord        bool
	AutoPlay          bool
	NotificationSound bool
	BluetoothTone     bool
}

// SettingsUpdate selects which settings SetSettings changes; nil fields are left alone.
type SettingsUpdate struct {
	AutoRecord        *bool
	AutoPlay          *bool
	NotificationSound *bool
	BluetoothTone     *bool
}

const (
	deviceInfoMinBody = 4
	serialOffset      = 4
	serialLength      = 16
	timeBodyLength    = 7
	settingsMinBody   = 16
	cardInfoMinBody   = 12

	settingOn  byte = 1
	settingOff byte = 2

	// FormatCard rewrites the whole filesystem and answers slowly.
	formatTimeout = 60 * time.Second
)

// DeleteFile status bytes.
const (
	deleteOK       = 0
	deleteNotFound = 1
	deleteFailed   = 2
)

// queryDeviceInfo runs GetDeviceInfo directly on a correlator. Connect and
// Recover use it before the session is published on the Device.
func queryDeviceInfo(ctx context.Context, c *Correlator, timeout time.Duration, productID uint16) (*DeviceInfo, error) {
	resp, err := c.SendAndReceive(ctx, CmdGetDeviceInfo, nil, timeout)
	if err != nil {
		return nil, err
	}
	return parseDeviceInfo(resp.Body, productID)
}

func parseDeviceInfo(body []byte, productID uint16) (*DeviceInfo, error) {
	if len(body) < deviceInfoMinBody {
		return nil, NewInvalidResponseError(CmdGetDeviceInfo, "body too short: %d bytes", len(body))
	}

	info := &DeviceInfo{
		VersionCode:   binary.BigEndian.Uint32(body[:4]),
		VersionNumber: fmt.Sprintf("%d.%d.%d", body[1], body[2], body[3]),
		ProductID:     productID,
		Model:         detection.ModelName(productID),
	}
	if len(body) > serialOffset {
		end := min(len(body), serialOffset+serialLength)
		info.SerialNumber = cleanASCII(body[serialOffset:end])
	}
	return info, nil
}

// cleanASCII keeps the printable ASCII of a NUL-padded field.
func cleanASCII(raw []byte) string {
	raw = bytes.TrimRight(raw, "\x00")
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b >= 0x20 && b < 0x7F {
			out = append(out, b)
		}
	}
	return string(out)
}

// GetDeviceInfo queries firmware version and serial number and refreshes the
// cached identity.
func (d *Device) GetDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.roundTrip(ctx, CmdGetDeviceInfo, nil, d.config.CommandTimeout)
	if err != nil {
		return nil, err
	}
	productID := uint16(0)
	if d.info != nil {
		productID = d.info.ProductID
	}
	info, err := parseDeviceInfo(resp.Body, productID)
	if err != nil {
		return nil, err
	}
	d.info = info
	out := *info
	return &out, nil
}

// Ping runs the GetDeviceInfo health check with HealthCheckTimeout.
func (d *Device) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.roundTrip(ctx, CmdGetDeviceInfo, nil, d.config.HealthCheckTimeout)
	return err
}

// GetDeviceTime reads the recorder clock. A device whose clock was never set
// reports all zeroes, returned as the zero time.
func (d *Device) GetDeviceTime(ctx context.Context) (time.Time, error) {
	body, err := d.exchange(ctx, CmdGetDeviceTime, nil, 0)
	if err != nil {
		return time.Time{}, err
	}
	return decodeBCDTime(body)
}

// SetDeviceTime sets the recorder clock to t in the host's local zone.
func (d *Device) SetDeviceTime(ctx context.Context, t time.Time) error {
	body, err := d.exchange(ctx, CmdSetDeviceTime, encodeBCDTime(t.In(time.Local)), 0)
	if err != nil {
		return err
	}
	return checkStatus(CmdSetDeviceTime, body)
}

func toBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}

func fromBCD(b byte) (int, bool) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}

// encodeBCDTime packs t as YYYY MM DD hh mm ss, two digits per byte.
func encodeBCDTime(t time.Time) []byte {
	return []byte{
		toBCD(t.Year() / 100), toBCD(t.Year() % 100),
		toBCD(int(t.Month())), toBCD(t.Day()),
		toBCD(t.Hour()), toBCD(t.Minute()), toBCD(t.Second()),
	}
}

func decodeBCDTime(body []byte) (time.Time, error) {
	if len(body) < timeBodyLength {
		return time.Time{}, NewInvalidResponseError(CmdGetDeviceTime, "body too short: %d bytes", len(body))
	}
	if bytes.Equal(body[:timeBodyLength], make([]byte, timeBodyLength)) {
		return time.Time{}, nil
	}

	var fields [timeBodyLength]int
	for i := range fields {
		v, ok := fromBCD(body[i])
		if !ok {
			return time.Time{}, NewInvalidResponseError(CmdGetDeviceTime, "invalid BCD byte %02X at offset %d", body[i], i)
		}
		fields[i] = v
	}

	year := fields[0]*100 + fields[1]
	month, day := fields[2], fields[3]
	if month < 1 || month > 12 || day < 1 || day > 31 || fields[4] > 23 || fields[5] > 59 || fields[6] > 59 {
		return time.Time{}, NewInvalidResponseError(CmdGetDeviceTime, "out of range time % X", body[:timeBodyLength])
	}
	return time.Date(year, time.Month(month), day, fields[4], fields[5], fields[6], 0, time.Local), nil
}

// checkStatus interprets the one-byte result of set-style commands.
func checkStatus(cmd Command, body []byte) error {
	if len(body) < 1 {
		return NewInvalidResponseError(cmd, "empty status body")
	}
	if body[0] != 0 {
		return NewDeviceCommandError(cmd, body[0], "device rejected the request")
	}
	return nil
}

// GetFileCount returns how many recordings the device holds.
func (d *Device) GetFileCount(ctx context.Context) (int, error) {
	body, err := d.exchange(ctx, CmdGetFileCount, nil, 0)
	if err != nil {
		return 0, err
	}
	if len(body) == 0 {
		return 0, nil
	}
	if len(body) < 4 {
		return 0, NewInvalidResponseError(CmdGetFileCount, "body too short: %d bytes", len(body))
	}
	return int(binary.BigEndian.Uint32(body[:4])), nil
}

// DeleteFile removes a recording. A missing file fails with an error matching
// both ErrFileNotFound and ErrCommandFailed.
func (d *Device) DeleteFile(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("delete: empty file name: %w", ErrInvalidParameter)
	}
	body, err := d.exchange(ctx, CmdDeleteFile, []byte(name), 0)
	if err != nil {
		return err
	}
	if len(body) < 1 {
		return NewInvalidResponseError(CmdDeleteFile, "empty status body")
	}

	switch body[0] {
	case deleteOK:
		return nil
	case deleteNotFound:
		return fmt.Errorf("%s: %w", name, &fileNotFoundError{NewDeviceCommandError(CmdDeleteFile, body[0], "file does not exist")})
	case deleteFailed:
		return NewDeviceCommandError(CmdDeleteFile, body[0], "delete failed")
	default:
		return NewDeviceCommandError(CmdDeleteFile, body[0], "unknown status")
	}
}

// fileNotFoundError is a device status failure that also matches ErrFileNotFound.
type fileNotFoundError struct {
	*DeviceCommandError
}

func (e *fileNotFoundError) Is(target error) bool {
	return target == ErrFileNotFound || e.DeviceCommandError.Is(target)
}

func (e *fileNotFoundError) Unwrap() error {
	return e.DeviceCommandError
}

// GetSettings reads the behaviour toggles.
func (d *Device) GetSettings(ctx context.Context) (*Settings, error) {
	body, err := d.exchange(ctx, CmdGetSettings, nil, 0)
	if err != nil {
		return nil, err
	}
	return parseSettings(body)
}

func parseSettings(body []byte) (*Settings, error) {
	if len(body) < settingsMinBody {
		return nil, NewInvalidResponseError(CmdGetSettings, "body too short: %d bytes", len(body))
	}
	return &Settings{
		AutoRecord:        body[3] == settingOn,
		AutoPlay:          body[7] == settingOn,
		NotificationSound: body[11] == settingOn,
		// The tone flag is inverted on the wire: 1 means muted.
		BluetoothTone: body[15] != settingOn,
	}, nil
}

// settingBody builds the padded body that changes one setting: the flag goes
// in the last byte of a body of the given length.
func settingBody(length int, enabled, inverted bool) []byte {
	body := make([]byte, length)
	on := enabled != inverted
	if on {
		body[length-1] = settingOn
	} else {
		body[length-1] = settingOff
	}
	return body
}

// SetSettings applies every non-nil field of update, one SetSettings
// exchange per setting, stopping at the first failure.
func (d *Device) SetSettings(ctx context.Context, update SettingsUpdate) error {
	type change struct {
		value    *bool
		name     string
		length   int
		inverted bool
	}
	changes := []change{
		{value: update.AutoRecord, name: "auto record", length: 4},
		{value: update.AutoPlay, name: "auto play", length: 8},
		{value: update.NotificationSound, name: "notification sound", length: 12},
		{value: update.BluetoothTone, name: "bluetooth tone", length: 16, inverted: true},
	}

	applied := 0
	for _, c := range changes {
		if c.value == nil {
			continue
		}
		body, err := d.exchange(ctx, CmdSetSettings, settingBody(c.length, *c.value, c.inverted), 0)
		if err != nil {
			return fmt.Errorf("set %s: %w", c.name, err)
		}
		if err := checkStatus(CmdSetSettings, body); err != nil {
			return fmt.Errorf("set %s: %w", c.name, err)
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("set settings: nothing to change: %w", ErrInvalidParameter)
	}
	return nil
}

// GetStorageInfo reads SD card usage.
func (d *Device) GetStorageInfo(ctx context.Context) (*StorageInfo, error) {
	body, err := d.exchange(ctx, CmdGetCardInfo, nil, 0)
	if err != nil {
		return nil, err
	}
	if len(body) < cardInfoMinBody {
		return nil, NewInvalidResponseError(CmdGetCardInfo, "body too short: %d bytes", len(body))
	}
	return &StorageInfo{
		UsedMiB:     binary.BigEndian.Uint32(body[0:4]),
		CapacityMiB: binary.BigEndian.Uint32(body[4:8]),
		Status:      binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

// FormatCard erases every recording on the device.
func (d *Device) FormatCard(ctx context.Context) error {
	body, err := d.exchange(ctx, CmdFormatCard, confirmationBody, max(formatTimeout, d.config.CommandTimeout))
	if err != nil {
		return err
	}
	return checkStatus(CmdFormatCard, body)
}

// RestoreFactorySettings resets the device configuration.
func (d *Device) RestoreFactorySettings(ctx context.Context) error {
	body, err := d.exchange(ctx, CmdRestoreFactorySettings, confirmationBody, 0)
	if err != nil {
		return err
	}
	return checkStatus(CmdRestoreFactorySettings, body)
}
