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

// Package usb registers a detector that lists attached HiDock recorders from
// their USB descriptors. Devices are never opened, so a recorder held by
// another process is still reported.
package usb

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"github.com/sgeraldes/hidock-next-sub003/detection"
)

// Descriptor is the subset of a USB device descriptor the detector needs.
type Descriptor struct {
	VendorID  uint16
	ProductID uint16
	Bus       int
	Address   int
	Port      int
	Speed     string
}

// Enumerator lists the descriptors of every attached USB device.
type Enumerator func(ctx context.Context) ([]Descriptor, error)

type detector struct {
	enumerate Enumerator
}

// New creates a detector backed by libusb.
func New() detection.Detector {
	return &detector{enumerate: enumerateLibUSB}
}

// NewWithEnumerator creates a detector over a custom descriptor source.
func NewWithEnumerator(e Enumerator) detection.Detector {
	return &detector{enumerate: e}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "usb"
}

// Detect returns every known HiDock that is not blocked or ignored.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	descs, err := d.enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, desc := range descs {
		if !detection.IsHiDock(desc.VendorID, desc.ProductID) {
			continue
		}
		info := toDeviceInfo(desc)
		if detection.IsBlocked(info.VIDPID(), opts.Blocklist) ||
			detection.IsPathIgnored(info.Path, opts.IgnorePaths) {
			continue
		}
		devices = append(devices, info)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func toDeviceInfo(desc Descriptor) detection.DeviceInfo {
	return detection.DeviceInfo{
		Transport: "usb",
		Path:      fmt.Sprintf("usb:%d.%d", desc.Bus, desc.Address),
		Name:      detection.ModelName(desc.ProductID),
		VendorID:  desc.VendorID,
		ProductID: desc.ProductID,
		Bus:       desc.Bus,
		Address:   desc.Address,
		Metadata: map[string]string{
			"vidpid": detection.FormatVIDPID(desc.VendorID, desc.ProductID),
			"port":   fmt.Sprint(desc.Port),
			"speed":  desc.Speed,
		},
	}
}

// enumerateLibUSB walks the bus with an opener that never opens anything.
func enumerateLibUSB(ctx context.Context) ([]Descriptor, error) {
	usbCtx := gousb.NewContext()
	defer func() { _ = usbCtx.Close() }()

	var descs []Descriptor
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		descs = append(descs, Descriptor{
			VendorID:  uint16(desc.Vendor),
			ProductID: uint16(desc.Product),
			Bus:       desc.Bus,
			Address:   desc.Address,
			Port:      desc.Port,
			Speed:     desc.Speed.String(),
		})
		return false
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return descs, nil
}
