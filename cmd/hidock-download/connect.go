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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sgeraldes/hidock-next-sub003"
	"github.com/sgeraldes/hidock-next-sub003/detection"
	_ "github.com/sgeraldes/hidock-next-sub003/detection/usb"
	usbtransport "github.com/sgeraldes/hidock-next-sub003/transport/usb"
)

// Replaced in tests.
var (
	openTransport jensen.TransportFactory = usbtransport.Factory
	detectDevices                         = detection.DetectAll
)

func connectParams(opts *options) (jensen.ConnectParams, error) {
	params := jensen.DefaultConnectParams()
	if opts.vid != "" {
		vid, _, err := detection.ParseVIDPID(opts.vid + ":0")
		if err != nil {
			return params, fmt.Errorf("invalid --vid %q", opts.vid)
		}
		params.VendorID = vid
	}
	if opts.pid != "" {
		_, pid, err := detection.ParseVIDPID("0:" + opts.pid)
		if err != nil {
			return params, fmt.Errorf("invalid --pid %q", opts.pid)
		}
		params.ProductID = pid
	}
	return params, nil
}

// connect finds and opens the recorder. Errors are phrased for the operator.
func connect(ctx context.Context, out io.Writer, opts *options) (*jensen.Device, error) {
	params, err := connectParams(opts)
	if err != nil {
		return nil, err
	}

	if params.ProductID == 0 {
		detectOpts := detection.DefaultOptions()
		devices, derr := detectDevices(ctx, &detectOpts)
		switch {
		case derr != nil:
			jensen.Debugf("detection: %v", derr)
		case len(devices) > 0:
			params.ProductID = devices[0].ProductID
			_, _ = fmt.Fprintf(out, "Found %s\n", devices[0])
		}
	}

	device, err := jensen.New(openTransport)
	if err != nil {
		return nil, err
	}
	if err := device.Connect(ctx, params); err != nil {
		return nil, describeConnectError(params, err)
	}

	info := device.DeviceInfo()
	_, _ = fmt.Fprintf(out, "Connected to %s (serial %s, firmware %s)\n",
		info.Model, info.SerialNumber, info.VersionNumber)
	return device, nil
}

func describeConnectError(params jensen.ConnectParams, err error) error {
	var hint string
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, jensen.ErrDeviceBusy):
		hint = "the recorder is in use; close other apps (such as HiNotes) and try again"
	case errors.Is(err, jensen.ErrDeviceNotFound):
		hint = "no HiDock found; check the cable and that the recorder is powered on"
	case errors.Is(err, jensen.ErrCommandTimeout), errors.Is(err, jensen.ErrTransportTimeout):
		hint = "the recorder did not answer; unplug it, wait a few seconds and reconnect"
	default:
		hint = "unexpected USB error"
	}
	return fmt.Errorf("could not connect to HiDock %s: %s (%w)", params, hint, err)
}
