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

// Package usb implements the jensen.Transport interface over libusb bulk
// endpoints using gousb.
package usb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/sgeraldes/hidock-next-sub003"
	"github.com/sgeraldes/hidock-next-sub003/detection"
	"github.com/sgeraldes/hidock-next-sub003/internal/frame"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

const (
	// EndpointBulkOut carries requests to the device.
	EndpointBulkOut = 0x01
	// EndpointBulkIn carries responses from the device.
	EndpointBulkIn = 0x82

	// DefaultWriteTimeout bounds a single bulk OUT transfer.
	DefaultWriteTimeout = 5 * time.Second
)

// Transport implements jensen.Transport for a HiDock attached over USB.
type Transport struct {
	ctx          *gousb.Context
	dev          *gousb.Device
	cfg          *gousb.Config
	intf         *gousb.Interface
	out          *gousb.OutEndpoint
	in           *gousb.InEndpoint
	name         string
	writeTimeout time.Duration
	iface        int
	packetSize   int
	vendorID     uint16
	productID    uint16
	mu           syncutil.Mutex
}

// Factory is a jensen.TransportFactory backed by libusb.
func Factory(ctx context.Context, params jensen.ConnectParams) (jensen.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := New(params)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// New opens the first attached device matching params and claims its
// interface. A zero ProductID accepts any known HiDock model.
func New(params jensen.ConnectParams) (*Transport, error) {
	usbCtx := gousb.NewContext()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return matches(params, uint16(desc.Vendor), uint16(desc.Product))
	})
	if len(devs) == 0 {
		_ = usbCtx.Close()
		if err != nil {
			return nil, classify("open", params.String(), err)
		}
		return nil, fmt.Errorf("%w: no device matching %s", jensen.ErrDeviceNotFound, params)
	}
	// OpenDevices reports per-device failures alongside the devices it did open.
	if err != nil {
		jensen.Debugf("usb: partial enumeration: %v", err)
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	t := &Transport{
		ctx:          usbCtx,
		dev:          dev,
		iface:        params.Interface,
		vendorID:     uint16(dev.Desc.Vendor),
		productID:    uint16(dev.Desc.Product),
		writeTimeout: DefaultWriteTimeout,
	}
	t.name = fmt.Sprintf("usb:%04x:%04x@%d.%d", t.vendorID, t.productID, dev.Desc.Bus, dev.Desc.Address)

	if err := dev.SetAutoDetach(true); err != nil {
		jensen.Debugf("usb: auto detach unsupported: %v", err)
	}
	if err := t.claim(); err != nil {
		_ = dev.Close()
		_ = usbCtx.Close()
		return nil, err
	}
	return t, nil
}

func matches(params jensen.ConnectParams, vid, pid uint16) bool {
	if vid != params.VendorID {
		return false
	}
	if params.ProductID != 0 {
		return pid == params.ProductID
	}
	return detection.IsHiDock(vid, pid)
}

// claim selects the active configuration and opens both bulk endpoints.
func (t *Transport) claim() error {
	num, err := t.dev.ActiveConfigNum()
	if err != nil {
		num = 1
	}
	cfg, err := t.dev.Config(num)
	if err != nil {
		return classify("config", t.name, err)
	}
	intf, err := cfg.Interface(t.iface, 0)
	if err != nil {
		_ = cfg.Close()
		return classify("claim", t.name, err)
	}
	out, err := intf.OutEndpoint(EndpointBulkOut)
	if err != nil {
		intf.Close()
		_ = cfg.Close()
		return classify("endpoint out", t.name, err)
	}
	in, err := intf.InEndpoint(EndpointBulkIn)
	if err != nil {
		intf.Close()
		_ = cfg.Close()
		return classify("endpoint in", t.name, err)
	}

	t.cfg, t.intf, t.out, t.in = cfg, intf, out, in
	t.packetSize = in.Desc.MaxPacketSize
	return nil
}

func (t *Transport) release() {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		_ = t.cfg.Close()
		t.cfg = nil
	}
	t.out, t.in = nil, nil
}

// Write sends data on the bulk OUT endpoint.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	out, timeout := t.out, t.writeTimeout
	t.mu.Unlock()
	if out == nil {
		return jensen.NewTransportClosedError("write", t.name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := out.WriteContext(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return jensen.NewTimeoutError("write", t.name)
		}
		return classify("write", t.name, err)
	}
	if n != len(data) {
		return jensen.NewTransportWriteError("write", t.name,
			fmt.Errorf("short write: %d of %d bytes", n, len(data)))
	}
	return nil
}

// Read performs one bulk IN transfer of up to maxBytes into a pooled buffer.
// The transfer is rounded up to whole packets, so up to one packet more than
// maxBytes may be returned. When nothing arrives within timeout it returns an
// empty slice and no error.
func (t *Transport) Read(maxBytes int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	in, packet := t.in, t.packetSize
	t.mu.Unlock()
	if in == nil {
		return nil, jensen.NewTransportClosedError("read", t.name)
	}

	buf := frame.GetBuffer(readSize(maxBytes, packet))
	defer frame.PutBuffer(buf)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := in.ReadContext(ctx, buf)
	if err != nil && ctx.Err() == nil && !isTimeout(err) {
		return nil, classify("read", t.name, err)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// readSize rounds maxBytes up to whole packets so the host never overflows
// a short transfer buffer.
func readSize(maxBytes, packet int) int {
	if maxBytes <= 0 {
		maxBytes = 1
	}
	if packet <= 0 {
		return maxBytes
	}
	return ((maxBytes + packet - 1) / packet) * packet
}

// SetWriteTimeout sets the bulk OUT timeout.
func (t *Transport) SetWriteTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: write timeout must be positive", jensen.ErrInvalidParameter)
	}
	t.mu.Lock()
	t.writeTimeout = timeout
	t.mu.Unlock()
	return nil
}

// Reset issues a USB port reset and reclaims the interface.
func (t *Transport) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return jensen.NewTransportClosedError("reset", t.name)
	}

	t.release()
	if err := t.dev.Reset(); err != nil {
		jensen.Debugf("usb: reset %s failed: %v", t.name, err)
		if cerr := t.claim(); cerr != nil {
			return cerr
		}
		return classify("reset", t.name, err)
	}
	return t.claim()
}

// Close releases the interface, the device handle and the libusb context,
// in that order.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil
	}

	t.release()
	var errs []error
	if err := t.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close device: %w", err))
	}
	t.dev = nil
	if err := t.ctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	t.ctx = nil
	return errors.Join(errs...)
}

// IsConnected reports whether the interface is claimed.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.in != nil && t.out != nil
}

// Type returns the transport type
func (*Transport) Type() jensen.TransportType {
	return jensen.TransportUSB
}

func (t *Transport) String() string {
	return t.name
}

// ProductID returns the product id of the opened device.
func (t *Transport) ProductID() uint16 {
	return t.productID
}

func isTimeout(err error) bool {
	var status gousb.TransferStatus
	if errors.As(err, &status) {
		return status == gousb.TransferTimedOut || status == gousb.TransferCancelled
	}
	var usbErr gousb.Error
	return errors.As(err, &usbErr) && usbErr == gousb.ErrorTimeout
}

// classify maps libusb failures onto the jensen error taxonomy.
func classify(op, port string, err error) error {
	var status gousb.TransferStatus
	if errors.As(err, &status) {
		switch status {
		case gousb.TransferNoDevice:
			return jensen.NewDeviceGoneError(op, port, err)
		case gousb.TransferTimedOut, gousb.TransferCancelled:
			return jensen.NewTimeoutError(op, port)
		}
		return ioError(op, port, err)
	}

	var usbErr gousb.Error
	if errors.As(err, &usbErr) {
		switch usbErr {
		case gousb.ErrorNoDevice, gousb.ErrorNotFound:
			return jensen.NewDeviceGoneError(op, port, err)
		case gousb.ErrorBusy:
			return jensen.NewDeviceBusyError(op, port, err)
		case gousb.ErrorTimeout:
			return jensen.NewTimeoutError(op, port)
		case gousb.ErrorAccess, gousb.ErrorNotSupported, gousb.ErrorInvalidParam:
			return jensen.NewTransportError(op, port, err, jensen.ErrorTypePermanent)
		}
	}
	return ioError(op, port, err)
}

func ioError(op, port string, err error) error {
	if op == "write" {
		return jensen.NewTransportWriteError(op, port, err)
	}
	return jensen.NewTransportReadError(op, port, err)
}
