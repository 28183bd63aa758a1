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
	"context"
	"errors"
	"testing"

	"github.com/sgeraldes/hidock-next-sub003/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(descs ...Descriptor) Enumerator {
	return func(context.Context) ([]Descriptor, error) {
		return descs, nil
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	bus := fixed(
		Descriptor{VendorID: 0x046D, ProductID: 0xC52B, Bus: 1, Address: 2},
		Descriptor{VendorID: 0x10D6, ProductID: 0xB00D, Bus: 1, Address: 4, Port: 3, Speed: "high"},
		Descriptor{VendorID: 0x10D6, ProductID: 0xAF0E, Bus: 2, Address: 9},
		Descriptor{VendorID: 0x10D6, ProductID: 0x0001, Bus: 2, Address: 10},
	)

	tests := []struct {
		name      string
		opts      detection.Options
		wantPaths []string
	}{
		{name: "all known models", wantPaths: []string{"usb:1.4", "usb:2.9"}},
		{name: "blocked", opts: detection.Options{Blocklist: []string{"10d6:af0e"}}, wantPaths: []string{"usb:1.4"}},
		{name: "ignored", opts: detection.Options{IgnorePaths: []string{"usb:1.4"}}, wantPaths: []string{"usb:2.9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			devices, err := NewWithEnumerator(bus).Detect(context.Background(), &tt.opts)
			require.NoError(t, err)
			paths := make([]string, 0, len(devices))
			for _, d := range devices {
				paths = append(paths, d.Path)
			}
			assert.Equal(t, tt.wantPaths, paths)
		})
	}
}

func TestDetect_DeviceInfo(t *testing.T) {
	t.Parallel()

	det := NewWithEnumerator(fixed(Descriptor{VendorID: 0x10D6, ProductID: 0xB00D, Bus: 1, Address: 4, Port: 3, Speed: "high"}))
	assert.Equal(t, "usb", det.Transport())

	devices, err := det.Detect(context.Background(), &detection.Options{})
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "HiDock H1E", d.Name)
	assert.Equal(t, "10D6:B00D", d.Metadata["vidpid"])
	assert.Equal(t, "3", d.Metadata["port"])
	assert.Equal(t, 1, d.Bus)
	assert.Equal(t, 4, d.Address)
}

func TestDetect_NoneFound(t *testing.T) {
	t.Parallel()

	_, err := NewWithEnumerator(fixed()).Detect(context.Background(), &detection.Options{})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_EnumerationError(t *testing.T) {
	t.Parallel()

	boom := errors.New("LIBUSB_ERROR_ACCESS")
	det := NewWithEnumerator(func(context.Context) ([]Descriptor, error) { return nil, boom })
	_, err := det.Detect(context.Background(), &detection.Options{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "enumerate")
}
