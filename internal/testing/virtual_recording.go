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

package testing

import (
	"crypto/md5" //nolint:gosec // content fingerprint for fixtures, not security
	"fmt"
)

// VirtualRecording is one file on the simulated recorder.
type VirtualRecording struct {
	Name      string
	Data      []byte
	Signature [16]byte
	Version   byte
}

// NewRecording creates a recording of size bytes with deterministic content,
// so tests can compare downloads byte for byte.
func NewRecording(name string, size int, version byte) *VirtualRecording {
	data := make([]byte, size)
	seed := len(name)
	for i := range data {
		data[i] = byte((i*31 + seed) % 251)
	}
	return &VirtualRecording{
		Name:      name,
		Data:      data,
		Version:   version,
		Signature: md5.Sum(data), //nolint:gosec // see import
	}
}

// Length returns the recording size as the device reports it.
func (r *VirtualRecording) Length() int64 {
	return int64(len(r.Data))
}

// RecordingName builds a file name in the recorder's
// 2025May13-160405-Rec59.hda style for index n.
func RecordingName(n int) string {
	return fmt.Sprintf("2025May13-16%02d%02d-Rec%02d.hda", n/60%60, n%60, n)
}
