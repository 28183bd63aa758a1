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
	"encoding/binary"
	"time"
)

// DeviceInfoBody builds a GetDeviceInfo response: a big-endian version word
// followed by a 16-byte NUL-padded serial number.
func DeviceInfoBody(versionCode uint32, serial string) []byte {
	body := make([]byte, 20)
	binary.BigEndian.PutUint32(body, versionCode)
	copy(body[4:], serial)
	return body
}

// TimeBody builds a 7-byte BCD timestamp YYYY MM DD hh mm ss.
func TimeBody(t time.Time) []byte {
	bcd := func(v int) byte { return byte((v/10)<<4 | v%10) }
	return []byte{
		bcd(t.Year() / 100), bcd(t.Year() % 100),
		bcd(int(t.Month())), bcd(t.Day()),
		bcd(t.Hour()), bcd(t.Minute()), bcd(t.Second()),
	}
}

// StatusBody builds the one-byte result of set-style commands.
func StatusBody(code byte) []byte {
	return []byte{code}
}

// CountBody builds a GetFileCount response.
func CountBody(n int) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(n))
	return body
}

// CardInfoBody builds a GetCardInfo response with values in MiB.
func CardInfoBody(used, capacity, status uint32) []byte {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:], used)
	binary.BigEndian.PutUint32(body[4:], capacity)
	binary.BigEndian.PutUint32(body[8:], status)
	return body
}

// SettingsState mirrors the recorder's toggles.
type SettingsState struct {
	AutoRecord        bool
	AutoPlay          bool
	NotificationSound bool
	BluetoothTone     bool
}

// SettingsBody builds a GetSettings response. The tone flag is inverted on
// the wire.
func SettingsBody(s SettingsState) []byte {
	flag := func(on bool) byte {
		if on {
			return 1
		}
		return 2
	}
	body := make([]byte, 16)
	body[3] = flag(s.AutoRecord)
	body[7] = flag(s.AutoPlay)
	body[11] = flag(s.NotificationSound)
	body[15] = flag(!s.BluetoothTone)
	return body
}

// FileRecord encodes one GetFileList record.
func FileRecord(r *VirtualRecording) []byte {
	rec := make([]byte, 0, 30+len(r.Name))
	n := len(r.Name)
	rec = append(rec, r.Version, byte(n>>16), byte(n>>8), byte(n))
	rec = append(rec, r.Name...)
	rec = binary.BigEndian.AppendUint32(rec, uint32(len(r.Data)))
	rec = append(rec, make([]byte, 6)...)
	rec = append(rec, r.Signature[:]...)
	return rec
}

// FileListHeader is the 0xFF 0xFF marker plus the total record count.
func FileListHeader(count int) []byte {
	return binary.BigEndian.AppendUint32([]byte{0xFF, 0xFF}, uint32(count))
}

// FileListBodies encodes a listing split perFrame records per frame; zero
// puts everything in one frame. With header, the first frame starts with
// FileListHeader.
func FileListBodies(recs []*VirtualRecording, perFrame int, header bool) [][]byte {
	if perFrame <= 0 {
		perFrame = len(recs)
	}

	var bodies [][]byte
	var cur []byte
	if header {
		cur = FileListHeader(len(recs))
	}
	inFrame := 0
	for _, r := range recs {
		cur = append(cur, FileRecord(r)...)
		inFrame++
		if inFrame == perFrame {
			bodies = append(bodies, cur)
			cur, inFrame = nil, 0
		}
	}
	if len(cur) > 0 || len(bodies) == 0 {
		bodies = append(bodies, cur)
	}
	return bodies
}

// SplitBytes cuts data into pieces of at most n bytes.
func SplitBytes(data []byte, n int) [][]byte {
	if n <= 0 {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > n {
		out = append(out, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
