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

// Package testing provides test utilities including a wire-level HiDock
// simulator.
//
// VirtualHiDock implements io.ReadWriter and speaks Jensen frames: it decodes
// requests written by the host, keeps a small recorder state (recordings,
// clock, settings, card usage) and queues response frames for Read. Fault
// injection covers dropped responses, truncated or overlong streams, garbage
// on the wire and a device that stops answering until it is reset.
package testing

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/sgeraldes/hidock-next-sub003/internal/frame"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

// Jensen command ids handled by the simulator.
const (
	cmdGetDeviceInfo          = 1
	cmdGetDeviceTime          = 2
	cmdSetDeviceTime          = 3
	cmdGetFileList            = 4
	cmdTransferFile           = 5
	cmdGetFileCount           = 6
	cmdDeleteFile             = 7
	cmdGetSettings            = 11
	cmdSetSettings            = 12
	cmdGetFileBlock           = 13
	cmdGetCardInfo            = 16
	cmdFormatCard             = 17
	cmdRestoreFactorySettings = 19
)

// Defaults of a freshly created simulator.
const (
	DefaultVersionCode = 0x00060203
	DefaultSerial      = "HD1E243505435"
	DefaultChunkSize   = 4096
	DefaultCapacityMiB = 30420
)

// SimulatorState is a snapshot of counters useful for assertions.
type SimulatorState struct {
	Requests      int
	Resets        int
	Files         int
	StreamedBytes int64
	Unresponsive  bool
}

// VirtualHiDock simulates a HiDock recorder at the wire protocol level.
type VirtualHiDock struct {
	clock          time.Time
	decoder        *frame.Decoder
	dropResponses  map[uint16]int
	files          []*VirtualRecording
	requests       []frame.Frame
	garbage        []byte
	tx             bytes.Buffer
	serial         string
	settings       SettingsState
	mu             syncutil.Mutex
	streamedBytes  int64
	versionCode    uint32
	chunkSize      int
	listPageSize   int
	stopAfter      int
	overrun        int
	resets         int
	usedMiB        uint32
	capacityMiB    uint32
	listHeader     bool
	clockSet       bool
	stopSendsEnd   bool
	hangUntilReset bool
	unresponsive   bool
}

// NewVirtualHiDock creates a simulator with no recordings.
func NewVirtualHiDock() *VirtualHiDock {
	return &VirtualHiDock{
		decoder:       frame.NewDecoder(),
		dropResponses: make(map[uint16]int),
		serial:        DefaultSerial,
		versionCode:   DefaultVersionCode,
		chunkSize:     DefaultChunkSize,
		capacityMiB:   DefaultCapacityMiB,
		listHeader:    true,
		stopAfter:     -1,
		settings:      SettingsState{AutoRecord: true, NotificationSound: true, BluetoothTone: true},
	}
}

// Write implements io.Writer - receives request bytes from the host.
func (v *VirtualHiDock) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	frames, _ := v.decoder.Feed(data)
	for _, req := range frames {
		v.requests = append(v.requests, req)
		v.handle(req)
	}
	return len(data), nil
}

// Read implements io.Reader - returns queued response bytes. It returns
// 0, nil when nothing is pending.
func (v *VirtualHiDock) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tx.Len() == 0 {
		return 0, nil
	}
	n, _ := v.tx.Read(buf)
	return n, nil
}

// Pending returns the number of response bytes waiting to be read.
func (v *VirtualHiDock) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tx.Len()
}

// Reset simulates a USB port reset: queued output and partial input are
// discarded and a hang injected with HangUntilReset is cleared.
func (v *VirtualHiDock) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tx.Reset()
	v.decoder.Reset()
	v.hangUntilReset = false
	v.resets++
}

// AddRecording stores a file on the device.
func (v *VirtualHiDock) AddRecording(r *VirtualRecording) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files = append(v.files, r)
	v.usedMiB = v.usedLocked()
}

// Recordings returns the stored files.
func (v *VirtualHiDock) Recordings() []*VirtualRecording {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*VirtualRecording, len(v.files))
	copy(out, v.files)
	return out
}

// SetIdentity sets the firmware version word and serial number.
func (v *VirtualHiDock) SetIdentity(versionCode uint32, serial string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.versionCode = versionCode
	v.serial = serial
}

// SetChunkSize sets the body size of streamed chunks.
func (v *VirtualHiDock) SetChunkSize(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunkSize = max(n, 1)
}

// SetListPaging sets how many records go in each GetFileList frame (zero for
// a single frame) and whether the first frame carries the count header.
func (v *VirtualHiDock) SetListPaging(perFrame int, header bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listPageSize = perFrame
	v.listHeader = header
}

// SetClock sets the device clock.
func (v *VirtualHiDock) SetClock(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clock = t
	v.clockSet = true
}

// Clock returns the device clock and whether it was ever set.
func (v *VirtualHiDock) Clock() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clock, v.clockSet
}

// Settings returns the current toggles.
func (v *VirtualHiDock) Settings() SettingsState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settings
}

// DropResponses makes the next n requests with cmd go unanswered.
func (v *VirtualHiDock) DropResponses(cmd uint16, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropResponses[cmd] = n
}

// StopStreamAfter truncates the next transfers after n bytes. With sendEnd
// the device then signals end of stream with an empty frame; otherwise it
// goes silent. A negative n disables the fault.
func (v *VirtualHiDock) StopStreamAfter(n int, sendEnd bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopAfter = n
	v.stopSendsEnd = sendEnd
}

// OverrunStream appends n extra bytes to every transfer.
func (v *VirtualHiDock) OverrunStream(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrun = n
}

// InjectGarbage queues bytes that precede the next response.
func (v *VirtualHiDock) InjectGarbage(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.garbage = append(v.garbage, data...)
}

// HangUntilReset stops all responses until the next Reset.
func (v *VirtualHiDock) HangUntilReset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hangUntilReset = true
}

// SetUnresponsive stops or resumes all responses regardless of resets.
func (v *VirtualHiDock) SetUnresponsive(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unresponsive = on
}

// Requests returns every decoded request in order.
func (v *VirtualHiDock) Requests() []frame.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]frame.Frame, len(v.requests))
	copy(out, v.requests)
	return out
}

// CommandCount returns how many requests with cmd were received.
func (v *VirtualHiDock) CommandCount(cmd uint16) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, r := range v.requests {
		if r.CommandID == cmd {
			n++
		}
	}
	return n
}

// GetState returns the current simulator counters.
func (v *VirtualHiDock) GetState() SimulatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return SimulatorState{
		Requests:      len(v.requests),
		Resets:        v.resets,
		Files:         len(v.files),
		StreamedBytes: v.streamedBytes,
		Unresponsive:  v.unresponsive || v.hangUntilReset,
	}
}

func (v *VirtualHiDock) usedLocked() uint32 {
	var total int64
	for _, f := range v.files {
		total += f.Length()
	}
	return uint32(total >> 20)
}

// send queues one response frame. Callers hold v.mu.
func (v *VirtualHiDock) send(req frame.Frame, body []byte) {
	if len(v.garbage) > 0 {
		v.tx.Write(v.garbage)
		v.garbage = nil
	}
	v.tx.Write(frame.Encode(req.CommandID, req.SequenceID, body))
}

func (v *VirtualHiDock) handle(req frame.Frame) {
	if v.unresponsive || v.hangUntilReset {
		return
	}
	if n := v.dropResponses[req.CommandID]; n > 0 {
		v.dropResponses[req.CommandID] = n - 1
		return
	}

	switch req.CommandID {
	case cmdGetDeviceInfo:
		v.send(req, DeviceInfoBody(v.versionCode, v.serial))
	case cmdGetDeviceTime:
		if v.clockSet {
			v.send(req, TimeBody(v.clock))
		} else {
			v.send(req, make([]byte, 7))
		}
	case cmdSetDeviceTime:
		v.handleSetTime(req)
	case cmdGetFileList:
		for _, body := range FileListBodies(v.files, v.listPageSize, v.listHeader) {
			v.send(req, body)
		}
	case cmdTransferFile:
		v.handleTransfer(req, string(req.Body), -1)
	case cmdGetFileBlock:
		if len(req.Body) < 4 {
			return
		}
		v.handleTransfer(req, string(req.Body[4:]), int(binary.BigEndian.Uint32(req.Body)))
	case cmdGetFileCount:
		v.send(req, CountBody(len(v.files)))
	case cmdDeleteFile:
		v.handleDelete(req)
	case cmdGetSettings:
		v.send(req, SettingsBody(v.settings))
	case cmdSetSettings:
		v.handleSetSettings(req)
	case cmdGetCardInfo:
		v.send(req, CardInfoBody(v.usedMiB, v.capacityMiB, 0))
	case cmdFormatCard:
		if !bytes.Equal(req.Body, []byte{1, 2, 3, 4}) {
			v.send(req, StatusBody(1))
			return
		}
		v.files = nil
		v.usedMiB = 0
		v.send(req, StatusBody(0))
	case cmdRestoreFactorySettings:
		if !bytes.Equal(req.Body, []byte{1, 2, 3, 4}) {
			v.send(req, StatusBody(1))
			return
		}
		v.settings = SettingsState{AutoRecord: true, NotificationSound: true, BluetoothTone: true}
		v.send(req, StatusBody(0))
	}
	// Unknown commands are ignored, as the firmware does.
}

func (v *VirtualHiDock) handleSetTime(req frame.Frame) {
	if len(req.Body) < 7 {
		v.send(req, StatusBody(1))
		return
	}
	dec := func(b byte) int { return int(b>>4)*10 + int(b&0x0F) }
	b := req.Body
	v.clock = time.Date(dec(b[0])*100+dec(b[1]), time.Month(dec(b[2])), dec(b[3]),
		dec(b[4]), dec(b[5]), dec(b[6]), 0, time.Local)
	v.clockSet = true
	v.send(req, StatusBody(0))
}

func (v *VirtualHiDock) handleDelete(req frame.Frame) {
	name := string(req.Body)
	for i, f := range v.files {
		if f.Name == name {
			v.files = append(v.files[:i], v.files[i+1:]...)
			v.usedMiB = v.usedLocked()
			v.send(req, StatusBody(0))
			return
		}
	}
	v.send(req, StatusBody(1))
}

func (v *VirtualHiDock) handleSetSettings(req frame.Frame) {
	n := len(req.Body)
	if n == 0 {
		v.send(req, StatusBody(1))
		return
	}
	on := req.Body[n-1] == 1
	switch n {
	case 4:
		v.settings.AutoRecord = on
	case 8:
		v.settings.AutoPlay = on
	case 12:
		v.settings.NotificationSound = on
	case 16:
		v.settings.BluetoothTone = !on
	default:
		v.send(req, StatusBody(1))
		return
	}
	v.send(req, StatusBody(0))
}

// handleTransfer streams a recording in chunk frames. limit < 0 sends the
// whole file; otherwise at most limit bytes followed by an empty frame when
// the file is shorter than the limit.
func (v *VirtualHiDock) handleTransfer(req frame.Frame, name string, limit int) {
	var rec *VirtualRecording
	for _, f := range v.files {
		if f.Name == name {
			rec = f
			break
		}
	}
	if rec == nil {
		v.send(req, nil)
		return
	}

	data := rec.Data
	short := false
	if limit >= 0 && limit < len(data) {
		data = data[:limit]
	} else if limit >= 0 {
		short = limit > len(data)
	}
	if v.overrun > 0 {
		data = append(append([]byte{}, data...), make([]byte, v.overrun)...)
	}

	truncated := false
	if v.stopAfter >= 0 && v.stopAfter < len(data) {
		data = data[:v.stopAfter]
		truncated = true
	}

	for _, chunk := range SplitBytes(data, v.chunkSize) {
		v.send(req, chunk)
		v.streamedBytes += int64(len(chunk))
	}
	if (truncated && v.stopSendsEnd) || short {
		v.send(req, nil)
	}
}
