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

// Package frame implements the Jensen wire format used by HiDock recorders:
// a fixed 12-byte big-endian header opened by the 0x12 0x34 sync marker,
// followed by an opaque body.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Frame is one complete protocol unit.
type Frame struct {
	Body       []byte
	SequenceID uint32
	CommandID  uint16
}

// String returns a short description for logs.
func (f Frame) String() string {
	return fmt.Sprintf("cmd=%d seq=%d len=%d", f.CommandID, f.SequenceID, len(f.Body))
}

// Encode serializes a frame. It always succeeds.
func Encode(commandID uint16, sequenceID uint32, body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	out[0] = Sync0
	out[1] = Sync1
	binary.BigEndian.PutUint16(out[offsetCommand:], commandID)
	binary.BigEndian.PutUint32(out[offsetSequence:], sequenceID)
	binary.BigEndian.PutUint32(out[offsetLength:], uint32(len(body))) //nolint:gosec // body length bounded by caller
	copy(out[HeaderSize:], body)
	return out
}

// Decoder accumulates raw bytes from a stream and cuts them into frames.
//
// A Decoder is not safe for concurrent use. It never fails: bytes that do not
// begin a frame are dropped one at a time until the sync marker lines up again.
type Decoder struct {
	buf     []byte
	off     int
	maxBody uint32
	resyncs uint64
	dropped uint64
	inSync  bool
}

// NewDecoder returns a decoder that accepts bodies up to MaxBodyLength.
func NewDecoder() *Decoder {
	return &Decoder{maxBody: MaxBodyLength, inSync: true}
}

// NewDecoderWithLimit returns a decoder with a custom body length cap.
func NewDecoderWithLimit(maxBody uint32) *Decoder {
	if maxBody == 0 {
		maxBody = MaxBodyLength
	}
	return &Decoder{maxBody: maxBody, inSync: true}
}

// Feed appends data to the internal accumulator and extracts every complete
// frame now available. The returned remainder is a copy of the bytes still
// waiting for more input.
func (d *Decoder) Feed(data []byte) (frames []Frame, remainder []byte) {
	if d.maxBody == 0 {
		d.maxBody = MaxBodyLength
	}
	d.buf = append(d.buf, data...)

	for {
		d.resync()

		pending := d.buf[d.off:]
		if len(pending) < HeaderSize {
			break
		}

		bodyLen := binary.BigEndian.Uint32(pending[offsetLength:])
		if bodyLen > d.maxBody {
			// Implausible length: this sync marker was inside garbage.
			d.drop()
			continue
		}

		total := HeaderSize + int(bodyLen)
		if len(pending) < total {
			break
		}

		body := make([]byte, bodyLen)
		copy(body, pending[HeaderSize:total])
		frames = append(frames, Frame{
			CommandID:  binary.BigEndian.Uint16(pending[offsetCommand:]),
			SequenceID: binary.BigEndian.Uint32(pending[offsetSequence:]),
			Body:       body,
		})
		d.off += total
		d.inSync = true
	}

	d.compact()
	return frames, d.Remainder()
}

// resync drops leading bytes until the buffer starts with the sync marker or
// holds a lone first sync byte that may be completed by the next read.
func (d *Decoder) resync() {
	for d.off < len(d.buf) {
		if d.buf[d.off] != Sync0 {
			d.drop()
			continue
		}
		if d.off+1 < len(d.buf) && d.buf[d.off+1] != Sync1 {
			d.drop()
			continue
		}
		return
	}
}

func (d *Decoder) drop() {
	if d.inSync {
		d.resyncs++
		d.inSync = false
	}
	d.dropped++
	d.off++
}

func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf = d.buf[:n]
	d.off = 0
}

// Remainder returns a copy of the buffered bytes not yet part of a frame.
func (d *Decoder) Remainder() []byte {
	pending := d.buf[d.off:]
	out := make([]byte, len(pending))
	copy(out, pending)
	return out
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Resyncs reports how many times the decoder lost and searched for the sync marker.
func (d *Decoder) Resyncs() uint64 {
	return d.resyncs
}

// Dropped reports the total number of bytes discarded while resynchronizing.
func (d *Decoder) Dropped() uint64 {
	return d.dropped
}

// Reset discards all buffered bytes. Counters are kept.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
	d.inSync = true
}
