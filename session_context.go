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
	"time"

	"github.com/google/uuid"
	"github.com/sgeraldes/hidock-next-sub003/internal/frame"
)

// PendingCommand is a request that has been written and awaits the response
// carrying the same sequence id.
type PendingCommand struct {
	IssuedAt   time.Time
	Timeout    time.Duration
	SequenceID uint32
	Command    Command
}

// CorrelatorStats counts traffic over the life of one session.
type CorrelatorStats struct {
	Sent         uint64
	Received     uint64
	Unexpected   uint64
	Timeouts     uint64
	Resyncs      uint64
	DroppedBytes uint64
}

// SessionContext is the per-connection protocol state: the sequence counter,
// the inbound decoder with any frames it produced ahead of demand, the pending
// request table and the wire trace. It is created by Connect and discarded by
// Disconnect, so nothing leaks across reconnects. Access is serialized by the
// correlator's exchange lock.
type SessionContext struct {
	startedAt           time.Time
	decoder             *frame.Decoder
	pending             map[uint32]PendingCommand
	trace               *TraceBuffer
	backlog             []frame.Frame
	id                  string
	stats               CorrelatorStats
	nextSeq             uint32
	consecutiveTimeouts int
	hardError           bool
}

const sessionTraceSize = 32

// NewSessionContext creates fresh protocol state for a connection on port.
func NewSessionContext(transportType TransportType, port string) *SessionContext {
	return &SessionContext{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		decoder:   frame.NewDecoder(),
		pending:   make(map[uint32]PendingCommand),
		trace:     NewTraceBuffer(string(transportType), port, sessionTraceSize),
	}
}

// nextSequence returns the next request sequence id. Ids start at 1 and are
// unique for the session's lifetime.
func (s *SessionContext) nextSequence() uint32 {
	s.nextSeq++
	return s.nextSeq
}

func (s *SessionContext) track(p PendingCommand) {
	s.pending[p.SequenceID] = p
	s.stats.Sent++
}

func (s *SessionContext) untrack(seq uint32) {
	delete(s.pending, seq)
}

// feed decodes inbound bytes and appends completed frames to the backlog.
func (s *SessionContext) feed(data []byte) {
	resyncs, dropped := s.decoder.Resyncs(), s.decoder.Dropped()
	frames, _ := s.decoder.Feed(data)
	if n := s.decoder.Resyncs() - resyncs; n > 0 {
		s.stats.Resyncs += n
		s.stats.DroppedBytes += s.decoder.Dropped() - dropped
		Log().Debug().
			Uint64("resyncs", n).
			Uint64("dropped", s.decoder.Dropped()-dropped).
			Msg("frame decoder resynchronized")
	}
	s.stats.Received += uint64(len(frames))
	s.backlog = append(s.backlog, frames...)
}

// take removes and returns the first backlog frame accepted by match. Frames
// ahead of it that nothing is waiting for are discarded and counted.
func (s *SessionContext) take(match func(frame.Frame) bool) (frame.Frame, bool) {
	for len(s.backlog) > 0 {
		f := s.backlog[0]
		s.backlog = s.backlog[1:]
		if match(f) {
			return f, true
		}
		s.stats.Unexpected++
		Log().Debug().
			Str("cmd", Command(f.CommandID).String()).
			Uint32("seq", f.SequenceID).
			Int("len", len(f.Body)).
			Msg("discarding unexpected frame")
	}
	return frame.Frame{}, false
}

func (s *SessionContext) noteSuccess() {
	s.consecutiveTimeouts = 0
	s.hardError = false
}

func (s *SessionContext) noteTimeout() {
	s.consecutiveTimeouts++
	s.stats.Timeouts++
}

func (s *SessionContext) noteHardError() {
	s.hardError = true
}

// stalled reports whether the link looks unhealthy: threshold consecutive
// command timeouts, or a hard transport error since the last success.
func (s *SessionContext) stalled(threshold int) bool {
	return s.hardError || (threshold > 0 && s.consecutiveTimeouts >= threshold)
}

// clear drops buffered input and outstanding requests. The sequence counter
// keeps running so late responses to abandoned requests never match.
func (s *SessionContext) clear() {
	s.decoder.Reset()
	s.backlog = nil
	for seq := range s.pending {
		delete(s.pending, seq)
	}
	s.consecutiveTimeouts = 0
	s.hardError = false
}

// Pending returns a snapshot of requests still awaiting a response.
func (s *SessionContext) Pending() []PendingCommand {
	out := make([]PendingCommand, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// ID identifies the session in logs. Every Connect and Recover gets a new one.
func (s *SessionContext) ID() string {
	return s.id
}

// Trace returns the session's wire trace.
func (s *SessionContext) Trace() *TraceBuffer {
	return s.trace
}

// Stats returns traffic counters since the session started.
func (s *SessionContext) Stats() CorrelatorStats {
	return s.stats
}

// Age returns how long the session has existed.
func (s *SessionContext) Age() time.Duration {
	return time.Since(s.startedAt)
}
