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
	"context"
	"fmt"
	"time"

	"github.com/sgeraldes/hidock-next-sub003/internal/frame"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

// CorrelatorConfig tunes how a correlator polls its transport.
type CorrelatorConfig struct {
	// ReadChunkSize is the maximum number of bytes requested per Read.
	ReadChunkSize int
	// ReadPollInterval is the longest single Read wait; timeouts and
	// cancellation are checked between polls.
	ReadPollInterval time.Duration
	// StallThreshold is the number of consecutive command timeouts after
	// which Stalled reports true.
	StallThreshold int
}

// Correlator pairs requests with their responses by sequence id. The protocol
// allows a single outstanding request, so callers queue on an exchange lock.
type Correlator struct {
	transport Transport
	session   *SessionContext
	config    CorrelatorConfig
	mu        syncutil.Mutex
}

// NewCorrelator binds a transport to a session's protocol state.
func NewCorrelator(transport Transport, session *SessionContext, config CorrelatorConfig) *Correlator {
	if config.ReadChunkSize <= 0 {
		config.ReadChunkSize = DefaultReadChunkSize
	}
	if config.ReadPollInterval <= 0 {
		config.ReadPollInterval = DefaultReadPollInterval
	}
	return &Correlator{
		transport: transport,
		session:   session,
		config:    config,
	}
}

// SendAndReceive writes cmd with body under a fresh sequence id and waits up
// to timeout for the response carrying that id. Frames with other ids are
// logged and discarded. Fails with *CommandTimeoutError when the budget runs
// out, with the transport's error on a hard I/O failure, or with ctx.Err()
// when the caller gives up first.
func (c *Correlator) SendAndReceive(
	ctx context.Context, cmd Command, body []byte, timeout time.Duration,
) (*frame.Frame, error) {
	if cmd.Streaming() {
		return nil, fmt.Errorf("%s answers with a chunk stream, use BeginStream: %w", cmd, ErrInvalidParameter)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq, issued, err := c.send(cmd, body, timeout)
	if err != nil {
		return nil, err
	}
	defer c.session.untrack(seq)

	match := func(f frame.Frame) bool { return f.SequenceID == seq }
	return c.await(ctx, cmd, seq, match, issued, issued.Add(timeout))
}

// send encodes and writes one request. Ids outside the supported command set
// never reach the wire. Callers hold c.mu.
func (c *Correlator) send(cmd Command, body []byte, timeout time.Duration) (uint32, time.Time, error) {
	if !cmd.Supported() {
		return 0, time.Time{}, fmt.Errorf("send %s: %w", cmd, ErrUnsupportedCommand)
	}
	seq := c.session.nextSequence()
	data := frame.Encode(uint16(cmd), seq, body)
	issued := time.Now()

	c.session.trace.RecordTX(data, fmt.Sprintf("%s seq=%d", cmd, seq))
	if err := c.transport.Write(data); err != nil {
		c.session.noteHardError()
		err = classifyIOError("write", transportPort(c.transport), err)
		return 0, issued, c.session.trace.WrapError(fmt.Errorf("send %s: %w", cmd, err))
	}
	c.session.track(PendingCommand{Command: cmd, SequenceID: seq, IssuedAt: issued, Timeout: timeout})

	Log().Debug().Str("cmd", cmd.String()).Uint32("seq", seq).Int("len", len(body)).Msg("sent")
	return seq, issued, nil
}

// await polls the transport until a backlog frame satisfies match or the
// deadline passes. Callers hold c.mu.
func (c *Correlator) await(
	ctx context.Context, cmd Command, seq uint32, match func(frame.Frame) bool,
	issued, deadline time.Time,
) (*frame.Frame, error) {
	for {
		if f, ok := c.session.take(match); ok {
			c.session.noteSuccess()
			return &f, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.session.noteTimeout()
			c.session.trace.RecordTimeout(fmt.Sprintf("%s seq=%d", cmd, seq))
			return nil, c.session.trace.WrapError(&CommandTimeoutError{
				Command:  cmd,
				Sequence: seq,
				Elapsed:  time.Since(issued),
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}

		if err := c.readOnce(min(remaining, c.config.ReadPollInterval)); err != nil {
			return nil, c.session.trace.WrapError(fmt.Errorf("%s: %w", cmd, err))
		}
	}
}

// readOnce performs one transport read and feeds the decoder.
func (c *Correlator) readOnce(wait time.Duration) error {
	data, err := c.transport.Read(c.config.ReadChunkSize, wait)
	if err != nil {
		c.session.noteHardError()
		return classifyIOError("read", transportPort(c.transport), err)
	}
	if len(data) > 0 {
		c.session.trace.RecordRX(data, "")
		c.session.feed(data)
	}
	return nil
}

// Stream is an open multi-frame exchange. It holds the exchange lock until
// Close, so no other request can interleave with the transfer.
type Stream struct {
	c      *Correlator
	issued time.Time
	cmd    Command
	seq    uint32
	frames int
	bytes  int64
	closed bool
}

// BeginStream writes cmd with body and returns a Stream that yields every
// following frame carrying cmd and the request's sequence id. Chunks left over
// from an earlier exchange are discarded. The caller must Close it.
func (c *Correlator) BeginStream(ctx context.Context, cmd Command, body []byte, timeout time.Duration) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}

	c.mu.Lock()
	seq, issued, err := c.send(cmd, body, timeout)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	return &Stream{c: c, cmd: cmd, seq: seq, issued: issued}, nil
}

// Next returns the next frame of the stream, waiting until deadline at most.
// It fails with *CommandTimeoutError at the deadline and with ctx.Err() once
// the context is done; cancellation is observed between polls.
func (s *Stream) Next(ctx context.Context, deadline time.Time) (*frame.Frame, error) {
	if s.closed {
		return nil, fmt.Errorf("%s: stream closed: %w", s.cmd, ErrTransportClosed)
	}
	match := func(f frame.Frame) bool {
		return f.CommandID == uint16(s.cmd) && f.SequenceID == s.seq
	}
	f, err := s.c.await(ctx, s.cmd, s.seq, match, s.issued, deadline)
	if err != nil {
		return nil, err
	}
	s.frames++
	s.bytes += int64(len(f.Body))
	return f, nil
}

// Frames returns how many frames the stream has yielded.
func (s *Stream) Frames() int {
	return s.frames
}

// Close ends the exchange and releases the lock. Safe to call twice.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.c.session.untrack(s.seq)
	Log().Debug().
		Str("cmd", s.cmd.String()).
		Uint32("seq", s.seq).
		Int("frames", s.frames).
		Int64("bytes", s.bytes).
		Dur("elapsed", time.Since(s.issued)).
		Msg("stream closed")
	s.c.mu.Unlock()
}

// Drain reads and discards inbound bytes until the link is quiet for one
// poll interval or maxDuration elapses, then clears the decoder. Returns the
// number of bytes thrown away.
func (c *Correlator) Drain(maxDuration time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	drained := 0
	deadline := time.Now().Add(maxDuration)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		data, err := c.transport.Read(c.config.ReadChunkSize, min(remaining, c.config.ReadPollInterval))
		if err != nil || len(data) == 0 {
			break
		}
		drained += len(data)
	}

	drained += c.session.decoder.Buffered()
	for _, f := range c.session.backlog {
		drained += frame.HeaderSize + len(f.Body)
	}
	c.session.decoder.Reset()
	c.session.backlog = nil

	if drained > 0 {
		Debugf("drained %d stale bytes", drained)
	}
	return drained
}

// ResetState forgets buffered input, pending requests and the health counters.
func (c *Correlator) ResetState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.clear()
}

// Stalled reports whether recent exchanges indicate an unhealthy link.
func (c *Correlator) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.stalled(c.config.StallThreshold)
}

// Stats returns the session's traffic counters.
func (c *Correlator) Stats() CorrelatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Stats()
}

// Trace returns a snapshot of the most recent wire entries.
func (c *Correlator) Trace() []TraceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.trace.Entries()
}
