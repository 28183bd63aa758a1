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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// TransferStatus is the outcome of a streaming transfer.
type TransferStatus string

const (
	// StatusOK means exactly the expected number of bytes arrived.
	StatusOK TransferStatus = "OK"
	// StatusError means the device ended early, overran, or the sink failed.
	StatusError TransferStatus = "ERROR"
	// StatusTimeout means the overall deadline passed.
	StatusTimeout TransferStatus = "TIMEOUT"
	// StatusCancelled means the caller's context was cancelled.
	StatusCancelled TransferStatus = "CANCELLED"
)

// ProgressFunc receives the running byte count and the expected total.
type ProgressFunc func(received, total int64)

// StreamRequest describes one file download.
type StreamRequest struct {
	// Sink receives each chunk in order.
	Sink io.Writer
	// Progress, if set, is called at least every ProgressInterval bytes and
	// exactly once with (Length, Length) on success.
	Progress ProgressFunc
	Name     string
	// Length is the device-reported file size; the transfer completes when
	// exactly this many bytes have arrived.
	Length int64
	// Timeout bounds the whole transfer; zero means TransferTimeout(Length).
	Timeout time.Duration
}

// StreamResult reports how a transfer ended. Err carries the cause for any
// status other than StatusOK.
type StreamResult struct {
	Err           error
	Status        TransferStatus
	BytesReceived int64
	Elapsed       time.Duration
	// Attempts is how many transfers were made; DownloadWithRetry may make several.
	Attempts int
}

// OK reports whether the transfer completed.
func (r *StreamResult) OK() bool {
	return r != nil && r.Status == StatusOK
}

// ErrShortTransfer is the cause when the device ends a stream before the
// expected length.
var ErrShortTransfer = errors.New("stream ended before expected length")

// ErrTransferOverrun is the cause when the device sends more than expected.
var ErrTransferOverrun = errors.New("stream exceeded expected length")

func validateStreamRequest(req *StreamRequest) error {
	switch {
	case req.Name == "":
		return fmt.Errorf("stream: empty file name: %w", ErrInvalidParameter)
	case req.Length < 0:
		return fmt.Errorf("stream %s: negative length %d: %w", req.Name, req.Length, ErrInvalidParameter)
	case req.Sink == nil:
		return fmt.Errorf("stream %s: nil sink: %w", req.Name, ErrInvalidParameter)
	case req.Timeout < 0:
		return fmt.Errorf("stream %s: negative timeout: %w", req.Name, ErrInvalidParameter)
	}
	return nil
}

// StreamFile downloads one recording with TransferFile, handing every chunk
// to req.Sink. Expected conditions (device error, timeout, cancellation) are
// reported through the result's Status; the error return is reserved for
// invalid requests. On any status but OK a sink implementing Aborter is
// aborted and stale chunks are drained; on OK a Committer sink is committed.
func (d *Device) StreamFile(ctx context.Context, req StreamRequest) (*StreamResult, error) {
	if err := validateStreamRequest(&req); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamLocked(ctx, CmdTransferFile, []byte(req.Name), &req, false), nil
}

// ReadFileBlock returns up to length leading bytes of a recording using
// GetFileBlock. The device may send fewer bytes when the file is shorter.
func (d *Device) ReadFileBlock(ctx context.Context, name string, length int) ([]byte, error) {
	if name == "" || length <= 0 {
		return nil, fmt.Errorf("read block %q (%d bytes): %w", name, length, ErrInvalidParameter)
	}

	body := make([]byte, 4+len(name))
	binary.BigEndian.PutUint32(body, uint32(length))
	copy(body[4:], name)

	var buf bytes.Buffer
	req := &StreamRequest{Name: name, Length: int64(length), Sink: &buf}

	d.mu.Lock()
	result := d.streamLocked(ctx, CmdGetFileBlock, body, req, true)
	d.mu.Unlock()

	if !result.OK() {
		return nil, result.Err
	}
	return buf.Bytes(), nil
}

// transfer tracks one streaming download.
type transfer struct {
	req          *StreamRequest
	started      time.Time
	received     int64
	lastProgress int64
	interval     int64
}

func (t *transfer) progress() {
	if t.req.Progress == nil || t.received >= t.req.Length {
		return
	}
	if t.received-t.lastProgress >= t.interval {
		t.lastProgress = t.received
		t.req.Progress(t.received, t.req.Length)
	}
}

func (t *transfer) finish(status TransferStatus, err error) *StreamResult {
	return &StreamResult{
		Status:        status,
		BytesReceived: t.received,
		Elapsed:       time.Since(t.started),
		Err:           err,
		Attempts:      1,
	}
}

// streamLocked runs the transfer state machine. allowShort accepts an early
// end of stream as completion. Callers hold d.mu.
func (d *Device) streamLocked(
	ctx context.Context, cmd Command, body []byte, req *StreamRequest, allowShort bool,
) *StreamResult {
	t := &transfer{req: req, started: time.Now(), interval: d.config.ProgressInterval}
	if t.interval <= 0 {
		t.interval = DefaultProgressInterval
	}

	result := d.runTransfer(ctx, cmd, body, t, allowShort)

	switch result.Status {
	case StatusOK:
		d.afterSuccessLocked()
		if c, ok := req.Sink.(Committer); ok {
			if err := c.Commit(); err != nil {
				result.Status = StatusError
				result.Err = fmt.Errorf("commit %s: %w", req.Name, err)
				break
			}
		}
		if req.Progress != nil {
			req.Progress(req.Length, req.Length)
		}
	default:
		if a, ok := req.Sink.(Aborter); ok {
			if err := a.Abort(); err != nil {
				Debugf("abort sink for %s: %v", req.Name, err)
			}
		}
	}

	if result.Status != StatusOK && d.correlator != nil {
		d.afterFailureLocked(ctx, result.Err)
		if !IsFatal(result.Err) {
			d.correlator.Drain(StreamDrainDuration)
		}
	}

	Log().Debug().
		Str("cmd", cmd.String()).
		Str("file", req.Name).
		Str("status", string(result.Status)).
		Int64("received", result.BytesReceived).
		Int64("expected", req.Length).
		Dur("elapsed", result.Elapsed).
		Msg("transfer finished")
	return result
}

func (d *Device) runTransfer(
	ctx context.Context, cmd Command, body []byte, t *transfer, allowShort bool,
) *StreamResult {
	req := t.req
	if err := ctx.Err(); err != nil {
		return t.finish(StatusCancelled, fmt.Errorf("%s %s: %w", cmd, req.Name, err))
	}
	correlator, err := d.connectedLocked()
	if err != nil {
		return t.finish(StatusError, fmt.Errorf("%s %s: %w", cmd, req.Name, err))
	}
	if req.Length == 0 {
		return t.finish(StatusOK, nil)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = TransferTimeout(req.Length)
	}
	deadline := t.started.Add(timeout)

	stream, err := correlator.BeginStream(ctx, cmd, body, timeout)
	if err != nil {
		return t.finish(classifyStreamError(ctx, err))
	}
	defer stream.Close()

	for {
		if err := ctx.Err(); err != nil {
			return t.finish(StatusCancelled, fmt.Errorf("%s %s: %w", cmd, req.Name, err))
		}

		f, err := stream.Next(ctx, deadline)
		if err != nil {
			return t.finish(classifyStreamError(ctx, err))
		}

		if len(f.Body) == 0 {
			if t.received == req.Length || allowShort {
				return t.finish(StatusOK, nil)
			}
			return t.finish(StatusError, fmt.Errorf("%s after %d of %d bytes: %w",
				req.Name, t.received, req.Length, ErrShortTransfer))
		}

		if t.received+int64(len(f.Body)) > req.Length {
			return t.finish(StatusError, fmt.Errorf("%s: %d bytes after %d of %d: %w",
				req.Name, len(f.Body), t.received, req.Length, ErrTransferOverrun))
		}

		if _, err := req.Sink.Write(f.Body); err != nil {
			return t.finish(StatusError, fmt.Errorf("write %s: %w", req.Name, err))
		}
		t.received += int64(len(f.Body))

		if t.received == req.Length {
			return t.finish(StatusOK, nil)
		}
		t.progress()
	}
}

// classifyStreamError maps a receive failure onto a transfer status.
func classifyStreamError(ctx context.Context, err error) (TransferStatus, error) {
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return StatusCancelled, err
	case errors.Is(err, ErrCommandTimeout):
		return StatusTimeout, err
	default:
		return StatusError, err
	}
}
