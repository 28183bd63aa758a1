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
	"errors"
	"testing"
	"time"

	testutil "github.com/sgeraldes/hidock-next-sub003/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures writes and whether the transfer was committed or
// aborted.
type recordingSink struct {
	bytes.Buffer
	committed bool
	aborted   bool
}

func (s *recordingSink) Commit() error {
	s.committed = true
	return nil
}

func (s *recordingSink) Abort() error {
	s.aborted = true
	return nil
}

type progressLog struct {
	calls [][2]int64
}

func (p *progressLog) record(received, total int64) {
	p.calls = append(p.calls, [2]int64{received, total})
}

func TestValidateStreamRequest(t *testing.T) {
	t.Parallel()

	sink := &bytes.Buffer{}
	tests := []struct {
		name string
		req  StreamRequest
	}{
		{name: "empty name", req: StreamRequest{Sink: sink, Length: 1}},
		{name: "negative length", req: StreamRequest{Name: "a", Sink: sink, Length: -1}},
		{name: "nil sink", req: StreamRequest{Name: "a", Length: 1}},
		{name: "negative timeout", req: StreamRequest{Name: "a", Sink: sink, Length: 1, Timeout: -time.Second}},
	}

	device, _, _ := newSimulatedDevice(t)
	for _, tt := range tests {
		_, err := device.StreamFile(testContext(t), tt.req)
		require.ErrorIs(t, err, ErrInvalidParameter, tt.name)
	}
}

func TestDevice_StreamFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		size      int
		chunk     int
		interval  int64
		wantCalls int
	}{
		{name: "single chunk", size: 1000, chunk: 4096, interval: 100, wantCalls: 1},
		{name: "many chunks", size: 10000, chunk: 1000, interval: 2500, wantCalls: 4},
		{name: "exact chunk multiple", size: 4096, chunk: 1024, interval: 1, wantCalls: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, sim, _ := newSimulatedDevice(t, WithProgressInterval(tt.interval))
			rec := testutil.NewRecording(testutil.RecordingName(1), tt.size, 1)
			sim.AddRecording(rec)
			sim.SetChunkSize(tt.chunk)

			sink := &recordingSink{}
			progress := &progressLog{}
			result, err := device.StreamFile(testContext(t), StreamRequest{
				Name:     rec.Name,
				Length:   rec.Length(),
				Sink:     sink,
				Progress: progress.record,
			})
			require.NoError(t, err)
			require.True(t, result.OK(), "status %s: %v", result.Status, result.Err)
			assert.Equal(t, rec.Length(), result.BytesReceived)
			assert.Equal(t, 1, result.Attempts)
			assert.Equal(t, rec.Data, sink.Bytes())
			assert.True(t, sink.committed)
			assert.False(t, sink.aborted)

			require.Len(t, progress.calls, tt.wantCalls)
			assert.Equal(t, [2]int64{rec.Length(), rec.Length()}, progress.calls[len(progress.calls)-1])
			for i := 1; i < len(progress.calls); i++ {
				assert.Greater(t, progress.calls[i][0], progress.calls[i-1][0])
			}
		})
	}
}

func TestDevice_StreamFileZeroLength(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	before := len(sim.Requests())

	result, err := device.StreamFile(testContext(t), StreamRequest{Name: "empty.hda", Sink: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Len(t, sim.Requests(), before, "no request for an empty file")
}

func TestDevice_StreamFileFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		configure  func(*testutil.VirtualHiDock)
		wantErr    error
		name       string
		wantStatus TransferStatus
		timeout    time.Duration
	}{
		{
			name:       "device ends early",
			configure:  func(s *testutil.VirtualHiDock) { s.StopStreamAfter(3000, true) },
			wantStatus: StatusError,
			wantErr:    ErrShortTransfer,
		},
		{
			name:       "device goes silent",
			configure:  func(s *testutil.VirtualHiDock) { s.StopStreamAfter(3000, false) },
			wantStatus: StatusTimeout,
			wantErr:    ErrCommandTimeout,
			timeout:    80 * time.Millisecond,
		},
		{
			name: "overrun",
			configure: func(s *testutil.VirtualHiDock) {
				// The last chunk crosses the expected length.
				s.OverrunStream(10)
				s.SetChunkSize(4096)
			},
			wantStatus: StatusError,
			wantErr:    ErrTransferOverrun,
		},
		{
			name:       "unknown file",
			configure:  func(s *testutil.VirtualHiDock) {},
			wantStatus: StatusError,
			wantErr:    ErrShortTransfer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, sim, _ := newSimulatedDevice(t)
			rec := testutil.NewRecording(testutil.RecordingName(1), 5000, 1)
			name := rec.Name
			if tt.name == "unknown file" {
				name = "missing.hda"
			} else {
				sim.AddRecording(rec)
			}
			sim.SetChunkSize(1000)
			tt.configure(sim)

			sink := &recordingSink{}
			result, err := device.StreamFile(testContext(t), StreamRequest{
				Name:    name,
				Length:  rec.Length(),
				Sink:    sink,
				Timeout: tt.timeout,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			require.ErrorIs(t, result.Err, tt.wantErr)
			assert.True(t, sink.aborted)
			assert.False(t, sink.committed)
			assert.Less(t, result.BytesReceived, rec.Length())

			// The session is usable afterwards.
			sim.StopStreamAfter(-1, false)
			sim.OverrunStream(0)
			_, err = device.GetFileCount(testContext(t))
			require.NoError(t, err)
		})
	}
}

func TestDevice_StreamFileStaleChunksDrained(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	rec := testutil.NewRecording(testutil.RecordingName(1), 5000, 1)
	sim.AddRecording(rec)
	sim.SetChunkSize(1000)

	failing := SinkFunc(func([]byte) error { return errors.New("disk full") })
	result, err := device.StreamFile(testContext(t), StreamRequest{Name: rec.Name, Length: rec.Length(), Sink: failing})
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Zero(t, sim.Pending(), "remaining chunks were drained")

	var buf bytes.Buffer
	result, err = device.StreamFile(testContext(t), StreamRequest{Name: rec.Name, Length: rec.Length(), Sink: &buf})
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Equal(t, rec.Data, buf.Bytes())
}

func TestDevice_StreamFileIgnoresChunksFromEarlierTransfer(t *testing.T) {
	t.Parallel()

	device, mock := createMockDeviceWithTransport(t)
	mock.SetResponseFrames(CmdTransferFile, []byte("ABCD"), []byte("EFGH"))
	// A chunk of an abandoned transfer, tagged with an older sequence id.
	mock.InjectFrame(CmdTransferFile, 1, []byte("XXXX"))

	sink := &recordingSink{}
	result, err := device.StreamFile(testContext(t), StreamRequest{Name: "rec.hda", Length: 8, Sink: sink})
	require.NoError(t, err)
	require.True(t, result.OK(), "status %s: %v", result.Status, result.Err)
	assert.Equal(t, "ABCDEFGH", sink.String())
	assert.True(t, sink.committed)
	assert.Equal(t, uint64(1), device.Stats().Unexpected)
}

func TestDevice_StreamFileCancelled(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	rec := testutil.NewRecording(testutil.RecordingName(1), 5000, 1)
	sim.AddRecording(rec)
	sim.SetChunkSize(1000)

	ctx, cancel := context.WithCancel(testContext(t))
	sink := SinkFunc(func([]byte) error {
		cancel()
		return nil
	})
	result, err := device.StreamFile(ctx, StreamRequest{Name: rec.Name, Length: rec.Length(), Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
	require.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, int64(1000), result.BytesReceived)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	result, err = device.StreamFile(cancelled, StreamRequest{Name: rec.Name, Length: rec.Length(), Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestDevice_StreamFileNotConnected(t *testing.T) {
	t.Parallel()

	device, _, _ := newSimulatedDevice(t)
	require.NoError(t, device.Disconnect())

	result, err := device.StreamFile(testContext(t), StreamRequest{Name: "a.hda", Length: 10, Sink: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	require.ErrorIs(t, result.Err, ErrNotConnected)
}

func TestDevice_ReadFileBlock(t *testing.T) {
	t.Parallel()

	device, sim, _ := newSimulatedDevice(t)
	rec := testutil.NewRecording(testutil.RecordingName(1), 3000, 1)
	sim.AddRecording(rec)
	sim.SetChunkSize(1000)
	ctx := testContext(t)

	head, err := device.ReadFileBlock(ctx, rec.Name, 1500)
	require.NoError(t, err)
	assert.Equal(t, rec.Data[:1500], head)

	all, err := device.ReadFileBlock(ctx, rec.Name, 10000)
	require.NoError(t, err)
	assert.Equal(t, rec.Data, all)

	_, err = device.ReadFileBlock(ctx, "", 10)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = device.ReadFileBlock(ctx, rec.Name, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)

	assert.Equal(t, 2, sim.CommandCount(uint16(CmdGetFileBlock)))
}

func TestClassifyStreamError(t *testing.T) {
	t.Parallel()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		ctx  context.Context
		err  error
		name string
		want TransferStatus
	}{
		{name: "timeout", ctx: context.Background(), err: &CommandTimeoutError{Command: CmdTransferFile}, want: StatusTimeout},
		{name: "cancelled", ctx: cancelled, err: context.Canceled, want: StatusCancelled},
		{name: "canceled error with live ctx", ctx: context.Background(), err: context.Canceled, want: StatusError},
		{name: "transport", ctx: context.Background(), err: ErrTransportRead, want: StatusError},
	}
	for _, tt := range tests {
		got, err := classifyStreamError(tt.ctx, tt.err)
		assert.Equal(t, tt.want, got, tt.name)
		assert.Equal(t, tt.err, err, tt.name)
	}
}
