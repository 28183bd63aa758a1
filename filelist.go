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
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// FileInfo describes one recording as reported by GetFileList.
type FileInfo struct {
	// CreatedAt is parsed from the file name; zero when the name has no timestamp.
	CreatedAt time.Time
	Name      string
	// Signature is the hex form of the device's 16-byte content signature.
	Signature string
	Length    int64
	Duration  time.Duration
	// Version is the record format byte, which selects the audio encoding.
	Version byte
}

// FileList is the result of ListFiles.
type FileList struct {
	Files      []FileInfo
	TotalFiles int
	TotalSize  int64
	// Complete is false when the listing ended on the timeout before every
	// announced record arrived.
	Complete bool
}

const (
	listHeaderSize   = 6
	recordFixedSize  = 1 + 3 + 4 + 6 + 16
	signatureSize    = 16
	recordNameOffset = 4
)

// fileListParser accumulates GetFileList bodies. Records may straddle frames,
// so unparsed bytes carry over to the next body.
type fileListParser struct {
	buf      []byte
	files    []FileInfo
	expected int // -1 until a header announces a count
	started  bool
}

func newFileListParser() *fileListParser {
	return &fileListParser{expected: -1}
}

// add consumes one frame body.
func (p *fileListParser) add(body []byte) error {
	p.buf = append(p.buf, body...)

	if !p.started {
		if len(p.buf) < 2 {
			return nil
		}
		if p.buf[0] == 0xFF && p.buf[1] == 0xFF {
			if len(p.buf) < listHeaderSize {
				return nil
			}
			p.expected = int(binary.BigEndian.Uint32(p.buf[2:listHeaderSize]))
			p.buf = p.buf[listHeaderSize:]
		}
		p.started = true
	}

	for len(p.buf) >= recordNameOffset {
		nameLen := int(p.buf[1])<<16 | int(p.buf[2])<<8 | int(p.buf[3])
		total := recordFixedSize + nameLen
		if len(p.buf) < total {
			break
		}
		rec := p.buf[:total]
		p.buf = p.buf[total:]

		info, err := parseFileRecord(rec, nameLen)
		if err != nil {
			return err
		}
		p.files = append(p.files, info)
	}
	return nil
}

// done reports whether every announced record has arrived.
func (p *fileListParser) done() bool {
	return p.expected >= 0 && len(p.files) >= p.expected
}

func (p *fileListParser) result(complete bool) *FileList {
	list := &FileList{Files: p.files, TotalFiles: len(p.files), Complete: complete}
	if list.Files == nil {
		list.Files = []FileInfo{}
	}
	for _, f := range list.Files {
		list.TotalSize += f.Length
	}
	return list
}

func parseFileRecord(rec []byte, nameLen int) (FileInfo, error) {
	version := rec[0]
	nameEnd := recordNameOffset + nameLen
	name := string(bytes.TrimRight(rec[recordNameOffset:nameEnd], "\x00"))
	if name == "" {
		return FileInfo{}, NewInvalidResponseError(CmdGetFileList, "record with empty name")
	}

	length := int64(binary.BigEndian.Uint32(rec[nameEnd : nameEnd+4]))
	sigStart := nameEnd + 4 + 6
	signature := hex.EncodeToString(rec[sigStart : sigStart+signatureSize])

	return FileInfo{
		Name:      name,
		Length:    length,
		Version:   version,
		Duration:  RecordingDuration(version, length),
		CreatedAt: ParseRecordingTime(name),
		Signature: signature,
	}, nil
}

// RecordingDuration derives the audio length of a recording from its format
// version and size in bytes.
func RecordingDuration(version byte, length int64) time.Duration {
	var seconds float64
	switch version {
	case 1:
		seconds = float64(length) / 32 * 2
	case 2:
		seconds = float64(length-44) / (48000 * 2)
	case 3:
		seconds = float64(length-44) / (24000 * 2)
	case 5:
		seconds = float64(length) / 12000
	default:
		seconds = float64(length) / (16000 * 2)
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

var (
	// 2025May13-160405-Rec59.hda, optionally with a two-digit year.
	namedMonthPattern = regexp.MustCompile(`^(\d{2}|\d{4})([A-Za-z]{3})(\d{2})-(\d{2})(\d{2})(\d{2})-`)
	// 20250513160405REC59.wav
	compactPattern = regexp.MustCompile(`^(\d{14})`)
)

// ParseRecordingTime extracts the creation time the recorder encodes in file
// names. Returns the zero time for names in neither known format.
func ParseRecordingTime(name string) time.Time {
	if m := namedMonthPattern.FindStringSubmatch(name); m != nil {
		year := m[1]
		if len(year) == 2 {
			year = "20" + year
		}
		t, err := time.ParseInLocation("2006Jan02150405", year+m[2]+m[3]+m[4]+m[5]+m[6], time.Local)
		if err == nil {
			return t
		}
	}
	if m := compactPattern.FindStringSubmatch(name); m != nil {
		if t, err := time.ParseInLocation("20060102150405", m[1], time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ListFiles retrieves the recording list. When the first frame announces a
// record count, continuation frames are collected until the count is met, an
// empty frame arrives or the timeout expires; a listing cut short by the
// timeout is returned with Complete false as long as anything arrived. A
// timeout of zero uses the configured ListTimeout.
func (d *Device) ListFiles(ctx context.Context, timeout time.Duration) (*FileList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timeout <= 0 {
		timeout = d.config.ListTimeout
	}

	list, err := d.listFilesLocked(ctx, timeout)
	if err == nil {
		d.afterSuccessLocked()
		return list, nil
	}
	if !d.afterFailureLocked(ctx, err) {
		return nil, err
	}
	Debugf("file list failed on unhealthy link, recovering: %v", err)
	if rerr := d.recoverLocked(ctx); rerr != nil {
		return nil, fmt.Errorf("%w; recovery failed: %w", err, rerr)
	}
	return d.listFilesLocked(ctx, timeout)
}

func (d *Device) listFilesLocked(ctx context.Context, timeout time.Duration) (*FileList, error) {
	correlator, err := d.connectedLocked()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CmdGetFileList, err)
	}

	stream, err := correlator.BeginStream(ctx, CmdGetFileList, nil, timeout)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	deadline := time.Now().Add(timeout)
	parser := newFileListParser()
	for {
		f, err := stream.Next(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrCommandTimeout) && len(parser.files) > 0 {
				Debugf("file list timed out after %d of %d records", len(parser.files), parser.expected)
				return parser.result(false), nil
			}
			return nil, err
		}
		if len(f.Body) == 0 {
			// End of listing.
			return parser.result(parser.expected < 0 || parser.done()), nil
		}
		if err := parser.add(f.Body); err != nil {
			return nil, err
		}
		if parser.done() || (parser.started && parser.expected < 0) {
			return parser.result(true), nil
		}
	}
}
