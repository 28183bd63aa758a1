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
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Aborter is implemented by sinks that can discard a partial transfer.
type Aborter interface {
	Abort() error
}

// Committer is implemented by sinks that finalize a completed transfer.
type Committer interface {
	Commit() error
}

// SinkFunc adapts a chunk callback to io.Writer.
type SinkFunc func(chunk []byte) error

// Write calls f with p.
func (f SinkFunc) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// FileSink writes a download to a temporary file next to its destination and
// renames it into place on Commit, so a failed transfer never leaves a
// truncated recording behind.
type FileSink struct {
	file    *os.File
	path    string
	tmpPath string
	written int64
	done    bool
}

// NewFileSink creates the temporary file for path. The directory must exist.
func NewFileSink(path string) (*FileSink, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	return &FileSink{file: f, path: path, tmpPath: f.Name()}, nil
}

// Write appends a chunk.
func (s *FileSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, fmt.Errorf("write %s: %w", s.path, os.ErrClosed)
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.path, err)
	}
	return n, nil
}

// Commit flushes the temporary file and renames it to the destination.
func (s *FileSink) Commit() error {
	if s.done {
		return nil
	}
	s.done = true

	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		_ = os.Remove(s.tmpPath)
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		_ = os.Remove(s.tmpPath)
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		_ = os.Remove(s.tmpPath)
		return fmt.Errorf("rename into %s: %w", s.path, err)
	}
	return nil
}

// Abort closes and deletes the temporary file. Safe after Commit.
func (s *FileSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true

	cerr := s.file.Close()
	rerr := os.Remove(s.tmpPath)
	if errors.Is(rerr, os.ErrNotExist) {
		rerr = nil
	}
	return errors.Join(cerr, rerr)
}

// Path returns the final destination.
func (s *FileSink) Path() string {
	return s.path
}

// Written returns how many bytes have been written so far.
func (s *FileSink) Written() int64 {
	return s.written
}
