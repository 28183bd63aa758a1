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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.part-*"))
	require.NoError(t, err)
	return matches
}

func TestFileSink_Commit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "rec.hda")
	sink, err := NewFileSink(dest)
	require.NoError(t, err)

	_, err = sink.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = sink.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), sink.Written())
	assert.Equal(t, dest, sink.Path())

	_, err = os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist, "destination appears only on commit")
	assert.Len(t, partFiles(t, dir), 1)

	require.NoError(t, sink.Commit())
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Empty(t, partFiles(t, dir))

	require.NoError(t, sink.Commit())
	require.NoError(t, sink.Abort(), "abort after commit is a no-op")
	_, err = sink.Write([]byte("x"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestFileSink_Abort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "rec.hda")
	sink, err := NewFileSink(dest)
	require.NoError(t, err)
	_, err = sink.Write([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, sink.Abort())
	require.NoError(t, sink.Abort())
	assert.Empty(t, partFiles(t, dir))
	_, err = os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileSink_ReplacesExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "rec.hda")
	require.NoError(t, os.WriteFile(dest, []byte("old contents"), 0o600))

	sink, err := NewFileSink(dest)
	require.NoError(t, err)
	_, err = sink.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, sink.Commit())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFileSink_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink(filepath.Join(t.TempDir(), "nope", "rec.hda"))
	require.Error(t, err)
}

func TestSinkFunc(t *testing.T) {
	t.Parallel()

	var got []byte
	sink := SinkFunc(func(p []byte) error {
		got = append(got, p...)
		return nil
	})
	n, err := sink.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, got)

	boom := errors.New("boom")
	n, err = SinkFunc(func([]byte) error { return boom }).Write([]byte{1})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}
