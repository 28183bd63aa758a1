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
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanupSessionLog ensures session log state is clean after tests.
func cleanupSessionLog(t *testing.T) {
	t.Helper()
	logMu.Lock()
	defer logMu.Unlock()
	if sessionLogFile != nil {
		_ = sessionLogFile.Close()
	}
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogWriter = nil
	rebuildLogger()
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	want := filepath.Join(t.TempDir(), "session.log")
	path, err := InitSessionLog(want)
	require.NoError(t, err)
	assert.Equal(t, want, path)
	assert.Equal(t, want, GetSessionLogPath())

	_, err = os.Stat(path)
	require.NoError(t, err, "Log file should exist")
}

func TestInitSessionLog_DefaultName(t *testing.T) {
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		cleanupSessionLog(t)
		_ = os.Chdir(origDir)
	})

	path, err := InitSessionLog("")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^hidock_\d{8}_\d{6}\.log$`), path)
}

func TestSessionLog_HeaderEntriesFooter(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(filepath.Join(t.TempDir(), "session.log"))
	require.NoError(t, err)

	Debugf("list returned %d files", 12)
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	got := string(content)

	for _, want := range []string{
		"=== HiDock Jensen Session Log ===",
		"Started:",
		"PID:",
		"Go Version:",
		"Command Line:",
		"list returned 12 files",
		"=== Session ended ===",
	} {
		assert.Contains(t, got, want)
	}
}

func TestCloseSessionLog_NoFile(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })
	cleanupSessionLog(t)

	assert.NoError(t, CloseSessionLog())
}

func TestInitSessionLog_ErrorOnInvalidDirectory(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session log")
	assert.Empty(t, GetSessionLogPath())
}

func TestInitSessionLog_ReplacesOpenLog(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })
	dir := t.TempDir()

	first, err := InitSessionLog(filepath.Join(dir, "a.log"))
	require.NoError(t, err)
	second, err := InitSessionLog(filepath.Join(dir, "b.log"))
	require.NoError(t, err)

	Debugf("only in second")
	require.NoError(t, CloseSessionLog())

	a, err := os.ReadFile(first) //nolint:gosec // test path
	require.NoError(t, err)
	b, err := os.ReadFile(second) //nolint:gosec // test path
	require.NoError(t, err)
	assert.NotContains(t, string(a), "only in second")
	assert.Contains(t, string(b), "only in second")
}
