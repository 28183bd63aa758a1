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
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/sgeraldes/hidock-next-sub003/internal/syncutil"
)

const logTimeFormat = "15:04:05.000"

var (
	logMu        syncutil.RWMutex
	debugEnabled bool
	consoleOut   io.Writer = os.Stderr
	logger                 = zerolog.Nop()
)

func init() {
	// Enable debug logging if DEBUG environment variable is set
	if os.Getenv("HIDOCK_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	rebuildLogger()
}

// rebuildLogger composes the package logger from the console (when debug is
// enabled) and the session log (when open). Callers hold logMu, except init.
func rebuildLogger() {
	var writers []io.Writer
	if debugEnabled && consoleOut != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: consoleOut, TimeFormat: logTimeFormat})
	}
	if sessionLogWriter != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: sessionLogWriter, NoColor: true, TimeFormat: logTimeFormat})
	}

	if len(writers) == 0 {
		logger = zerolog.Nop()
		return
	}
	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().Timestamp().Str("component", "jensen").Logger()
}

// Log returns the package logger for structured events. It discards
// everything unless debug output or a session log is active.
func Log() *zerolog.Logger {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	return &l
}

// Debugf logs a formatted debug message.
// Always written to the session log (if initialized); printed to the console
// only when debug mode is enabled.
func Debugf(format string, args ...any) {
	Log().Debug().Msg(fmt.Sprintf(format, args...))
}

// Debugln logs its operands the way fmt.Sprint would.
func Debugln(args ...any) {
	Log().Debug().Msg(fmt.Sprint(args...))
}

// SetDebugEnabled allows programmatic control of console debug output.
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debugEnabled = enabled
	rebuildLogger()
}

// SetDebugOutput redirects console debug output (stderr by default).
func SetDebugOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	consoleOut = w
	rebuildLogger()
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	logMu.RLock()
	defer logMu.RUnlock()
	return debugEnabled
}
