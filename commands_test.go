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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommand_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  Command
	}{
		{cmd: CmdGetDeviceInfo, name: "GetDeviceInfo"},
		{cmd: CmdTransferFile, name: "TransferFile"},
		{cmd: CmdGetCardInfo, name: "GetCardInfo"},
		{cmd: CmdRestoreFactorySettings, name: "RestoreFactorySettings"},
		{cmd: Command(14), name: "Command(14)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.name, tt.cmd.String())
		})
	}
}

func TestCommand_Supported(t *testing.T) {
	t.Parallel()

	for _, id := range []uint16{1, 2, 3, 4, 5, 6, 7, 11, 12, 13, 16, 17, 19} {
		assert.True(t, Command(id).Supported(), "command %d", id)
	}
	for _, id := range []uint16{0, 8, 9, 10, 14, 15, 18, 20} {
		assert.False(t, Command(id).Supported(), "command %d", id)
	}
}

func TestCommand_Streaming(t *testing.T) {
	t.Parallel()

	assert.True(t, CmdTransferFile.Streaming())
	assert.True(t, CmdGetFileBlock.Streaming())
	assert.False(t, CmdGetFileList.Streaming())
	assert.False(t, CmdGetDeviceInfo.Streaming())
}
