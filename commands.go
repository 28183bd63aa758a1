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

import "fmt"

// Command is a Jensen command id, carried in bytes 2-3 of every frame.
type Command uint16

// Jensen command codes
const (
	CmdGetDeviceInfo          Command = 1
	CmdGetDeviceTime          Command = 2
	CmdSetDeviceTime          Command = 3
	CmdGetFileList            Command = 4
	CmdTransferFile           Command = 5
	CmdGetFileCount           Command = 6
	CmdDeleteFile             Command = 7
	CmdGetSettings            Command = 11
	CmdSetSettings            Command = 12
	CmdGetFileBlock           Command = 13
	CmdGetCardInfo            Command = 16
	CmdFormatCard             Command = 17
	CmdRestoreFactorySettings Command = 19
)

var commandNames = map[Command]string{
	CmdGetDeviceInfo:          "GetDeviceInfo",
	CmdGetDeviceTime:          "GetDeviceTime",
	CmdSetDeviceTime:          "SetDeviceTime",
	CmdGetFileList:            "GetFileList",
	CmdTransferFile:           "TransferFile",
	CmdGetFileCount:           "GetFileCount",
	CmdDeleteFile:             "DeleteFile",
	CmdGetSettings:            "GetSettings",
	CmdSetSettings:            "SetSettings",
	CmdGetFileBlock:           "GetFileBlock",
	CmdGetCardInfo:            "GetCardInfo",
	CmdFormatCard:             "FormatCard",
	CmdRestoreFactorySettings: "RestoreFactorySettings",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint16(c))
}

// Supported reports whether c is part of the command set this package speaks.
// Ids 10, 14 and 15 exist in some firmware but are deliberately excluded.
func (c Command) Supported() bool {
	_, ok := commandNames[c]
	return ok
}

// Streaming reports whether the device answers c with a sequence of chunk
// frames rather than a single response.
func (c Command) Streaming() bool {
	return c == CmdTransferFile || c == CmdGetFileBlock
}

// confirmationBody is the fixed payload destructive commands require.
var confirmationBody = []byte{1, 2, 3, 4}
