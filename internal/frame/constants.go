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

package frame

// Sync marker that opens every Jensen frame.
const (
	Sync0 = 0x12
	Sync1 = 0x34
)

// Header layout. All multi-byte fields are big-endian.
const (
	HeaderSize = 12 // sync(2) + command(2) + sequence(4) + length(4)

	offsetCommand  = 2
	offsetSequence = 4
	offsetLength   = 8
)

// MaxBodyLength caps the declared body length of an inbound frame. A header
// announcing more than this is treated as a false sync match.
const MaxBodyLength = 16 << 20

// syncMarker is the two-byte frame prefix.
var syncMarker = []byte{Sync0, Sync1}
