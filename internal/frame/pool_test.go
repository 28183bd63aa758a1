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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_SizeClasses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{name: "packet", size: 64, wantCap: PacketBufferSize},
		{name: "read", size: 4096, wantCap: ReadBufferSize},
		{name: "exact_read", size: ReadBufferSize, wantCap: ReadBufferSize},
		{name: "large", size: ReadBufferSize + 1, wantCap: LargeBufferSize},
		{name: "oversized", size: LargeBufferSize + 1, wantCap: LargeBufferSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pool := NewBufferPool()
			buf := pool.GetBuffer(tt.size)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.wantCap, cap(buf))
			pool.PutBuffer(buf)
		})
	}
}

func TestBufferPool_PutNil(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() { PutBuffer(nil) })
}
