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

import "sync"

// Size classes for bulk transfer buffers.
const (
	PacketBufferSize = 512       // one high-speed bulk packet
	ReadBufferSize   = 64 << 10  // default bulk IN read
	LargeBufferSize  = 256 << 10 // oversized reads used during file streaming
)

// BufferPool recycles bulk read buffers so streaming a long recording does not
// allocate a fresh 64 KiB slice for every USB read.
type BufferPool struct {
	packetPool sync.Pool
	readPool   sync.Pool
	largePool  sync.Pool
}

var defaultPool = NewBufferPool()

// NewBufferPool creates a pool with one sync.Pool per size class.
func NewBufferPool() *BufferPool {
	newClass := func(size int) sync.Pool {
		return sync.Pool{New: func() any {
			buf := make([]byte, size)
			return &buf
		}}
	}
	return &BufferPool{
		packetPool: newClass(PacketBufferSize),
		readPool:   newClass(ReadBufferSize),
		largePool:  newClass(LargeBufferSize),
	}
}

// GetBuffer returns a slice of exactly size bytes backed by a pooled array
// when one fits. Oversized requests are allocated directly.
func (p *BufferPool) GetBuffer(size int) []byte {
	var pool *sync.Pool
	switch {
	case size <= PacketBufferSize:
		pool = &p.packetPool
	case size <= ReadBufferSize:
		pool = &p.readPool
	case size <= LargeBufferSize:
		pool = &p.largePool
	default:
		return make([]byte, size)
	}
	bufPtr, ok := pool.Get().(*[]byte)
	if !ok {
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// PutBuffer hands a buffer obtained from GetBuffer back to its class.
// Buffers that did not come from the pool are left to the GC.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case PacketBufferSize:
		p.packetPool.Put(&full)
	case ReadBufferSize:
		p.readPool.Put(&full)
	case LargeBufferSize:
		p.largePool.Put(&full)
	}
}

// GetBuffer acquires a buffer from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer returns a buffer to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}
