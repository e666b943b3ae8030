// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulkcodec

import (
	"context"
	"fmt"
	"math/bits"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxBufferSize is the largest buffer a BufferPool hands out
	// unless configured otherwise.
	DefaultMaxBufferSize = 1 << 30

	minBucketShift = 10 // 1KiB
	numBuckets     = 17 // buffers up to 64MiB are retained
	bucketCapacity = 16
)

// Pool rents byte buffers to the Encoder and the Scanner.
type Pool interface {
	// Get returns an empty buffer with a capacity of at least size bytes.
	Get(ctx context.Context, size int) ([]byte, error)

	// Put returns a buffer obtained from Get to the pool. Each buffer
	// must be returned exactly once, and must not be used afterwards.
	Put(buf []byte)
}

// DefaultPool is the BufferPool used when no Pool is configured. It does
// not limit the number of leased buffers.
var DefaultPool = NewBufferPool(0, DefaultMaxBufferSize)

// BufferPool is a pool of byte buffers. It is designed to be used in a
// concurrent environment where multiple goroutines may need to acquire and
// release buffers.
//
// Buffers are kept in power of two size classes. The pool may limit the
// number of buffers leased at any one time, in which case Get blocks until
// a buffer is returned or the context is done.
type BufferPool struct {
	buckets [numBuckets]chan []byte
	sem     *semaphore.Weighted // nil when leases are unlimited
	leased  atomic.Int64

	// Read only fields.
	maxLeased int64
	maxSize   int
}

// NewBufferPool returns a new BufferPool which leases at most maxLeased
// buffers concurrently, each of at most maxBufferSize bytes.
//
// If maxLeased is less than or equal to zero, leases are unlimited. If
// maxBufferSize is less than or equal to zero, DefaultMaxBufferSize is used.
func NewBufferPool(maxLeased, maxBufferSize int) *BufferPool {
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	p := &BufferPool{
		maxLeased: int64(maxLeased),
		maxSize:   maxBufferSize,
	}
	if maxLeased > 0 {
		p.sem = semaphore.NewWeighted(int64(maxLeased))
	}
	for i := range p.buckets {
		p.buckets[i] = make(chan []byte, bucketCapacity)
	}
	return p
}

// Get returns a buffer with zero length and a capacity of at least size.
//
// If the pool's lease limit has been reached, Get waits until a buffer is
// returned. ErrPoolExhausted is returned if ctx is done first, and
// ErrBufferTooLarge if size exceeds the pool's maximum buffer size.
func (p *BufferPool) Get(ctx context.Context, size int) ([]byte, error) {
	if size < 0 || size > p.maxSize {
		return nil, fmt.Errorf("%w: requested %d bytes, maximum is %d",
			ErrBufferTooLarge, size, p.maxSize,
		)
	}
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
		}
	}
	p.leased.Add(1)
	b := bucketIndex(size)
	if b >= numBuckets {
		return make([]byte, 0, size), nil
	}
	select {
	case buf := <-p.buckets[b]:
		return buf[:0], nil
	default:
		return make([]byte, 0, 1<<(b+minBucketShift)), nil
	}
}

// Put returns buf to the pool. Buffers which do not belong to a size class
// are released to the garbage collector, as are buffers returned while the
// size class is full.
func (p *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	defer func() { // Always release the lease.
		p.leased.Add(-1)
		if p.sem != nil {
			p.sem.Release(1)
		}
	}()
	c := cap(buf)
	b := bits.Len(uint(c)) - 1 - minBucketShift
	if b < 0 || b >= numBuckets || c != 1<<(b+minBucketShift) {
		return
	}
	select {
	case p.buckets[b] <- buf[:0]:
	default:
	}
}

// Leased returns the number of buffers currently leased.
func (p *BufferPool) Leased() int64 {
	return p.leased.Load()
}

// Available returns the number of buffers which can be leased without
// blocking, or -1 if leases are unlimited.
func (p *BufferPool) Available() int64 {
	if p.sem == nil {
		return -1
	}
	return p.maxLeased - p.leased.Load()
}

// bucketIndex returns the size class holding buffers of at least size bytes.
func bucketIndex(size int) int {
	if size <= 1<<minBucketShift {
		return 0
	}
	return bits.Len(uint(size-1)) - minBucketShift
}
