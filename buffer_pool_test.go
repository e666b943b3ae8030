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
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolConcurrent(t *testing.T) {
	// Ensures the pool can be used concurrently, never leases more
	// buffers than allowed, and returns to zero leases once every
	// buffer has been put back.
	test := func(t testing.TB, maxLeased, goroutines, draws int) {
		pool := NewBufferPool(maxLeased, 0)
		var inflight, peak atomic.Int64
		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < draws; i++ {
					size := (g + 1) * (i + 1) * 512
					buf, err := pool.Get(context.Background(), size)
					if !assert.NoError(t, err) {
						return
					}
					assert.GreaterOrEqual(t, cap(buf), size)
					assert.Zero(t, len(buf))
					n := inflight.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					buf = append(buf, make([]byte, size)...)
					time.Sleep(time.Microsecond)
					inflight.Add(-1)
					pool.Put(buf)
				}
			}(g)
		}
		wg.Wait()
		assert.Equal(t, int64(0), pool.Leased())
		if maxLeased > 0 {
			assert.LessOrEqual(t, peak.Load(), int64(maxLeased))
			assert.Equal(t, int64(maxLeased), pool.Available())
		} else {
			assert.Equal(t, int64(-1), pool.Available())
		}
	}
	for _, tc := range []struct {
		maxLeased, goroutines, draws int
	}{
		{0, 10, 10},
		{1, 10, 10},
		{2, 10, 50},
		{10, 100, 10},
		{50, 20, 20},
	} {
		test(t, tc.maxLeased, tc.goroutines, tc.draws)
	}
}

func TestBufferPoolReuse(t *testing.T) {
	pool := NewBufferPool(0, 0)
	buf, err := pool.Get(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 1024, cap(buf))
	buf = append(buf, "foo"...)
	first := unsafe.SliceData(buf)
	pool.Put(buf)

	buf, err = pool.Get(context.Background(), 600)
	require.NoError(t, err)
	assert.Zero(t, len(buf))
	assert.Equal(t, first, unsafe.SliceData(buf))
	pool.Put(buf)

	// A buffer from a different size class is not reused.
	buf, err = pool.Get(context.Background(), 1025)
	require.NoError(t, err)
	assert.Equal(t, 2048, cap(buf))
	assert.NotEqual(t, first, unsafe.SliceData(buf))
	pool.Put(buf)
}

func TestBufferPoolForeignBuffer(t *testing.T) {
	pool := NewBufferPool(1, 0)
	_, err := pool.Get(context.Background(), 10)
	require.NoError(t, err)

	// Buffers outside the size classes still release their lease,
	// but are not kept.
	pool.Put(make([]byte, 0, 1000))
	assert.Equal(t, int64(0), pool.Leased())
	assert.Equal(t, int64(1), pool.Available())

	next, err := pool.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1024, cap(next))
	pool.Put(next)

	pool.Put(nil)
	assert.Equal(t, int64(0), pool.Leased())
}

func TestBufferPoolExhausted(t *testing.T) {
	pool := NewBufferPool(1, 0)
	buf, err := pool.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.Leased())
	assert.Equal(t, int64(0), pool.Available())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Get(ctx, 10)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), pool.Leased())

	// A waiting Get is served once a buffer is returned.
	done := make(chan []byte)
	go func() {
		buf, err := pool.Get(context.Background(), 10)
		assert.NoError(t, err)
		done <- buf
	}()
	select {
	case <-done:
		t.Fatal("expected Get to block")
	case <-time.After(10 * time.Millisecond):
	}
	pool.Put(buf)
	select {
	case buf = <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for buffer")
	}
	pool.Put(buf)
	assert.Equal(t, int64(0), pool.Leased())
}

func TestBufferPoolTooLarge(t *testing.T) {
	pool := NewBufferPool(1, 4096)
	_, err := pool.Get(context.Background(), 4097)
	assert.ErrorIs(t, err, ErrBufferTooLarge)
	_, err = pool.Get(context.Background(), -1)
	assert.ErrorIs(t, err, ErrBufferTooLarge)
	assert.Equal(t, int64(0), pool.Leased())
	assert.Equal(t, int64(1), pool.Available())

	buf, err := pool.Get(context.Background(), 4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, cap(buf))
	pool.Put(buf)
}

func TestBucketIndex(t *testing.T) {
	for size, want := range map[int]int{
		0:           0,
		1:           0,
		1024:        0,
		1025:        1,
		2048:        1,
		2049:        2,
		1 << 20:     10,
		1 << 26:     16,
		1<<26 + 1:   17,
		math.MaxInt: 53,
	} {
		assert.Equal(t, want, bucketIndex(size), "size %d", size)
	}
}

func TestCompressBound(t *testing.T) {
	n, ok := compressBound(0)
	assert.True(t, ok)
	assert.Equal(t, 64, n)

	n, ok = compressBound(1 << 20)
	assert.True(t, ok)
	assert.Equal(t, 1<<20+1<<12+64, n)

	_, ok = compressBound(math.MaxInt)
	assert.False(t, ok)
}

func TestFixedBuffer(t *testing.T) {
	w := fixedBuffer{buf: make([]byte, 0, 4)}
	n, err := w.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.Write([]byte("cde"))
	assert.ErrorIs(t, err, ErrBufferOverrun)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcd", string(w.buf))
	assert.Equal(t, 4, cap(w.buf))
}
