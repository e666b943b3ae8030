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
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
)

const (
	actionPrefix = `{"index":{"_id":"`
	actionSuffix = `"}}`

	// ActionLength is the length of the action line preceding each
	// document, excluding the newline.
	ActionLength = len(actionPrefix) + IDLength + len(actionSuffix)

	// parallelBlockSize is the block size used when compressing with
	// more than one goroutine.
	parallelBlockSize = 256 * 1024
)

var newline = []byte{'\n'}

// EncoderConfig holds configuration for Encoder.
type EncoderConfig struct {
	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	//
	// The output is always gzip framed, even with gzip.NoCompression.
	CompressionLevel int

	// CompressionConcurrency holds the number of blocks which may be
	// compressed in parallel.
	//
	// If CompressionConcurrency is less than or equal to one, requests are
	// compressed on the calling goroutine.
	CompressionConcurrency int

	// Pool holds the pool from which output buffers are rented.
	//
	// If Pool is nil, DefaultPool will be used.
	Pool Pool
}

// Encoder encodes items into gzip compressed bodies for the _bulk API.
//
// Each call to Encode sizes its output buffer once, from the lengths of
// the items, and rents it from the configured Pool. The buffer is never
// grown. Encoder is safe for concurrent use.
type Encoder struct {
	config      EncoderConfig
	pool        Pool
	gzipWriters sync.Pool
}

// NewEncoder returns a new Encoder.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	e := &Encoder{config: cfg, pool: cfg.Pool}
	if e.pool == nil {
		e.pool = DefaultPool
	}
	e.gzipWriters.New = func() any {
		zw, _ := gzip.NewWriterLevel(nil, cfg.CompressionLevel)
		return zw
	}
	return e, nil
}

// EncodedLen returns the uncompressed length of the bulk request body for
// items. It returns ErrSizeOverflow if the length cannot be represented.
func EncodedLen(items []Item) (int, error) {
	const recordOverhead = ActionLength + 2 // plus two newlines
	var n int
	for _, item := range items {
		if len(item.data) > math.MaxInt-recordOverhead-n {
			return 0, fmt.Errorf("%w: %d items", ErrSizeOverflow, len(items))
		}
		n += recordOverhead + len(item.data)
	}
	return n, nil
}

// compressBound returns an upper bound for the gzip encoded size of n
// bytes. Incompressible input is stored in deflate blocks of up to 64KiB,
// each with a five byte header; gzip adds an 18 byte header and trailer.
func compressBound(n int) (int, bool) {
	overhead := n>>8 + 64
	if n > math.MaxInt-overhead {
		return 0, false
	}
	return n + overhead, true
}

// Encode encodes items into a compressed bulk request body, in order.
// Each item is written as an index action line carrying the item id,
// followed by the item data verbatim; each line is terminated by a newline.
//
// The returned Body holds a buffer rented from the pool, which is returned
// when the Body is closed. On error no buffer remains rented.
func (e *Encoder) Encode(ctx context.Context, items []Item) (*Body, error) {
	uncompressed, err := EncodedLen(items)
	if err != nil {
		return nil, err
	}
	size, ok := compressBound(uncompressed)
	if !ok {
		return nil, fmt.Errorf("%w: %d uncompressed bytes", ErrSizeOverflow, uncompressed)
	}
	buf, err := e.pool.Get(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("failed to get buffer: %w", err)
	}
	w := fixedBuffer{buf: buf[:0]}
	if err := e.encode(&w, items); err != nil {
		e.pool.Put(buf)
		return nil, err
	}
	return newBody(w.buf, uncompressed, e.pool), nil
}

func (e *Encoder) encode(w io.Writer, items []Item) error {
	zw, release, err := e.compressor(w)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			zw.Close()
		}
		release()
	}()

	var action [ActionLength + 1]byte
	copy(action[:], actionPrefix)
	copy(action[len(actionPrefix)+IDLength:], actionSuffix)
	action[ActionLength] = '\n'
	for _, item := range items {
		copy(action[len(actionPrefix):], item.id[:])
		if _, err := zw.Write(action[:]); err != nil {
			return fmt.Errorf("failed to write bulk action: %w", err)
		}
		if _, err := zw.Write(item.data); err != nil {
			return fmt.Errorf("failed to write bulk item: %w", err)
		}
		if _, err := zw.Write(newline); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	closed = true
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed closing the gzip writer: %w", err)
	}
	return nil
}

// compressor returns a gzip writer targeting w, and a function releasing
// it once it is no longer used.
func (e *Encoder) compressor(w io.Writer) (io.WriteCloser, func(), error) {
	if e.config.CompressionConcurrency > 1 {
		zw, err := pgzip.NewWriterLevel(w, e.config.CompressionLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if err := zw.SetConcurrency(parallelBlockSize, e.config.CompressionConcurrency); err != nil {
			return nil, nil, fmt.Errorf("failed to configure gzip writer: %w", err)
		}
		return zw, func() {}, nil
	}
	zw := e.gzipWriters.Get().(*gzip.Writer)
	zw.Reset(w)
	return zw, func() { e.gzipWriters.Put(zw) }, nil
}

// fixedBuffer is an io.Writer appending to a byte slice without ever
// growing it past its capacity.
type fixedBuffer struct {
	buf []byte
}

func (w *fixedBuffer) Write(p []byte) (int, error) {
	if free := cap(w.buf) - len(w.buf); len(p) > free {
		w.buf = append(w.buf, p[:free]...)
		return free, ErrBufferOverrun
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Body is a compressed bulk request body produced by Encoder.
//
// Body reads from the start of the encoded bytes. Close returns the
// underlying buffer to the pool it was rented from; it is safe to call
// Close more than once, but the Body must not be read concurrently with or
// after Close.
type Body struct {
	r            bytes.Reader
	buf          []byte
	uncompressed int
	pool         Pool
	closed       atomic.Bool
}

func newBody(buf []byte, uncompressed int, pool Pool) *Body {
	b := &Body{buf: buf, uncompressed: uncompressed, pool: pool}
	b.r.Reset(buf)
	return b
}

// Read implements io.Reader.
func (b *Body) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// Seek implements io.Seeker.
func (b *Body) Seek(offset int64, whence int) (int64, error) {
	return b.r.Seek(offset, whence)
}

// WriteTo implements io.WriterTo.
func (b *Body) WriteTo(w io.Writer) (int64, error) {
	return b.r.WriteTo(w)
}

// Len returns the number of unread bytes.
func (b *Body) Len() int {
	return b.r.Len()
}

// Size returns the compressed size of the body.
func (b *Body) Size() int {
	return len(b.buf)
}

// UncompressedLen returns the size of the body before compression.
func (b *Body) UncompressedLen() int {
	return b.uncompressed
}

// Bytes returns the compressed body. The slice is only valid until Close.
func (b *Body) Bytes() []byte {
	return b.buf
}

// Close returns the body's buffer to its pool.
func (b *Body) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.r.Reset(nil)
	b.pool.Put(b.buf)
	b.buf = nil
	return nil
}
