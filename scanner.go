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
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"

	"github.com/elastic/go-bulkcodec/internal/jsontoken"
)

const (
	// DefaultScanBufferSize is the size of the buffer responses are read
	// into unless configured otherwise. It must hold the longest single
	// token the scanner needs to see whole.
	DefaultScanBufferSize = 1024

	minScanBufferSize = 64
)

// Result is the outcome of a bulk request, as reported by its response.
type Result struct {
	// Success reports whether Elasticsearch reported no item errors.
	Success bool

	// FailedIDs holds the ids of items rejected with status 400, in
	// response order. It is nil when Success is true, and may be empty
	// when items failed with other statuses.
	FailedIDs []string
}

type errorsValue uint8

const (
	errorsUnknown errorsValue = iota
	errorsTrue
	errorsFalse
)

// ScanState is the state of a bulk response scan, carried from one chunk
// of the response to the next. The zero value is the state at the start
// of a response.
//
// A ScanState is advanced by value: Advance returns the successor state,
// and the state passed to it must not be advanced again.
type ScanState struct {
	token  jsontoken.State
	offset int64

	foundErrorsProperty bool
	hasErrors           errorsValue
	insideMainObject    bool
	insideItemsArray    bool
	// objectDepth counts objects entered within the items array, up to
	// the item and the operation result nested in it.
	objectDepth int

	// idPropertyFound is set when the next value is a record's _id.
	idPropertyFound     bool
	statusPropertyFound bool
	currentRecordID     string
	failedIDs           []string
}

// Concluded reports whether the response is known to be successful
// without reading any further.
func (s ScanState) Concluded() bool {
	return s.foundErrorsProperty && s.hasErrors == errorsFalse
}

// Result returns the outcome given the part of the response scanned so far.
func (s ScanState) Result() Result {
	switch s.hasErrors {
	case errorsTrue:
		return Result{Success: false, FailedIDs: s.failedIDs}
	case errorsFalse:
		return Result{Success: true}
	}
	// A response which never reports "errors" carries no failures.
	return Result{Success: true}
}

// Advance scans chunk, which must start with the bytes left unconsumed by
// the previous call. It returns the successor state and the number of
// bytes consumed; the remaining bytes belong to an incomplete token and
// must be prefixed onto the next chunk. final reports whether chunk ends
// the response.
//
// Advance stops early, leaving the rest of chunk unconsumed, once the
// state is Concluded.
func (s ScanState) Advance(chunk []byte, final bool) (ScanState, int, error) {
	r := jsontoken.NewReader(chunk, final, s.token)
	for !s.Concluded() {
		ok, err := r.Next()
		if err != nil {
			offset := s.offset
			var syntaxErr *jsontoken.SyntaxError
			if errors.As(err, &syntaxErr) {
				offset += int64(syntaxErr.Offset)
			}
			return s, r.BytesConsumed(), fmt.Errorf(
				"%w at offset %d: %w", ErrMalformedResponse, offset, err,
			)
		}
		if !ok {
			break
		}
		s.handle(&r)
	}
	s.token = r.State()
	s.offset += int64(r.BytesConsumed())
	return s, r.BytesConsumed(), nil
}

func (s *ScanState) handle(r *jsontoken.Reader) {
	// The record id is the value directly following the _id property.
	idValue := s.idPropertyFound
	s.idPropertyFound = false

	switch r.Kind() {
	case jsontoken.BeginObject:
		s.insideMainObject = true
		if s.insideItemsArray && s.objectDepth < 2 {
			s.objectDepth++
		}
	case jsontoken.BeginArray:
		s.insideItemsArray = true
	case jsontoken.PropertyName:
		name := r.Value()
		if string(name) == "errors" {
			s.foundErrorsProperty = true
		}
		if s.objectDepth == 2 {
			switch string(name) {
			case "_id":
				s.idPropertyFound = true
			case "status":
				s.statusPropertyFound = true
			}
		}
	case jsontoken.False:
		if s.atErrorsValue() {
			s.hasErrors = errorsFalse
		}
	case jsontoken.True:
		if s.atErrorsValue() {
			s.hasErrors = errorsTrue
			s.failedIDs = []string{}
		}
	case jsontoken.String:
		if idValue {
			s.currentRecordID = r.ValueString()
		}
	case jsontoken.Number:
		if !s.statusPropertyFound {
			return
		}
		status, err := strconv.Atoi(string(r.Value()))
		if err == nil && status == http.StatusBadRequest {
			s.failedIDs = append(s.failedIDs, s.currentRecordID)
		}
		s.statusPropertyFound = false
		s.currentRecordID = ""
		s.objectDepth = 0
	}
}

// atErrorsValue reports whether a boolean read now is the value of the
// top level "errors" property.
func (s *ScanState) atErrorsValue() bool {
	return s.foundErrorsProperty && !s.insideItemsArray && s.objectDepth == 0
}

// ScannerConfig holds configuration for Scanner.
type ScannerConfig struct {
	// BufferSize holds the size of the buffer the response is read into.
	// The buffer size is fixed for the duration of a scan, and a single
	// JSON token of the response must fit in it.
	//
	// If BufferSize is zero, DefaultScanBufferSize will be used.
	BufferSize int

	// Pool holds the pool from which scan buffers are rented.
	//
	// If Pool is nil, DefaultPool will be used.
	Pool Pool
}

// Scanner determines the outcome of bulk requests from their responses,
// reading each response incrementally. Scanner is safe for concurrent use;
// each scan rents its own buffer.
type Scanner struct {
	bufferSize int
	pool       Pool
}

// NewScanner returns a new Scanner.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultScanBufferSize
	}
	if cfg.BufferSize < minScanBufferSize {
		return nil, fmt.Errorf(
			"expected BufferSize of at least %d, got %d",
			minScanBufferSize, cfg.BufferSize,
		)
	}
	if cfg.Pool == nil {
		cfg.Pool = DefaultPool
	}
	return &Scanner{bufferSize: cfg.BufferSize, pool: cfg.Pool}, nil
}

// Scan reads a bulk response from r and returns its outcome.
//
// Reading stops as soon as the response reports no errors, leaving the
// rest of r unread. Otherwise r is read until io.EOF, collecting the ids
// of the items rejected with status 400.
//
// ctx is checked before each read; if it is done, Scan returns an error
// wrapping ctx.Err(). Errors returned by r are wrapped in ErrResponseRead.
func (s *Scanner) Scan(ctx context.Context, r io.Reader) (Result, error) {
	buf, err := s.pool.Get(ctx, s.bufferSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get scan buffer: %w", err)
	}
	defer s.pool.Put(buf)
	buf = buf[:s.bufferSize]

	var (
		state    ScanState
		leftover int
		eof      bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("bulk response scan aborted: %w", err)
		}
		if leftover == len(buf) {
			return Result{}, fmt.Errorf("%w: %d bytes", ErrTokenTooLarge, len(buf))
		}
		n, err := r.Read(buf[leftover:])
		if errors.Is(err, io.EOF) {
			eof = true
		} else if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrResponseRead, err)
		}
		if n == 0 && !eof {
			continue
		}
		size := leftover + n

		var consumed int
		state, consumed, err = state.Advance(buf[:size], eof)
		if err != nil {
			return Result{}, err
		}
		if state.Concluded() || eof {
			return state.Result(), nil
		}
		leftover = copy(buf, buf[consumed:size])
	}
}

// ScanSeq is like Scan, but pulls the response from a sequence of chunks.
// Chunks are pulled one at a time, and no more are pulled once the outcome
// is known. An error yielded by the sequence ends the scan.
func (s *Scanner) ScanSeq(ctx context.Context, chunks iter.Seq2[[]byte, error]) (Result, error) {
	next, stop := iter.Pull2(chunks)
	defer stop()
	return s.Scan(ctx, &chunkReader{next: next})
}

// chunkReader adapts a pulled chunk sequence to io.Reader.
type chunkReader struct {
	next  func() ([]byte, error, bool)
	chunk []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.chunk) == 0 {
		chunk, err, ok := r.next()
		if !ok {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		r.chunk = chunk
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	return n, nil
}
