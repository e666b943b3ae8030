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

import "errors"

var (
	// ErrInvalidID is returned when an item identifier is not IDLength
	// bytes long.
	ErrInvalidID = errors.New("bulkcodec: item id must be 36 bytes")

	// ErrSizeOverflow is returned by Encode when the encoded size of the
	// items cannot be represented.
	ErrSizeOverflow = errors.New("bulkcodec: encoded size out of range")

	// ErrBufferTooLarge is returned by BufferPool.Get when the requested
	// size exceeds the pool's maximum buffer size.
	ErrBufferTooLarge = errors.New("bulkcodec: buffer too large")

	// ErrPoolExhausted is returned by BufferPool.Get when no buffer could
	// be leased before the context was done.
	ErrPoolExhausted = errors.New("bulkcodec: buffer pool exhausted")

	// ErrBufferOverrun is returned by Encode when the compressed output
	// does not fit in the buffer sized for it.
	ErrBufferOverrun = errors.New("bulkcodec: encoded output exceeds buffer")

	// ErrTokenTooLarge is returned by Scan when a single JSON token of the
	// response does not fit in the scan buffer.
	ErrTokenTooLarge = errors.New("bulkcodec: response token exceeds scan buffer")

	// ErrMalformedResponse is returned by Scan when the response is not
	// valid JSON.
	ErrMalformedResponse = errors.New("bulkcodec: malformed bulk response")

	// ErrResponseRead is returned by Scan when reading the response fails.
	ErrResponseRead = errors.New("bulkcodec: failed to read bulk response")
)
