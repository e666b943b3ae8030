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

// Package jsontoken implements a resumable JSON tokenizer.
//
// A Reader tokenizes a single chunk of input. When the chunk ends in the
// middle of a token, Next reports no further tokens and BytesConsumed marks
// the start of the incomplete token; the caller carries the remaining bytes
// over, prefixes them onto the next chunk and continues with the State
// returned by the previous Reader.
//
// The tokenizer only validates as much structure as it needs to classify
// tokens: it tracks the container stack to tell property names from string
// values, but it does not check separator placement.
package jsontoken

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// MaxDepth is the maximum nesting depth of objects and arrays.
const MaxDepth = 64

// Kind identifies the type of a token.
type Kind uint8

const (
	None Kind = iota
	BeginObject
	EndObject
	BeginArray
	EndArray
	PropertyName
	String
	Number
	True
	False
	Null
)

var kindNames = [...]string{
	None:         "none",
	BeginObject:  "begin_object",
	EndObject:    "end_object",
	BeginArray:   "begin_array",
	EndArray:     "end_array",
	PropertyName: "property_name",
	String:       "string",
	Number:       "number",
	True:         "true",
	False:        "false",
	Null:         "null",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// State holds the tokenizer continuation state carried between chunks.
// The zero value is the state at the start of a document.
type State struct {
	// stack has bit n set when the container at depth n+1 is an object.
	stack   uint64
	depth   uint8
	wantKey bool
}

// Depth returns the current container nesting depth.
func (s State) Depth() int {
	return int(s.depth)
}

func (s State) inObject() bool {
	return s.depth > 0 && s.stack&(1<<(s.depth-1)) != 0
}

// SyntaxError is returned when the input cannot be tokenized.
type SyntaxError struct {
	// Offset is the position of the offending byte within the data
	// passed to NewReader.
	Offset int
	msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("jsontoken: %s at offset %d", e.msg, e.Offset)
}

// Reader tokenizes one chunk of JSON input.
type Reader struct {
	data     []byte
	final    bool
	state    State
	pos      int
	consumed int

	kind  Kind
	value []byte
}

// NewReader returns a Reader over data, resuming from state. final
// reports whether data holds the last bytes of the input; a number
// running up to the end of a non-final chunk is treated as incomplete.
func NewReader(data []byte, final bool, state State) Reader {
	return Reader{data: data, final: final, state: state}
}

// Kind returns the kind of the last token read.
func (r *Reader) Kind() Kind { return r.kind }

// Value returns the raw bytes of the last token read. For strings and
// property names the surrounding quotes are excluded and escape sequences
// are left as is. The slice aliases the input.
func (r *Reader) Value() []byte { return r.value }

// BytesConsumed returns the number of bytes of the input which have been
// fully processed. Bytes past this offset belong to an incomplete token.
func (r *Reader) BytesConsumed() int { return r.consumed }

// State returns the continuation state to pass to the Reader for the next
// chunk.
func (r *Reader) State() State { return r.state }

// ValueString returns the value of the last String or PropertyName token
// with escape sequences decoded.
func (r *Reader) ValueString() string {
	if bytes.IndexByte(r.value, '\\') < 0 {
		return string(r.value)
	}
	quoted := make([]byte, 0, len(r.value)+2)
	quoted = append(quoted, '"')
	quoted = append(quoted, r.value...)
	quoted = append(quoted, '"')
	iter := jsoniter.ConfigFastest.BorrowIterator(quoted)
	defer jsoniter.ConfigFastest.ReturnIterator(iter)
	s := iter.ReadString()
	if iter.Error != nil {
		return string(r.value)
	}
	return s
}

// Next advances to the next token. It returns false with a nil error when
// no complete token is left in the input.
func (r *Reader) Next() (bool, error) {
	r.kind, r.value = None, nil
	r.skip()
	r.consumed = r.pos
	if r.pos >= len(r.data) {
		return false, nil
	}
	start := r.pos
	switch c := r.data[start]; {
	case c == '{' || c == '[':
		if err := r.push(c == '{'); err != nil {
			return false, err
		}
		r.kind = BeginArray
		if c == '{' {
			r.kind = BeginObject
		}
		r.pos++
	case c == '}' || c == ']':
		if r.state.depth == 0 || r.state.inObject() != (c == '}') {
			return false, r.errorf(start, "unexpected %q", c)
		}
		r.state.depth--
		r.state.wantKey = false
		r.kind = EndArray
		if c == '}' {
			r.kind = EndObject
		}
		r.pos++
	case c == '"':
		end := r.scanString(start + 1)
		if end < 0 {
			return false, nil
		}
		r.value = r.data[start+1 : end]
		r.kind = String
		if r.state.wantKey {
			r.kind = PropertyName
			r.state.wantKey = false
		}
		r.pos = end + 1
	case c == '-' || isDigit(c):
		end := start + 1
		for end < len(r.data) && isNumberByte(r.data[end]) {
			end++
		}
		if end == len(r.data) && !r.final {
			return false, nil
		}
		r.value = r.data[start:end]
		r.kind = Number
		r.pos = end
	case c == 't':
		return r.literal(start, "true", True)
	case c == 'f':
		return r.literal(start, "false", False)
	case c == 'n':
		return r.literal(start, "null", Null)
	default:
		return false, r.errorf(start, "invalid character %q", c)
	}
	r.consumed = r.pos
	return true, nil
}

// skip advances past whitespace and separators.
func (r *Reader) skip() {
	for ; r.pos < len(r.data); r.pos++ {
		switch r.data[r.pos] {
		case ' ', '\t', '\n', '\r', ':':
		case ',':
			r.state.wantKey = r.state.inObject()
		default:
			return
		}
	}
}

func (r *Reader) push(object bool) error {
	if r.state.depth >= MaxDepth {
		return r.errorf(r.pos, "exceeded max depth of %d", MaxDepth)
	}
	if object {
		r.state.stack |= 1 << r.state.depth
	} else {
		r.state.stack &^= 1 << r.state.depth
	}
	r.state.depth++
	r.state.wantKey = object
	return nil
}

// scanString returns the index of the closing quote of the string whose
// contents start at from, or -1 if the string is not terminated.
func (r *Reader) scanString(from int) int {
	for i := from; i < len(r.data); i++ {
		switch r.data[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func (r *Reader) literal(start int, lit string, kind Kind) (bool, error) {
	rest := r.data[start:]
	if len(rest) < len(lit) {
		if lit[:len(rest)] == string(rest) {
			return false, nil
		}
		return false, r.errorf(start, "invalid literal")
	}
	if string(rest[:len(lit)]) != lit {
		return false, r.errorf(start, "invalid literal")
	}
	r.kind = kind
	r.pos = start + len(lit)
	r.consumed = r.pos
	return true, nil
}

func (r *Reader) errorf(offset int, format string, args ...any) error {
	return &SyntaxError{Offset: offset, msg: fmt.Sprintf(format, args...)}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isNumberByte(c byte) bool {
	switch c {
	case '-', '+', '.', 'e', 'E':
		return true
	}
	return isDigit(c)
}
