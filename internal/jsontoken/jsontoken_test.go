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

package jsontoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	Kind  Kind
	Value string
}

// tokenize feeds chunks through successive Readers, carrying the
// unconsumed tail of each chunk over to the next one.
func tokenize(t testing.TB, chunks ...string) []token {
	t.Helper()
	var (
		state  State
		tail   []byte
		tokens []token
	)
	for i, chunk := range chunks {
		data := append(tail, chunk...)
		r := NewReader(data, i == len(chunks)-1, state)
		for {
			ok, err := r.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			tokens = append(tokens, token{Kind: r.Kind(), Value: string(r.Value())})
		}
		state = r.State()
		tail = append([]byte(nil), data[r.BytesConsumed():]...)
	}
	return tokens
}

const sample = `{"took":30,"errors":true,"items":[{"index":{"_id":"a\"b","status":400,"error":{"type":"x"}}},{"index":{"_id":"c","status":201.5e0,"ok":null,"flag":false}}]}`

func TestReaderTokens(t *testing.T) {
	tokens := tokenize(t, sample)
	assert.Equal(t, []token{
		{BeginObject, ""},
		{PropertyName, "took"}, {Number, "30"},
		{PropertyName, "errors"}, {True, ""},
		{PropertyName, "items"}, {BeginArray, ""},
		{BeginObject, ""}, {PropertyName, "index"}, {BeginObject, ""},
		{PropertyName, "_id"}, {String, `a\"b`},
		{PropertyName, "status"}, {Number, "400"},
		{PropertyName, "error"}, {BeginObject, ""}, {PropertyName, "type"}, {String, "x"}, {EndObject, ""},
		{EndObject, ""}, {EndObject, ""},
		{BeginObject, ""}, {PropertyName, "index"}, {BeginObject, ""},
		{PropertyName, "_id"}, {String, "c"},
		{PropertyName, "status"}, {Number, "201.5e0"},
		{PropertyName, "ok"}, {Null, ""},
		{PropertyName, "flag"}, {False, ""},
		{EndObject, ""}, {EndObject, ""},
		{EndArray, ""},
		{EndObject, ""},
	}, tokens)
}

func TestReaderSplitAnywhere(t *testing.T) {
	whole := tokenize(t, sample)
	for i := 0; i <= len(sample); i++ {
		assert.Equal(t, whole, tokenize(t, sample[:i], sample[i:]), "split at %d", i)
	}
}

func TestReaderByteAtATime(t *testing.T) {
	chunks := make([]string, 0, len(sample)+1)
	for i := range sample {
		chunks = append(chunks, sample[i:i+1])
	}
	chunks = append(chunks, "")
	assert.Equal(t, tokenize(t, sample), tokenize(t, chunks...))
}

func TestReaderIncomplete(t *testing.T) {
	for _, tc := range []struct {
		name     string
		input    string
		consumed int
	}{
		{name: "string", input: `{"err`, consumed: 1},
		{name: "escape", input: `["ab\`, consumed: 1},
		{name: "number", input: `[40`, consumed: 1},
		{name: "literal", input: `[fal`, consumed: 1},
		{name: "separator", input: `[1, `, consumed: 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader([]byte(tc.input), false, State{})
			for {
				ok, err := r.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
			}
			assert.Equal(t, tc.consumed, r.BytesConsumed())
		})
	}
}

func TestReaderFinalNumber(t *testing.T) {
	r := NewReader([]byte(`400`), true, State{})
	ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Number, r.Kind())
	assert.Equal(t, "400", string(r.Value()))
	assert.Equal(t, 3, r.BytesConsumed())
}

func TestReaderFinalIncompleteString(t *testing.T) {
	r := NewReader([]byte(`{"errors`), true, State{})
	ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaderSyntaxError(t *testing.T) {
	for _, input := range []string{`{"a":x}`, `[}`, `{]`, `}`, `[tru e]`} {
		r := NewReader([]byte(input), true, State{})
		var err error
		for {
			var ok bool
			ok, err = r.Next()
			if !ok || err != nil {
				break
			}
		}
		var syntaxErr *SyntaxError
		assert.ErrorAs(t, err, &syntaxErr, input)
	}
}

func TestReaderMaxDepth(t *testing.T) {
	input := make([]byte, MaxDepth+1)
	for i := range input {
		input[i] = '['
	}
	r := NewReader(input, true, State{})
	var err error
	for i := 0; i <= MaxDepth; i++ {
		_, err = r.Next()
	}
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, MaxDepth, syntaxErr.Offset)
}

func TestReaderValueString(t *testing.T) {
	r := NewReader([]byte(`["a\"bé\/c","plain"]`), true, State{})
	ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `a"bé/c`, r.ValueString())

	ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "plain", r.ValueString())
}

func TestStateDepth(t *testing.T) {
	r := NewReader([]byte(`{"a":[{`), false, State{})
	for {
		ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	assert.Equal(t, 3, r.State().Depth())
	assert.True(t, r.State().inObject())
}
