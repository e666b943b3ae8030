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

// Package bulkcodectest provides helpers for testing code which issues
// bulk requests produced by bulkcodec.
package bulkcodectest

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.elastic.co/fastjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/metric/metricdata/metricdatatest"

	jsoniter "github.com/json-iterator/go"

	"github.com/elastic/go-elasticsearch/v8"
)

const maxLineSize = 64 * 1024 * 1024

// Record is a decoded action/document line pair.
type Record struct {
	ID  string
	Doc []byte
}

// ResponseItem describes the outcome of one item of a bulk request.
type ResponseItem struct {
	Index       string
	ID          string
	Status      int
	ErrorType   string
	ErrorReason string
}

// DecodeBody decompresses a gzip encoded bulk request body and returns its
// records in order.
func DecodeBody(body io.Reader) ([]Record, error) {
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer zr.Close()

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(nil, maxLineSize)
	var records []Record
	for scanner.Scan() {
		var action map[string]struct {
			ID string `json:"_id"`
		}
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(scanner.Bytes(), &action); err != nil {
			return nil, fmt.Errorf("invalid action line %q: %w", scanner.Text(), err)
		}
		meta, ok := action["index"]
		if !ok || len(action) != 1 {
			return nil, fmt.Errorf("expected index action, got %q", scanner.Text())
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("expected source for %q", meta.ID)
		}
		records = append(records, Record{
			ID:  meta.ID,
			Doc: append([]byte{}, scanner.Bytes()...),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// records and a successful response item for each.
func DecodeBulkRequest(r *http.Request) ([]Record, []ResponseItem) {
	if enc := r.Header.Get("Content-Encoding"); enc != "gzip" {
		panic(fmt.Errorf("unexpected Content-Encoding %q", enc))
	}
	records, err := DecodeBody(r.Body)
	if err != nil {
		panic(err)
	}
	index := r.PathValue("index")
	items := make([]ResponseItem, len(records))
	for i, rec := range records {
		items[i] = ResponseItem{Index: index, ID: rec.ID, Status: http.StatusCreated}
	}
	return records, items
}

// EncodeResponse encodes a bulk response in the shape returned by
// Elasticsearch. The errors property is true when any item has a status
// outside the 2xx range.
func EncodeResponse(took int, items []ResponseItem) []byte {
	var w fastjson.Writer
	hasErrors := false
	for _, item := range items {
		if item.Status < 200 || item.Status > 299 {
			hasErrors = true
			break
		}
	}
	w.RawString(`{"took":`)
	w.Int64(int64(took))
	w.RawString(`,"errors":`)
	w.Bool(hasErrors)
	w.RawString(`,"items":[`)
	for i, item := range items {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"index":{"_index":`)
		w.String(item.Index)
		w.RawString(`,"_id":`)
		w.String(item.ID)
		if item.Status >= 200 && item.Status <= 299 {
			w.RawString(`,"_version":1,"result":"created","_shards":{"total":2,"successful":1,"failed":0},"_seq_no":`)
			w.Int64(int64(i))
			w.RawString(`,"_primary_term":1`)
		}
		w.RawString(`,"status":`)
		w.Int64(int64(item.Status))
		if item.ErrorType != "" {
			w.RawString(`,"error":{"type":`)
			w.String(item.ErrorType)
			w.RawString(`,"reason":`)
			w.String(item.ErrorReason)
			w.RawByte('}')
		}
		w.RawString(`}}`)
	}
	w.RawString(`]}`)
	return append([]byte(nil), w.Bytes()...)
}

// WriteResponse writes a bulk response for items to w, gzip encoded when
// the request accepts it.
func WriteResponse(w http.ResponseWriter, r *http.Request, items []ResponseItem) {
	body := EncodeResponse(1, items)
	w.Header().Set("Content-Type", "application/json")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Write(body)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	zw := gzip.NewWriter(w)
	zw.Write(body)
	zw.Close()
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends /_bulk requests to bulkHandler.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, bulkHandler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig starts an httptest.Server, and returns an elasticsearch.Config which
// sends /_bulk requests to bulkHandler. The httptest.Server will be closed via t.Cleanup.
func NewMockElasticsearchClientConfig(t testing.TB, bulkHandler http.HandlerFunc) elasticsearch.Config {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)

	return config
}

// HandleBulk registers bulkHandler with mux for handling /_bulk and
// /{index}/_bulk requests, wrapping bulkHandler to conform with
// go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		bulkHandler.ServeHTTP(w, r)
	}
	mux.HandleFunc("/_bulk", handler)
	mux.HandleFunc("/{index}/_bulk", handler)
}

// AssertOTelMetrics calls assert for each of ms, in name order.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assert func(m metricdata.Metrics)) {
	t.Helper()
	sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
	for _, m := range ms {
		assert(m)
	}
}

// NewAssertCounter returns a function asserting that every data point of
// an int64 sum metric has the given value and attributes. Each call is
// counted in asserted.
func NewAssertCounter(t testing.TB, asserted *atomic.Int64) func(m metricdata.Metrics, count int64, attrs attribute.Set) {
	return func(m metricdata.Metrics, count int64, attrs attribute.Set) {
		t.Helper()
		asserted.Add(1)
		counter, ok := m.Data.(metricdata.Sum[int64])
		if !assert.True(t, ok, "%s is not an int64 sum", m.Name) {
			return
		}
		for _, dp := range counter.DataPoints {
			metricdatatest.AssertHasAttributes(t, dp, attrs.ToSlice()...)
			assert.Equal(t, count, dp.Value, m.Name)
		}
	}
}
