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
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds configuration for Client.
type Config struct {
	// Logger holds an optional Logger to use for logging indexing requests.
	//
	// All Elasticsearch errors will be logged at error level, so in cases
	// where the client is used for high throughput indexing, is recommended
	// that a rate-limited logger is used.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each bulk request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider used to trace
	// bulk requests. Each bulk request is traced as a span.
	//
	// If TracerProvider is nil, requests will not be traced with OTel.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record client metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// CompressionConcurrency holds the number of blocks of a single request
	// which may be compressed in parallel.
	//
	// If CompressionConcurrency is less than or equal to one, requests are
	// compressed on the calling goroutine.
	CompressionConcurrency int

	// MaxRequests holds the maximum number of bulk index requests IndexBatches
	// executes concurrently.
	//
	// If MaxRequests is less than or equal to zero, the default of 10 will be used.
	MaxRequests int

	// Index holds the default index of the bulk requests.
	//
	// If Index is empty, requests are sent to /_bulk and each document is
	// indexed into Elasticsearch's default for the request.
	Index string

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// Refresh holds the value of the refresh parameter: "true", "false"
	// or "wait_for".
	//
	// If Refresh is empty, the parameter is not sent.
	Refresh string

	// Timeout holds the time Elasticsearch waits for the shards involved
	// in a request to become available.
	//
	// If Timeout is zero, the Elasticsearch default is used.
	Timeout time.Duration

	// FlushTimeout holds the bulk request timeout as a duration, covering
	// encoding, the round trip, and reading the response.
	//
	// If FlushTimeout is zero, no timeout will be used.
	FlushTimeout time.Duration

	// ScanBufferSize holds the size of the buffer responses are read into.
	//
	// If ScanBufferSize is zero, DefaultScanBufferSize will be used.
	ScanBufferSize int

	// Pool holds the pool request bodies and scan buffers are rented from.
	//
	// If Pool is nil, DefaultPool will be used.
	Pool Pool
}

// DefaultConfig returns a copy of cfg with any zero values set to their
// default values.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 10
	}
	if cfg.ScanBufferSize == 0 {
		cfg.ScanBufferSize = DefaultScanBufferSize
	}
	if cfg.Pool == nil {
		cfg.Pool = DefaultPool
	}
	return cfg
}
