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
	"net/http"
	"strings"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elastic/go-bulkcodec/esapi"
)

// maxLoggedIDs caps the number of failed document ids included in a log
// record.
const maxLoggedIDs = 10

// ErrorFlushFailed is returned when Elasticsearch rejects a bulk request
// as a whole.
type ErrorFlushFailed struct {
	resp        string
	statusCode  int
	tooMany     bool
	clientError bool
	serverError bool
}

// StatusCode returns the HTTP status code of the response.
func (e ErrorFlushFailed) StatusCode() int {
	return e.statusCode
}

// ResponseBody returns the status line and the start of the response body.
func (e ErrorFlushFailed) ResponseBody() string {
	return e.resp
}

func (e ErrorFlushFailed) Error() string {
	return fmt.Sprintf("flush failed (%d): %s", e.statusCode, e.resp)
}

// Client sends items to the Elasticsearch _bulk API, encoding each batch
// into a single compressed request and scanning the response for items
// rejected with status 400.
//
// Client is safe for concurrent use.
type Client struct {
	config  Config
	client  elastictransport.Interface
	encoder *Encoder
	scanner *Scanner
	metrics metrics

	// tracer is an OTel tracer, and should not be confused with `c.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// NewClient returns a new Client that indexes items into Elasticsearch.
// It is only tested with v8 go-elasticsearch client. Use other clients at your own risk.
func NewClient(client elastictransport.Interface, cfg Config) (*Client, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	cfg = DefaultConfig(cfg)
	encoder, err := NewEncoder(EncoderConfig{
		CompressionLevel:       cfg.CompressionLevel,
		CompressionConcurrency: cfg.CompressionConcurrency,
		Pool:                   cfg.Pool,
	})
	if err != nil {
		return nil, err
	}
	scanner, err := NewScanner(ScannerConfig{
		BufferSize: cfg.ScanBufferSize,
		Pool:       cfg.Pool,
	})
	if err != nil {
		return nil, err
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		config:  cfg,
		client:  client,
		encoder: encoder,
		scanner: scanner,
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		c.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-bulkcodec.client")
	}
	return c, nil
}

// Index sends items to Elasticsearch in a single bulk request, and returns
// the outcome reported by the response.
//
// An error is returned if the request could not be encoded or sent, if
// Elasticsearch rejected it as a whole, or if the response could not be
// read. No request is sent when items is empty.
func (c *Client) Index(ctx context.Context, items []Item) (Result, error) {
	n := len(items)
	if n == 0 {
		return Result{Success: true}, nil
	}
	attrs := metric.WithAttributeSet(c.config.MetricAttributes)
	c.metrics.inflightBulkRequests.Add(context.Background(), 1, attrs)
	defer func() {
		c.metrics.inflightBulkRequests.Add(context.Background(), -1, attrs)
		c.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	}()

	// Links point at the caller's trace, so they are taken before the
	// client's own transaction and span are added to ctx.
	txLinks, spanLinks := apmLinks(ctx), otelLinks(ctx)
	logger := c.config.Logger
	if c.tracingEnabled() {
		tx := c.config.Tracer.StartTransactionOptions("bulkcodec.index", "output",
			apm.TransactionOptions{Links: txLinks},
		)
		tx.Context.SetLabel("documents", n)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if c.otelTracingEnabled() {
		ctx, span = c.tracer.Start(ctx, "bulkcodec.index",
			trace.WithAttributes(attribute.Int("documents", n)),
			trace.WithLinks(spanLinks...),
		)
		defer span.End()

		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	flushCtx := ctx
	if c.config.FlushTimeout != 0 {
		var flushCancel context.CancelFunc
		flushCtx, flushCancel = context.WithTimeout(ctx, c.config.FlushTimeout)
		defer flushCancel()
	}

	var (
		result Result
		stat   flushStat
		err    error
	)
	took := timeFunc(func() {
		result, stat, err = c.flush(flushCtx, items)
	})
	c.metrics.flushDuration.Record(context.Background(), took.Seconds(), attrs)
	if stat.bytes > 0 {
		c.metrics.bytesTotal.Add(context.Background(), int64(stat.bytes), attrs)
		c.metrics.bytesUncompressedTotal.Add(context.Background(), int64(stat.uncompressed), attrs)
	}

	if err != nil {
		logger.Error("bulk indexing request failed", zap.Error(err))
		if c.tracingEnabled() {
			apm.CaptureError(ctx, err).Send()
		}
		if c.otelTracingEnabled() && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		}

		statusAttrs := []attribute.KeyValue{attribute.String("status", "Failed")}
		var errFailed ErrorFlushFailed
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			statusAttrs[0] = attribute.String("status", "Timeout")
		case errors.As(err, &errFailed):
			switch {
			case errFailed.tooMany:
				statusAttrs[0] = attribute.String("status", "TooMany")
			case errFailed.clientError:
				statusAttrs[0] = attribute.String("status", "FailedClient")
			case errFailed.serverError:
				statusAttrs[0] = attribute.String("status", "FailedServer")
			}
			statusAttrs = append(statusAttrs, semconv.HTTPResponseStatusCode(errFailed.statusCode))
		}
		c.metrics.docsProcessed.Add(context.Background(), int64(n),
			metric.WithAttributes(statusAttrs...), attrs,
		)
		return Result{}, err
	}

	if result.Success {
		c.metrics.docsProcessed.Add(context.Background(), int64(n),
			metric.WithAttributes(attribute.String("status", "Success")), attrs,
		)
		if c.otelTracingEnabled() && span.IsRecording() {
			span.SetStatus(codes.Ok, "")
		}
	} else {
		failed := len(result.FailedIDs)
		if failed > 0 {
			c.metrics.docsProcessed.Add(context.Background(), int64(failed),
				metric.WithAttributes(attribute.String("status", "FailedClient")), attrs,
			)
			logger.Error(
				fmt.Sprintf("failed to index documents in '%s': rejected with status 400", c.config.Index),
				zap.Int("documents", failed),
				zap.Strings("ids", result.FailedIDs[:min(failed, maxLoggedIDs)]),
			)
		}
		if rest := n - failed; rest > 0 {
			c.metrics.docsProcessed.Add(context.Background(), int64(rest),
				metric.WithAttributes(attribute.String("status", "Unconfirmed")), attrs,
			)
		}
		reported := fmt.Errorf("bulk response reported errors for %d of %d documents", failed, n)
		if c.tracingEnabled() {
			apm.CaptureError(ctx, reported).Send()
		}
		if c.otelTracingEnabled() && span.IsRecording() {
			span.RecordError(reported)
			span.SetStatus(codes.Error, "bulk response reported errors")
		}
	}
	logger.Debug(
		"bulk request completed",
		zap.Int("docs", n),
		zap.Int("failed", len(result.FailedIDs)),
		zap.Bool("success", result.Success),
		zap.Int("bytes", stat.bytes),
	)
	return result, nil
}

// IndexBatches indexes each batch of items with its own bulk request,
// executing up to Config.MaxRequests requests concurrently. Results are
// returned in the order of batches.
//
// A failed request does not cancel the others; all errors are joined.
func (c *Client) IndexBatches(ctx context.Context, batches [][]Item) ([]Result, error) {
	results := make([]Result, len(batches))
	errs := make([]error, len(batches))
	var g errgroup.Group
	g.SetLimit(c.config.MaxRequests)
	for i, items := range batches {
		g.Go(func() error {
			result, err := c.Index(ctx, items)
			if err != nil {
				errs[i] = fmt.Errorf("batch %d: %w", i, err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

type flushStat struct {
	bytes        int
	uncompressed int
}

func (c *Client) flush(ctx context.Context, items []Item) (Result, flushStat, error) {
	body, err := c.encoder.Encode(ctx, items)
	if err != nil {
		return Result{}, flushStat{}, fmt.Errorf("failed to encode the request: %w", err)
	}
	defer body.Close()

	stat := flushStat{bytes: body.Size(), uncompressed: body.UncompressedLen()}
	req := esapi.BulkRequest{
		Index:    c.config.Index,
		Body:     body,
		Header:   make(http.Header),
		Pipeline: c.config.Pipeline,
		Refresh:  c.config.Refresh,
		Timeout:  c.config.Timeout,
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		// The body may not have been sent.
		return Result{}, flushStat{}, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()

	decoded, err := decodeResponseBody(res)
	if res.IsError() {
		if err == nil {
			defer decoded.Close()
			res.Body = decoded
		}
		e := ErrorFlushFailed{resp: res.String(), statusCode: res.StatusCode}
		switch {
		case res.StatusCode == http.StatusTooManyRequests:
			e.tooMany = true
		case res.StatusCode >= 500:
			e.serverError = true
		case res.StatusCode >= 400:
			e.clientError = true
		}
		return Result{}, stat, e
	}
	if err != nil {
		return Result{}, stat, err
	}
	defer decoded.Close()

	result, err := c.scanner.Scan(ctx, decoded)
	if err != nil {
		return Result{}, stat, fmt.Errorf("error scanning bulk response: %w", err)
	}
	return result, stat, nil
}

// decodeResponseBody returns a reader of res.Body with its content
// encoding removed. Closing it does not close res.Body.
func decodeResponseBody(res *esapi.Response) (io.ReadCloser, error) {
	switch enc := strings.ToLower(strings.TrimSpace(res.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		return io.NopCloser(res.Body), nil
	case "gzip":
		zr, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid gzip response: %w", ErrResponseRead, err)
		}
		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(res.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid deflate response: %w", ErrResponseRead, err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", ErrResponseRead, enc)
	}
}

// tracingEnabled checks whether we should be doing tracing
// using APM tracer.
func (c *Client) tracingEnabled() bool {
	tracer := c.config.Tracer
	return tracer != nil && tracer.Recording()
}

// otelTracingEnabled checks whether we should be doing tracing
// using otel tracer.
func (c *Client) otelTracingEnabled() bool {
	return c.tracer != nil
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
