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

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/trace"
)

// linkedTraceContext identifies a span of one tracing system so it can be
// linked from the other.
type linkedTraceContext struct {
	TraceID [16]byte
	SpanID  [8]byte
}

func (c linkedTraceContext) APMLink() apm.SpanLink {
	return apm.SpanLink{Trace: c.TraceID, Span: c.SpanID}
}

func (c linkedTraceContext) OTELLink() trace.Link {
	return trace.Link{SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    c.TraceID,
		SpanID:     c.SpanID,
		TraceFlags: trace.FlagsSampled,
	})}
}

// apmLinks returns links to the OTel span active in ctx, if any.
func apmLinks(ctx context.Context) []apm.SpanLink {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() || !sc.HasSpanID() {
		return nil
	}
	c := linkedTraceContext{TraceID: sc.TraceID(), SpanID: sc.SpanID()}
	return []apm.SpanLink{c.APMLink()}
}

// otelLinks returns links to the APM transaction or span active in ctx,
// if any.
func otelLinks(ctx context.Context) []trace.Link {
	var tc apm.TraceContext
	if span := apm.SpanFromContext(ctx); span != nil {
		tc = span.TraceContext()
	} else if tx := apm.TransactionFromContext(ctx); tx != nil {
		tc = tx.TraceContext()
	} else {
		return nil
	}
	if err := tc.Trace.Validate(); err != nil {
		return nil
	}
	c := linkedTraceContext{TraceID: tc.Trace, SpanID: tc.Span}
	return []trace.Link{c.OTELLink()}
}
