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

// Package esapi contains a stripped down version of https://github.com/elastic/go-elasticsearch/tree/main/esapi
// which exists to issue pre-encoded, gzip compressed bulk requests with any
// v7 or v8 client.
package esapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Transport defines the interface for an API client.
type Transport interface {
	Perform(*http.Request) (*http.Response, error)
}

// BulkRequest configures a request to the _bulk API with a gzip
// compressed ndjson body.
type BulkRequest struct {
	// Index holds the default index for the items of the request.
	// If Index is empty, the request is sent to /_bulk.
	Index string

	// Body holds the compressed request body. If Body has a Len method
	// reporting the number of bytes left, it is used as the content length.
	//
	// The request does not take ownership of Body, and never closes it.
	Body io.Reader

	Pipeline string
	Refresh  string
	Timeout  time.Duration

	Header http.Header
}

// Do executes the request and returns the response or an error.
func (r BulkRequest) Do(ctx context.Context, transport Transport) (*Response, error) {
	var path strings.Builder
	path.Grow(len("/") + len(r.Index) + len("/_bulk"))
	if r.Index != "" {
		path.WriteString("/")
		path.WriteString(url.PathEscape(r.Index))
	}
	path.WriteString("/_bulk")

	params := make(url.Values)
	if r.Pipeline != "" {
		params.Set("pipeline", r.Pipeline)
	}
	if r.Refresh != "" {
		params.Set("refresh", r.Refresh)
	}
	if r.Timeout != 0 {
		params.Set("timeout", formatDuration(r.Timeout))
	}

	var body io.Reader
	if r.Body != nil {
		// The transport closes the request body; the caller owns it.
		body = io.NopCloser(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, path.String(), body)
	if err != nil {
		return nil, err
	}
	if l, ok := r.Body.(interface{ Len() int }); ok {
		req.ContentLength = int64(l.Len())
	}
	if s, ok := r.Body.(io.ReadSeeker); ok {
		req.GetBody = func() (io.ReadCloser, error) {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return io.NopCloser(s), nil
		}
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}

	for k, vv := range r.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")

	res, err := transport.Perform(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       res.Body,
	}, nil
}

// Response represents the API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// IsError returns true when the response status indicates failure.
func (r *Response) IsError() bool {
	return r.StatusCode > 299
}

// String returns the response status and, for failed responses, up to
// the first 1KiB of the body. It consumes the body.
func (r *Response) String() string {
	status := http.StatusText(r.StatusCode)
	if status == "" {
		status = "Unknown"
	}
	out := fmt.Sprintf("[%d %s]", r.StatusCode, status)
	if r.Body == nil || !r.IsError() {
		return out
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		return out + " <error reading response body: " + err.Error() + ">"
	}
	if len(b) > 0 {
		out += " " + string(b)
	}
	return out
}

// formatDuration converts duration to a string in the format
// accepted by Elasticsearch.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return strconv.FormatInt(int64(d), 10) + "nanos"
	}
	return strconv.FormatInt(int64(d)/int64(time.Millisecond), 10) + "ms"
}
