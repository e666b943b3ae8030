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

// Package bulkcodec encodes documents into gzip compressed requests for the
// Elasticsearch _bulk API, and reads bulk responses incrementally to find
// the documents Elasticsearch rejected.
//
// Encoding sizes each request body once from the lengths of its items, and
// writes it into a single buffer rented from a Pool. Scanning reads the
// response through a small fixed buffer, stopping as soon as the response
// reports that no item failed.
//
// This package provides an intentionally narrow API; it only issues index
// actions with caller assigned ids. Client ties the two together for use
// with a go-elasticsearch client.
package bulkcodec
