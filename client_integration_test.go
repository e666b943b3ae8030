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

package bulkcodec_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/elastic/go-bulkcodec"
)

func TestClientIntegration(t *testing.T) {
	switch strings.ToLower(os.Getenv("INTEGRATION_TESTS")) {
	case "1", "true":
	default:
		t.Skip("Skipping integration test, export INTEGRATION_TESTS=1 to run")
	}

	config := elasticsearch.Config{}
	config.Username = "admin"
	config.Password = "changeme"
	es, err := elasticsearch.NewClient(config)
	require.NoError(t, err)

	index := "bulkcodec-testing"
	client, err := bulkcodec.NewClient(es, bulkcodec.Config{Index: index, Refresh: "true"})
	require.NoError(t, err)

	deleteIndex := func() {
		resp, err := esapi.IndicesDeleteRequest{
			Index:             []string{index},
			IgnoreUnavailable: esapi.BoolPtr(true),
		}.Do(context.Background(), es)
		require.NoError(t, err)
		defer resp.Body.Close()
	}
	deleteIndex()
	defer deleteIndex()

	const N = 100
	items := make([]bulkcodec.Item, 0, N)
	for i := 0; i < N-1; i++ {
		items = append(items, bulkcodec.NewItemUUID(uuid.New(), []byte(`{"Title":"A second book title"}`)))
	}
	malformed := bulkcodec.NewItemUUID(uuid.New(), []byte(`{"Title":"A second book title"`))
	items = append(items, malformed)

	result, err := client.Index(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, bulkcodec.Result{FailedIDs: []string{malformed.ID()}}, result)

	var count struct {
		Count int
	}
	resp, err := esapi.CountRequest{Index: []string{index}}.Do(context.Background(), es)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&count))
	assert.Equal(t, N-1, count.Count)
}
