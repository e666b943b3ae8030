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
	"fmt"

	"github.com/google/uuid"
)

// IDLength is the length of an item identifier: the width of the canonical
// textual form of a UUID.
const IDLength = 36

// Item pairs a document identifier with its JSON encoded body.
//
// The identifier is copied into the Item when it is created. The body is
// not copied; it must not be modified until the Item has been encoded.
type Item struct {
	id   [IDLength]byte
	data []byte
}

// NewItem returns an Item with the given id and document body. It returns
// ErrInvalidID if id is not exactly IDLength bytes long. An empty body is
// permitted.
func NewItem(id, data []byte) (Item, error) {
	return NewItemString(string(id), data)
}

// NewItemString is like NewItem, but takes the id as a string.
func NewItemString(id string, data []byte) (Item, error) {
	var item Item
	if len(id) != IDLength {
		return item, fmt.Errorf("%w: got %d bytes", ErrInvalidID, len(id))
	}
	copy(item.id[:], id)
	item.data = data
	return item, nil
}

// NewItemUUID returns an Item identified by the canonical form of id.
func NewItemUUID(id uuid.UUID, data []byte) Item {
	item := Item{data: data}
	copy(item.id[:], id.String())
	return item
}

// ID returns the item identifier.
func (i Item) ID() string {
	return string(i.id[:])
}

// Data returns the document body.
func (i Item) Data() []byte {
	return i.data
}
