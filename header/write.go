// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nlpodyssey/paramexport/dtype"
)

type outTensor struct {
	DType       dtype.DType `json:"dtype"`
	Shape       []int       `json:"shape"`
	DataOffsets [2]int      `json:"data_offsets"`
}

// MarshalJSON encodes the header JSON object, without size prefix nor
// padding.
func (h Header) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		obj[metadataKey] = h.Metadata
	}
	for _, t := range h.Tensors {
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		obj[t.Name] = outTensor{DType: t.DType, Shape: shape, DataOffsets: [2]int{t.Begin, t.End}}
	}
	return json.Marshal(obj)
}

var padding = [8]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// Write writes the size-prefixed header to w, padding the JSON object with
// spaces so that the byte-buffer starts at a multiple of 8.
// It returns the resulting ByteBufferOffset.
func Write(w io.Writer, h Header) (int, error) {
	js, err := h.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("failed to JSON-encode header: %w", err)
	}
	toAlign := (8 - len(js)%8) % 8
	size := len(js) + toAlign

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(size))
	if _, err = w.Write(b[:]); err != nil {
		return 0, fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err = w.Write(js); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	if _, err = w.Write(padding[:toAlign]); err != nil {
		return 0, fmt.Errorf("failed to write header padding: %w", err)
	}
	return 8 + size, nil
}
