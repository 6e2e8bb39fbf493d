// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package header reads, validates and writes the header of a weights
// checkpoint stored in safetensors format.
//
// The header is a little-endian uint64 size followed by a JSON object
// mapping tensor names to their dtype, shape and byte range, plus an
// optional "__metadata__" object of free-form strings.
package header

import (
	"sort"

	"github.com/nlpodyssey/paramexport/dtype"
)

// Header provides tensors information and metadata.
type Header struct {
	// Tensors sorted by ascending data offsets.
	Tensors []Tensor
	// Metadata is a set of free-form key/value string pairs. It can be nil.
	Metadata map[string]string
	// ByteBufferOffset indicates the byte index position where the byte-buffer
	// is expected to start, relative to the beginning of the whole
	// data stream (or file).
	ByteBufferOffset int
}

// Tensor provides properties of a tensor, as described within a header.
type Tensor struct {
	Name  string
	DType dtype.DType
	Shape []int
	// Begin is the lower bound byte index (included), relative to the start
	// of the byte-buffer.
	Begin int
	// End is the upper bound byte index (excluded).
	End int
}

// ByteSize is the size in bytes of the tensor's data, according to its
// offsets.
func (t Tensor) ByteSize() int {
	return t.End - t.Begin
}

// Lookup returns the tensor with the given name, and whether it was found.
func (h Header) Lookup(name string) (Tensor, bool) {
	for _, t := range h.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// Names of all tensors, in data offsets order.
func (h Header) Names() []string {
	if len(h.Tensors) == 0 {
		return nil
	}
	names := make([]string, len(h.Tensors))
	for i, t := range h.Tensors {
		names[i] = t.Name
	}
	return names
}

func sortByOffsets(ts []Tensor) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		return a.Begin < b.Begin || (a.Begin == b.Begin && a.End < b.End) ||
			(a.Begin == b.Begin && a.End == b.End && a.Name < b.Name)
	})
}
