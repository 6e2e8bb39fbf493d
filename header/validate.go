// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"fmt"
	"math"
	"math/bits"
)

// Validate checks whether the content of a Header is consistent, returning
// an error if a problem is encountered, otherwise nil.
//
// The Header is checked against the following rules:
//
//   - ByteBufferOffset must not be negative
//   - tensor names must be unique
//   - the byte ranges of all Tensors, taken in offsets order, must cover an
//     entire contiguous area of the byte-buffer, starting from offset 0,
//     without overlapping
//   - each Tensor's byte size (End - Begin) must coincide with the size
//     computed from Shape and DType (an empty shape counts as 1 scalar value)
//   - no overflow must occur during calculations
func (h Header) Validate() error {
	if h.ByteBufferOffset < 0 {
		return fmt.Errorf("invalid byte-buffer offset negative value %d", h.ByteBufferOffset)
	}
	seen := make(map[string]struct{}, len(h.Tensors))
	expectedBegin := 0
	for _, t := range h.Tensors {
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate tensor name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if err := validateTensor(t, expectedBegin); err != nil {
			return fmt.Errorf("invalid tensor %q: %w", t.Name, err)
		}
		expectedBegin = t.End
	}
	return nil
}

func validateTensor(t Tensor, expectedBegin int) error {
	if t.Begin != expectedBegin {
		return fmt.Errorf("expected data-offsets begin %d, actual %d", expectedBegin, t.Begin)
	}
	if t.End < t.Begin {
		return fmt.Errorf("expected data-offsets end >= %d (begin), actual %d", t.Begin, t.End)
	}
	byteSize, err := ByteSizeFromShape(t.Shape, t.DType.Size())
	if err != nil {
		return err
	}
	if t.ByteSize() != byteSize {
		return fmt.Errorf("byte size computed from shape (%d) differs from data-offsets size (%d)", byteSize, t.ByteSize())
	}
	return nil
}

// ByteSizeFromShape returns the number of bytes taken by a tensor of the
// given shape, whose elements are elemSize bytes each.
func ByteSizeFromShape(shape []int, elemSize int) (int, error) {
	if elemSize <= 0 {
		return 0, fmt.Errorf("invalid element size %d", elemSize)
	}
	size := uint(elemSize)
	for _, v := range shape {
		if v < 0 {
			return 0, fmt.Errorf("shape contains negative value %d", v)
		}
		var hi uint
		if hi, size = bits.Mul(size, uint(v)); hi != 0 {
			return 0, fmt.Errorf("int overflow computing tensor byte size from shape")
		}
	}
	if size > math.MaxInt {
		return 0, fmt.Errorf("tensor byte size computed from shape is too large for int type: %d", size)
	}
	return int(size), nil
}
