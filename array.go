// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package paramexport serializes named float32 arrays, such as trained
// weights and biases or intermediate activations of a network, to
// MessagePack files laid out for on-device inference runtimes.
package paramexport

import (
	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned when the number of elements implied by a shape
// differs from the length of the data.
var ErrShapeMismatch = errors.New("shape does not match data length")

// Array is a named tensor of float32 values, stored in row-major ("C") order.
//
// An Array is read-only once obtained: the data slice is shared, not copied.
type Array struct {
	name  string
	shape []int
	data  []float32
}

// NewArray validates the given properties and returns an Array.
//
// The shape must not contain negative values, and the product of its
// dimensions must equal len(data). An empty shape denotes a scalar, which
// holds exactly one value. The shape is copied, the data is not.
func NewArray(name string, shape []int, data []float32) (Array, error) {
	size, err := shapeSize(shape)
	if err != nil {
		return Array{}, errors.Wrapf(err, "array %q", name)
	}
	if size != len(data) {
		return Array{}, errors.Wrapf(ErrShapeMismatch, "array %q: shape %v implies %d elements, data has %d",
			name, shape, size, len(data))
	}
	return Array{
		name:  name,
		shape: copyShape(shape),
		data:  data,
	}, nil
}

// MustNewArray is like NewArray but panics on error. It is meant for
// statically known values, such as test fixtures.
func MustNewArray(name string, shape []int, data []float32) Array {
	a, err := NewArray(name, shape, data)
	if err != nil {
		panic(err)
	}
	return a
}

// Zeros returns a new zero-filled Array with the given shape.
func Zeros(name string, shape ...int) (Array, error) {
	size, err := shapeSize(shape)
	if err != nil {
		return Array{}, errors.Wrapf(err, "array %q", name)
	}
	return Array{
		name:  name,
		shape: copyShape(shape),
		data:  make([]float32, size),
	}, nil
}

// Name of the array.
func (a Array) Name() string {
	return a.name
}

// Shape returns a copy of the array's shape. It is nil for scalars.
func (a Array) Shape() []int {
	return copyShape(a.shape)
}

// Rank is the number of dimensions.
func (a Array) Rank() int {
	return len(a.shape)
}

// Size is the total number of elements.
func (a Array) Size() int {
	return len(a.data)
}

// Data returns the underlying values, NOT copied.
func (a Array) Data() []float32 {
	return a.data
}

// Dim returns the size of dimension i.
func (a Array) Dim(i int) int {
	return a.shape[i]
}

// WithName returns a copy of the array header with a different name,
// sharing the same data.
func (a Array) WithName(name string) Array {
	a.name = name
	return a
}

// Reshape returns a view of the same data with a different shape.
func (a Array) Reshape(shape ...int) (Array, error) {
	return NewArray(a.name, shape, a.data)
}

func shapeSize(shape []int) (int, error) {
	size := 1
	for _, v := range shape {
		if v < 0 {
			return 0, errors.Errorf("shape %v contains a negative value", shape)
		}
		size *= v
	}
	return size, nil
}

func copyShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return s
}
