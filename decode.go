// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Record is one decoded MessagePack payload of a parameter or blob file.
type Record struct {
	// Shape of the nested arrays. It is nil for a bare scalar.
	Shape []int
	// Values in row-major order.
	Values []float32
}

// Size is the number of values of the record.
func (r Record) Size() int {
	return len(r.Values)
}

// Array converts the record to a named Array.
func (r Record) Array(name string) (Array, error) {
	return NewArray(name, r.Shape, r.Values)
}

// DecodeRecord reads one record from d.
//
// Nested arrays must be rectangular: siblings at the same depth must have
// the same shape, otherwise ErrShapeMismatch is returned.
func DecodeRecord(d *msgpack.Decoder) (Record, error) {
	var r Record
	shape, err := decodeValue(d, &r.Values)
	if err != nil {
		return Record{}, err
	}
	r.Shape = shape
	return r, nil
}

func decodeValue(d *msgpack.Decoder, values *[]float32) ([]int, error) {
	c, err := d.PeekCode()
	if err != nil {
		return nil, err
	}
	if !isArrayCode(c) {
		v, err := d.DecodeFloat32()
		if err != nil {
			return nil, err
		}
		*values = append(*values, v)
		return nil, nil
	}

	n, err := d.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("unexpected nil array")
	}
	var inner []int
	for i := 0; i < n; i++ {
		s, err := decodeValue(d, values)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			inner = s
		} else if !equalShapes(inner, s) {
			return nil, errors.Wrapf(ErrShapeMismatch, "ragged array: element %d has shape %v, expected %v", i, s, inner)
		}
	}
	return append([]int{n}, inner...), nil
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}

func equalShapes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ReadRecords decodes up to n consecutive records from r.
// If n is zero or negative, records are read until the end of the stream.
//
// A parameter file of a layer with weight and bias holds exactly two
// records; blob files and single parameters hold one.
func ReadRecords(r io.Reader, n int) ([]Record, error) {
	d := msgpack.NewDecoder(r)
	var records []Record
	for n <= 0 || len(records) < n {
		if n <= 0 {
			if _, err := d.PeekCode(); err == io.EOF {
				break
			}
		}
		rec, err := DecodeRecord(d)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode record %d", len(records))
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadFile decodes all the records of a file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	return ReadRecords(f, 0)
}
