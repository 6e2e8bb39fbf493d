// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoder writes arrays as MessagePack records.
//
// Each record is a (possibly nested) MessagePack array whose leaves are
// single-precision floats (format 0xca). Records carry no length prefix:
// consecutive records are simply concatenated.
type Encoder struct {
	enc *msgpack.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: msgpack.NewEncoder(w)}
}

// EncodeNested writes the array keeping its full nested structure,
// whatever the rank. A scalar is written as a bare float.
func (e *Encoder) EncodeNested(a Array) error {
	return e.encode(a.shape, a.data)
}

// EncodeParam writes the array with the layout given by ParamLayout.
func (e *Encoder) EncodeParam(a Array) error {
	layout, err := ParamLayout(a)
	if err != nil {
		return err
	}
	return e.encode(layout, a.data)
}

// EncodePair writes the weight, following ParamLayout, immediately followed
// by the bias as it is. The bias must have rank 1.
func (e *Encoder) EncodePair(weight, bias Array) error {
	if bias.Rank() != 1 {
		return errors.Wrapf(ErrUnsupportedRank, "bias %q has shape %v", bias.name, bias.shape)
	}
	if err := e.EncodeParam(weight); err != nil {
		return err
	}
	return e.EncodeNested(bias)
}

func (e *Encoder) encode(shape []int, data []float32) error {
	if len(shape) == 0 {
		return e.enc.EncodeFloat32(data[0])
	}
	n := shape[0]
	if err := e.enc.EncodeArrayLen(n); err != nil {
		return errors.Wrap(err, "failed to encode array header")
	}
	if n == 0 {
		return nil
	}
	if len(shape) == 1 {
		for _, v := range data {
			if err := e.enc.EncodeFloat32(v); err != nil {
				return errors.Wrap(err, "failed to encode value")
			}
		}
		return nil
	}
	stride := len(data) / n
	for i := 0; i < n; i++ {
		if err := e.encode(shape[1:], data[i*stride:(i+1)*stride]); err != nil {
			return err
		}
	}
	return nil
}

// MarshalParam returns the encoding of a parameter, as written by
// Encoder.EncodeParam.
func MarshalParam(a Array) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeParam(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalNested returns the encoding of an array, as written by
// Encoder.EncodeNested.
func MarshalNested(a Array) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeNested(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
