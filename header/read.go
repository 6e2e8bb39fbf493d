// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/nlpodyssey/paramexport/dtype"
)

const metadataKey = "__metadata__"

// Read reads and parses from "r" the initial part of a checkpoint stream.
//
// Note that after successfully reading and parsing, NO validation is
// performed on the obtained Header.
//
// The caller is responsible for guarding against reading data up to a lower
// limit, for example with an io.LimitedReader.
func Read(r io.Reader) (Header, error) {
	size, err := readHeaderSize(r)
	switch {
	case err != nil:
		return Header{}, err
	case size < 2: // a bare minimum header is "{}"
		return Header{}, fmt.Errorf("header size too small: %d", size)
	case size > math.MaxInt-8:
		return Header{}, fmt.Errorf("header size too large: %d", size)
	}

	raw, err := readJSONObject(r, int64(size))
	if err != nil {
		return Header{}, fmt.Errorf("failed to JSON-decode header: %w", err)
	}

	h, err := convert(raw)
	if err != nil {
		return Header{}, err
	}
	h.ByteBufferOffset = 8 + int(size)
	return h, nil
}

func readHeaderSize(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read header size: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readJSONObject(r io.Reader, size int64) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(&io.LimitedReader{R: r, N: size})
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	// the object can be followed by padding spaces only
	if off := dec.InputOffset(); off != size {
		if _, err := dec.Token(); err == nil {
			return nil, fmt.Errorf("unexpected data at byte offset %d", off)
		} else if err != io.EOF {
			return nil, err
		}
	}
	return raw, nil
}

type jsonTensor struct {
	DType       *dtype.DType `json:"dtype"`
	Shape       []int        `json:"shape"`
	DataOffsets []int        `json:"data_offsets"`
}

func convert(raw map[string]json.RawMessage) (h Header, err error) {
	if rawMeta, ok := raw[metadataKey]; ok {
		delete(raw, metadataKey)
		if h.Metadata, err = convertMetadata(rawMeta); err != nil {
			return Header{}, err
		}
	}
	if len(raw) == 0 {
		return h, nil
	}
	h.Tensors = make([]Tensor, 0, len(raw))
	for name, msg := range raw {
		t, err := convertTensor(name, msg)
		if err != nil {
			return Header{}, fmt.Errorf("failed to interpret header tensor %q: %w", name, err)
		}
		h.Tensors = append(h.Tensors, t)
	}
	sortByOffsets(h.Tensors)
	return h, nil
}

func convertMetadata(msg json.RawMessage) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("failed to interpret header metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func convertTensor(name string, msg json.RawMessage) (Tensor, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	var jt jsonTensor
	if err := dec.Decode(&jt); err != nil {
		return Tensor{}, err
	}
	switch {
	case jt.DType == nil:
		return Tensor{}, fmt.Errorf(`"dtype" is missing`)
	case jt.Shape == nil:
		return Tensor{}, fmt.Errorf(`"shape" is missing`)
	case jt.DataOffsets == nil:
		return Tensor{}, fmt.Errorf(`"data_offsets" is missing`)
	case len(jt.DataOffsets) != 2:
		return Tensor{}, fmt.Errorf(`bad "data_offsets" length: expected 2, actual %d`, len(jt.DataOffsets))
	}
	for i, v := range jt.Shape {
		if v < 0 {
			return Tensor{}, fmt.Errorf(`"shape" value at index %d is negative: %d`, i, v)
		}
	}
	for i, v := range jt.DataOffsets {
		if v < 0 {
			return Tensor{}, fmt.Errorf(`"data_offsets" value at index %d is negative: %d`, i, v)
		}
	}
	var shape []int
	if len(jt.Shape) > 0 {
		shape = jt.Shape
	}
	return Tensor{
		Name:  name,
		DType: *jt.DType,
		Shape: shape,
		Begin: jt.DataOffsets[0],
		End:   jt.DataOffsets[1],
	}, nil
}
