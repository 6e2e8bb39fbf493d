// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtype

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// ToFloat32 interprets raw little-endian data of this type and converts each
// element to float32, as a numeric cast would do. Booleans become 0 or 1.
//
// The length of data must be a multiple of the DType size.
func (dt DType) ToFloat32(data []byte) ([]float32, error) {
	size := dt.Size()
	if size < 0 {
		return nil, dt.Validate()
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %s size %d", len(data), dt, size)
	}

	le := binary.LittleEndian
	out := make([]float32, len(data)/size)
	for i := range out {
		b := data[i*size : (i+1)*size]
		switch dt {
		case Bool:
			if b[0] != 0 {
				out[i] = 1
			}
		case U8:
			out[i] = float32(b[0])
		case I8:
			out[i] = float32(int8(b[0]))
		case U16:
			out[i] = float32(le.Uint16(b))
		case I16:
			out[i] = float32(int16(le.Uint16(b)))
		case F16:
			out[i] = float16.Frombits(le.Uint16(b)).Float32()
		case BF16:
			out[i] = math.Float32frombits(uint32(le.Uint16(b)) << 16)
		case U32:
			out[i] = float32(le.Uint32(b))
		case I32:
			out[i] = float32(int32(le.Uint32(b)))
		case F32:
			out[i] = math.Float32frombits(le.Uint32(b))
		case U64:
			out[i] = float32(le.Uint64(b))
		case I64:
			out[i] = float32(int64(le.Uint64(b)))
		case F64:
			out[i] = float32(math.Float64frombits(le.Uint64(b)))
		}
	}
	return out, nil
}

// FromFloat32 encodes values as raw little-endian F32 data.
func FromFloat32(values []float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
