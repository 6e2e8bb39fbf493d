// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtype

import (
	"encoding"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ encoding.TextMarshaler   = DType(0)
	_ encoding.TextUnmarshaler = new(DType)
)

var (
	validValues = []struct {
		dType  DType
		size   int
		string string
	}{
		{Bool, 1, "BOOL"},
		{U8, 1, "U8"},
		{I8, 1, "I8"},
		{U16, 2, "U16"},
		{I16, 2, "I16"},
		{F16, 2, "F16"},
		{BF16, 2, "BF16"},
		{U32, 4, "U32"},
		{I32, 4, "I32"},
		{F32, 4, "F32"},
		{U64, 8, "U64"},
		{I64, 8, "I64"},
		{F64, 8, "F64"},
	}
	invalidValues = []DType{0, 14, 15, 16, 254, 255}
)

func TestDType_Validate(t *testing.T) {
	for _, tc := range validValues {
		assert.NoError(t, tc.dType.Validate())
	}

	for _, dt := range invalidValues {
		assert.EqualError(t, dt.Validate(), fmt.Sprintf("invalid DType(%d)", dt))
	}
}

func TestDType_String(t *testing.T) {
	for _, tc := range validValues {
		assert.Equal(t, tc.string, tc.dType.String())
	}

	for _, dt := range invalidValues {
		assert.Equal(t, fmt.Sprintf("invalid DType(%d)", dt), dt.String())
	}
}

func TestDType_Size(t *testing.T) {
	for _, tc := range validValues {
		assert.Equal(t, tc.size, tc.dType.Size())
	}

	for _, dt := range invalidValues {
		assert.Equal(t, -1, dt.Size())
	}
}

func TestDType_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]DType{"dtype": BF16})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dtype":"BF16"}`, string(b))

	var decoded map[string]DType
	require.NoError(t, json.Unmarshal([]byte(`{"dtype":"F64"}`), &decoded))
	assert.Equal(t, F64, decoded["dtype"])

	_, err = json.Marshal(DType(0))
	assert.Error(t, err)
}

func TestDType_UnmarshalText(t *testing.T) {
	for _, tc := range validValues {
		var dt DType
		err := dt.UnmarshalText([]byte(tc.string))
		assert.NoError(t, err)
		assert.Equal(t, tc.dType, dt)
	}

	var dt DType
	assert.EqualError(t, dt.UnmarshalText(nil), `failed to text-unmarshal DType from value ""`)
	assert.EqualError(t, dt.UnmarshalText([]byte("foo")), `failed to text-unmarshal DType from value "foo"`)
	assert.EqualError(t, dt.UnmarshalText([]byte("f32")), `failed to text-unmarshal DType from value "f32"`)
}

func TestParse(t *testing.T) {
	dt, err := Parse("I16")
	require.NoError(t, err)
	assert.Equal(t, I16, dt)

	_, err = Parse("float")
	assert.Error(t, err)
}
