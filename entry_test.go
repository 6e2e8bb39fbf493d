// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramexport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntry(t *testing.T) {
	a := MustNewArray("a", []int{1}, []float32{1})
	b := MustNewArray("b", []int{1}, []float32{2})

	single := Single("s", a)
	assert.Equal(t, KindSingle, single.Kind())
	got, ok := single.Array()
	assert.True(t, ok)
	assert.Equal(t, a, got)
	_, _, ok = single.Pair()
	assert.False(t, ok)

	pair := WeightBias("p", a, b)
	assert.Equal(t, KindPair, pair.Kind())
	w, bias, ok := pair.Pair()
	assert.True(t, ok)
	assert.Equal(t, a, w)
	assert.Equal(t, b, bias)
	_, ok = pair.Array()
	assert.False(t, ok)

	u := Unsupported("u", 42)
	assert.Equal(t, KindUnsupported, u.Kind())
	assert.Equal(t, 42, u.Value())
	assert.Equal(t, "u", u.Name())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "unsupported", KindUnsupported.String())
	assert.Equal(t, "single", KindSingle.String())
	assert.Equal(t, "pair", KindPair.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestNewCollection(t *testing.T) {
	testCases := []struct {
		category Category
		info     string
	}{
		{Params, "net.params data"},
		{Blobs, "net.blobs data"},
	}
	for _, tc := range testCases {
		t.Run(tc.category.String(), func(t *testing.T) {
			c := NewCollection(tc.category)
			assert.Equal(t, []string{InfoName}, c.Names())
			assert.Equal(t, KindUnsupported, c.Entries[0].Kind())
			assert.Equal(t, tc.info, c.Entries[0].Value())
		})
	}
}
