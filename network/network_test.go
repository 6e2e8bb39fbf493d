// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package network

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/netdesc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]paramexport.Array

func (m mapSource) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m mapSource) Array(name string) (paramexport.Array, error) {
	a, ok := m[name]
	if !ok {
		return paramexport.Array{}, errors.Errorf("no %q", name)
	}
	return a, nil
}

func (m mapSource) add(name string, shape []int, data []float32) mapSource {
	m[name] = paramexport.MustNewArray(name, shape, data)
	return m
}

func arange(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func build(t *testing.T, yaml string, params mapSource) *Net {
	t.Helper()
	desc := must.M1(netdesc.Parse([]byte(yaml)))
	n, err := New(desc, params)
	require.NoError(t, err)
	return n
}

func forward(t *testing.T, n *Net, data []float32) {
	t.Helper()
	in := must.M1(paramexport.NewArray("data", n.InputShape(), data))
	require.NoError(t, n.Forward(in))
}

func top(t *testing.T, n *Net, name string) paramexport.Array {
	t.Helper()
	b, ok := n.Blob(name)
	require.True(t, ok)
	return b
}

func TestConvolution(t *testing.T) {
	t.Run("single channel", func(t *testing.T) {
		n := build(t, `
input: {shape: [1, 1, 3, 3]}
layers:
  - {name: conv, type: Convolution, convolution: {num_output: 1, kernel_size: 2}}
`, mapSource{}.
			add("conv.weight", []int{1, 1, 2, 2}, []float32{1, 1, 1, 1}).
			add("conv.bias", []int{1}, []float32{0.5}))
		forward(t, n, arange(9))
		out := top(t, n, "conv")
		assert.Equal(t, []int{1, 1, 2, 2}, out.Shape())
		assert.InDeltaSlice(t, []float32{12.5, 16.5, 24.5, 28.5}, out.Data(), 1e-5)
	})

	t.Run("groups", func(t *testing.T) {
		n := build(t, `
input: {shape: [1, 2, 1, 1]}
layers:
  - {name: conv, type: Convolution, convolution: {num_output: 2, kernel_size: 1, group: 2, bias_term: false}}
`, mapSource{}.add("conv.weight", []int{2, 1, 1, 1}, []float32{3, 4}))
		forward(t, n, []float32{1, 2})
		assert.InDeltaSlice(t, []float32{3, 8}, top(t, n, "conv").Data(), 1e-6)
		require.Len(t, n.Params(), 1)
		assert.Len(t, n.Params()[0].Arrays, 1)
	})

	t.Run("pad and stride", func(t *testing.T) {
		n := build(t, `
input: {shape: [1, 1, 2, 2]}
layers:
  - {name: conv, type: Convolution, convolution: {num_output: 1, kernel_size: 3, pad: 1, stride: 2, bias_term: false}}
`, mapSource{}.add("conv.weight", []int{1, 1, 3, 3}, []float32{0, 0, 0, 0, 1, 1, 0, 1, 1}))
		forward(t, n, []float32{1, 2, 3, 4})
		out := top(t, n, "conv")
		assert.Equal(t, []int{1, 1, 1, 1}, out.Shape())
		assert.InDeltaSlice(t, []float32{10}, out.Data(), 1e-6)
	})
}

func TestPooling(t *testing.T) {
	testCases := []struct {
		pool string
		want []float32
	}{
		{"MAX", []float32{5, 6, 8, 9}},
		{"AVE", []float32{3, 4.5, 7.5, 9}},
	}
	for _, tc := range testCases {
		t.Run(tc.pool, func(t *testing.T) {
			n := build(t, `
input: {shape: [1, 1, 3, 3]}
layers:
  - {name: pool, type: Pooling, pooling: {pool: `+tc.pool+`, kernel_size: 2, stride: 2}}
`, mapSource{})
			forward(t, n, arange(9))
			out := top(t, n, "pool")
			assert.Equal(t, []int{1, 1, 2, 2}, out.Shape())
			assert.InDeltaSlice(t, tc.want, out.Data(), 1e-6)
		})
	}
}

func TestPoolOutSize(t *testing.T) {
	testCases := []struct {
		in, kernel, stride, pad, want int
	}{
		{3, 2, 2, 0, 2},
		{4, 2, 2, 0, 2},
		{55, 3, 2, 0, 27},
		{13, 3, 2, 0, 6},
		{5, 3, 2, 1, 3},
		{6, 3, 2, 1, 4},
		{3, 2, 2, 1, 2},
		{1, 2, 1, 0, 0},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, poolOutSize(tc.in, tc.kernel, tc.stride, tc.pad), "%+v", tc)
	}
}

func TestActivations(t *testing.T) {
	n := build(t, `
input: {shape: [1, 3]}
layers:
  - {name: relu, type: ReLU}
  - {name: drop, type: Dropout, dropout: {ratio: 0.5}}
  - {name: prob, type: Softmax}
`, mapSource{})
	forward(t, n, []float32{-1, 0, 2})
	assert.Equal(t, []float32{0, 0, 2}, top(t, n, "relu").Data())
	assert.Equal(t, []float32{0, 0, 2}, top(t, n, "drop").Data())

	prob := top(t, n, "prob").Data()
	assert.InDelta(t, 0.10650698, prob[0], 1e-6)
	assert.InDelta(t, 0.10650698, prob[1], 1e-6)
	assert.InDelta(t, 0.78698604, prob[2], 1e-6)
}

func TestLRN(t *testing.T) {
	n := build(t, `
input: {shape: [1, 3, 1, 1]}
layers:
  - {name: norm, type: LRN, lrn: {local_size: 3, alpha: 3, beta: 1}}
`, mapSource{})
	forward(t, n, []float32{1, 2, 3})
	assert.InDeltaSlice(t, []float32{1.0 / 6, 2.0 / 15, 3.0 / 14}, top(t, n, "norm").Data(), 1e-6)
}

func TestInnerProduct(t *testing.T) {
	n := build(t, `
input: {shape: [2, 1, 1, 3]}
layers:
  - {name: ip, type: InnerProduct, inner_product: {num_output: 2}}
`, mapSource{}.
		add("ip.weight", []int{2, 3}, []float32{1, 0, 1, 0, 1, 0}).
		add("ip.bias", []int{2}, []float32{10, 20}))
	forward(t, n, arange(6))
	out := top(t, n, "ip")
	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float32{14, 22, 20, 25}, out.Data(), 1e-5)
}

func TestBatchNorm(t *testing.T) {
	n := build(t, `
input: {shape: [1, 2]}
layers:
  - {name: bn, type: BatchNorm, batch_norm: {eps: 0.001}}
`, mapSource{}.
		add("bn.mean", []int{2}, []float32{2, 0}).
		add("bn.variance", []int{2}, []float32{4, 2}).
		add("bn.scale_factor", []int{1}, []float32{2}))
	forward(t, n, []float32{3, 1})
	out := top(t, n, "bn").Data()
	assert.InDelta(t, 2/1.41456, out[0], 1e-4)
	assert.InDelta(t, 1/1.00050, out[1], 1e-4)

	groups := n.Params()
	require.Len(t, groups, 1)
	assert.Equal(t, "bn", groups[0].Layer)
	assert.Len(t, groups[0].Arrays, 3)
}

const smallNet = `
input: {shape: [1, 1, 4, 4]}
layers:
  - {name: conv1, type: Convolution, convolution: {num_output: 2, kernel_size: 3}}
  - {name: relu1, type: ReLU, bottom: conv1, top: conv1}
  - {name: pool1, type: Pooling, pooling: {pool: MAX, kernel_size: 2}}
  - {name: ip1, type: InnerProduct, inner_product: {num_output: 3}}
  - {name: prob, type: Softmax}
`

func smallParams() mapSource {
	return mapSource{}.
		add("conv1.weight", []int{2, 1, 3, 3}, arange(18)).
		add("conv1.bias", []int{2}, []float32{-50, -100}).
		add("ip1.weight", []int{3, 2}, []float32{1, 0, 0, 1, 1, 1}).
		add("ip1.bias", []int{3}, []float32{0, 0, 0})
}

func TestNet(t *testing.T) {
	n := build(t, smallNet, smallParams())

	var names []string
	for _, b := range n.Blobs() {
		names = append(names, b.Name())
	}
	assert.Equal(t, []string{"data", "conv1", "pool1", "ip1", "prob"}, names)
	assert.Equal(t, make([]float32, 8), top(t, n, "conv1").Data())

	require.NoError(t, n.Forward(n.ZeroInput()))
	// zero input: conv outputs the biases, ReLU clamps them in place
	assert.Equal(t, make([]float32, 8), top(t, n, "conv1").Data())
	assert.Equal(t, []int{1, 2, 1, 1}, top(t, n, "pool1").Shape())
	assert.InDeltaSlice(t, []float32{1.0 / 3, 1.0 / 3, 1.0 / 3}, top(t, n, "prob").Data(), 1e-6)

	groups := n.Params()
	require.Len(t, groups, 2)
	assert.Equal(t, "conv1", groups[0].Layer)
	assert.Equal(t, "conv1.weight", groups[0].Arrays[0].Name())
	assert.Equal(t, "conv1.bias", groups[0].Arrays[1].Name())
	assert.Equal(t, "ip1", groups[1].Layer)
}

func TestNew_errors(t *testing.T) {
	t.Run("missing parameter", func(t *testing.T) {
		params := smallParams()
		delete(params, "ip1.bias")
		_, err := New(must.M1(netdesc.Parse([]byte(smallNet))), params)
		assert.EqualError(t, err, `layer "ip1": missing parameter "ip1.bias"`)
	})

	t.Run("wrong shape", func(t *testing.T) {
		params := smallParams().add("ip1.weight", []int{2, 3}, arange(6))
		_, err := New(must.M1(netdesc.Parse([]byte(smallNet))), params)
		assert.ErrorIs(t, err, paramexport.ErrShapeMismatch)
	})

	t.Run("kernel too large", func(t *testing.T) {
		desc := must.M1(netdesc.Parse([]byte(`
input: {shape: [1, 1, 2, 2]}
layers:
  - {name: pool, type: Pooling, pooling: {kernel_size: 3}}
`)))
		_, err := New(desc, mapSource{})
		assert.ErrorContains(t, err, "kernel size 3 too large")
	})

	t.Run("rank", func(t *testing.T) {
		desc := must.M1(netdesc.Parse([]byte(`
input: {shape: [1, 4]}
layers:
  - {name: norm, type: LRN}
`)))
		_, err := New(desc, mapSource{})
		assert.ErrorContains(t, err, "expected input of rank 4")
	})
}

func TestForward_inputShape(t *testing.T) {
	n := build(t, smallNet, smallParams())
	err := n.Forward(paramexport.MustNewArray("data", []int{4, 4}, make([]float32, 16)))
	assert.ErrorIs(t, err, paramexport.ErrShapeMismatch)
}
