// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package network

import (
	"github.com/nlpodyssey/paramexport/netdesc"
	"github.com/pkg/errors"
)

type paramSpec struct {
	role  string
	shape []int
}

// paramSpecs returns the names and shapes of the learnable parameters of a
// layer given the shape of its input.
func paramSpecs(l netdesc.Layer, in []int) ([]paramSpec, error) {
	switch l.Type {
	case netdesc.Convolution:
		if err := requireRank(in, 4); err != nil {
			return nil, err
		}
		p := l.Convolution
		if in[1]%p.Group != 0 {
			return nil, errors.Errorf("input channels %d are not divisible by group %d", in[1], p.Group)
		}
		specs := []paramSpec{{"weight", []int{p.NumOutput, in[1] / p.Group, p.KernelSize, p.KernelSize}}}
		if p.HasBias() {
			specs = append(specs, paramSpec{"bias", []int{p.NumOutput}})
		}
		return specs, nil
	case netdesc.InnerProduct:
		if len(in) < 2 {
			return nil, errors.Errorf("expected input of rank 2 or more, got shape %v", in)
		}
		p := l.InnerProduct
		specs := []paramSpec{{"weight", []int{p.NumOutput, innerSize(in)}}}
		if p.HasBias() {
			specs = append(specs, paramSpec{"bias", []int{p.NumOutput}})
		}
		return specs, nil
	case netdesc.BatchNorm:
		if len(in) < 2 {
			return nil, errors.Errorf("expected input of rank 2 or more, got shape %v", in)
		}
		return []paramSpec{
			{"mean", []int{in[1]}},
			{"variance", []int{in[1]}},
			{"scale_factor", []int{1}},
		}, nil
	}
	return nil, nil
}

// outputShape infers the shape of the top blob of a layer.
func outputShape(l netdesc.Layer, in []int) ([]int, error) {
	switch l.Type {
	case netdesc.Convolution:
		p := l.Convolution
		h := convOutSize(in[2], p.KernelSize, p.Stride, p.Pad)
		w := convOutSize(in[3], p.KernelSize, p.Stride, p.Pad)
		if h <= 0 || w <= 0 {
			return nil, errors.Errorf("kernel size %d too large for input %v", p.KernelSize, in)
		}
		return []int{in[0], p.NumOutput, h, w}, nil
	case netdesc.Pooling:
		if err := requireRank(in, 4); err != nil {
			return nil, err
		}
		p := l.Pooling
		h := poolOutSize(in[2], p.KernelSize, p.Stride, p.Pad)
		w := poolOutSize(in[3], p.KernelSize, p.Stride, p.Pad)
		if h <= 0 || w <= 0 {
			return nil, errors.Errorf("kernel size %d too large for input %v", p.KernelSize, in)
		}
		return []int{in[0], in[1], h, w}, nil
	case netdesc.LRN:
		if err := requireRank(in, 4); err != nil {
			return nil, err
		}
	case netdesc.InnerProduct:
		return []int{in[0], l.InnerProduct.NumOutput}, nil
	case netdesc.Softmax:
		if len(in) < 2 {
			return nil, errors.Errorf("expected input of rank 2 or more, got shape %v", in)
		}
	}
	return append([]int(nil), in...), nil
}

func requireRank(shape []int, rank int) error {
	if len(shape) != rank {
		return errors.Errorf("expected input of rank %d, got shape %v", rank, shape)
	}
	return nil
}

// innerSize is the number of elements of one item of a batch.
func innerSize(shape []int) int {
	size := 1
	for _, v := range shape[1:] {
		size *= v
	}
	return size
}

func convOutSize(in, kernel, stride, pad int) int {
	return (in+2*pad-kernel)/stride + 1
}

// poolOutSize rounds up, so that the last window may overlap the border.
// That window is dropped if it would start inside the padding only.
func poolOutSize(in, kernel, stride, pad int) int {
	span := in + 2*pad - kernel
	if span < 0 {
		return 0
	}
	out := (span+stride-1)/stride + 1
	if pad > 0 && (out-1)*stride >= in+pad {
		out--
	}
	return out
}
