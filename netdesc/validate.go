// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package netdesc

import (
	"github.com/pkg/errors"
)

// Validate checks the consistency of the descriptor: input shape, unique
// layer names, known types, required parameter blocks, and that every
// bottom refers to the input or to the top of a preceding layer.
func (n *Net) Validate() error {
	if len(n.Input.Shape) == 0 {
		return errors.New("input shape is missing")
	}
	for i, v := range n.Input.Shape {
		if v <= 0 {
			return errors.Errorf("input shape value at index %d is not positive: %d", i, v)
		}
	}
	if len(n.Layers) == 0 {
		return errors.New("no layers")
	}

	names := make(map[string]struct{}, len(n.Layers))
	tops := map[string]struct{}{n.Input.Name: {}}
	for i, l := range n.Layers {
		if l.Name == "" {
			return errors.Errorf("layer at index %d has no name", i)
		}
		if _, ok := names[l.Name]; ok {
			return errors.Errorf("duplicate layer name %q", l.Name)
		}
		names[l.Name] = struct{}{}

		if err := l.validate(); err != nil {
			return errors.Wrapf(err, "layer %q", l.Name)
		}
		if _, ok := tops[l.Bottom]; !ok {
			return errors.Errorf("layer %q: unknown bottom %q", l.Name, l.Bottom)
		}
		tops[l.Top] = struct{}{}
	}
	return nil
}

func (l Layer) validate() error {
	if _, ok := knownTypes[l.Type]; !ok {
		return errors.Errorf("unsupported layer type %q", l.Type)
	}
	switch l.Type {
	case Convolution:
		p := l.Convolution
		if p == nil {
			return missingBlock("convolution")
		}
		if err := positive("num_output", p.NumOutput); err != nil {
			return err
		}
		if err := positive("kernel_size", p.KernelSize); err != nil {
			return err
		}
		if err := positive("stride", p.Stride); err != nil {
			return err
		}
		if p.Pad < 0 {
			return errors.Errorf("negative pad: %d", p.Pad)
		}
		if p.Group < 1 || p.NumOutput%p.Group != 0 {
			return errors.Errorf("num_output %d is not divisible by group %d", p.NumOutput, p.Group)
		}
	case Pooling:
		p := l.Pooling
		if p == nil {
			return missingBlock("pooling")
		}
		if p.Pool != Max && p.Pool != Average {
			return errors.Errorf("unsupported pool method %q", p.Pool)
		}
		if err := positive("kernel_size", p.KernelSize); err != nil {
			return err
		}
		if err := positive("stride", p.Stride); err != nil {
			return err
		}
		if p.Pad < 0 || p.Pad >= p.KernelSize {
			return errors.Errorf("pad %d out of range for kernel size %d", p.Pad, p.KernelSize)
		}
	case LRN:
		if l.LRN.LocalSize%2 == 0 {
			return errors.Errorf("local_size must be odd, got %d", l.LRN.LocalSize)
		}
	case InnerProduct:
		p := l.InnerProduct
		if p == nil {
			return missingBlock("inner_product")
		}
		if err := positive("num_output", p.NumOutput); err != nil {
			return err
		}
	case Dropout:
		if l.Dropout != nil && (l.Dropout.Ratio < 0 || l.Dropout.Ratio >= 1) {
			return errors.Errorf("dropout ratio out of range: %g", l.Dropout.Ratio)
		}
	}
	return nil
}

func missingBlock(name string) error {
	return errors.Errorf("%q parameters are missing", name)
}

func positive(name string, v int) error {
	if v <= 0 {
		return errors.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}
