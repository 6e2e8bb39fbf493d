// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package network builds a feed-forward network from a descriptor and a set
// of trained parameters, and runs it once to populate the intermediate
// blobs.
package network

import (
	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/internal/logger"
	"github.com/nlpodyssey/paramexport/netdesc"
	"github.com/pkg/errors"
)

// ParamSource provides trained parameters by name, such as
// "conv1.weight". checkpoint.File is a ParamSource.
type ParamSource interface {
	Has(name string) bool
	Array(name string) (paramexport.Array, error)
}

// ParamGroup lists the learnable parameters of one layer, in the order
// they are declared for the layer type: weight and bias, or mean, variance
// and scale factor.
type ParamGroup struct {
	Layer  string
	Arrays []paramexport.Array
}

// Net is a network instance ready for a forward pass.
type Net struct {
	desc   *netdesc.Net
	layers []*layer
	// blobs are keyed by name; order keeps the first-appearance order.
	blobs map[string]paramexport.Array
	order []string
}

type layer struct {
	desc     netdesc.Layer
	params   []paramexport.Array
	inShape  []int
	outShape []int
}

// New resolves the parameters of every layer and infers the shape of every
// blob. Blobs are allocated zero-filled until Forward is called.
func New(desc *netdesc.Net, params ParamSource) (*Net, error) {
	n := &Net{
		desc:  desc,
		blobs: make(map[string]paramexport.Array),
	}
	if err := n.setBlobShape(desc.Input.Name, desc.Input.Shape); err != nil {
		return nil, err
	}

	for _, ld := range desc.Layers {
		in := n.blobs[ld.Bottom].Shape()
		l := &layer{desc: ld, inShape: in}

		specs, err := paramSpecs(ld, in)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %q", ld.Name)
		}
		for _, s := range specs {
			a, err := loadParam(params, ld.Name, s)
			if err != nil {
				return nil, err
			}
			l.params = append(l.params, a)
		}

		if l.outShape, err = outputShape(ld, in); err != nil {
			return nil, errors.Wrapf(err, "layer %q", ld.Name)
		}
		if err = n.setBlobShape(ld.Top, l.outShape); err != nil {
			return nil, errors.Wrapf(err, "layer %q", ld.Name)
		}
		n.layers = append(n.layers, l)
		logger.Log.Debug("layer set up", "layer", ld.Name, "type", ld.Type, "input", in, "output", l.outShape)
	}
	return n, nil
}

func loadParam(params ParamSource, layerName string, s paramSpec) (paramexport.Array, error) {
	name := layerName + "." + s.role
	if !params.Has(name) {
		return paramexport.Array{}, errors.Errorf("layer %q: missing parameter %q", layerName, name)
	}
	a, err := params.Array(name)
	if err != nil {
		return paramexport.Array{}, errors.Wrapf(err, "layer %q: failed to load parameter %q", layerName, name)
	}
	if !equalShapes(a.Shape(), s.shape) {
		return paramexport.Array{}, errors.Wrapf(paramexport.ErrShapeMismatch,
			"layer %q: parameter %q has shape %v, expected %v", layerName, name, a.Shape(), s.shape)
	}
	return a, nil
}

func (n *Net) setBlobShape(name string, shape []int) error {
	if b, ok := n.blobs[name]; ok {
		// in-place layers must not change the shape
		if !equalShapes(b.Shape(), shape) {
			return errors.Errorf("blob %q already has shape %v, cannot be reshaped to %v", name, b.Shape(), shape)
		}
		return nil
	}
	b, err := paramexport.Zeros(name, shape...)
	if err != nil {
		return err
	}
	n.blobs[name] = b
	n.order = append(n.order, name)
	return nil
}

// Name of the network.
func (n *Net) Name() string {
	return n.desc.Name
}

// InputShape is the shape of the input blob expected by Forward.
func (n *Net) InputShape() []int {
	return append([]int(nil), n.desc.Input.Shape...)
}

// ZeroInput returns a zero-filled input, for runs where the content of the
// blobs does not matter.
func (n *Net) ZeroInput() paramexport.Array {
	a, _ := paramexport.Zeros(n.desc.Input.Name, n.desc.Input.Shape...)
	return a
}

// Forward runs all layers once, in order, on the given input.
func (n *Net) Forward(input paramexport.Array) error {
	want := n.desc.Input.Shape
	if !equalShapes(input.Shape(), want) {
		return errors.Wrapf(paramexport.ErrShapeMismatch, "input has shape %v, expected %v", input.Shape(), want)
	}
	n.blobs[n.desc.Input.Name] = input.WithName(n.desc.Input.Name)

	for _, l := range n.layers {
		out, err := l.forward(n.blobs[l.desc.Bottom])
		if err != nil {
			return errors.Wrapf(err, "forward of layer %q failed", l.desc.Name)
		}
		n.blobs[l.desc.Top] = out.WithName(l.desc.Top)
	}
	return nil
}

// Blobs returns all blobs of the network, input included, in the order
// they first appear.
func (n *Net) Blobs() []paramexport.Array {
	out := make([]paramexport.Array, len(n.order))
	for i, name := range n.order {
		out[i] = n.blobs[name]
	}
	return out
}

// Blob returns the named blob, and whether it exists.
func (n *Net) Blob(name string) (paramexport.Array, bool) {
	b, ok := n.blobs[name]
	return b, ok
}

// Params returns the parameter groups of all layers having learnable
// parameters, in layer order.
func (n *Net) Params() []ParamGroup {
	var groups []ParamGroup
	for _, l := range n.layers {
		if len(l.params) == 0 {
			continue
		}
		groups = append(groups, ParamGroup{
			Layer:  l.desc.Name,
			Arrays: append([]paramexport.Array(nil), l.params...),
		})
	}
	return groups
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
