// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package netdesc describes the structure of a feed-forward network: its
// input and the ordered list of layers, with their hyper-parameters.
//
// Descriptors are YAML documents such as:
//
//	name: lenet
//	input:
//	  name: data
//	  shape: [1, 1, 28, 28]
//	layers:
//	  - name: conv1
//	    type: Convolution
//	    convolution: {num_output: 20, kernel_size: 5}
//	  - name: pool1
//	    type: Pooling
//	    pooling: {pool: MAX, kernel_size: 2, stride: 2}
//	  - name: ip1
//	    type: InnerProduct
//	    inner_product: {num_output: 10}
//	  - name: prob
//	    type: Softmax
//
// When "bottom" and "top" are omitted, layers are chained: the bottom of a
// layer is the top of the previous one (or the input), and its top is the
// layer's own name.
package netdesc

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LayerType identifies the computation performed by a layer.
type LayerType string

const (
	Convolution  LayerType = "Convolution"
	Pooling      LayerType = "Pooling"
	ReLU         LayerType = "ReLU"
	LRN          LayerType = "LRN"
	InnerProduct LayerType = "InnerProduct"
	Softmax      LayerType = "Softmax"
	BatchNorm    LayerType = "BatchNorm"
	Dropout      LayerType = "Dropout"
)

var knownTypes = map[LayerType]struct{}{
	Convolution:  {},
	Pooling:      {},
	ReLU:         {},
	LRN:          {},
	InnerProduct: {},
	Softmax:      {},
	BatchNorm:    {},
	Dropout:      {},
}

// PoolMethod is the reduction applied by a Pooling layer.
type PoolMethod string

const (
	Max     PoolMethod = "MAX"
	Average PoolMethod = "AVE"
)

// Net is a network descriptor.
type Net struct {
	Name   string  `yaml:"name"`
	Input  Input   `yaml:"input"`
	Layers []Layer `yaml:"layers"`
}

// Input describes the blob fed to the first layer.
type Input struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

// Layer is a single layer of the network. Only the parameter block matching
// Type is meaningful.
type Layer struct {
	Name   string    `yaml:"name"`
	Type   LayerType `yaml:"type"`
	Bottom string    `yaml:"bottom,omitempty"`
	Top    string    `yaml:"top,omitempty"`

	Convolution  *ConvolutionParam  `yaml:"convolution,omitempty"`
	Pooling      *PoolingParam      `yaml:"pooling,omitempty"`
	LRN          *LRNParam          `yaml:"lrn,omitempty"`
	InnerProduct *InnerProductParam `yaml:"inner_product,omitempty"`
	BatchNorm    *BatchNormParam    `yaml:"batch_norm,omitempty"`
	Dropout      *DropoutParam      `yaml:"dropout,omitempty"`
}

type ConvolutionParam struct {
	NumOutput  int   `yaml:"num_output"`
	KernelSize int   `yaml:"kernel_size"`
	Stride     int   `yaml:"stride"`
	Pad        int   `yaml:"pad"`
	Group      int   `yaml:"group"`
	BiasTerm   *bool `yaml:"bias_term"`
}

// HasBias reports whether the layer adds a bias. It defaults to true.
func (p ConvolutionParam) HasBias() bool {
	return p.BiasTerm == nil || *p.BiasTerm
}

type PoolingParam struct {
	Pool       PoolMethod `yaml:"pool"`
	KernelSize int        `yaml:"kernel_size"`
	Stride     int        `yaml:"stride"`
	Pad        int        `yaml:"pad"`
}

// LRNParam configures a local response normalization across channels:
// out = in / (k + alpha/local_size * sum(in^2))^beta.
type LRNParam struct {
	LocalSize int     `yaml:"local_size"`
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	K         float64 `yaml:"k"`
}

type InnerProductParam struct {
	NumOutput int   `yaml:"num_output"`
	BiasTerm  *bool `yaml:"bias_term"`
}

// HasBias reports whether the layer adds a bias. It defaults to true.
func (p InnerProductParam) HasBias() bool {
	return p.BiasTerm == nil || *p.BiasTerm
}

type BatchNormParam struct {
	Eps float64 `yaml:"eps"`
}

type DropoutParam struct {
	Ratio float64 `yaml:"ratio"`
}

// Parse decodes a YAML descriptor, fills in defaults and validates it.
func Parse(data []byte) (*Net, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var n Net
	if err := dec.Decode(&n); err != nil {
		return nil, errors.Wrap(err, "failed to decode network descriptor")
	}
	n.setDefaults()
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseFile reads and parses the descriptor at path.
func ParseFile(path string) (*Net, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read network descriptor")
	}
	n, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return n, nil
}

// Marshal encodes the descriptor as YAML.
func (n *Net) Marshal() ([]byte, error) {
	return yaml.Marshal(n)
}

func (n *Net) setDefaults() {
	if n.Input.Name == "" {
		n.Input.Name = "data"
	}
	prev := n.Input.Name
	for i := range n.Layers {
		l := &n.Layers[i]
		if l.Bottom == "" {
			l.Bottom = prev
		}
		if l.Top == "" {
			l.Top = l.Name
		}
		prev = l.Top

		switch {
		case l.Convolution != nil:
			if l.Convolution.Stride == 0 {
				l.Convolution.Stride = 1
			}
			if l.Convolution.Group == 0 {
				l.Convolution.Group = 1
			}
		case l.Pooling != nil:
			if l.Pooling.Stride == 0 {
				l.Pooling.Stride = 1
			}
			if l.Pooling.Pool == "" {
				l.Pooling.Pool = Max
			}
		case l.LRN != nil:
			if l.LRN.LocalSize == 0 {
				l.LRN.LocalSize = 5
			}
			if l.LRN.Alpha == 0 {
				l.LRN.Alpha = 1
			}
			if l.LRN.Beta == 0 {
				l.LRN.Beta = 0.75
			}
			if l.LRN.K == 0 {
				l.LRN.K = 1
			}
		case l.BatchNorm != nil:
			if l.BatchNorm.Eps == 0 {
				l.BatchNorm.Eps = 1e-5
			}
		}
		if l.Type == LRN && l.LRN == nil {
			l.LRN = &LRNParam{LocalSize: 5, Alpha: 1, Beta: 0.75, K: 1}
		}
		if l.Type == BatchNorm && l.BatchNorm == nil {
			l.BatchNorm = &BatchNormParam{Eps: 1e-5}
		}
	}
}

// Layer returns the layer with the given name, and whether it was found.
func (n *Net) Layer(name string) (Layer, bool) {
	for _, l := range n.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}
