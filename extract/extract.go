// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package extract loads a trained network, runs it once, and saves its
// blobs and parameters to MessagePack files.
package extract

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/checkpoint"
	"github.com/nlpodyssey/paramexport/internal/logger"
	"github.com/nlpodyssey/paramexport/netdesc"
	"github.com/nlpodyssey/paramexport/network"
	"github.com/pkg/errors"
)

// Net is what the extraction needs from a network after a forward pass.
type Net interface {
	Blobs() []paramexport.Array
	Params() []network.ParamGroup
}

// GetBlobs collects all blobs of the network, after the reserved info
// entry, in network order.
func GetBlobs(net Net) *paramexport.Collection {
	c := paramexport.NewCollection(paramexport.Blobs)
	for _, b := range net.Blobs() {
		logger.Log.Info("getting blob", "name", b.Name())
		c.Add(paramexport.Single(b.Name(), b))
	}
	return c
}

// GetParams collects the learnable parameters of each layer, after the
// reserved info entry, in layer order. A layer with one parameter gives a
// Single entry, a layer with two a weight/bias pair; any other count is
// kept as Unsupported.
//
// A Single param is saved following paramexport.ParamLayout, so a rank 2
// array is flattened like the weight of a pair rather than kept nested.
func GetParams(net Net) *paramexport.Collection {
	c := paramexport.NewCollection(paramexport.Params)
	for _, g := range net.Params() {
		logger.Log.Info("getting parameters", "name", g.Layer)
		switch len(g.Arrays) {
		case 1:
			c.Add(paramexport.Single(g.Layer, g.Arrays[0]))
		case 2:
			c.Add(paramexport.WeightBias(g.Layer, g.Arrays[0], g.Arrays[1]))
		default:
			c.Add(paramexport.Unsupported(g.Layer, fmt.Sprintf("%d parameter arrays", len(g.Arrays))))
		}
	}
	return c
}

// Run performs the whole extraction described by cfg: the network is
// built from descriptor and checkpoint, run once, then blobs and params are
// saved as requested.
//
// On error, the returned Report lists what was saved before the failure.
func Run(cfg Config) (paramexport.Report, error) {
	var report paramexport.Report
	if err := cfg.Validate(); err != nil {
		return report, errors.Wrap(err, "invalid configuration")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return report, errors.Wrap(err, "failed to create output directory")
	}

	net, err := load(cfg)
	if err != nil {
		return report, err
	}

	saver := paramexport.NewSaver(cfg.OutputDir)
	var collections []*paramexport.Collection
	if cfg.ExtractBlobs {
		collections = append(collections, GetBlobs(net))
	}
	if cfg.ExtractParams {
		collections = append(collections, GetParams(net))
	}
	for _, c := range collections {
		section, err := saver.Save(c)
		report.Sections = append(report.Sections, section)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// load builds the network and runs the forward pass.
func load(cfg Config) (*network.Net, error) {
	desc, err := netdesc.ParseFile(cfg.ModelDescriptor)
	if err != nil {
		return nil, err
	}

	ckpt, err := checkpoint.Open(cfg.ModelFile, cfg.HeaderSizeLimit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ckpt.Close(); err != nil {
			logger.Log.Warn("failed to close checkpoint", "path", cfg.ModelFile, "error", err)
		}
	}()

	net, err := network.New(desc, ckpt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load network")
	}
	logger.Log.Info("network loaded", "name", net.Name(), "layers", len(desc.Layers))

	input := net.ZeroInput()
	if cfg.InputFile != "" {
		if input, err = loadInput(cfg.InputFile, desc.Input.Name, cfg.HeaderSizeLimit); err != nil {
			return nil, err
		}
	}
	if err = net.Forward(input); err != nil {
		return nil, errors.Wrap(err, "forward pass failed")
	}
	return net, nil
}

// loadInput reads the tensor named name from the checkpoint at path, or
// its only tensor if there is just one.
func loadInput(path, name string, headerSizeLimit int) (paramexport.Array, error) {
	f, err := checkpoint.Open(path, headerSizeLimit)
	if err != nil {
		return paramexport.Array{}, errors.Wrap(err, "failed to load input")
	}
	defer func() { _ = f.Close() }()

	if !f.Has(name) {
		names := f.TensorNames()
		if len(names) != 1 {
			return paramexport.Array{}, errors.Errorf("input file %q: no tensor named %q among %d", path, name, len(names))
		}
		name = names[0]
	}
	a, err := f.Array(name)
	if err != nil {
		return paramexport.Array{}, errors.Wrap(err, "failed to load input")
	}
	return a, nil
}
