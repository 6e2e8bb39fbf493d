// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/checkpoint"
	"github.com/nlpodyssey/paramexport/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const descriptor = `
name: tiny
input: {name: data, shape: [1, 1, 4, 4]}
layers:
  - {name: conv1, type: Convolution, convolution: {num_output: 2, kernel_size: 3}}
  - {name: relu1, type: ReLU, bottom: conv1, top: conv1}
  - {name: pool1, type: Pooling, pooling: {pool: MAX, kernel_size: 2}}
  - {name: ip1, type: InnerProduct, inner_product: {num_output: 3}}
  - {name: bn, type: BatchNorm}
  - {name: prob, type: Softmax}
`

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) / 10
	}
	return out
}

func writeFixture(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	params := []paramexport.Array{
		paramexport.MustNewArray("conv1.weight", []int{2, 1, 3, 3}, ramp(18)),
		paramexport.MustNewArray("conv1.bias", []int{2}, []float32{0.1, 0.2}),
		paramexport.MustNewArray("ip1.weight", []int{3, 2}, ramp(6)),
		paramexport.MustNewArray("ip1.bias", []int{3}, []float32{1, 2, 3}),
		paramexport.MustNewArray("bn.mean", []int{3}, []float32{0, 0, 0}),
		paramexport.MustNewArray("bn.variance", []int{3}, []float32{1, 1, 1}),
		paramexport.MustNewArray("bn.scale_factor", []int{1}, []float32{1}),
	}
	cfg := DefaultConfig()
	cfg.ModelFile = filepath.Join(dir, "tiny.safetensors")
	cfg.ModelDescriptor = filepath.Join(dir, "tiny.yaml")
	cfg.OutputDir = filepath.Join(dir, "out")
	require.NoError(t, checkpoint.WriteFile(cfg.ModelFile, params, map[string]string{"format": "pt"}))
	require.NoError(t, os.WriteFile(cfg.ModelDescriptor, []byte(descriptor), 0o644))
	return cfg
}

func TestRun(t *testing.T) {
	cfg := writeFixture(t)
	cfg.ExtractBlobs = true

	report, err := Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"***BLOBS***", "data", "conv1", "pool1", "ip1", "bn", "prob",
		"***PARAMS***", "conv1", "ip1",
	}, report.Names())

	t.Run("conv pair keeps the weight nested", func(t *testing.T) {
		records, err := paramexport.ReadFile(filepath.Join(cfg.OutputDir, "model_param_conv1.msg"))
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, []int{2, 1, 3, 3}, records[0].Shape)
		assert.Equal(t, ramp(18), records[0].Values)
		assert.Equal(t, []int{2}, records[1].Shape)
		assert.Equal(t, []float32{0.1, 0.2}, records[1].Values)
	})

	t.Run("fully-connected pair flattens the weight", func(t *testing.T) {
		records, err := paramexport.ReadFile(filepath.Join(cfg.OutputDir, "model_param_ip1.msg"))
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, []int{6}, records[0].Shape)
		assert.Equal(t, ramp(6), records[0].Values)
		assert.Equal(t, []float32{1, 2, 3}, records[1].Values)
	})

	t.Run("blobs keep their shape", func(t *testing.T) {
		records, err := paramexport.ReadFile(filepath.Join(cfg.OutputDir, "model_blob_ip1.msg"))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, []int{1, 3}, records[0].Shape)

		records, err = paramexport.ReadFile(filepath.Join(cfg.OutputDir, "model_blob_data.msg"))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 4, 4}, records[0].Shape)
		assert.Equal(t, make([]float32, 16), records[0].Values)
	})

	t.Run("unsupported entries are not written", func(t *testing.T) {
		for _, name := range []string{"model_param_bn.msg", "model_param_info.msg", "model_blob_info.msg"} {
			assert.NoFileExists(t, filepath.Join(cfg.OutputDir, name))
		}
	})
}

func TestRun_paramsOnly(t *testing.T) {
	cfg := writeFixture(t)

	report, err := Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"***PARAMS***", "conv1", "ip1"}, report.Names())
	require.Len(t, report.Sections, 1)
	for _, s := range report.Sections[0].Saved {
		assert.Equal(t, paramexport.KindPair, s.Kind)
		assert.Positive(t, s.Size)
	}
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "model_blob_data.msg"))
}

func TestRun_inputFile(t *testing.T) {
	cfg := writeFixture(t)
	cfg.ExtractBlobs = true
	cfg.ExtractParams = false
	cfg.InputFile = filepath.Join(t.TempDir(), "input.safetensors")
	input := paramexport.MustNewArray("image", []int{1, 1, 4, 4}, ramp(16))
	require.NoError(t, checkpoint.WriteFile(cfg.InputFile, []paramexport.Array{input}, nil))

	_, err := Run(cfg)
	require.NoError(t, err)
	records, err := paramexport.ReadFile(filepath.Join(cfg.OutputDir, "model_blob_data.msg"))
	require.NoError(t, err)
	assert.Equal(t, ramp(16), records[0].Values)
}

func TestRun_errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		report, err := Run(Config{})
		assert.ErrorContains(t, err, "invalid configuration: model file is not set")
		assert.Empty(t, report.Sections)
	})

	t.Run("missing checkpoint", func(t *testing.T) {
		cfg := writeFixture(t)
		require.NoError(t, os.Remove(cfg.ModelFile))
		_, err := Run(cfg)
		assert.ErrorContains(t, err, "failed to open checkpoint")
	})

	t.Run("bad descriptor", func(t *testing.T) {
		cfg := writeFixture(t)
		require.NoError(t, os.WriteFile(cfg.ModelDescriptor, []byte("layers: 3"), 0o644))
		_, err := Run(cfg)
		assert.ErrorContains(t, err, "failed to decode network descriptor")
	})

	t.Run("wrong input shape", func(t *testing.T) {
		cfg := writeFixture(t)
		cfg.InputFile = filepath.Join(t.TempDir(), "input.safetensors")
		input := paramexport.MustNewArray("data", []int{16}, ramp(16))
		require.NoError(t, checkpoint.WriteFile(cfg.InputFile, []paramexport.Array{input}, nil))
		_, err := Run(cfg)
		assert.ErrorIs(t, err, paramexport.ErrShapeMismatch)
	})
}

type fakeNet struct {
	blobs  []paramexport.Array
	params []network.ParamGroup
}

func (f fakeNet) Blobs() []paramexport.Array   { return f.blobs }
func (f fakeNet) Params() []network.ParamGroup { return f.params }

func TestGetParams(t *testing.T) {
	a := paramexport.MustNewArray("a", []int{1}, []float32{1})
	net := fakeNet{params: []network.ParamGroup{
		{Layer: "one", Arrays: []paramexport.Array{a}},
		{Layer: "two", Arrays: []paramexport.Array{a, a}},
		{Layer: "three", Arrays: []paramexport.Array{a, a, a}},
	}}
	c := GetParams(net)
	assert.Equal(t, paramexport.Params, c.Category)
	assert.Equal(t, []string{"info", "one", "two", "three"}, c.Names())

	kinds := make([]paramexport.Kind, len(c.Entries))
	for i, e := range c.Entries {
		kinds[i] = e.Kind()
	}
	assert.Equal(t, []paramexport.Kind{
		paramexport.KindUnsupported, paramexport.KindSingle, paramexport.KindPair, paramexport.KindUnsupported,
	}, kinds)
	assert.Equal(t, "net.params data", c.Entries[0].Value())
}

func TestGetBlobs(t *testing.T) {
	net := fakeNet{blobs: []paramexport.Array{
		paramexport.MustNewArray("data", []int{2}, []float32{1, 2}),
		paramexport.MustNewArray("out", []int{1}, []float32{3}),
	}}
	c := GetBlobs(net)
	assert.Equal(t, []string{"info", "data", "out"}, c.Names())
	assert.Equal(t, "net.blobs data", c.Entries[0].Value())
	arr, ok := c.Entries[2].Array()
	require.True(t, ok)
	assert.Equal(t, []float32{3}, arr.Data())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_file: m.safetensors
model_descriptor: m.yaml
extract_blobs: true
`), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		ModelFile:       "m.safetensors",
		ModelDescriptor: "m.yaml",
		OutputDir:       ".",
		ExtractParams:   true,
		ExtractBlobs:    true,
		HeaderSizeLimit: checkpoint.DefaultHeaderSizeLimit,
	}, cfg)
	assert.NoError(t, cfg.Validate())

	cfg.ExtractParams, cfg.ExtractBlobs = false, false
	assert.EqualError(t, cfg.Validate(), "nothing to extract: enable params, blobs, or both")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}
