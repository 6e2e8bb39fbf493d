// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extract

import (
	"os"

	"github.com/nlpodyssey/paramexport/checkpoint"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of an extraction run.
type Config struct {
	// ModelFile is the path of the trained weights checkpoint.
	ModelFile string `yaml:"model_file"`
	// ModelDescriptor is the path of the network descriptor.
	ModelDescriptor string `yaml:"model_descriptor"`
	// OutputDir is created if it does not exist.
	OutputDir     string `yaml:"output_dir"`
	ExtractParams bool   `yaml:"extract_params"`
	ExtractBlobs  bool   `yaml:"extract_blobs"`
	// InputFile optionally provides the input of the forward pass, as a
	// checkpoint holding a tensor named like the network input, or a single
	// tensor. A zero-filled input is used when empty.
	InputFile       string `yaml:"input_file,omitempty"`
	HeaderSizeLimit int    `yaml:"header_size_limit,omitempty"`
}

// DefaultConfig extracts parameters only, into the current directory.
func DefaultConfig() Config {
	return Config{
		OutputDir:       ".",
		ExtractParams:   true,
		HeaderSizeLimit: checkpoint.DefaultHeaderSizeLimit,
	}
}

// LoadConfig reads a YAML configuration file. Fields that are absent keep
// the values of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}
	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to decode config %q", path)
	}
	return cfg, nil
}

// Validate checks that the required paths are set and that at least one
// category is selected.
func (c Config) Validate() error {
	switch {
	case c.ModelFile == "":
		return errors.New("model file is not set")
	case c.ModelDescriptor == "":
		return errors.New("model descriptor is not set")
	case c.OutputDir == "":
		return errors.New("output directory is not set")
	case !c.ExtractParams && !c.ExtractBlobs:
		return errors.New("nothing to extract: enable params, blobs, or both")
	case c.HeaderSizeLimit < 0:
		return errors.Errorf("negative header size limit: %d", c.HeaderSizeLimit)
	}
	return nil
}
