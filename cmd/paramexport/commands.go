// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nlpodyssey/paramexport"
	"github.com/nlpodyssey/paramexport/checkpoint"
	"github.com/nlpodyssey/paramexport/extract"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

func modelCmd() *cli.Command {
	return &cli.Command{
		Name:  "model",
		Usage: "load a network, run it once, and save its blobs and/or parameters",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "trained weights checkpoint (safetensors)"},
			&cli.StringFlag{Name: "descriptor", Aliases: []string{"d"}, Usage: "network descriptor (YAML)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory"},
			&cli.StringFlag{Name: "input", Usage: "checkpoint holding the input of the forward pass"},
			&cli.BoolFlag{Name: "params", Usage: "save parameters"},
			&cli.BoolFlag{Name: "blobs", Usage: "save blobs"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := modelConfig(cmd)
			if err != nil {
				return err
			}
			report, err := extract.Run(cfg)
			w := cmd.Root().Writer
			if len(report.Sections) > 0 {
				_, _ = fmt.Fprintln(w, renderReport(report))
				_, _ = fmt.Fprintf(w, "Saved data:\n%q\n", report.Names())
			}
			return err
		},
	}
}

// modelConfig loads the configuration file, if any, then applies the flags
// explicitly set.
func modelConfig(cmd *cli.Command) (extract.Config, error) {
	cfg := extract.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		var err error
		if cfg, err = extract.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	for name, dst := range map[string]*string{
		"model":      &cfg.ModelFile,
		"descriptor": &cfg.ModelDescriptor,
		"output":     &cfg.OutputDir,
		"input":      &cfg.InputFile,
	} {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	for name, dst := range map[string]*bool{
		"params": &cfg.ExtractParams,
		"blobs":  &cfg.ExtractBlobs,
	} {
		if cmd.IsSet(name) {
			*dst = cmd.Bool(name)
		}
	}
	return cfg, nil
}

func layerCmd() *cli.Command {
	return &cli.Command{
		Name:      "layer",
		Usage:     "save weight and bias tensors of a checkpoint as one layer file",
		ArgsUsage: "<layer name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "checkpoint", Aliases: []string{"m"}, Usage: "safetensors file", Required: true},
			&cli.StringFlag{Name: "weight", Usage: "weight tensor name (default \"<layer>.weight\")"},
			&cli.StringFlag{Name: "bias", Usage: "bias tensor name (default \"<layer>.bias\")"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory", Value: "."},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return errors.New("expected exactly one layer name")
			}
			layerName := cmd.Args().First()
			weightName, biasName := cmd.String("weight"), cmd.String("bias")
			if weightName == "" {
				weightName = layerName + ".weight"
			}
			if biasName == "" {
				biasName = layerName + ".bias"
			}

			f, err := checkpoint.Open(cmd.String("checkpoint"), checkpoint.DefaultHeaderSizeLimit)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			weight, ok := f.LazyTensor(weightName)
			if !ok {
				return errors.Wrapf(checkpoint.ErrTensorNotFound, "weight %q", weightName)
			}
			bias, ok := f.LazyTensor(biasName)
			if !ok {
				return errors.Wrapf(checkpoint.ErrTensorNotFound, "bias %q", biasName)
			}

			dir := cmd.String("output")
			if err = os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrap(err, "failed to create output directory")
			}
			if _, err = paramexport.SaveDeferredLayer(dir, weight, bias, layerName); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.Root().Writer, "Saved data:\n%s.weight & %s.bias in '%s'\n",
				layerName, layerName, paramexport.FileName(paramexport.Params, layerName))
			return nil
		},
	}
}

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "decode .msg files and print the shape of their records",
		ArgsUsage: "<file.msg>...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "values", Usage: "number of leading values to print per record", Value: 4},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("expected at least one file")
			}
			w := cmd.Root().Writer
			for _, path := range cmd.Args().Slice() {
				info, err := os.Stat(path)
				if err != nil {
					return errors.Wrap(err, "failed to inspect file")
				}
				records, err := paramexport.ReadFile(path)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, renderRecords(path, info.Size(), records, int(cmd.Int("values"))))
			}
			return nil
		},
	}
}
