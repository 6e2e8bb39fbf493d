// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command paramexport writes the trained parameters, and optionally the
// blobs, of a network to MessagePack files.
package main

import (
	"context"
	"os"

	"github.com/nlpodyssey/paramexport/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		logger.Log.Error("failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "paramexport",
		Usage: "export network parameters to MessagePack files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "one of debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json",
				Value: "console",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger.Setup(cmd.String("log-level"), cmd.String("log-format"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			modelCmd(),
			layerCmd(),
			inspectCmd(),
		},
	}
}
