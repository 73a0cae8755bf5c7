package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"cropkit/internal/enhance"
)

type processCmd struct {
	engineFlags `embed:""`

	Input     string `arg:"" optional:"" help:"JSONL file with one operation per line, stdin when empty or -." type:"path"`
	BaseDir   string `help:"Directory operation filenames are relative to." default:"." type:"existingdir" env:"CROPKIT_BASE_DIR"`
	OutputDir string `short:"o" help:"Directory to write results to." default:"out" type:"path" env:"CROPKIT_OUTPUT_DIR"`
	JSON      bool   `help:"Print the parsed operations as JSONL instead of running them."`
}

func (cmd *processCmd) Run(ctx context.Context) error {
	var r io.Reader = os.Stdin
	if cmd.Input != "" && cmd.Input != "-" {
		f, err := os.Open(cmd.Input)
		if err != nil {
			return fmt.Errorf("failed to open operations file: %w", err)
		}
		defer f.Close()
		r = f
	}
	ops, err := readOperations(r)
	if err != nil {
		return err
	}
	if cmd.JSON {
		printJSONL(ops)
		return nil
	}

	executor := OperationExecutor{
		BaseDir:   cmd.BaseDir,
		OutputDir: cmd.OutputDir,
		Processor: cmd.processor(),
	}
	log.Ctx(ctx).Info().Int("operations", len(ops)).Str("output", cmd.OutputDir).Msg("processing")
	return executor.Exec(ctx, ops)
}

type batchCmd struct {
	engineFlags `embed:""`

	Dir        string  `arg:"" help:"Directory with images." type:"existingdir"`
	OutputDir  string  `short:"o" help:"Directory to write results to." default:"out" type:"path" env:"CROPKIT_OUTPUT_DIR"`
	Format     string  `help:"Output format." enum:"jpeg,webp,png" default:"jpeg" env:"CROPKIT_FORMAT"`
	Quality    int     `help:"Output quality, 1-100." default:"90" env:"CROPKIT_QUALITY"`
	Brightness float64 `help:"Brightness percentage." default:"100"`
	Contrast   float64 `help:"Contrast percentage." default:"100"`
	Saturation float64 `help:"Saturation percentage." default:"100"`
	AIScale    int     `name:"ai-scale" help:"Upscale with the super-resolution model by this factor, 0 keeps the size." default:"0"`
	JSON       bool    `help:"List the images found as JSONL instead of processing them."`
}

func (cmd *batchCmd) settings() enhance.Settings {
	s := enhance.DefaultSettings()
	s.Brightness, s.Contrast, s.Saturation = cmd.Brightness, cmd.Contrast, cmd.Saturation
	s.Quality = cmd.Quality
	if cmd.AIScale > 0 {
		s.Mode = enhance.ModeAI
		s.AIScale = cmd.AIScale
	}
	return s
}

// operations turns every listed image into an enhance operation.
func (cmd *batchCmd) operations(dir Directory) Operations {
	settings := cmd.settings()
	ops := make(Operations, 0, len(dir.Files))
	for _, f := range dir.Files {
		ops = append(ops, Operation{Enhance: &EnhanceOperation{
			Filename: f.Name,
			Output: Output{
				Settings: &settings,
				Format:   cmd.Format,
				Quality:  cmd.Quality,
			},
		}})
	}
	return ops
}

func (cmd *batchCmd) Run(ctx context.Context) error {
	if err := cmd.settings().Validate(); err != nil {
		return err
	}
	dir, err := walkImages(ctx, cmd.Dir)
	if err != nil {
		return fmt.Errorf("failed to walk dir: %w", err)
	}
	if cmd.JSON {
		printJSONL(dir.Files)
		return nil
	}

	executor := OperationExecutor{
		BaseDir:   cmd.Dir,
		OutputDir: cmd.OutputDir,
		Processor: cmd.processor(),
	}
	log.Ctx(ctx).Info().Int("images", len(dir.Files)).Str("dir", dir.Name).Msg("enhancing")
	return executor.Exec(ctx, cmd.operations(dir))
}

func (f engineFlags) processor() *ImageProcessor {
	return NewImageProcessor(f.backend(), f.models(), f.initialPass(), f.pageSize())
}
