package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cropkit/internal/backend"
	"cropkit/internal/backend/cvbackend"
	"cropkit/internal/backend/gobackend"
	"cropkit/internal/enhance"
	"cropkit/internal/session"
	"cropkit/internal/superres"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	// a missing .env is fine, flags and the environment still apply
	envErr := godotenv.Load()

	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("cropkit"),
		kong.Description("Crop, straighten and enhance images."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "~/.config/cropkit.json", "cropkit.json"),
	)

	level := zerolog.InfoLevel
	if args.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	if envErr != nil && !os.IsNotExist(envErr) {
		log.Warn().Err(envErr).Msg("failed to load .env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	cliCtx.BindTo(ctx, (*context.Context)(nil))
	return cliCtx.Run()
}

type cliArgs struct {
	Config  kong.ConfigFlag `help:"Load flags from a JSON file."`
	Verbose bool            `help:"Enable verbose logging" env:"CROPKIT_VERBOSE"`

	Serve   serveCmd   `cmd:"" default:"withargs" help:"Start the interactive editor."`
	Process processCmd `cmd:"" help:"Run JSONL operations from stdin or a file."`
	Batch   batchCmd   `cmd:"" help:"Enhance every image in a directory."`
}

type serveCmd struct {
	engineFlags `embed:""`

	Image string `arg:"" optional:"" help:"Image to open on start." type:"existingfile"`
	Addr  string `help:"Listen address, a random localhost port when empty." env:"CROPKIT_ADDR"`
	Open  bool   `help:"Open the browser automatically when the server starts" default:"true" negatable:"" env:"CROPKIT_OPEN"`
}

func (cmd *serveCmd) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := cmd.backend()
	sess := session.New(ctx, cmd.sessionOptions(b))
	defer func() {
		if err := sess.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Failed to close session")
		}
	}()
	go func() {
		// the basic mode stays disabled when this fails
		_ = sess.WaitReady(ctx)
	}()

	if cmd.Image != "" {
		if err := loadFile(ctx, sess, cmd.Image); err != nil {
			return err
		}
	}

	app := NewWebApp(Config{
		Addr:    cmd.Addr,
		Session: sess,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Str("backend", b.Name()).Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := browser.OpenURL(addr); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	})
	return app.Run(ctx)
}

func loadFile(ctx context.Context, sess *session.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return sess.Load(ctx, filepath.Base(path), f, info.Size())
}

// engineFlags configure the pixel engine shared by every command.
type engineFlags struct {
	Backend      string `help:"Pixel backend." enum:"go,opencv" default:"go" env:"CROPKIT_BACKEND"`
	ModelDir     string `help:"Directory holding x{scale}.onnx super-resolution weights. Lanczos resampling is used when empty." type:"path" env:"CROPKIT_MODEL_DIR"`
	MaxDimension int    `help:"Longest edge of loaded images, 0 keeps the original size." default:"800" env:"CROPKIT_MAX_DIMENSION"`
	NoInitial    bool   `help:"Skip the fixed look of the first enhancement pass." env:"CROPKIT_NO_INITIAL"`
	PageWidth    int    `help:"Width of perspective crops." default:"595" env:"CROPKIT_PAGE_WIDTH"`
	PageHeight   int    `help:"Height of perspective crops." default:"842" env:"CROPKIT_PAGE_HEIGHT"`
}

func (f engineFlags) backend() backend.Backend {
	if f.Backend == "opencv" {
		return cvbackend.New()
	}
	return gobackend.New()
}

func (f engineFlags) models() superres.Factory {
	if f.ModelDir == "" {
		return superres.NewLanczos
	}
	return superres.NewDNNFactory(f.ModelDir)
}

func (f engineFlags) initialPass() enhance.InitialPass {
	p := enhance.DefaultInitialPass()
	p.Enabled = !f.NoInitial
	return p
}

func (f engineFlags) pageSize() image.Point {
	return image.Pt(f.PageWidth, f.PageHeight)
}

func (f engineFlags) sessionOptions(b backend.Backend) session.Options {
	opts := session.DefaultOptions()
	opts.Backend = b
	opts.Models = f.models()
	opts.MaxDimension = f.MaxDimension
	opts.Initial = f.initialPass()
	opts.QuadTarget = f.pageSize()
	return opts
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
