package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"

	"cropkit/internal/encode"
	"cropkit/internal/enhance"
	"cropkit/internal/extract"
	"cropkit/internal/geometry"
	"cropkit/internal/session"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	// Addr is the listen address; empty picks a random localhost port.
	Addr             string
	Session          *session.Session
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// statusOf maps session errors onto HTTP status codes.
func statusOf(err error) int {
	var (
		fiberErr *fiber.Error
		initErr  *enhance.InitializationError
		cropErr  *extract.DegenerateCropError
		opErr    *session.TransientOperationError
	)
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, enhance.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoImage), errors.Is(err, session.ErrNoCrop), errors.Is(err, session.ErrModeNotReady):
		return http.StatusConflict
	case errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &opErr) && opErr.Op == "decode":
		return http.StatusBadRequest
	case errors.As(err, &cropErr), errors.As(err, &opErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorHandler(c *fiber.Ctx, err error) error {
	log.Ctx(c.UserContext()).Error().
		Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Msg("Request failed")
	code := statusOf(err)
	if code == http.StatusNotFound && c.Path() == "/favicon.ico" {
		return nil
	}
	if code == http.StatusInternalServerError {
		return c.Status(code).JSON(fiber.Map{"error": "Internal Server Error"})
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(code).JSON(fiber.Map{"error": fiberErr.Message})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

type stateResponse struct {
	session.State
	PreviewURL string `json:"previewUrl,omitempty"`
}

func newStateResponse(st session.State) stateResponse {
	res := stateResponse{State: st}
	if st.PreviewID != "" {
		res.PreviewURL = "/api/preview/" + st.PreviewID
	}
	return res
}

func badRequest(err error) error {
	return fiber.NewError(http.StatusBadRequest, err.Error())
}

func encodeOptions(c *fiber.Ctx, sess *session.Session) (encode.Options, error) {
	format, err := encode.ParseFormat(c.Query("format"))
	if err != nil {
		return encode.Options{}, badRequest(err)
	}
	quality := c.QueryInt("quality", sess.Settings().Quality)
	if quality < 1 || quality > 100 {
		return encode.Options{}, fiber.NewError(http.StatusBadRequest, fmt.Sprintf("quality %d outside [1,100]", quality))
	}
	return encode.Options{Format: format, Quality: quality}, nil
}

// newApp builds the fiber app with every route. ctx carries the logger and
// is handed to session calls.
func (a *WebApp) newApp(ctx context.Context) *fiber.App {
	sess := a.config.Session
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
		ErrorHandler:          errorHandler,
	})

	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(ctx)
		return c.Next()
	})

	api := webapp.Group("/api")

	api.Post("/image", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("image")
		if err != nil {
			return badRequest(fmt.Errorf("missing image: %w", err))
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()
		if err := sess.Load(c.UserContext(), fh.Filename, f, fh.Size); err != nil {
			return err
		}
		return c.JSON(newStateResponse(sess.State()))
	})

	api.Post("/viewport", func(c *fiber.Ctx) error {
		var req struct {
			Container geometry.Size `json:"container"`
			Scale     float64       `json:"scale"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
		return c.JSON(sess.SetViewport(req.Container, req.Scale))
	})

	api.Post("/crop/start", func(c *fiber.Ctx) error {
		var req struct {
			Kind   session.CropKind `json:"kind"`
			Aspect float64          `json:"aspect"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
		if req.Kind != session.CropRect && req.Kind != session.CropQuad {
			return badRequest(fmt.Errorf("unknown crop kind %q", req.Kind))
		}
		if req.Aspect < 0 {
			return badRequest(fmt.Errorf("invalid aspect ratio %v", req.Aspect))
		}
		region, err := sess.StartCrop(req.Kind, req.Aspect)
		if err != nil {
			return err
		}
		return c.JSON(region)
	})

	api.Post("/crop/pointer", func(c *fiber.Ctx) error {
		var req struct {
			Type string  `json:"type"`
			X    float64 `json:"x"`
			Y    float64 `json:"y"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
		p := geometry.Point{X: req.X, Y: req.Y}
		var err error
		switch req.Type {
		case "down":
			_, err = sess.PointerDown(p)
		case "move":
			_, err = sess.PointerMove(p)
		case "up":
			_, err = sess.PointerUp()
		case "cancel":
			_, err = sess.PointerCancel()
		default:
			return badRequest(fmt.Errorf("unknown pointer event %q", req.Type))
		}
		if err != nil {
			return err
		}
		st := sess.State()
		return c.JSON(fiber.Map{"gesture": st.Gesture, "region": st.Region})
	})

	api.Put("/crop/size", func(c *fiber.Ctx) error {
		var req struct {
			Width  float64  `json:"width"`
			Height float64  `json:"height"`
			Aspect *float64 `json:"aspect"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
		if req.Aspect != nil && *req.Aspect < 0 {
			return badRequest(fmt.Errorf("invalid aspect ratio %v", *req.Aspect))
		}
		region, err := sess.SetCropSize(req.Width, req.Height, req.Aspect)
		if err != nil {
			return err
		}
		return c.JSON(region)
	})

	api.Post("/crop/commit", func(c *fiber.Ctx) error {
		if _, err := sess.CommitCrop(c.UserContext()); err != nil {
			return err
		}
		return c.JSON(newStateResponse(sess.State()))
	})

	api.Post("/crop/cancel", func(c *fiber.Ctx) error {
		sess.CancelCrop()
		return c.SendStatus(http.StatusNoContent)
	})

	api.Put("/settings", func(c *fiber.Ctx) error {
		// fields missing from the body keep their current values
		settings := sess.Settings()
		if err := c.BodyParser(&settings); err != nil {
			return badRequest(err)
		}
		if err := sess.UpdateSettings(settings); err != nil {
			return err
		}
		return c.JSON(settings)
	})

	api.Get("/state", func(c *fiber.Ctx) error {
		return c.JSON(newStateResponse(sess.State()))
	})

	api.Get("/preview/:id", func(c *fiber.Ctx) error {
		p, ok := sess.Preview(c.Params("id"))
		if !ok {
			return fiber.ErrNotFound
		}
		c.Set(fiber.HeaderContentType, p.ContentType)
		c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
		return c.Send(p.Data)
	})

	api.Get("/estimate", func(c *fiber.Ctx) error {
		opts, err := encodeOptions(c, sess)
		if err != nil {
			return err
		}
		n, err := sess.EstimateSize(opts)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"bytes": n, "format": opts.Format, "quality": opts.Quality})
	})

	api.Get("/download", func(c *fiber.Ctx) error {
		opts, err := encodeOptions(c, sess)
		if err != nil {
			return err
		}
		res, name, err := sess.Download(c.UserContext(), opts)
		if err != nil {
			return err
		}
		c.Attachment(name)
		c.Set(fiber.HeaderContentType, res.Format.ContentType())
		return c.Send(res.Data)
	})

	api.Post("/reset", func(c *fiber.Ctx) error {
		sess.Reset()
		return c.SendStatus(http.StatusNoContent)
	})

	api.Post("/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})

	if isDebug {
		log.Ctx(ctx).Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Ctx(ctx).Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}
	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newApp(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	addr := a.config.Addr
	if addr == "" {
		// Let the OS assign a random available port
		addr = fmt.Sprintf("localhost:%d", 0)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Use the listener that was already created
	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
