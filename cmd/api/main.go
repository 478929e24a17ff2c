package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/peterbourgon/ff/v3"

	"github.com/emandor/omr_service/internal/cache"
	"github.com/emandor/omr_service/internal/config"
	"github.com/emandor/omr_service/internal/db"
	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/middleware"
	"github.com/emandor/omr_service/internal/ocr"
	"github.com/emandor/omr_service/internal/omr"
	"github.com/emandor/omr_service/internal/telemetry"
	"github.com/emandor/omr_service/internal/vision"
	"github.com/emandor/omr_service/internal/ws"
)

func main() {
	fs := flag.NewFlagSet("omr_service", flag.ExitOnError)
	var (
		doMigrate = fs.Bool("migrate", false, "run migrations and exit")
		port      = fs.String("port", "", "listen port, overrides APP_PORT")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("OMR")); err != nil {
		log.Fatal(err)
	}

	cfg := config.Load()
	if *port != "" {
		cfg.AppPort = *port
	}

	tlog := telemetry.Init(telemetry.FromEnv(config.GetEnv))
	tlog.Info().Str("port", cfg.AppPort).Str("vision", cfg.VisionProvider).Msg("booting omr_service")

	sqlxDB := db.MustConnect(cfg.DBDSN)
	if *doMigrate {
		db.MustMigrate(sqlxDB)
		log.Println("migrations done")
		return
	}
	if cfg.DBAutoMigrate {
		db.MustMigrate(sqlxDB)
	}

	// without a provider the API still serves stored data; vision calls fail with 502
	chain, err := vision.BuildChain(context.Background(), cfg)
	if errors.Is(err, vision.ErrNoProvider) {
		tlog.Warn().Msg("no vision provider configured")
	} else if err != nil {
		tlog.Fatal().Err(err).Msg("vision_init_failed")
	}
	opts := []vision.Option{
		vision.WithTimeout(cfg.VisionTimeout),
		vision.WithPrep(img.PrepOptions{
			MaxW:      cfg.VisionImgMaxW,
			Quality:   cfg.VisionImgQuality,
			Grayscale: cfg.VisionImgGrayscale,
		}),
	}
	if cfg.RedisAddr != "" {
		rdb := cache.MustConnect(cfg.RedisAddr, cfg.RedisDB)
		opts = append(opts, vision.WithCache(cache.NewStore(rdb, "omr:vision:"), cfg.VisionCacheTTL))
	}
	reader := vision.NewReader(chain, opts...)

	files, err := img.NewStore(cfg.UploadDir, "/uploads")
	if err != nil {
		tlog.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("upload_dir_failed")
	}

	svcOpts := []omr.ServiceOption{omr.WithCropLayout(cfg.CropCount, cfg.QuestionsPerCrop)}
	if cfg.NameEngine == "tesseract" {
		svcOpts = append(svcOpts, omr.WithNameReader(&ocr.Tesseract{Lang: cfg.OCRLang}))
	}
	svc := omr.NewService(omr.NewStore(sqlxDB), files, reader, svcOpts...)

	app := fiber.New(fiber.Config{
		AppName:      "OMR Sheet Processor API",
		BodyLimit:    cfg.MaxBodyLimit * 1024 * 1024,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 3 * time.Minute,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Recover())
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.RequestLog())
	app.Use(middleware.SecureHeaders())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "OMR Sheet Processor API"})
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Static("/uploads", cfg.UploadDir)

	omr.NewHandler(svc).Mount(app.Group("/api"),
		middleware.FileUploadValidator(cfg),
		middleware.RateLimiter(cfg),
	)

	app.Get("/ws", middleware.WSUpgradeMiddleware(), websocket.New(ws.HandleWS))

	log.Fatal(app.Listen(":" + cfg.AppPort))
}
