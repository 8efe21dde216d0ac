package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/climate-data-collector/internal/api/http"
	"github.com/i474232898/climate-data-collector/internal/collector"
	"github.com/i474232898/climate-data-collector/internal/config"
	"github.com/i474232898/climate-data-collector/internal/export"
	"github.com/i474232898/climate-data-collector/internal/observability"
	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/scheduler"
	"github.com/i474232898/climate-data-collector/internal/store"
	"github.com/i474232898/climate-data-collector/internal/weather"
	"github.com/i474232898/climate-data-collector/internal/weather/providers"
)

var errNothingExported = errors.New("no climate data was exported")

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		initConfig = flag.String("init-config", "", "write the default config to this path and exit")
		mode       = flag.String("mode", "", "API mode: primary, secondary or both")
		kind       = flag.String("kind", "", "collection frequency: daily or monthly")
		format     = flag.String("format", "", "output format: csv, json or sqlite")
		layout     = flag.String("layout", "", "file layout: separate or combined")
		output     = flag.String("output", "", "output directory")
		historical = flag.Bool("historical", false, "also collect the historical series")
		years      = flag.Int("years", 0, "years of history to collect")
		serve      = flag.Bool("serve", false, "start the HTTP API instead of a one-shot run")
		schedule   = flag.Bool("schedule", false, "run collections periodically")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *initConfig != "" {
		if err := config.WriteDefault(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("default config written to %s\n", *initConfig)
		return
	}

	cfg, err := config.LoadWithOverrides(*configPath, config.Overrides{
		Mode:       *mode,
		Kind:       *kind,
		Format:     *format,
		Layout:     *layout,
		OutputDir:  *output,
		Historical: *historical,
		Years:      *years,
		Verbose:    *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *serve, *schedule); err != nil {
		logger.Error("climate collector failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, serve, schedule bool) error {
	metrics := observability.NewMetrics()

	deps := providers.Deps{
		HTTPClient: &http.Client{},
		Logger:     logger,
		Metrics:    metrics,
	}
	if cfg.Breaker.Enabled {
		deps.Breaker = &providers.BreakerSettings{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
		}
	}

	var primary, secondary weather.Provider
	if pc := config.Provider(cfg.APIs.OpenWeather); pc != nil {
		primary = providers.NewOpenWeatherProvider(*pc, deps)
	}
	if pc := config.Provider(cfg.APIs.Inmet); pc != nil {
		secondary = providers.NewInmetProvider(*pc, deps)
	}
	service := weather.NewService(cfg.Mode(), primary, secondary, logger, metrics)

	exporter, err := export.New(
		export.Format(cfg.General.OutputFormat),
		cfg.General.Output.Dir,
		export.Layout(cfg.General.Output.Layout),
		logger,
		metrics,
	)
	if err != nil {
		return err
	}

	memStore := store.NewMemoryStore(cfg.Store.MaxHistory, cfg.Store.MaxAge, nil)

	coll := collector.New(service, collector.Config{
		Locations: cfg.WeatherLocations(),
		Years:     cfg.Frequency.History.Years,
		Processor: processing.NewProcessor(processing.Options{
			Variables:  cfg.ActiveVariables(),
			Fahrenheit: cfg.Fahrenheit(),
		}, logger),
		Exporter: exporter,
		Store:    memStore,
		Logger:   logger,
		Metrics:  metrics,
	})

	if !serve && !schedule {
		return runOnce(ctx, coll, cfg.Kinds())
	}

	if schedule {
		sched := scheduler.New(coll, cfg.Frequency.ScheduleInterval, cfg.Kinds(), logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	if !serve {
		<-ctx.Done()
		return nil
	}
	return listen(ctx, cfg.Server.Port, service, memStore, logger)
}

func runOnce(ctx context.Context, coll *collector.Collector, kinds []processing.Kind) error {
	exported := 0
	for _, kind := range kinds {
		summary, err := coll.Run(ctx, kind)
		if err != nil {
			return err
		}
		exported += len(summary.Files)
	}
	if exported == 0 {
		return errNothingExported
	}
	return nil
}

func listen(ctx context.Context, port string, service *weather.Service, memStore *store.MemoryStore, logger *zap.Logger) error {
	app := fiber.New(fiber.Config{
		AppName:               "climate-data-collector",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// historical queries walk years of data in sequential chunks
		WriteTimeout: 5 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "climate-data-collector",
			"mode":    service.Mode(),
		})
	})

	httpapi.RegisterRoutes(app, service, memStore)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("port", port))
		errCh <- app.Listen(":" + port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}
