package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/exam-scheduler/modules/importer"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/services"
	"github.com/iota-uz/exam-scheduler/pkg/application"
	"github.com/iota-uz/exam-scheduler/pkg/configuration"
	"github.com/iota-uz/exam-scheduler/pkg/logging"
	"github.com/iota-uz/exam-scheduler/pkg/metrics"
	"github.com/iota-uz/exam-scheduler/pkg/middleware"
	"github.com/iota-uz/exam-scheduler/pkg/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	importOpts := services.OptionsFromConfig(conf.Import)
	if conf.Import.ColumnsFile != "" {
		aliases, err := loadAliases(conf.Import.ColumnsFile)
		if err != nil {
			log.Fatalf("failed to load column aliases: %v", err)
		}
		importOpts.Aliases = aliases
	}

	app := application.New(&application.ApplicationOptions{
		Pool:   pool,
		Logger: logger,
	})
	app.RegisterMiddleware(
		middleware.WithLogger(logger, conf, middleware.DefaultLoggerOptions()),
		middleware.Cors(conf.AllowedOrigins...),
	)
	if conf.RateLimit.Enabled {
		store := middleware.NewMemoryStore()
		if conf.RateLimit.Storage == "redis" {
			redisStore, err := middleware.NewRedisStore(conf.RateLimit.RedisURL)
			if err != nil {
				logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
			} else {
				store = redisStore
			}
		}
		rateLimit, err := middleware.RateLimit(conf, middleware.RateLimitConfig{
			Rate:  conf.RateLimit.Rate,
			Store: store,
		})
		if err != nil {
			log.Fatalf("failed to configure rate limiting: %v", err)
		}
		app.RegisterMiddleware(rateLimit)
	}
	if err := application.Load(app, importer.NewModule(importer.ModuleOptions{
		Import:        importOpts,
		MaxUploadSize: conf.MaxUploadSize,
	})); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Listening on: %s\n", conf.SocketAddress)
	if err := server.NewHTTPServer(app, nil, nil).Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func loadAliases(path string) (rows.Aliases, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rows.ParseAliases(f)
}
