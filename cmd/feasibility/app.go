package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/config"
	"github.com/cdm/feasibility/internal/feasibility"
	"github.com/cdm/feasibility/internal/platform/auth"
	"github.com/cdm/feasibility/internal/platform/db"
	"github.com/cdm/feasibility/internal/platform/middleware"
	"github.com/cdm/feasibility/internal/profile"
)

const version = "0.1.0"

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	catalog     *cdm.Catalog
	feasibility *feasibility.Service
	profiles    *profile.Service

	// conn is nil when the app is built over an injected repository.
	conn *db.Connection
}

func newLogger(w io.Writer, env, level string) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// openApp loads configuration and connects to the CDM database.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr, cfg.Env, cfg.LogLevel)

	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, dialect, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dialect", string(dialect)).Msg("connected to database")

	a, err := newApp(cfg, logger, cdm.SQLRepositoryFactory(conn.Executor))
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.conn = conn
	return a, nil
}

func newApp(cfg *config.Config, logger zerolog.Logger, repos cdm.RepositoryFactory) (*app, error) {
	catalog, err := cdm.LoadCatalog(cfg.CDMVersion)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		catalog: catalog,
		feasibility: feasibility.NewService(repos, catalog, logger, feasibility.Options{
			DefaultSchema: cfg.CDMSchema,
			Workers:       cfg.DomainWorkers,
		}),
		profiles: profile.NewService(repos, logger, cfg.CDMSchema),
	}, nil
}

func (a *app) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *app) router() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.SchemaHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":      "ok",
			"version":     version,
			"cdm_version": a.catalog.Version(),
		})
	})
	if a.conn != nil {
		e.GET("/health/db", db.HealthHandler(a.conn))
	}

	apiV1 := e.Group("/api/v1", db.SchemaMiddleware(cfg.CDMSchema))
	feasibility.NewHandler(a.feasibility, a.catalog).RegisterRoutes(apiV1)
	profile.NewHandler(a.profiles).RegisterRoutes(apiV1)

	return e
}
