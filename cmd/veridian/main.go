package main

import (
	"context"
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	veridian "github.com/getveridian/veridian"
	"github.com/getveridian/veridian/api"
	"github.com/getveridian/veridian/config"
	"github.com/getveridian/veridian/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("starting veridian authentication service",
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
	)

	ctx := context.Background()
	eng, err := veridian.New(ctx, cfg, logger.Log)
	if err != nil {
		logger.Log.Fatal("failed to build engine", zap.Error(err))
	}
	defer eng.Shutdown(ctx)

	if err := eng.InitializePlugins(ctx, nil); err != nil {
		logger.Log.Fatal("failed to initialize providers", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	g := e.Group("/api/v1")
	api.NewHandler(eng).RegisterRoutes(g)

	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Log.Fatal("server failed to start", zap.Error(err))
	}
}
