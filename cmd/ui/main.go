package main

import (
	"fmt"
	"log"
	"os"

	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/database"
	"signal-backtest-go/internal/logger"
	"signal-backtest-go/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var configDir string

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "ui"
	app.Usage = "serve stored backtest results over HTTP"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Value:       "./configs",
			Usage:       "directory holding config.yml",
			Destination: &configDir,
		},
	}
	app.Action = serve
	return app
}

func serve(_ *cli.Context) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	zl, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("could not initialize logger: %w", err)
	}
	defer zl.Sync()

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		zl.Error("Failed to connect to database", zap.Error(err))
		return err
	}

	if cfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(NewAPIHandler(zl, store.NewRepository(db, zl)))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zl.Info("Starting web server", zap.String("address", addr))

	if err := router.Run(addr); err != nil {
		zl.Error("Web server failed", zap.Error(err))
		return err
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
