package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-apigateway/internal/config"
	"go-apigateway/internal/gateway"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatal("Configuration load failed")
	}

	logger := setupLogging(cfg)

	gw := gateway.New(cfg, logger)
	gw.RegisterConfiguredPlugins()

	srv := gateway.NewServer(gw, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gateway...")
	if err := srv.Shutdown(30 * time.Second); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Gateway exited")
}

func setupLogging(cfg *config.Config) *logrus.Logger {
	logger := logrus.StandardLogger()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logger.SetOutput(os.Stdout)
	return logger
}
