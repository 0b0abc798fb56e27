package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fundus-api/internal/acquire"
	"github.com/Brownie44l1/fundus-api/internal/config"
	"github.com/Brownie44l1/fundus-api/internal/diseases"
	"github.com/Brownie44l1/fundus-api/internal/handlers"
	"github.com/Brownie44l1/fundus-api/internal/logging"
	"github.com/Brownie44l1/fundus-api/internal/model"
	"github.com/Brownie44l1/fundus-api/internal/pipeline"
	"github.com/Brownie44l1/fundus-api/internal/verdict"
)

func main() {
	// Get the project root directory
	execPath, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	// If running from cmd/server, go up two levels
	if filepath.Base(execPath) == "server" {
		execPath = filepath.Join(execPath, "../..")
	}

	cfg, err := config.Load(execPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	policy := verdict.Policy{
		InvalidThreshold:       cfg.InvalidImageThreshold,
		LowConfidenceThreshold: cfg.LowConfidenceThreshold,
	}
	if err := policy.Validate(); err != nil {
		logger.Fatal("invalid thresholds", zap.Error(err))
	}
	if !policy.LowConfidenceReachable() {
		logger.Warn("low-confidence flag can never be set: every accepted image already clears the low-confidence threshold",
			zap.Float64("invalid_threshold", policy.InvalidThreshold),
			zap.Float64("low_confidence_threshold", policy.LowConfidenceThreshold))
	}

	catalog, err := diseases.NewCatalog(model.Labels)
	if err != nil {
		logger.Fatal("disease table does not match labels", zap.Error(err))
	}

	acq, err := acquire.NewAcquirer(cfg.UploadDir, acquire.Options{
		Timeout:          cfg.FetchTimeout,
		MaxDownloadBytes: cfg.MaxDownloadBytes,
	}, logger)
	if err != nil {
		logger.Fatal("failed to prepare upload directory", zap.Error(err))
	}

	// The service keeps running without a model; /predict answers 503.
	var backend model.Model
	logger.Info("loading model", zap.String("model_path", cfg.ModelPath))
	modelServer, err := model.NewServer(cfg.ModelPath, cfg.MetadataPath, cfg.ONNXLibraryPath, logger)
	if err != nil {
		logger.Error("could not load model, predictions disabled",
			zap.Error(logging.NewOperationError("model.load", "", err)),
			zap.String("model_path", cfg.ModelPath),
			zap.String("metadata_path", cfg.MetadataPath))
	} else {
		defer modelServer.Close()
		backend = modelServer
	}

	p := pipeline.New(acq, model.NewClassifier(backend), policy, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
	}))
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, handlers.NewHandler(p, catalog, cfg.TopK, logger), cfg.UploadDir)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server starting",
		zap.String("addr", server.Addr),
		zap.String("upload_dir", cfg.UploadDir),
		zap.Bool("model_loaded", backend != nil),
		zap.Strings("classes", model.Labels),
		zap.Strings("endpoints", []string{
			"GET /health",
			"GET /diseases",
			"POST /predict",
			"GET " + handlers.UploadsRoute + "/:filename",
		}))

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", server.Addr), zap.Error(err))
	}
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	if err := serve(server, ln, stop, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// serve runs server on ln until it fails or a value arrives on stop. On stop,
// in-flight requests get up to drain to finish.
func serve(server *http.Server, ln net.Listener, stop <-chan os.Signal, drain time.Duration, logger *zap.Logger) error {
	served := make(chan error, 1)
	go func() {
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
	}()

	var sig os.Signal
	select {
	case err := <-served:
		return err
	case sig = <-stop:
	}

	logger.Info("draining requests", zap.String("signal", fmt.Sprint(sig)), zap.Duration("timeout", drain))
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-served
}
