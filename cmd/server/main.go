package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-batch-ocr/api/handlers"
	"github.com/feichai0017/pdf-batch-ocr/api/routes"
	cfg "github.com/feichai0017/pdf-batch-ocr/config"
	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	c, err := cfg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(c.Log.LoggerOptions()...)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// init document service; the server only enqueues, so no engines are loaded
	docService, err := document.GetService(context.Background(), log, c, false)
	if err != nil {
		log.Fatal("Failed to get document service", logger.Error(err))
	}
	defer docService.Close()

	// init handlers
	h := handlers.NewHandlers(docService, log.Named("api"))
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, c.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:    c.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", c.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
