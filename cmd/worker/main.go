package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	cfg "github.com/feichai0017/pdf-batch-ocr/config"
	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	c, err := cfg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(c.Log.LoggerOptions()...)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建文档服务 (加载识别引擎)
	docService, err := document.GetService(ctx, log, c, true)
	if err != nil {
		log.Error("Failed to create document service", logger.Error(err))
		os.Exit(1)
	}
	defer docService.Close()

	// 创建 worker 配置
	workerCfg := &worker.Config{
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		Concurrency:   c.Queue.Concurrency,
		Queues:        c.Queue.Queues,
	}

	// 创建 worker
	batchWorker, err := worker.NewBatchWorker(workerCfg, docService, log.Named("worker"))
	if err != nil {
		log.Error("Failed to create batch worker", logger.Error(err))
		os.Exit(1)
	}

	// 启动 worker
	if err := batchWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	batchWorker.Stop()
	log.Info("Worker stopped")
}
