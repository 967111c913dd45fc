package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc/pool"

	"thrivesight/pkg/api"
	"thrivesight/pkg/config"
	"thrivesight/pkg/core"
	"thrivesight/pkg/logging"
	"thrivesight/pkg/monitor"
	"thrivesight/pkg/network"
)

// main 是 ThriveSight 服务器的入口：加载配置、恢复模型，
// 然后同时启动 HTTP 与 TCP 服务，直到收到退出信号。
func main() {
	configPath := flag.String("config", "", "path to config file (default: configs/thrivesight.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.Log, "thrivesight")
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitor.NewMetrics("thrivesight")
	svc, err := core.NewService(cfg, logging.New(cfg.Log, "thrivesight", "core"), metrics)
	if err != nil {
		logger.Error("start service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.Restore(ctx); err != nil {
		logger.Warn("model restore failed, serving without a model", "error", err)
	}

	httpSrv := api.NewServer(svc, cfg.Server, metrics, logging.New(cfg.Log, "thrivesight", "api"))
	tcpSrv := network.NewTCPServer(svc, logging.New(cfg.Log, "thrivesight", "network"))

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return httpSrv.Start(ctx)
	})
	p.Go(func(ctx context.Context) error {
		return tcpSrv.Start(ctx, cfg.Server.TCPAddr)
	})

	if err := p.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		svc.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
