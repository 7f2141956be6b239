// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/nacos"
	"flashmart/internal/pkg/tracing"
	"flashmart/internal/pkg/utils"
)

// AppCtx 传递给业务方的注册回调，让每个服务挂上自己的路由。
type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 描述一个服务启动所需的信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown 在 HTTP 服务器关闭前调用，用于停掉消费者、定时器等后台组件。
	OnShutdown func(ctx context.Context)
}

// Init 加载配置并初始化日志。所有 main 的第一行都应该是它。
func Init(serviceName string) {
	logger.Init(serviceName)
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	currentConfig.Store(cfg)
}

// StartService 封装了所有服务共用的启动和优雅关停流程：
// tracer、Nacos 注册、HTTP 服务器，以及按后进先出顺序的清理。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	namingClient, err := nacos.NewClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get outbound IP address")
	}

	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		logger.Fatal().Err(err).Msg("failed to register service with nacos")
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		logger.Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msgf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		logger.Error().Err(err).Msg("Error deregistering from Nacos")
	}

	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down http server")
	}

	// 最后关 tracer，把缓冲区里的 span 发完
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	logger.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}
