// cmd/sweep-scheduler/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	pkgredis "flashmart/internal/pkg/redis"
	"flashmart/internal/service/seckill/application"
	"flashmart/internal/service/seckill/infrastructure"
)

const (
	serviceName = "sweep-scheduler"
	servicePort = 8082

	lockRetryDelay = 50 * time.Millisecond
)

// main 组装调度器：活动状态机流转 + 过期订单清扫。
// 可以跑多个实例，预热锁和清扫的条件更新保证实例之间不打架。
func main() {
	bootstrap.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)

	redisClient, err := pkgredis.NewClient(cfg.Infra.Redis.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize redis client")
	}
	defer redisClient.Close()

	db, err := infrastructure.NewDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}

	stockScript, err := infrastructure.NewStockRedisAdapter(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register deduction scripts")
	}

	locks, err := newLockManager(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize lock manager")
	}

	scheduler := application.NewScheduler(
		infrastructure.NewGormActivityRepository(db),
		infrastructure.NewGormOrderRepository(db),
		infrastructure.NewGormSweepRepository(db),
		stockScript, locks, tracer,
		cfg.App.WarmUpLead, cfg.App.LockTTL, cfg.App.SweepBatchSize)

	schedCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := scheduler.Start(schedCtx, cfg.App.ActivitySweepInterval, cfg.App.ExpirySweepInterval)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scheduler exited with error")
		}
	}()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
		},
	})
}

func newLockManager(cfg *bootstrap.Config, redisClient *pkgredis.Client) (lock.Manager, error) {
	if cfg.App.LockBackend == "zookeeper" {
		return lock.NewZookeeperManager(cfg.Infra.Zookeeper.Servers, 5*time.Second, cfg.App.LockWait)
	}
	return lock.NewRedisManager(redisClient.GetClient(), cfg.App.LockWait, lockRetryDelay), nil
}
