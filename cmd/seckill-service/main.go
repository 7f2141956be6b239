// cmd/seckill-service/main.go
package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
	pkgredis "flashmart/internal/pkg/redis"
	"flashmart/internal/service/seckill/application"
	"flashmart/internal/service/seckill/infrastructure"
	"flashmart/internal/service/seckill/infrastructure/rule"
	"flashmart/internal/service/seckill/interfaces"
)

const (
	serviceName = "seckill-service"
	servicePort = 8080

	stockFeedInterval = time.Second
	lockRetryDelay    = 50 * time.Millisecond
)

// main 是组装根：创建并连接所有依赖，然后交给 bootstrap 启动。
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

	locks, err := newLockManager(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize lock manager")
	}

	stockScript, err := infrastructure.NewStockRedisAdapter(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register deduction scripts")
	}

	ruleEngine, err := rule.NewCELEngine(cfg.App.EligibilityRule)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to compile eligibility rule")
	}

	deductionWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.DeductionTopic)
	defer deductionWriter.Close()
	alertWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.AlertTopic)
	defer alertWriter.Close()

	orderRepo := infrastructure.NewGormOrderRepository(db)
	activityRepo := infrastructure.NewGormActivityRepository(db)
	sweepRepo := infrastructure.NewGormSweepRepository(db)
	statusStore := infrastructure.NewRequestStatusRedisStore(redisClient)
	debouncer := infrastructure.NewRedisDebouncer(redisClient)

	notifier := application.NewLowStockNotifier(
		infrastructure.NewAlertProducerAdapter(alertWriter),
		debouncer, cfg.App.LowStockThreshold, cfg.App.AlertCooldown)

	purchaseSvc := application.NewPurchaseService(
		locks, stockScript,
		infrastructure.NewDeductionProducerAdapter(deductionWriter),
		statusStore, notifier, ruleEngine, activityRepo,
		tracer, cfg.App.LockTTL)

	// 手动预热入口复用调度器的加锁预热逻辑，这个实例不启动定时循环
	scheduler := application.NewScheduler(
		activityRepo, orderRepo, sweepRepo, stockScript, locks, tracer,
		cfg.App.WarmUpLead, cfg.App.LockTTL, cfg.App.SweepBatchSize)
	adminSvc := application.NewActivityService(activityRepo, scheduler, tracer)

	feedHub := interfaces.NewStockFeedHub(stockScript, stockFeedInterval)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go feedHub.Run(logger.WithContext(hubCtx))

	seckillHandler := interfaces.NewSeckillHandler(purchaseSvc, adminSvc)
	paymentHandler := interfaces.NewPaymentHandler(orderRepo, statusStore, cfg.App.PaymentSecret)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			seckillHandler.RegisterRoutes(appCtx.Mux)
			paymentHandler.RegisterRoutes(appCtx.Mux)
			feedHub.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			hubCancel()
		},
	})
}

func newLockManager(cfg *bootstrap.Config, redisClient *pkgredis.Client) (lock.Manager, error) {
	if cfg.App.LockBackend == "zookeeper" {
		return lock.NewZookeeperManager(cfg.Infra.Zookeeper.Servers, 5*time.Second, cfg.App.LockWait)
	}
	return lock.NewRedisManager(redisClient.GetClient(), cfg.App.LockWait, lockRetryDelay), nil
}
