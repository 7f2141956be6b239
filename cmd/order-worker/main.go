// cmd/order-worker/main.go
package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
	pkgredis "flashmart/internal/pkg/redis"
	"flashmart/internal/service/seckill/application"
	"flashmart/internal/service/seckill/infrastructure"
)

const (
	serviceName = "order-worker"
	servicePort = 8081
)

// main 组装订单物化工作者：
// 主主题和重试主题走同一个物化流程，死信主题走补偿流程。
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

	orderRepo := infrastructure.NewGormOrderRepository(db)
	ledger := infrastructure.NewGormStockLedger(db)
	statusStore := infrastructure.NewRequestStatusRedisStore(redisClient)

	materializer := application.NewMaterializer(
		orderRepo, ledger, stockScript, statusStore,
		infrastructure.NewRedisDebouncer(redisClient), tracer, cfg.App.OrderTTL)

	retryWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.DeductionRetryTopic)
	defer retryWriter.Close()
	dltWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.DeductionDLTTopic)
	defer dltWriter.Close()
	failures := mq.NewFailureHandler(retryWriter, dltWriter, cfg.App.MaxRetries)

	mainConsumer := infrastructure.NewDeductionConsumerAdapter(
		mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.App.DeductionTopic, cfg.App.ConsumerGroup),
		materializer.HandleDeductionSucceeded, failures, 0)
	retryConsumer := infrastructure.NewDeductionConsumerAdapter(
		mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.App.DeductionRetryTopic, cfg.App.ConsumerGroup),
		materializer.HandleDeductionSucceeded, failures, cfg.App.RetryDelay)
	dltConsumer := infrastructure.NewCompensationConsumerAdapter(
		mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.App.DeductionDLTTopic, cfg.App.ConsumerGroup),
		materializer.Compensate)

	consumerCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	g, consumerCtx := errgroup.WithContext(consumerCtx)
	g.Go(func() error { return mainConsumer.Start(consumerCtx) })
	g.Go(func() error { return retryConsumer.Start(consumerCtx) })
	g.Go(func() error { return dltConsumer.Start(consumerCtx) })

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			cancel()
			mainConsumer.Stop()
			retryConsumer.Stop()
			dltConsumer.Stop()
			if err := g.Wait(); err != nil {
				logger.Error().Err(err).Msg("consumer exited with error")
			}
		},
	})
}
