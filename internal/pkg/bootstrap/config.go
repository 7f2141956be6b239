// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 汇总了所有服务共用的配置。
// 来源优先级：环境变量 > CONFIG_PATH 指向的 YAML 文件 > 默认值。
type Config struct {
	App struct {
		// Kafka 主题
		DeductionTopic      string `yaml:"deductionTopic"`
		DeductionRetryTopic string `yaml:"deductionRetryTopic"`
		DeductionDLTTopic   string `yaml:"deductionDltTopic"`
		AlertTopic          string `yaml:"alertTopic"`

		ConsumerGroup string `yaml:"consumerGroup"`
		MaxRetries    int    `yaml:"maxRetries"`
		RetryDelay    time.Duration `yaml:"retryDelay"`

		// 分布式锁
		LockBackend string        `yaml:"lockBackend"` // redis | zookeeper
		LockTTL     time.Duration `yaml:"lockTtl"`
		LockWait    time.Duration `yaml:"lockWait"`

		// 订单与活动生命周期
		OrderTTL              time.Duration `yaml:"orderTtl"`
		WarmUpLead            time.Duration `yaml:"warmUpLead"`
		ActivitySweepInterval time.Duration `yaml:"activitySweepInterval"`
		ExpirySweepInterval   time.Duration `yaml:"expirySweepInterval"`
		SweepBatchSize        int           `yaml:"sweepBatchSize"`

		// 低库存告警
		LowStockThreshold int64         `yaml:"lowStockThreshold"`
		AlertCooldown     time.Duration `yaml:"alertCooldown"`

		// 下单资格规则（CEL 表达式）
		EligibilityRule string `yaml:"eligibilityRule"`

		// 支付回调签名密钥
		PaymentSecret string `yaml:"paymentSecret"`
	} `yaml:"app"`

	Infra struct {
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回进程内的配置快照。必须先调用 Init。
func GetCurrentConfig() *Config {
	return currentConfig.Load()
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.DeductionTopic = "seckill-deduction-topic"
	cfg.App.DeductionRetryTopic = "seckill-deduction-retry-topic"
	cfg.App.DeductionDLTTopic = "seckill-deduction-dlt"
	cfg.App.AlertTopic = "stock-alert-topic"
	cfg.App.ConsumerGroup = "order-worker-group"
	cfg.App.MaxRetries = 3
	cfg.App.RetryDelay = 5 * time.Second
	cfg.App.LockBackend = "redis"
	cfg.App.LockTTL = 5 * time.Second
	cfg.App.LockWait = 2 * time.Second
	cfg.App.OrderTTL = 15 * time.Minute
	cfg.App.WarmUpLead = 5 * time.Minute
	cfg.App.ActivitySweepInterval = 10 * time.Second
	cfg.App.ExpirySweepInterval = 30 * time.Second
	cfg.App.SweepBatchSize = 100
	cfg.App.LowStockThreshold = 10
	cfg.App.AlertCooldown = 5 * time.Minute
	cfg.App.EligibilityRule = "quantity > 0 && quantity <= 5 && !is_blocked"
	cfg.App.PaymentSecret = "dev-only-secret"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/flashmart?charset=utf8mb4&parseTime=True&loc=UTC"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Nacos.Addrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	return cfg
}

func loadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// 环境变量覆盖，只提供部署时最常改的几项
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.Mysql.DSN = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("ZOOKEEPER_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.Addrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("LOCK_BACKEND"); v != "" {
		cfg.App.LockBackend = v
	}
	if v := os.Getenv("PAYMENT_SECRET"); v != "" {
		cfg.App.PaymentSecret = v
	}

	return cfg, nil
}
