// Package config загружает конфигурацию исполнителя из переменных
// окружения (и необязательного .env файла) через viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config содержит всю конфигурацию процесса.
type Config struct {
	Exchange ExchangeConfig
	Trading  TradingConfig
	Channels ChannelConfig
	Timeouts TimeoutConfig
	Reconcile ReconcileConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// ExchangeConfig - доступ к бирже и сетевые эндпоинты.
type ExchangeConfig struct {
	APIKey            string
	SecretKey         string
	BootstrapBaseURL  string
	MarketWSURL       string
	UserWSURL         string
	BootstrapRateLimit float64
	BootstrapRateBurst float64
}

// TradingConfig - торговые параметры цикла.
type TradingConfig struct {
	GainThreshold         decimal.Decimal
	DayVolumeThresholdUSD float64
	ChainsApproxFraction  float32
	StartingCurrencies    []string
	StartingBalances      map[string]decimal.Decimal
	TradingFee            decimal.Decimal
	ResearchMode          bool
}

// ChannelConfig - ёмкости каналов/бродкастов (см. spec §5).
type ChannelConfig struct {
	UserMPSCRequestCapacity         int
	UserBroadcastResponseCapacity   int
	MarketMPSCRequestCapacity       int
	MarketBroadcastResponseCapacity int
	MarketBroadcastDispatchCapacity int
	MarketSubscribeBatchSize        int // per-request ticker channel cap, spec §4.3
}

// TimeoutConfig - таймауты исполнителя (см. spec §4.6).
type TimeoutConfig struct {
	OrderTimeout   time.Duration
	PendingTimeout time.Duration
}

// ReconcileConfig - сверка (персистентность остатков + публикация записей).
type ReconcileConfig struct {
	DatabaseURL string
	AMQPURL     string
}

// MetricsConfig - Prometheus listener.
type MetricsConfig struct {
	ListenAddr string
}

// LoggingConfig - настройки zap-логгера.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load читает конфигурацию из окружения (с опциональным .env в рабочей
// директории) и проверяет обязательные в боевом режиме параметры.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.ReadInConfig() // отсутствие .env не является ошибкой

	v.SetDefault("API_KEY", "")
	v.SetDefault("SECRET_KEY", "")
	v.SetDefault("BOOTSTRAP_BASE_URL", "https://api.crypto.com/v2")
	v.SetDefault("MARKET_WS_URL", "wss://stream.crypto.com/v2/market")
	v.SetDefault("USER_WS_URL", "wss://stream.crypto.com/v2/user")
	v.SetDefault("BOOTSTRAP_RATE_LIMIT", 10.0)
	v.SetDefault("BOOTSTRAP_RATE_BURST", 20.0)

	v.SetDefault("GAIN_THRESHOLD", "1.001")
	v.SetDefault("DAY_VOLUME_THRESHOLD", 3500.0)
	v.SetDefault("CHAINS_APPROX_FRACTION", 1.0)
	v.SetDefault("STARTING_CURRENCIES", "USDT,USDC,BTC")
	v.SetDefault("STARTING_BALANCE_USDT", "2.0")
	v.SetDefault("STARTING_BALANCE_USDC", "2.0")
	v.SetDefault("STARTING_BALANCE_BTC", "0.0001")
	v.SetDefault("TRADING_FEE", "0.99925")
	v.SetDefault("RESEARCH_MODE", true)

	v.SetDefault("USER_MPSC_REQUEST_CAPACITY", 10)
	v.SetDefault("USER_BROADCAST_RESPONSE_CAPACITY", 2)
	v.SetDefault("MARKET_MPSC_REQUEST_CAPACITY", 10)
	v.SetDefault("MARKET_BROADCAST_RESPONSE_CAPACITY", 32)
	v.SetDefault("MARKET_BROADCAST_DISPATCH_CAPACITY", 32)
	v.SetDefault("MARKET_SUBSCRIBE_BATCH_SIZE", 100)

	v.SetDefault("ARB_EXECUTOR_ORDER_TIMEOUT_MS", 3000)
	v.SetDefault("ARB_EXECUTOR_PENDING_TIMEOUT_MS", 180000)

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("METRICS_LISTEN_ADDR", ":9090")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	startingCurrencies := splitNonEmpty(v.GetString("STARTING_CURRENCIES"))

	balances := make(map[string]decimal.Decimal, len(startingCurrencies))
	for _, cur := range startingCurrencies {
		raw := v.GetString("STARTING_BALANCE_" + cur)
		if raw == "" {
			raw = "0"
		}
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid STARTING_BALANCE_%s: %w", cur, err)
		}
		balances[cur] = bal
	}

	gainThreshold, err := decimal.NewFromString(v.GetString("GAIN_THRESHOLD"))
	if err != nil {
		return nil, fmt.Errorf("invalid GAIN_THRESHOLD: %w", err)
	}
	tradingFee, err := decimal.NewFromString(v.GetString("TRADING_FEE"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRADING_FEE: %w", err)
	}

	cfg := &Config{
		Exchange: ExchangeConfig{
			APIKey:             v.GetString("API_KEY"),
			SecretKey:          v.GetString("SECRET_KEY"),
			BootstrapBaseURL:   v.GetString("BOOTSTRAP_BASE_URL"),
			MarketWSURL:        v.GetString("MARKET_WS_URL"),
			UserWSURL:          v.GetString("USER_WS_URL"),
			BootstrapRateLimit: v.GetFloat64("BOOTSTRAP_RATE_LIMIT"),
			BootstrapRateBurst: v.GetFloat64("BOOTSTRAP_RATE_BURST"),
		},
		Trading: TradingConfig{
			GainThreshold:         gainThreshold,
			DayVolumeThresholdUSD: v.GetFloat64("DAY_VOLUME_THRESHOLD"),
			ChainsApproxFraction:  float32(v.GetFloat64("CHAINS_APPROX_FRACTION")),
			StartingCurrencies:    startingCurrencies,
			StartingBalances:      balances,
			TradingFee:            tradingFee,
			ResearchMode:          v.GetBool("RESEARCH_MODE"),
		},
		Channels: ChannelConfig{
			UserMPSCRequestCapacity:         v.GetInt("USER_MPSC_REQUEST_CAPACITY"),
			UserBroadcastResponseCapacity:   v.GetInt("USER_BROADCAST_RESPONSE_CAPACITY"),
			MarketMPSCRequestCapacity:       v.GetInt("MARKET_MPSC_REQUEST_CAPACITY"),
			MarketBroadcastResponseCapacity: v.GetInt("MARKET_BROADCAST_RESPONSE_CAPACITY"),
			MarketBroadcastDispatchCapacity: v.GetInt("MARKET_BROADCAST_DISPATCH_CAPACITY"),
			MarketSubscribeBatchSize:        v.GetInt("MARKET_SUBSCRIBE_BATCH_SIZE"),
		},
		Timeouts: TimeoutConfig{
			OrderTimeout:   time.Duration(v.GetInt("ARB_EXECUTOR_ORDER_TIMEOUT_MS")) * time.Millisecond,
			PendingTimeout: time.Duration(v.GetInt("ARB_EXECUTOR_PENDING_TIMEOUT_MS")) * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			DatabaseURL: v.GetString("DATABASE_URL"),
			AMQPURL:     v.GetString("AMQP_URL"),
		},
		Metrics: MetricsConfig{
			ListenAddr: v.GetString("METRICS_LISTEN_ADDR"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if !cfg.Trading.ResearchMode {
		if cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "" {
			return nil, fmt.Errorf("API_KEY and SECRET_KEY are required when RESEARCH_MODE=false")
		}
	}

	return cfg, nil
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
