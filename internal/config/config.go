package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr     string
	DBDSN        string
	RedisAddr    string
	OtelEndpoint string

	RPCURL          string
	ContractAddress string
	WithdrawalTopic string
	TransferTopic   string
	StartBlock      uint64
	Confirmations   uint64
	BatchSize       uint64
	PollInterval    time.Duration
	ChainIDs        []uint64
	CursorDBPath    string

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string

	ClickhouseDSN string

	ProcessorBaseURL  string
	ProcessorSecret   string
	WebhookSecret     string
	ProcessorTimeout  time.Duration
	PayoutMaxAttempts int
	PayoutInterval    time.Duration

	RateURL       string
	RateCacheTTL  time.Duration
	StaticRate    decimal.Decimal
	BaseCurrency  string
	QuoteCurrency string
	MinPayout     decimal.Decimal
	Tokens        []string

	SigningKey string

	StuckThreshold      time.Duration
	OrphanMaxAttempts   int
	OrphanRetryInterval time.Duration

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	cfg := Config{
		HTTPAddr:         lookupString(source, "HTTP_ADDR", ":8080"),
		DBDSN:            lookupString(source, "DB_DSN", "root:@tcp(127.0.0.1:3306)/rampbridge?parseTime=true&multiStatements=true"),
		RedisAddr:        lookupString(source, "REDIS_ADDR", "127.0.0.1:6379"),
		OtelEndpoint:     lookupString(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RPCURL:           lookupString(source, "RPC_URL", ""),
		ContractAddress:  strings.ToLower(lookupString(source, "CONTRACT_ADDRESS", "")),
		WithdrawalTopic:  strings.ToLower(lookupString(source, "WITHDRAWAL_TOPIC", "")),
		TransferTopic:    strings.ToLower(lookupString(source, "TRANSFER_TOPIC", "")),
		CursorDBPath:     lookupString(source, "CURSOR_DB_PATH", ""),
		KafkaTopicPrefix: lookupString(source, "KAFKA_TOPIC_PREFIX", "rampbridge-events"),
		KafkaGroupID:     lookupString(source, "KAFKA_GROUP_ID", "rampbridge-indexer"),
		ClickhouseDSN:    lookupString(source, "CLICKHOUSE_DSN", ""),
		ProcessorBaseURL: lookupString(source, "PROCESSOR_BASE_URL", ""),
		ProcessorSecret:  lookupString(source, "PROCESSOR_SECRET_KEY", ""),
		WebhookSecret:    lookupString(source, "PROCESSOR_WEBHOOK_SECRET", ""),
		RateURL:          lookupString(source, "RATE_URL", ""),
		BaseCurrency:     lookupString(source, "BASE_CURRENCY", "USD"),
		QuoteCurrency:    lookupString(source, "QUOTE_CURRENCY", "NGN"),
		SigningKey:       lookupString(source, "SIGNING_KEY", ""),
		LogLevel:         lookupString(source, "LOG_LEVEL", "info"),
		LogFile:          lookupString(source, "LOG_FILE", ""),
	}

	var err error
	if cfg.StartBlock, err = parseUintEnv(source, "START_BLOCK", 0); err != nil {
		return Config{}, err
	}
	if cfg.Confirmations, err = parseUintEnv(source, "CONFIRMATIONS", 0); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize, err = parseUintEnv(source, "BATCH_SIZE", 1000); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ChainIDs, err = parseUintList(source, "CHAIN_IDS"); err != nil {
		return Config{}, err
	}
	if cfg.KafkaBrokers, err = parseList(source, "KAFKA_BROKERS", "localhost:9092"); err != nil {
		return Config{}, err
	}
	if cfg.ProcessorTimeout, err = parseDurationEnv(source, "PROCESSOR_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PayoutMaxAttempts, err = parseIntEnv(source, "PAYOUT_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.PayoutInterval, err = parseDurationEnv(source, "PAYOUT_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RateCacheTTL, err = parseDurationEnv(source, "RATE_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.StaticRate, err = parseDecimalEnv(source, "STATIC_RATE", decimal.Zero); err != nil {
		return Config{}, err
	}
	if cfg.MinPayout, err = parseDecimalEnv(source, "MIN_PAYOUT_NGN", decimal.NewFromInt(100)); err != nil {
		return Config{}, err
	}
	if cfg.Tokens, err = parseList(source, "TOKENS", "USDC,USDT"); err != nil {
		return Config{}, err
	}
	if cfg.StuckThreshold, err = parseDurationEnv(source, "STUCK_THRESHOLD", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.OrphanMaxAttempts, err = parseIntEnv(source, "ORPHAN_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if cfg.OrphanRetryInterval, err = parseDurationEnv(source, "ORPHAN_RETRY_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LogMaxSizeMB, err = parseIntEnv(source, "LOG_MAX_SIZE_MB", 100); err != nil {
		return Config{}, err
	}
	if cfg.LogMaxBackups, err = parseIntEnv(source, "LOG_MAX_BACKUPS", 3); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lookupString(source EnvSource, key, defaultValue string) string {
	if raw, ok := source.Lookup(key); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw)
	}
	return defaultValue
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseIntEnv(source EnvSource, key string, defaultValue int) (int, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDecimalEnv(source EnvSource, key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}

func parseUintList(source EnvSource, key string) ([]uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	values := make([]uint64, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		values = append(values, parsed)
	}
	return values, nil
}
