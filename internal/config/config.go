package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ChainEndpoint names a chain and the JSON-RPC node used to resolve its
// transaction hashes.
type ChainEndpoint struct {
	Name   string
	RPCURL string
}

type Config struct {
	MongoURI          string
	MongoDatabase     string
	MongoCollection   string
	ChainField        string
	TimeField         string
	Chains            []ChainEndpoint
	MinTimestamp      time.Time
	MaxTimestamp      *time.Time
	ScanWorkers       int
	ResolveTimeout    time.Duration
	RPCRateLimit      float64
	RedisAddr         string
	ResolverCacheTTL  time.Duration
	ResultsSQLitePath string
	ResultsMySQLDSN   string
	KafkaBrokers      []string
	KafkaTopicPrefix  string
	KafkaGroupID      string
	OutputDir         string
	HTTPAddr          string
	OtelEndpoint      string
	LogLevel          string
	LogFile           string
	LogMaxSizeMB      int
	LogMaxBackups     int
}

// Chain returns the endpoint configured for name.
func (c Config) Chain(name string) (ChainEndpoint, bool) {
	for _, chain := range c.Chains {
		if chain.Name == name {
			return chain, true
		}
	}
	return ChainEndpoint{}, false
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

	// MONGO_URI is checked by the commands that scan; collect and export never
	// touch the capture database.
	mongoURI, _ := source.Lookup("MONGO_URI")
	mongoDatabase, _ := source.Lookup("MONGO_DATABASE")

	chains, err := parseChainEndpoints(source, "CHAIN_RPC_URLS")
	if err != nil {
		return Config{}, err
	}

	minTimestamp, err := parseTimeEnv(source, "MIN_TIMESTAMP")
	if err != nil {
		return Config{}, err
	}
	var maxTimestamp *time.Time
	if parsed, err := parseTimeEnv(source, "MAX_TIMESTAMP"); err != nil {
		return Config{}, err
	} else if !parsed.IsZero() {
		maxTimestamp = &parsed
	}
	if maxTimestamp != nil && maxTimestamp.Before(minTimestamp) {
		return Config{}, errors.New("MAX_TIMESTAMP is before MIN_TIMESTAMP")
	}

	scanWorkers, err := parseUintEnv(source, "SCAN_WORKERS", 1)
	if err != nil {
		return Config{}, err
	}
	if scanWorkers == 0 {
		scanWorkers = 1
	}
	resolveTimeout, err := parseDurationEnv(source, "RESOLVE_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	rpcRateLimit := 0.0
	if raw, ok := source.Lookup("RPC_RATE_LIMIT"); ok && strings.TrimSpace(raw) != "" {
		rpcRateLimit, err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || rpcRateLimit < 0 {
			return Config{}, fmt.Errorf("invalid RPC_RATE_LIMIT: %q", raw)
		}
	}

	redisAddr, _ := source.Lookup("REDIS_ADDR")
	resolverCacheTTL, err := parseDurationEnv(source, "RESOLVER_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	sqlitePath, _ := source.Lookup("RESULTS_SQLITE_PATH")
	mysqlDSN, _ := source.Lookup("RESULTS_MYSQL_DSN")

	kafkaBrokers := parseList(source, "KAFKA_BROKERS")
	kafkaTopicPrefix, ok := source.Lookup("KAFKA_TOPIC_PREFIX")
	if !ok || strings.TrimSpace(kafkaTopicPrefix) == "" {
		kafkaTopicPrefix = "addrscan"
	}

	outputDir, ok := source.Lookup("OUTPUT_DIR")
	if !ok || strings.TrimSpace(outputDir) == "" {
		outputDir = "."
	}
	httpAddr, _ := source.Lookup("HTTP_ADDR")
	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		MongoURI:          strings.TrimSpace(mongoURI),
		MongoDatabase:     strings.TrimSpace(mongoDatabase),
		MongoCollection:   lookupDefault(source, "MONGO_COLLECTION", "requests"),
		ChainField:        lookupDefault(source, "RECORD_CHAIN_FIELD", "chain"),
		TimeField:         lookupDefault(source, "RECORD_TIME_FIELD", "timestamp"),
		Chains:            chains,
		MinTimestamp:      minTimestamp,
		MaxTimestamp:      maxTimestamp,
		ScanWorkers:       int(scanWorkers),
		ResolveTimeout:    resolveTimeout,
		RPCRateLimit:      rpcRateLimit,
		RedisAddr:         strings.TrimSpace(redisAddr),
		ResolverCacheTTL:  resolverCacheTTL,
		ResultsSQLitePath: strings.TrimSpace(sqlitePath),
		ResultsMySQLDSN:   strings.TrimSpace(mysqlDSN),
		KafkaBrokers:      kafkaBrokers,
		KafkaTopicPrefix:  kafkaTopicPrefix,
		KafkaGroupID:      lookupDefault(source, "KAFKA_GROUP_ID", "addrscan-collect"),
		OutputDir:         outputDir,
		HTTPAddr:          strings.TrimSpace(httpAddr),
		OtelEndpoint:      strings.TrimSpace(otelEndpoint),
		LogLevel:          logLevel,
		LogFile:           strings.TrimSpace(logFile),
		LogMaxSizeMB:      int(logMaxSize),
		LogMaxBackups:     int(logMaxBackups),
	}, nil
}

func lookupDefault(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
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

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseTimeEnv(source EnvSource, key string) (time.Time, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	parsed, err := ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// ParseTime accepts RFC3339 timestamps, plain dates and unix seconds.
func ParseTime(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}

// parseChainEndpoints reads "name=url,name=url". Order is kept.
func parseChainEndpoints(source EnvSource, key string) ([]ChainEndpoint, error) {
	items := parseList(source, key)
	chains := make([]ChainEndpoint, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		name, url, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid %s entry %q: want name=url", key, item)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("invalid %s: chain %q listed twice", key, name)
		}
		seen[name] = struct{}{}
		chains = append(chains, ChainEndpoint{Name: name, RPCURL: url})
	}
	return chains, nil
}
