package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type FeatureCfg struct {
	Store       string // memory | postgis
	File        string
	DatabaseURL string
	Table       string
	CacheSize   int
	CacheTTL    time.Duration
}

type ResponseCfg struct {
	Store     string // memory | redis
	RedisAddr string
	H3Res     int
	MaxCells  int
}

type EventsCfg struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

type InvalidationCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type Config struct {
	Addr           string
	APIPrefix      string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	Features       FeatureCfg
	Responses      ResponseCfg
	IngestWorkers  int
	MaxBatchBytes  int64
	StoreOpTimeout time.Duration
	Events         EventsCfg
	Invalidation   InvalidationCfg
	PublicAnswers  bool
	AdminToken     string
}

func FromEnv() Config {
	res := getint("H3_RES", 9)
	if res < 0 || res > 15 {
		res = 9
	}
	brokers := splitCSV(getenv("KAFKA_BROKERS", "localhost:9092"))

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		APIPrefix:  normalizePrefix(getenv("API_PREFIX", "")),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		Features: FeatureCfg{
			Store:       strings.ToLower(getenv("FEATURE_STORE", "memory")),
			File:        getenv("FEATURES_FILE", ""),
			DatabaseURL: getenv("DATABASE_URL", ""),
			Table:       getenv("FEATURES_TABLE", "features"),
			CacheSize:   getint("FEATURE_CACHE_SIZE", 1024),
			CacheTTL:    getduration("FEATURE_CACHE_TTL", 5*time.Minute),
		},
		Responses: ResponseCfg{
			Store:     strings.ToLower(getenv("RESPONSE_STORE", "memory")),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			H3Res:     res,
			MaxCells:  getint("RESPONSES_MAX_CELLS", 4096),
		},
		IngestWorkers:  getint("INGEST_WORKERS", 8),
		MaxBatchBytes:  int64(getint("MAX_BATCH_BYTES", 8<<20)),
		StoreOpTimeout: getduration("STORE_OP_TIMEOUT", 5*time.Second),
		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   brokers,
			Topic:     getenv("EVENTS_TOPIC", "survey-responses"),
			QueueSize: getint("EVENTS_QUEUE_SIZE", 1024),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: brokers,
			Topic:   getenv("KAFKA_TOPIC", "catalog-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "survey-feature-cache"),
		},
		PublicAnswers: getbool("PUBLIC_ANSWERS", true),
		AdminToken:    getenv("ADMIN_TOKEN", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizePrefix turns "api/" into "/api"; "/" and "" mean no prefix.
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
