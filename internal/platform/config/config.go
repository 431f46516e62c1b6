package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	liststrings "didledger/pkg/platform/strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
)

// Anchor gateways.
const (
	GatewayLog      = "log"
	GatewayKafka    = "kafka"
	GatewayEthereum = "ethereum"
	GatewayNode     = "node"
	GatewayNone     = "none"
)

// Server captures process-level configuration.
type Server struct {
	Addr            string
	DIDMethod       string
	Store           string
	DatabaseURL     string
	SQLitePath      string
	Redis           RedisConfig
	Anchor          AnchorConfig
	Audit           AuditConfig
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig configures the Redis connection pool.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AnchorConfig selects and configures the registry gateway.
type AnchorConfig struct {
	Gateway          string
	BufferSize       int
	BreakerThreshold int
	BreakerCooldown  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	EthRPCURL          string
	EthContractAddress string
	EthChainID         int64
	EthPrivateKey      string

	NodeURL string
}

// AuditConfig tunes the audit trail. Postgres deployments keep events in the
// database; every other store keeps a bounded in-memory window.
type AuditConfig struct {
	MemoryCapacity int
	OpsSampleRate  float64
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	e := &env{lookup: os.Getenv}
	cfg := Server{
		Addr:            e.str("DIDLEDGER_ADDR", ":8080"),
		DIDMethod:       e.str("DIDLEDGER_DID_METHOD", "web"),
		Store:           strings.ToLower(e.str("DIDLEDGER_STORE", StoreMemory)),
		DatabaseURL:     e.str("DATABASE_URL", ""),
		SQLitePath:      e.str("SQLITE_PATH", "didledger.db"),
		LogLevel:        e.str("LOG_LEVEL", "info"),
		RequestTimeout:  e.duration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Anchor: AnchorConfig{
			Gateway:            strings.ToLower(e.str("ANCHOR_GATEWAY", GatewayLog)),
			BufferSize:         e.int("ANCHOR_BUFFER_SIZE", 1024),
			BreakerThreshold:   e.int("ANCHOR_BREAKER_THRESHOLD", 5),
			BreakerCooldown:    e.duration("ANCHOR_BREAKER_COOLDOWN", 30*time.Second),
			KafkaBrokers:       e.list("KAFKA_BROKERS"),
			KafkaTopic:         e.str("KAFKA_TOPIC", "didledger.anchors"),
			EthRPCURL:          e.str("ETH_RPC_URL", ""),
			EthContractAddress: e.str("ETH_CONTRACT_ADDRESS", ""),
			EthChainID:         int64(e.int("ETH_CHAIN_ID", 0)),
			EthPrivateKey:      e.str("ETH_PRIVATE_KEY", ""),
			NodeURL:            e.str("ANCHOR_NODE_URL", ""),
		},
		Audit: AuditConfig{
			MemoryCapacity: e.int("AUDIT_MEMORY_CAPACITY", 10_000),
			OpsSampleRate:  e.float("AUDIT_OPS_SAMPLE_RATE", 1),
		},
	}
	if err := errors.Join(e.errs...); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c Server) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DIDLEDGER_STORE %q", c.Store))
	}

	switch c.Anchor.Gateway {
	case GatewayLog, GatewayNone:
	case GatewayKafka:
		if len(c.Anchor.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka gateway"))
		}
	case GatewayEthereum:
		if c.Anchor.EthRPCURL == "" || c.Anchor.EthContractAddress == "" || c.Anchor.EthPrivateKey == "" {
			errs = append(errs, errors.New("ETH_RPC_URL, ETH_CONTRACT_ADDRESS and ETH_PRIVATE_KEY are required for the ethereum gateway"))
		}
	case GatewayNode:
		if c.Anchor.NodeURL == "" {
			errs = append(errs, errors.New("ANCHOR_NODE_URL is required for the node gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ANCHOR_GATEWAY %q", c.Anchor.Gateway))
	}

	if c.Anchor.BufferSize <= 0 {
		errs = append(errs, errors.New("ANCHOR_BUFFER_SIZE must be positive"))
	}
	if c.Audit.OpsSampleRate < 0 || c.Audit.OpsSampleRate > 1 {
		errs = append(errs, errors.New("AUDIT_OPS_SAMPLE_RATE must be between 0 and 1"))
	}
	if c.DIDMethod == "" || strings.Contains(c.DIDMethod, ":") {
		errs = append(errs, fmt.Errorf("invalid DIDLEDGER_DID_METHOD %q", c.DIDMethod))
	}
	return errors.Join(errs...)
}

type env struct {
	lookup func(string) string
	errs   []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.lookup(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(e.lookup(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.lookup(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	return liststrings.SplitList(e.lookup(key))
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.lookup(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}
