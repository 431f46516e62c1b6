package main

import (
	"context"
	"fmt"
	"log/slog"

	"didledger/internal/anchor"
	"didledger/internal/anchor/ethereum"
	"didledger/internal/anchor/kafka"
	"didledger/internal/anchor/node"
	"didledger/internal/did/service"
	"didledger/internal/did/store/memory"
	"didledger/internal/did/store/postgres"
	redisstore "didledger/internal/did/store/redis"
	"didledger/internal/did/store/sqlite"
	"didledger/internal/platform/config"
	"didledger/internal/platform/redis"
	"didledger/pkg/platform/audit"
	auditmemory "didledger/pkg/platform/audit/store/memory"
	auditpostgres "didledger/pkg/platform/audit/store/postgres"
	"didledger/pkg/platform/circuit"
)

func noop() {}

// buildStore opens the configured document store.
func buildStore(ctx context.Context, cfg config.Server) (service.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.New(client.Client), func() { _ = client.Close() }, nil
	case config.StoreMemory:
		return memory.New(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// buildAudit keeps audit events next to the documents when the store is
// PostgreSQL and in a bounded memory window otherwise.
func buildAudit(ctx context.Context, cfg config.Server, store service.Store, log *slog.Logger) (*audit.Publisher, error) {
	var auditStore audit.Store = auditmemory.NewInMemoryStore(cfg.Audit.MemoryCapacity)
	if pg, ok := store.(*postgres.Store); ok {
		s := auditpostgres.New(pg.DB())
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		auditStore = s
	}
	return audit.NewPublisher(auditStore,
		audit.WithSampler(audit.NewSampler(cfg.Audit.OpsSampleRate)),
		audit.WithPublisherLogger(log),
	), nil
}

// buildGateway connects the configured registry gateway. A nil gateway
// disables anchoring.
func buildGateway(ctx context.Context, cfg config.Server, log *slog.Logger) (anchor.Gateway, func(), error) {
	a := cfg.Anchor
	switch a.Gateway {
	case config.GatewayNone:
		return nil, noop, nil
	case config.GatewayLog:
		return anchor.NewLogGateway(log), noop, nil
	case config.GatewayKafka:
		g, err := kafka.New(kafka.Config{Brokers: a.KafkaBrokers, Topic: a.KafkaTopic})
		if err != nil {
			return nil, nil, err
		}
		if err := g.EnsureTopic(ctx); err != nil {
			// Brokers may be down at start; the dispatcher retries delivery.
			log.Warn("could not ensure anchor topic", "topic", a.KafkaTopic, "error", err)
		}
		return g, g.Close, nil
	case config.GatewayEthereum:
		g, err := ethereum.Dial(ctx, ethereum.Config{
			RPCURL:          a.EthRPCURL,
			ContractAddress: a.EthContractAddress,
			ChainID:         a.EthChainID,
			PrivateKeyHex:   a.EthPrivateKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case config.GatewayNode:
		g, err := node.New(a.NodeURL)
		if err != nil {
			return nil, nil, err
		}
		return g, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown anchor gateway %q", a.Gateway)
	}
}

func newDispatcher(cfg config.AnchorConfig, gateway anchor.Gateway, log *slog.Logger, m *anchor.Metrics) *anchor.Dispatcher {
	breaker := circuit.New("anchor-"+gateway.Name(),
		circuit.WithFailureThreshold(cfg.BreakerThreshold),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)
	return anchor.NewDispatcher(gateway,
		anchor.WithLogger(log),
		anchor.WithMetrics(m),
		anchor.WithBufferSize(cfg.BufferSize),
		anchor.WithBreaker(breaker),
	)
}
