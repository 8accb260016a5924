package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
	"github.com/mohammed-shakir/survey-spatial-api/internal/invalidation"
	mylog "github.com/mohammed-shakir/survey-spatial-api/internal/logger"
)

// Invalidator drops cached state intersecting a bound and reports how many
// entries were removed.
type Invalidator interface {
	Invalidate(b orb.Bound) int
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Invalidator
	seen   *eventDedupe
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, target Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	zl := mylog.Build(mylog.Config{Level: "info", Component: "kafka_consumer"}, nil)
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		target: target,
		seen:   newEventDedupe(cfg.DedupeSize),
		zlog:   mylog.FromContext(base, &zl),
	}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing invalidation target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(c.cfg.RetryBackoff):
				}
			}
		}
	}
}

// ProcessOne applies a single event. Undecodable and invalid events are
// logged, counted and skipped so they do not stall the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.poison(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.poison(ctx, msg, "invalid", err)
		return nil
	}
	if ev.ID != "" && !c.seen.firstSeen(ev.ID) {
		obs.IncInvalidationSkipped(ev.Op)
		c.logger.Debug("duplicate invalidation event skipped", "event_id", ev.ID)
		return nil
	}

	b, err := ev.Bound()
	if err != nil {
		obs.ObserveInvalidation(ev.Op, 0, time.Since(start).Seconds(), err)
		return fmt.Errorf("event bound: %w", err)
	}
	n := c.target.Invalidate(b)
	obs.ObserveInvalidation(ev.Op, n, time.Since(start).Seconds(), nil)

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Str("source", ev.Source).
		Str("feature_id", ev.FeatureID).
		Int("entries", n).
		Msg("invalidated cached feature queries")
	return nil
}

func (c *Consumer) poison(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	mylog.FromContext(ctx, c.zlog).Error().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("skipping invalidation message")
}

type eventDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newEventDedupe(size int) *eventDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &eventDedupe{lru: c}
}

// firstSeen records id and reports whether it was new.
func (d *eventDedupe) firstSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lru.Contains(id) {
		return false
	}
	d.lru.Add(id, struct{}{})
	return true
}
