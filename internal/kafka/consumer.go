package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"log/slog"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/arcade-sync/internal/config"
	"github.com/arcade-sync/internal/domain"
)

// TelemetryHandler applies ingested telemetry events
type TelemetryHandler interface {
	ApplyHeartbeat(ctx context.Context, userID uuid.UUID, seconds int64) error
	ApplySessionStart(ctx context.Context, userID uuid.UUID, gameID string, consoleType domain.ConsoleType) error
}

// Consumer ingests play telemetry from Kafka as an alternative to the
// HTTP heartbeat path. Heartbeats are batched per user so a burst of
// events becomes one playtime increment.
type Consumer struct {
	config        *config.KafkaConfig
	handler       TelemetryHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler TelemetryHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming telemetry from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes telemetry from a topic partition. Heartbeat
// seconds are summed per user and flushed as one increment per batch;
// session starts flow through immediately.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	heartbeats := make(map[uuid.UUID]int64, cfg.BatchSize)
	batched := 0
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flushHeartbeats := func() {
		if batched == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for userID, seconds := range heartbeats {
			if err := h.consumer.handler.ApplyHeartbeat(ctx, userID, seconds); err != nil {
				h.consumer.logger.Error("failed to apply heartbeat batch",
					"error", err, "user_id", userID, "seconds", seconds)
			}
			delete(heartbeats, userID)
		}

		h.consumer.logger.Debug("flushed heartbeat batch", "events", batched)
		batched = 0
	}

	for {
		select {
		case <-session.Context().Done():
			flushHeartbeats()
			return nil

		case <-batchTimer.C:
			flushHeartbeats()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flushHeartbeats()
				return nil
			}

			var event domain.TelemetryEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				h.consumer.logger.Warn("failed to unmarshal telemetry event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if event.UserID == uuid.Nil {
				h.consumer.logger.Warn("telemetry event without user", "event_type", event.EventType)
				session.MarkMessage(message, "")
				continue
			}

			switch event.EventType {
			case domain.EventHeartbeat:
				if event.Seconds > 0 {
					heartbeats[event.UserID] += event.Seconds
					batched++
				}

			case domain.EventSessionStart:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := h.consumer.handler.ApplySessionStart(ctx, event.UserID, event.GameID, event.ConsoleType); err != nil {
					h.consumer.logger.Error("failed to apply session start",
						"error", err, "user_id", event.UserID, "game_id", event.GameID)
				}
				cancel()

			default:
				h.consumer.logger.Warn("unknown telemetry event type", "event_type", event.EventType)
			}

			session.MarkMessage(message, "")

			if batched >= cfg.BatchSize {
				flushHeartbeats()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
