package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ConsumerConfig holds Kafka consumer settings.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

// Consumer reads party lifecycle events from a Kafka topic and feeds them
// to the batch processor, one partition-ordered batch at a time. Processing
// is synchronous: the claim loop blocks until the batch transaction commits
// and is acknowledged before fetching more.
type Consumer struct {
	config        ConsumerConfig
	consumerGroup sarama.ConsumerGroup
	processor     *BatchProcessor
	logger        *zap.Logger
}

// NewConsumer constructs a Consumer. The consumer group is injected so
// tests can fake it.
func NewConsumer(cfg ConsumerConfig, group sarama.ConsumerGroup, processor *BatchProcessor, logger *zap.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &Consumer{
		config:        cfg,
		consumerGroup: group,
		processor:     processor,
		logger:        logger,
	}
}

// NewConsumerGroup creates a sarama consumer group with manual offset
// commits, which is what makes batch-level acknowledgment possible.
func NewConsumerGroup(cfg ConsumerConfig) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = false
	config.Consumer.Return.Errors = true
	return sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
}

// Start runs the consumer loop until the context is cancelled or the group
// is closed.
func (c *Consumer) Start(ctx context.Context) error {
	defer func() {
		if err := c.consumerGroup.Close(); err != nil {
			c.logger.Warn("failed to close consumer group", zap.Error(err))
		}
	}()

	c.logger.Info("event consumer started",
		zap.String("topic", c.config.Topic),
		zap.String("group_id", c.config.GroupID),
		zap.Int("batch_size", c.config.BatchSize),
	)

	for {
		err := c.consumerGroup.Consume(ctx, []string{c.config.Topic}, c)
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return err
			}
			c.logger.Error("consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			c.logger.Info("context cancelled, stopping consumer")
			return ctx.Err()
		}
	}
}

// Setup logs the partition assignment when a session starts.
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	for topic, partitions := range session.Claims() {
		c.logger.Info("partition assignment",
			zap.String("topic", topic),
			zap.Int32s("partitions", partitions),
		)
	}
	return nil
}

// Cleanup is called when the session ends.
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	c.logger.Info("consumer session cleanup complete")
	return nil
}

// ConsumeClaim drains one partition. Messages are grouped into batches of
// up to BatchSize (flushing after FlushInterval of quiet) and handed to the
// batch processor. A failed batch returns an error so the session restarts
// from the last committed offset, redelivering the batch.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	msgs := claim.Messages()
	for {
		messages, ok := c.collectBatch(session.Context(), msgs)
		if len(messages) > 0 {
			batch := make([]Envelope, 0, len(messages))
			for _, msg := range messages {
				envelope, err := decodeMessage(msg)
				if err != nil {
					// Corrupt envelope bytes are logged and skipped; they
					// carry no decodable change to project.
					c.logger.Error("failed to decode event envelope",
						zap.Error(err),
						zap.Int64("offset", msg.Offset),
						zap.Int32("partition", msg.Partition),
					)
					continue
				}
				batch = append(batch, envelope)
			}

			last := messages[len(messages)-1]
			ack := &sessionAcker{session: session, last: last}
			if _, err := c.processor.HandleBatch(session.Context(), batch, ack); err != nil {
				return err
			}
		}
		if !ok {
			return nil
		}
	}
}

// collectBatch reads up to BatchSize messages, flushing early after
// FlushInterval without traffic. Returns ok=false when the claim channel
// closed (rebalance or shutdown).
func (c *Consumer) collectBatch(ctx context.Context, msgs <-chan *sarama.ConsumerMessage) ([]*sarama.ConsumerMessage, bool) {
	var batch []*sarama.ConsumerMessage

	select {
	case msg, ok := <-msgs:
		if !ok {
			return batch, false
		}
		batch = append(batch, msg)
	case <-ctx.Done():
		return batch, false
	}

	timer := time.NewTimer(c.config.FlushInterval)
	defer timer.Stop()

	for len(batch) < c.config.BatchSize {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return batch, false
			}
			batch = append(batch, msg)
		case <-timer.C:
			return batch, true
		case <-ctx.Done():
			return batch, false
		}
	}
	return batch, true
}

func decodeMessage(msg *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return Envelope{}, err
	}
	if envelope.SourceID == "" {
		envelope.SourceID = string(msg.Key)
	}
	return envelope, nil
}

// sessionAcker acknowledges a batch against the consumer group session.
// Ack marks and commits past the batch's last message; Nack leaves offsets
// untouched and pauses before the session redelivers.
type sessionAcker struct {
	session sarama.ConsumerGroupSession
	last    *sarama.ConsumerMessage
}

func (a *sessionAcker) Ack() {
	a.session.MarkMessage(a.last, "")
	a.session.Commit()
}

func (a *sessionAcker) Nack(delay time.Duration) {
	if delay > 0 {
		select {
		case <-a.session.Context().Done():
		case <-time.After(delay):
		}
	}
}
