package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/TempLink/internal/app/model"
	apprepository "github.com/sifan077/TempLink/internal/app/repository"
	"go.uber.org/zap"
)

const (
	eventFetchBatch   = 10
	eventFetchMaxWait = 5 * time.Second
)

// LinkEventConsumer stores link lifecycle events from NATS JetStream in the audit trail.
type LinkEventConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   apprepository.LinkEventRepository

	stopChan chan struct{}
	done     chan struct{}
}

// NewLinkEventConsumer creates a new lifecycle event consumer.
func NewLinkEventConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.LinkEventRepository) *LinkEventConsumer {
	return &LinkEventConsumer{
		js:       js,
		logger:   logger,
		repo:     repo,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start creates the stream and durable consumer when missing and begins consuming.
func (c *LinkEventConsumer) Start() error {
	if err := ensureLinkStream(c.js); err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.LinkStreamName, model.LinkConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.LinkStreamName, &nats.ConsumerConfig{
			Durable:   model.LinkConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.LinkStreamSubject, model.LinkConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(sub)
	return nil
}

// Stop ends the fetch loop and waits for the in-flight batch.
func (c *LinkEventConsumer) Stop() {
	close(c.stopChan)
	<-c.done
}

func (c *LinkEventConsumer) consume(sub *nats.Subscription) {
	defer close(c.done)
	ctx := context.Background()

	for {
		select {
		case <-c.stopChan:
			c.logger.Info("link event consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(eventFetchBatch, nats.MaxWait(eventFetchMaxWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			select {
			case <-c.stopChan:
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *LinkEventConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var event model.LinkEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// A payload that never decodes would be redelivered forever.
		c.logger.Error("dropping undecodable link event", zap.Error(err))
		_ = msg.Term()
		return
	}

	if err := c.repo.Create(ctx, &event); err != nil {
		c.logger.Error("failed to store link event",
			zap.String("id", event.ID),
			zap.String("identifier", event.Identifier),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	c.logger.Debug("link event stored",
		zap.String("id", event.ID),
		zap.String("kind", event.Kind),
		zap.String("identifier", event.Identifier),
		zap.Time("timestamp", event.Timestamp),
	)
	_ = msg.Ack()
}
