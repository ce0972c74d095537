package service

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/TempLink/internal/app/model"
)

// EventPublisher emits link lifecycle events.
type EventPublisher interface {
	Publish(event model.LinkEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.LinkEvent) error { return nil }

// LinkEventPublisher publishes link lifecycle events to NATS JetStream.
type LinkEventPublisher struct {
	js nats.JetStreamContext
}

// NewLinkEventPublisher creates a publisher and makes sure the stream exists.
func NewLinkEventPublisher(js nats.JetStreamContext) (*LinkEventPublisher, error) {
	if err := ensureLinkStream(js); err != nil {
		return nil, err
	}
	return &LinkEventPublisher{js: js}, nil
}

// Publish publishes a lifecycle event to the stream.
func (p *LinkEventPublisher) Publish(event model.LinkEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// The event ID doubles as the JetStream dedup key.
	_, err = p.js.Publish(model.LinkStreamSubject, data, nats.MsgId(event.ID))
	return err
}

func ensureLinkStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.LinkStreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     model.LinkStreamName,
		Subjects: []string{model.LinkStreamSubject},
		MaxBytes: model.LinkStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}
