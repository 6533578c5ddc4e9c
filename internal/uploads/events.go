package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

// Event kinds carried on the uploads topic.
const (
	EventKindProcess = "process"
	EventKindArchive = "archive"

	attrEventKind = "kind"
)

// Event asks the worker to run one pipeline stage for an upload.
type Event struct {
	UploadID uuid.UUID `json:"upload_id"`
	Kind     string    `json:"kind"`
}

// EventPublisher hands upload events to the worker.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher is the Pub/Sub backed EventPublisher.
type Publisher struct {
	pub *pubsub.Publisher
}

// NewPublisher wraps a topic publisher handle.
func NewPublisher(pub *pubsub.Publisher) (*Publisher, error) {
	if pub == nil {
		return nil, errors.New("topic publisher is required")
	}
	return &Publisher{pub: pub}, nil
}

// Publish sends the event and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.UploadID == uuid.Nil {
		return errors.New("upload id is required")
	}
	if event.Kind != EventKindProcess && event.Kind != EventKindArchive {
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding upload event: %w", err)
	}

	result := p.pub.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{attrEventKind: event.Kind},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing upload event: %w", err)
	}
	return nil
}

// ParseEvent decodes an event payload from a message body.
func ParseEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decoding upload event: %w", err)
	}
	if event.UploadID == uuid.Nil {
		return Event{}, errors.New("upload event missing upload id")
	}
	if event.Kind != EventKindProcess && event.Kind != EventKindArchive {
		return Event{}, fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return event, nil
}
