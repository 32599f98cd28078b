package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// Message is the wire shape handed from the scheduler (or recovery) to the
// worker tier. One message per claimed occurrence.
type Message struct {
	EventID        string   `json:"eventId"`
	EventType      string   `json:"eventType"`
	IdempotencyKey string   `json:"idempotencyKey"`
	Metadata       Metadata `json:"metadata"`
}

type Metadata struct {
	UserID          string         `json:"userId"`
	DeliveryPayload map[string]any `json:"deliveryPayload"`
}

func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// Delivery is one received message plus the receipt needed to ack it.
type Delivery struct {
	Message      Message
	ReceiveCount int

	// Receipt is implementation-specific; treat as opaque.
	Receipt string
}

var ErrClosed = errors.New("queue closed")

// Queue is the durable FIFO-ish work queue port: at-least-once delivery,
// visibility-timeout redrive, dead-letter routing after repeated receives.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error

	// Receive long-polls for one message (bounded to a few seconds) and
	// returns (nil, nil) when none arrived in time. A received message is
	// invisible to other consumers until its visibility timeout lapses or
	// it is acked.
	Receive(ctx context.Context) (*Delivery, error)

	// Ack removes the message permanently. Only call after the store
	// update for the message has committed.
	Ack(ctx context.Context, d *Delivery) error
}
