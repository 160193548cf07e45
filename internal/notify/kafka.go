package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher publishes order events to a Kafka topic
type EventPublisher struct {
	writer messageWriter
}

// NewKafkaWriter creates the writer used for order events
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
}

// NewEventPublisher publishes through writer
func NewEventPublisher(writer messageWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

func (p *EventPublisher) Name() string {
	return "kafka"
}

type orderEvent struct {
	Event          string    `json:"event"`
	OrderID        uint      `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	CustomerID     uint      `json:"customerId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	TotalAmount    string    `json:"totalAmount"`
	ItemCount      int       `json:"itemCount"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (p *EventPublisher) Notify(ctx context.Context, event Event) error {
	order := event.Order
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	payload, err := json.Marshal(orderEvent{
		Event:          string(event.Kind),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		Status:         string(order.Status),
		PreviousStatus: string(event.PreviousStatus),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		ItemCount:      items,
		OccurredAt:     event.OccurredAt.UTC(),
	})
	if err != nil {
		return err
	}

	// keyed by order so every event of one order lands on the same partition
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("order-%d", order.ID)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.Kind)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for order %d: %w", event.Kind, order.ID, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
