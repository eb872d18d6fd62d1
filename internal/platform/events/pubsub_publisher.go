package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/garage-pos/settlement/internal/services"
)

// Message is the JSON payload published for every settlement event.
type Message struct {
	EventID          string    `json:"eventId"`
	Type             string    `json:"type"`
	OrderID          string    `json:"orderId"`
	InvoiceID        string    `json:"invoiceId"`
	ProviderID       string    `json:"providerId,omitempty"`
	TechnicianID     string    `json:"technicianId,omitempty"`
	CommissionID     string    `json:"commissionId,omitempty"`
	TotalAmount      string    `json:"totalAmount"`
	CommissionAmount string    `json:"commissionAmount,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// PubSubPublisher publishes settlement events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

var _ services.SettlementEventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed settlement event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub settlement publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID: func() string {
			return ulid.MustNew(ulid.Now(), rand.Reader).String()
		},
	}, nil
}

// PublishSettlementEvent sends the event and waits for the server acknowledgement.
func (p *PubSubPublisher) PublishSettlementEvent(ctx context.Context, event services.SettlementEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub settlement publisher: not initialised")
	}

	msg := Message{
		EventID:      p.newID(),
		Type:         event.Type,
		OrderID:      event.OrderID,
		InvoiceID:    event.InvoiceID,
		ProviderID:   event.ProviderID,
		TechnicianID: event.TechnicianID,
		CommissionID: event.CommissionID,
		TotalAmount:  event.TotalAmount.StringFixed(2),
		OccurredAt:   event.OccurredAt.UTC(),
	}
	if event.CommissionID != "" {
		msg.CommissionAmount = event.CommissionAmount.StringFixed(2)
	}

	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal settlement event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", msg.EventID)
	setAttr(attrs, "type", msg.Type)
	setAttr(attrs, "orderId", msg.OrderID)
	setAttr(attrs, "invoiceId", msg.InvoiceID)
	setAttr(attrs, "technicianId", msg.TechnicianID)
	setAttr(attrs, "commissionId", msg.CommissionID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish settlement event: %w", err)
	}
	return nil
}

// Ping reports whether the topic exists, for readiness probes.
func (p *PubSubPublisher) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pubsub topic %s does not exist", p.topic.ID())
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
