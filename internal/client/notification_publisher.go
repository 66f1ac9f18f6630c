package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	natsclient "github.com/pesio-ai/be-fiscal-issuance/internal/common/nats"
)

// NotificationPublisher publishes fiscal document events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.fiscal.<event_type>
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// issuance. Durable delivery is handled by the unpublished-event poller,
// not by this publisher.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	TenantID     string         `json:"tenant_id"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishDocumentIssued publishes a "document issued" notification after the
// issuance transaction has committed.
func (p *NotificationPublisher) PublishDocumentIssued(ctx context.Context, documentID, tenantID, clientID, documentNumber, grandTotal string) {
	p.publish(ctx, "document_issued", tenantID, documentID, map[string]any{
		"document_id":     documentID,
		"tenant_id":       tenantID,
		"client_id":       clientID,
		"document_number": documentNumber,
		"grand_total":     grandTotal,
	})
}

func (p *NotificationPublisher) publish(ctx context.Context, eventType, tenantID, resourceID string, payload map[string]any) {
	if p.nats == nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		TenantID:     tenantID,
		ResourceType: "fiscal_document",
		ResourceID:   resourceID,
		Severity:     "info",
		Category:     "fiscal_issuance",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.fiscal.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Msg("notification: event published")
}
