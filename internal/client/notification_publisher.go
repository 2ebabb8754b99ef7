package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-hr-workflows/internal/natsclient"
)

// NotificationPublisher publishes workflow events to NATS JetStream for
// consumption by the be-plt-notifications service.
//
// Subject convention: notifications.hr.<event_type>
// Event types: approval_requested, approval_advanced, approval_approved,
//              approval_rejected, approval_withdrawn, approval_on_hold,
//              approval_escalated, deadline_warning, deadline_overdue,
//              deadline_escalated
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt workflow
// operations.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	Recipients   []string       `json:"recipients"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// Notify publishes one workflow notification addressed to a single actor.
// Subject: notifications.hr.<eventType>. Fire-and-forget: the return path is
// never consulted by the engine.
func (p *NotificationPublisher) Notify(ctx context.Context, eventType, actorID, title, message, relatedEntityID, relatedEntityType string) {
	if p.nats == nil {
		return
	}
	if actorID == "" {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		Recipients:   []string{actorID},
		Title:        title,
		Message:      message,
		ResourceType: relatedEntityType,
		ResourceID:   relatedEntityID,
		IsActionable: true,
		Severity:     "info",
		Category:     "hr_workflow",
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.hr.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("recipient", actorID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("recipient", actorID).
		Msg("notification: event published")
}
