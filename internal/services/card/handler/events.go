package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bbsm-garage/internal/services/reconcile"
)

const (
	EventRecordCreated    = "record_created"
	EventWorkItemsUpdated = "work_items_updated"
	EventRecordDeleted    = "record_deleted"
	EventQuoteConverted   = "quote_converted"
)

type RecordEvent struct {
	EventType   string                 `json:"event_type"`
	TenantID    int64                  `json:"tenant_id"`
	RecordID    int64                  `json:"record_id"`
	Kind        string                 `json:"kind"`
	TotalAmount string                 `json:"total_amount"`
	Adjustments []reconcile.Adjustment `json:"adjustments,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func (s *CardHandler) publishRecordEvent(ctx context.Context, event RecordEvent) error {
	if s.redis == nil {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := fmt.Sprintf("garage:events:%s", event.EventType)
	if err := s.redis.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if err := s.redis.Publish(ctx, "garage:events:all", eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish to all channel: %w", err)
	}

	return nil
}
