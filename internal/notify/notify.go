// Package notify publishes audit status transitions for consumers that prefer events over polling.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/constants"
	"github.com/joseph-ayodele/invoice-audit/internal/entity"
)

// StatusEvent is published once per terminal transition.
type StatusEvent struct {
	AuditID            uuid.UUID             `json:"audit_id"`
	ContractID         string                `json:"contract_id"`
	Status             constants.AuditStatus `json:"status"`
	TotalDiscrepancies *int                  `json:"total_discrepancies,omitempty"`
	ErrorMessage       *string               `json:"error_message,omitempty"`
	OccurredAt         time.Time             `json:"occurred_at"`
}

// EventFor builds the event describing rec's current state.
func EventFor(rec *entity.AuditRecord, at time.Time) StatusEvent {
	return StatusEvent{
		AuditID:            rec.ID,
		ContractID:         rec.ContractID,
		Status:             rec.Status,
		TotalDiscrepancies: rec.TotalDiscrepancies,
		ErrorMessage:       rec.ErrorMessage,
		OccurredAt:         at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StatusEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
