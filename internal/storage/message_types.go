package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resume-intake/internal/storage/models"
)

// EventCandidateIngested is emitted once per successful ingestion run.
const EventCandidateIngested = "candidate.ingested"

// CandidateIngestedEvent is the broker payload for a new candidate.
type CandidateIngestedEvent struct {
	CandidateID string    `json:"candidate_id"`
	FileName    string    `json:"file_name"`
	Source      string    `json:"source"`
	FullName    string    `json:"full_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Skills      []string  `json:"skills"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// EnqueueEvent writes an outbox row for the relay to publish.
func (s *CandidateStore) EnqueueEvent(ctx context.Context, exchange, routingKey string, evt CandidateIngestedEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := models.OutboxMessage{
		AggregateID:      evt.CandidateID,
		EventType:        EventCandidateIngested,
		Payload:          string(payload),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxPending,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("enqueue %s event for %s: %w", EventCandidateIngested, evt.CandidateID, err)
	}
	return nil
}
