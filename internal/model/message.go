package model

import (
	"encoding/json"
	"time"
)

type Status string

const (
	Received Status = "received"
	Replied  Status = "replied"
	Failed   Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case Received, Replied, Failed:
		return true
	}
	return false
}

// CanTransition reports whether a message may move from s to next.
// Only received -> replied and received -> failed are allowed.
func (s Status) CanTransition(next Status) bool {
	return s == Received && (next == Replied || next == Failed)
}

type Message struct {
	ID                string          `json:"id"`
	ProviderMessageID string          `json:"providerMessageId"`
	Sender            string          `json:"sender"`
	Body              string          `json:"body"`
	ProviderTimestamp string          `json:"providerTimestamp,omitempty"`
	Response          *string         `json:"response,omitempty"`
	Status            Status          `json:"status"`
	RawPayload        json.RawMessage `json:"rawPayload,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}
