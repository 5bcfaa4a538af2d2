package dto

import (
	"encoding/json"

	"github.com/noah-isme/course-proposals/internal/models"
)

// CreateProposalRequest is submitted by the upstream proposal generator.
type CreateProposalRequest struct {
	Payload    json.RawMessage `json:"payload" validate:"required"`
	AgentLabel string          `json:"agentLabel" validate:"omitempty,max=64"`
	RunID      *string         `json:"runId" validate:"omitempty,max=128"`
	Present    bool            `json:"present"`
}

// SubmitProposalResponse describes what happened to a submitted proposal.
type SubmitProposalResponse struct {
	Proposal     *models.Proposal    `json:"proposal"`
	AutoIngested bool                `json:"autoIngested"`
	Presented    bool                `json:"presented"`
	DeliveryRef  *models.DeliveryRef `json:"deliveryRef,omitempty"`
	IngestError  string              `json:"ingestError,omitempty"`
}

// CallbackRequest carries a reviewer trigger over HTTP.
type CallbackRequest struct {
	Token          string `json:"token" validate:"required"`
	ActorID        string `json:"actorId" validate:"required"`
	ConversationID string `json:"conversationId"`
}

// CallbackResponse lists the delivery instructions produced for a trigger.
type CallbackResponse struct {
	Instructions []models.Instruction `json:"instructions"`
	Delivered    bool                 `json:"delivered"`
}

// DeliveryRefRequest records where a proposal was presented.
type DeliveryRefRequest struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
}

// SweepResponse reports how many proposals the sweep expired.
type SweepResponse struct {
	Expired int64 `json:"expired"`
}
