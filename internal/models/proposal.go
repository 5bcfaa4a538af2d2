package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ProposalStatus captures the review lifecycle of a proposal.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusIngested ProposalStatus = "ingested"
	ProposalStatusSkipped  ProposalStatus = "skipped"
	ProposalStatusExpired  ProposalStatus = "expired"
	ProposalStatusFailed   ProposalStatus = "failed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalStatusPending, ProposalStatusIngested, ProposalStatusSkipped, ProposalStatusExpired, ProposalStatusFailed:
		return true
	}
	return false
}

// Actionable reports whether ingest/skip may still be applied.
// A failed proposal stays actionable so reviewers can retry.
func (s ProposalStatus) Actionable() bool {
	return s == ProposalStatusPending || s == ProposalStatusFailed
}

// ActionableStatuses is the from-set for every reviewer-driven transition.
var ActionableStatuses = []ProposalStatus{ProposalStatusPending, ProposalStatusFailed}

// Document is a raw JSON document persisted verbatim in a text column.
type Document []byte

// MarshalJSON embeds the document as-is.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (d *Document) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// Value stores the document as text.
func (d Document) Value() (driver.Value, error) {
	return string(d), nil
}

// Scan copies the stored text out of the driver buffer.
func (d *Document) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append(Document(nil), v...)
	case string:
		*d = Document(v)
	default:
		return fmt.Errorf("unsupported document source %T", src)
	}
	return nil
}

// DeliveryRef points at the chat message that presented a proposal.
type DeliveryRef struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Proposal is a generated course record awaiting a reviewer decision.
type Proposal struct {
	ID          string          `db:"proposal_id" json:"proposalId"`
	Payload     Document        `db:"payload_json" json:"payload"`
	PayloadHash string          `db:"payload_hash" json:"payloadHash"`
	CourseName  *string         `db:"course_name" json:"courseName,omitempty"`
	City        *string         `db:"city" json:"city,omitempty"`
	State       *string         `db:"state" json:"state,omitempty"`
	Status      ProposalStatus  `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	ExpiresAt   time.Time       `db:"expires_at" json:"expiresAt"`
	IngestedAt  *time.Time      `db:"ingested_at" json:"ingestedAt,omitempty"`
	CourseID    *string         `db:"course_id" json:"courseId,omitempty"`
	SnapshotID  *string         `db:"snapshot_id" json:"snapshotId,omitempty"`
	AgentLabel  string          `db:"agent_label" json:"agentLabel"`
	RunID       *string         `db:"run_id" json:"runId,omitempty"`
	MessageID   *string         `db:"delivery_message_id" json:"-"`
	ChatID      *string         `db:"delivery_conversation_id" json:"-"`
}

// DeliveryRef returns the presentation message handle, if one was recorded.
func (p *Proposal) DeliveryRef() *DeliveryRef {
	if p == nil || p.MessageID == nil || p.ChatID == nil || *p.MessageID == "" {
		return nil
	}
	return &DeliveryRef{MessageID: *p.MessageID, ConversationID: *p.ChatID}
}

// ExpiredAt reports whether the proposal's review window has closed at now.
func (p *Proposal) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// ProposalSummary is the denormalized listing row for live proposals.
type ProposalSummary struct {
	ID         string    `db:"proposal_id" json:"proposalId"`
	CourseName *string   `db:"course_name" json:"courseName,omitempty"`
	City       *string   `db:"city" json:"city,omitempty"`
	State      *string   `db:"state" json:"state,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt  time.Time `db:"expires_at" json:"expiresAt"`
	AgentLabel string    `db:"agent_label" json:"agentLabel"`
}

// ProposalResolution holds the optional columns written by a transition.
type ProposalResolution struct {
	IngestedAt *time.Time
	CourseID   *string
	SnapshotID *string
}

// CoursePayload is the subset of the proposal document the workflow reads.
type CoursePayload struct {
	Course struct {
		ID      string  `json:"id"`
		Name    *string `json:"name"`
		City    *string `json:"city"`
		State   *string `json:"state"`
		Phone   *string `json:"phone"`
		Domain  *string `json:"domain"`
		Address *struct {
			Formatted *string `json:"formatted"`
			Line1     *string `json:"line1"`
		} `json:"address"`
		Playability *struct {
			Holes any `json:"holes"`
		} `json:"playability"`
	} `json:"course"`
	TeeSets     []json.RawMessage `json:"teeSets"`
	Holes       []json.RawMessage `json:"holes"`
	Amenities   []json.RawMessage `json:"amenities"`
	CourseTypes []CourseType      `json:"courseTypes"`
}

// CourseType is a taxonomy label attached by the classification step.
type CourseType struct {
	GroupKey string `json:"groupKey"`
	TypeKey  string `json:"typeKey"`
}

// ParseCoursePayload decodes the fields needed for summaries and presentation.
func ParseCoursePayload(raw []byte) (*CoursePayload, error) {
	var payload CoursePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
