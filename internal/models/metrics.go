package models

import "time"

// WorkflowMetrics is a point-in-time summary of review activity.
type WorkflowMetrics struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	CallbacksTotal           uint64    `json:"callbacksTotal"`
	IngestCalls              uint64    `json:"ingestCalls"`
	IngestFailures           uint64    `json:"ingestFailures"`
	AverageIngestDurationMs  float64   `json:"averageIngestDurationMs"`
	ProposalsSwept           uint64    `json:"proposalsSwept"`
	DeliveryFailures         uint64    `json:"deliveryFailures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
