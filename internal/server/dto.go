package server

import "flowline/internal/override"

// Request payloads

type MoveDueRequest struct {
	Due string `json:"due" format:"date"`
}

type SetConfidenceRequest struct {
	Confidence string `json:"confidence" enum:"high,medium,low,"`
}

type AddChangeOrderRequest struct {
	Note  string  `json:"note"`
	Hours float64 `json:"hours,omitempty"`
}

// Response payloads

type OverrideResponse struct {
	DeliverableID string          `json:"deliverable_id"`
	Record        override.Record `json:"record"`
}
