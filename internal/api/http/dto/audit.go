package dto

import "time"

type AuditEventResponse struct {
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceRef  string    `json:"resource_ref"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type ListAuditEventsResponse struct {
	Events []AuditEventResponse `json:"events"`
	Count  int                  `json:"count"`
}
