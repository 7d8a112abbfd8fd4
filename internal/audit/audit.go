// Package audit records who did what to which resource. Recording is
// fire-and-forget from the caller's perspective: a failed audit write is
// logged but never aborts the operation being audited.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Outcome of the audited operation.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one audit entry.
type Event struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceRef  string
	Outcome      string
	Detail       string
	OccurredAt   time.Time
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// LogRecorder writes audit events to the structured log only. It is the
// fallback when no database is configured, and the default in tests.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, event Event) {
	slog.Info("audit",
		"actor", event.Actor,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_ref", event.ResourceRef,
		"outcome", event.Outcome,
		"detail", event.Detail)
}

// Success is a convenience wrapper recording a successful action.
func Success(ctx context.Context, r Recorder, actor, action, resourceType, resourceRef, detail string) {
	r.Record(ctx, Event{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceRef:  resourceRef,
		Outcome:      OutcomeSuccess,
		Detail:       detail,
		OccurredAt:   time.Now(),
	})
}

// Failure is a convenience wrapper recording a failed action.
func Failure(ctx context.Context, r Recorder, actor, action, resourceType, resourceRef string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	r.Record(ctx, Event{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceRef:  resourceRef,
		Outcome:      OutcomeFailure,
		Detail:       detail,
		OccurredAt:   time.Now(),
	})
}
