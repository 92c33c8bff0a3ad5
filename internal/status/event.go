// Package status defines the status events pushed over the realtime channel.
package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformed marks payloads that cannot be turned into an Event.
var ErrMalformed = errors.New("malformed status event")

// Phase is the coarse pipeline stage a publish job is in.
type Phase string

// Supported phases.
const (
	PhaseValidation Phase = "validation"
	PhaseFormatting Phase = "formatting"
	PhasePublishing Phase = "publishing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// Status is the fine-grained outcome reported within a phase.
type Status string

// Supported statuses.
const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusWarning    Status = "warning"
	StatusError      Status = "error"
	StatusCompleted  Status = "completed"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseValidation, PhaseFormatting, PhasePublishing, PhaseCompleted, PhaseError:
		return true
	}
	return false
}

// Terminal reports whether the phase ends a job.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusSuccess, StatusWarning, StatusError, StatusCompleted:
		return true
	}
	return false
}

// Event is a single status update for one entity. Events are treated as
// immutable once parsed; consumers copy them into their own views.
type Event struct {
	// EntityID identifies the job or content item the event concerns.
	EntityID string `json:"entityId"`
	// ScopeID identifies the account the channel is routed under.
	ScopeID string `json:"scopeId,omitempty"`
	Phase   Phase  `json:"phase"`
	// Channel is the downstream target (e.g. a social platform) when the
	// phase is per-target.
	Channel string `json:"channel,omitempty"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	// Detail is an opaque payload that is never interpreted here.
	Detail    json.RawMessage `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// Progress is a percentage in [0, 100] when present.
	Progress *int `json:"progress,omitempty"`
}

type wireEvent struct {
	EntityID  string          `json:"entityId"`
	ScopeID   string          `json:"scopeId"`
	Phase     Phase           `json:"phase"`
	Channel   string          `json:"channel"`
	Status    Status          `json:"status"`
	Message   *string         `json:"message"`
	Detail    json.RawMessage `json:"detail"`
	Timestamp *time.Time      `json:"timestamp"`
	Progress  json.RawMessage `json:"progress"`
}

// Parse decodes and validates a wire payload. Any failure wraps ErrMalformed.
// A progress value never rejects an event: numbers are rounded and clamped to
// [0, 100], anything else is ignored.
func Parse(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Message == nil {
		return Event{}, fmt.Errorf("%w: message is required", ErrMalformed)
	}
	if w.Timestamp == nil {
		return Event{}, fmt.Errorf("%w: timestamp is required", ErrMalformed)
	}
	evt := Event{
		EntityID:  w.EntityID,
		ScopeID:   w.ScopeID,
		Phase:     w.Phase,
		Channel:   w.Channel,
		Status:    w.Status,
		Message:   *w.Message,
		Timestamp: *w.Timestamp,
		Progress:  parseProgress(w.Progress),
	}
	if len(w.Detail) > 0 && !bytes.Equal(w.Detail, []byte("null")) {
		evt.Detail = append(json.RawMessage(nil), w.Detail...)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return evt, nil
}

func parseProgress(raw json.RawMessage) *int {
	var f float64
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || json.Unmarshal(raw, &f) != nil {
		return nil
	}
	pct := int(math.Round(math.Min(math.Max(f, 0), 100)))
	return &pct
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.EntityID == "" {
		return errors.New("entity id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", e.Phase)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.Progress != nil && (*e.Progress < 0 || *e.Progress > 100) {
		return fmt.Errorf("progress %d out of range", *e.Progress)
	}
	return nil
}

// Percent returns the progress value and whether it was present.
func (e Event) Percent() (int, bool) {
	if e.Progress == nil {
		return 0, false
	}
	return *e.Progress, true
}
