package models

import "time"

type ResponseStatus string

const (
	ResponseStatusNotified  ResponseStatus = "notified"
	ResponseStatusAccepted  ResponseStatus = "accepted"
	ResponseStatusEnRoute   ResponseStatus = "en_route"
	ResponseStatusArrived   ResponseStatus = "arrived"
	ResponseStatusCompleted ResponseStatus = "completed"
	ResponseStatusDeclined  ResponseStatus = "declined"
)

func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseStatusNotified, ResponseStatusAccepted, ResponseStatusEnRoute,
		ResponseStatusArrived, ResponseStatusCompleted, ResponseStatusDeclined:
		return true
	}
	return false
}

// Action is one free-text entry in a response's action log.
type Action struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Response records one responder's relationship to one trigger. There is at
// most one Response per (trigger, responder) pair; re-acceptance updates the
// existing record.
type Response struct {
	ID          string         `json:"id"`
	TriggerID   string         `json:"trigger_id"`
	ResponderID string         `json:"responder_id"`
	Status      ResponseStatus `json:"status"`

	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	ActualArrival *time.Time `json:"actual_arrival,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	// ResponseTime is acceptedAt - notifiedAt in whole seconds, computed once
	// at acceptance and frozen. ArrivalTime is actualArrival - acceptedAt,
	// computed once at arrival.
	ResponseTime *int64 `json:"response_time,omitempty"`
	ArrivalTime  *int64 `json:"arrival_time,omitempty"`

	// EstimatedArrival is the responder's minutes-to-arrival estimate. Unlike
	// the derived timings it may be revised until arrival.
	EstimatedArrival *int `json:"estimated_arrival,omitempty"`

	Actions []Action `json:"actions_taken"`
	Notes   string   `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ResponseStats struct {
	Total     int64 `json:"total"`
	Accepted  int64 `json:"accepted"` // accepted, en_route, arrived or completed
	Completed int64 `json:"completed"`
	Declined  int64 `json:"declined"`
	// AverageResponseTime is the mean of response_time over records where it
	// is set, rounded to whole seconds. Zero when no record qualifies.
	AverageResponseTime int64 `json:"average_response_time"`
}
