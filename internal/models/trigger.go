package models

import (
	"fmt"
	"time"
)

type TriggerStatus string

const (
	TriggerStatusActive     TriggerStatus = "active"
	TriggerStatusResponded  TriggerStatus = "responded"
	TriggerStatusResolved   TriggerStatus = "resolved"
	TriggerStatusFalseAlarm TriggerStatus = "false_alarm"
	TriggerStatusCancelled  TriggerStatus = "cancelled"
)

func (s TriggerStatus) Valid() bool {
	switch s {
	case TriggerStatusActive, TriggerStatusResponded, TriggerStatusResolved,
		TriggerStatusFalseAlarm, TriggerStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is a sink: no mutation of the trigger
// is allowed once it is reached.
func (s TriggerStatus) Terminal() bool {
	switch s {
	case TriggerStatusResolved, TriggerStatusFalseAlarm, TriggerStatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeAutomatic TriggerType = "automatic"
)

// Location is a geographic point plus an optional free-text address.
type Location struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Address   string  `json:"address,omitempty"`
}

func (l Location) Validate() error {
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", l.Longitude)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", l.Latitude)
	}
	return nil
}

// ActiveResponder is one entry in a trigger's acceptance sequence, recorded
// in the order acceptances were durably applied.
type ActiveResponder struct {
	ResponderID string    `json:"responder_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Trigger is one emergency event raised by an end user's device.
type Trigger struct {
	ID          string        `json:"id"`
	RaisedBy    string        `json:"raised_by"`
	DeviceID    string        `json:"device_id"`
	Location    Location      `json:"location"`
	Description string        `json:"description,omitempty"`
	Priority    Priority      `json:"priority"`
	Status      TriggerStatus `json:"status"`
	Type        TriggerType   `json:"trigger_type"`

	// NotifiedResponders is the fan-out snapshot taken at creation time.
	// It never grows; responders activated later are not retroactively added.
	NotifiedResponders []string `json:"notified_responders"`
	// ActiveResponders is append-only, one entry per distinct responder who
	// accepted. Entries are a subset of NotifiedResponders except for
	// late-activated responders accepting directly.
	ActiveResponders []ActiveResponder `json:"active_responders"`

	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	// BatteryLevel is the originating device's battery at creation time.
	BatteryLevel int `json:"battery_level"`

	// Version backs the optimistic conditional update on the trigger row.
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Trigger) HasActiveResponder(responderID string) bool {
	for _, ar := range t.ActiveResponders {
		if ar.ResponderID == responderID {
			return true
		}
	}
	return false
}

// TriggerStats is the admin dashboard aggregate over the trigger store.
type TriggerStats struct {
	Total       int64 `json:"total"`
	Active      int64 `json:"active"`
	Responded   int64 `json:"responded"`
	Resolved    int64 `json:"resolved"`
	FalseAlarms int64 `json:"false_alarms"`
	Cancelled   int64 `json:"cancelled"`
	// Open (active or responded) triggers by priority.
	CriticalOpen int64 `json:"critical_open"`
	HighOpen     int64 `json:"high_open"`
}
