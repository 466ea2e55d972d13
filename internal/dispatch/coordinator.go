package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/notify"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

// Caller identifies the authenticated principal invoking an operation.
// Name and phone ride along so acceptance events can carry the responder's
// public identity without a user lookup.
type Caller struct {
	ID    string
	Role  models.Role
	Name  string
	Phone string
}

// Coordinator orchestrates the trigger/response lifecycle: creation and
// responder fan-out, concurrent acceptance resolution, status transitions and
// the derived timing metrics. It is the sole writer of triggers and responses.
type Coordinator struct {
	triggers  repository.TriggerRepository
	responses repository.ResponseRepository
	devices   repository.DeviceRepository
	users     repository.UserRepository
	events    notify.Publisher

	locks      *keyedMutex
	maxRetries int
	now        func() time.Time
}

func New(
	triggers repository.TriggerRepository,
	responses repository.ResponseRepository,
	devices repository.DeviceRepository,
	users repository.UserRepository,
	events notify.Publisher,
	maxRetries int,
) *Coordinator {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Coordinator{
		triggers:   triggers,
		responses:  responses,
		devices:    devices,
		users:      users,
		events:     events,
		locks:      newKeyedMutex(),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

type RaiseInput struct {
	DeviceID    string
	Location    models.Location
	Description string
	Priority    models.Priority
}

// RaiseTrigger creates a trigger on behalf of an end user, fans out a
// notified Response to every currently-active responder and publishes the
// emergency alert. The notified set is a snapshot: responders activated
// later are not retroactively added.
func (c *Coordinator) RaiseTrigger(ctx context.Context, caller Caller, in RaiseInput) (*models.Trigger, error) {
	device, err := c.devices.GetByID(ctx, in.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errf(KindNotFound, "device %s not found", in.DeviceID)
		}
		return nil, fmt.Errorf("look up device: %w", err)
	}
	if device.AssignedTo != caller.ID {
		return nil, errf(KindUnauthorized, "you are not authorized to use this device")
	}
	return c.createTrigger(ctx, caller.ID, device, in, models.TriggerTypeManual)
}

type DeviceRaiseInput struct {
	Location     models.Location
	Description  string
	Priority     models.Priority
	BatteryLevel *int
}

// RaiseFromDevice creates a trigger from an unattended device. The device
// authenticates with the per-device token minted at provisioning; the
// trigger is raised on behalf of the device's assigned user.
func (c *Coordinator) RaiseFromDevice(ctx context.Context, deviceID, token string, in DeviceRaiseInput) (*models.Trigger, error) {
	device, err := c.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errf(KindNotFound, "device %s not found", deviceID)
		}
		return nil, fmt.Errorf("look up device: %w", err)
	}
	if !device.VerifyToken(token) {
		return nil, errf(KindUnauthorized, "invalid device token")
	}
	if device.AssignedTo == "" {
		return nil, errf(KindUnauthorized, "device %s is not assigned to a user", deviceID)
	}

	if in.BatteryLevel != nil {
		device.BatteryLevel = *in.BatteryLevel
	}
	device.LastPing = c.now()
	device.UpdatedAt = device.LastPing
	if err := c.devices.Update(ctx, device); err != nil {
		slog.Warn("failed to record device ping", "device", deviceID, "error", err)
	}

	raise := RaiseInput{
		DeviceID:    deviceID,
		Location:    in.Location,
		Description: in.Description,
		Priority:    in.Priority,
	}
	return c.createTrigger(ctx, device.AssignedTo, device, raise, models.TriggerTypeAutomatic)
}

func (c *Coordinator) createTrigger(ctx context.Context, raisedBy string, device *models.Device, in RaiseInput, triggerType models.TriggerType) (*models.Trigger, error) {
	if err := in.Location.Validate(); err != nil {
		return nil, errf(KindInvalidInput, "invalid location: %v", err)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityHigh
	}
	if !priority.Valid() {
		return nil, errf(KindInvalidInput, "invalid priority %q", in.Priority)
	}

	responders, err := c.users.ListActiveResponders(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate active responders: %w", err)
	}

	now := c.now()
	trigger := &models.Trigger{
		ID:                 uuid.NewString(),
		RaisedBy:           raisedBy,
		DeviceID:           device.ID,
		Location:           in.Location,
		Description:        in.Description,
		Priority:           priority,
		Status:             models.TriggerStatusActive,
		Type:               triggerType,
		NotifiedResponders: make([]string, 0, len(responders)),
		ActiveResponders:   []models.ActiveResponder{},
		BatteryLevel:       device.BatteryLevel,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	notifiedAt := now
	fanout := make([]*models.Response, 0, len(responders))
	for _, responder := range responders {
		trigger.NotifiedResponders = append(trigger.NotifiedResponders, responder.ID)
		fanout = append(fanout, &models.Response{
			ID:          uuid.NewString(),
			TriggerID:   trigger.ID,
			ResponderID: responder.ID,
			Status:      models.ResponseStatusNotified,
			NotifiedAt:  &notifiedAt,
			Actions:     []models.Action{},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := c.triggers.CreateWithResponses(ctx, trigger, fanout); err != nil {
		return nil, fmt.Errorf("persist trigger fan-out: %w", err)
	}

	slog.Info("trigger raised",
		"trigger", trigger.ID, "raised_by", raisedBy, "device", device.ID,
		"priority", priority, "type", triggerType, "notified", len(fanout))

	c.events.Publish(notify.Event{
		Name:  notify.EventEmergencyAlert,
		Topic: notify.TopicResponders,
		Payload: map[string]any{
			"trigger": trigger,
			"message": "New emergency alert!",
		},
	})

	return trigger, nil
}

// Accept records a responder's acceptance of a trigger. It is idempotent per
// responder and safe under concurrent acceptances: the first acceptance flips
// the trigger from active to responded exactly once, and the activeResponders
// sequence gains one entry per distinct responder in applied order.
func (c *Coordinator) Accept(ctx context.Context, caller Caller, triggerID string, estimatedArrival *int) (*models.Response, *models.Trigger, error) {
	unlock := c.locks.Lock(triggerID)
	defer unlock()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		trigger, err := c.triggers.GetByID(ctx, triggerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil, errf(KindNotFound, "trigger %s not found", triggerID)
			}
			return nil, nil, fmt.Errorf("look up trigger: %w", err)
		}
		if trigger.Status.Terminal() {
			return nil, nil, errf(KindAlreadyResolved, "this emergency has already been resolved or cancelled")
		}

		now := c.now()

		firstAcceptance := trigger.Status == models.TriggerStatusActive
		if firstAcceptance {
			trigger.Status = models.TriggerStatusResponded
		}
		if !trigger.HasActiveResponder(caller.ID) {
			trigger.ActiveResponders = append(trigger.ActiveResponders, models.ActiveResponder{
				ResponderID: caller.ID,
				AcceptedAt:  now,
			})
		}
		trigger.UpdatedAt = now

		err = c.triggers.UpdateVersioned(ctx, trigger)
		if errors.Is(err, repository.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("apply acceptance: %w", err)
		}

		// Ledger write happens only once the trigger update is durable, so an
		// exhausted retry loop leaves no trace in either table.
		response, err := c.upsertAcceptance(ctx, triggerID, caller.ID, estimatedArrival, now)
		if err != nil {
			return nil, nil, err
		}

		slog.Info("trigger accepted",
			"trigger", triggerID, "responder", caller.ID, "first", firstAcceptance)

		c.events.Publish(notify.Event{
			Name:  notify.EventTriggerAccepted,
			Topic: notify.TopicResponders,
			Payload: map[string]any{
				"trigger":   trigger,
				"responder": caller.Name,
			},
		})
		c.events.Publish(notify.Event{
			Name:  notify.EventResponderAssigned,
			Topic: notify.UserTopic(trigger.RaisedBy),
			Payload: map[string]any{
				"trigger": trigger,
				"responder": models.PublicUser{
					ID:    caller.ID,
					Name:  caller.Name,
					Phone: caller.Phone,
				},
			},
		})

		return response, trigger, nil
	}

	return nil, nil, errf(KindConflict, "trigger %s is under heavy contention, retry", triggerID)
}

// upsertAcceptance finds or creates the (trigger, responder) Response and
// moves it to accepted. acceptedAt and responseTime are written only on the
// first acceptance; the arrival estimate may be revised on every call.
func (c *Coordinator) upsertAcceptance(ctx context.Context, triggerID, responderID string, estimatedArrival *int, now time.Time) (*models.Response, error) {
	response, err := c.responses.GetByTriggerAndResponder(ctx, triggerID, responderID)
	if errors.Is(err, repository.ErrNotFound) {
		// Responder outside the notified snapshot, e.g. activated after the
		// fan-out. No notifiedAt means responseTime stays unset.
		response = &models.Response{
			ID:               uuid.NewString(),
			TriggerID:        triggerID,
			ResponderID:      responderID,
			Status:           models.ResponseStatusAccepted,
			AcceptedAt:       &now,
			EstimatedArrival: estimatedArrival,
			Actions:          []models.Action{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := c.responses.Create(ctx, response); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				// Lost a cross-instance race on the unique (trigger,
				// responder) key; merge into the winner's record.
				return c.upsertAcceptance(ctx, triggerID, responderID, estimatedArrival, now)
			}
			return nil, fmt.Errorf("create acceptance: %w", err)
		}
		return response, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up response: %w", err)
	}

	response.Status = models.ResponseStatusAccepted
	if response.AcceptedAt == nil {
		response.AcceptedAt = &now
		if response.NotifiedAt != nil && response.ResponseTime == nil {
			seconds := int64(now.Sub(*response.NotifiedAt) / time.Second)
			response.ResponseTime = &seconds
		}
	}
	if estimatedArrival != nil {
		response.EstimatedArrival = estimatedArrival
	}
	response.UpdatedAt = now

	if err := c.responses.Update(ctx, response); err != nil {
		return nil, fmt.Errorf("update acceptance: %w", err)
	}
	return response, nil
}

// UpdateStatus applies an explicit status-update request. Only terminal
// targets are accepted here; the active to responded edge is exclusively a
// side effect of the first acceptance.
func (c *Coordinator) UpdateStatus(ctx context.Context, caller Caller, triggerID string, status models.TriggerStatus, notes string) (*models.Trigger, error) {
	if !status.Valid() {
		return nil, errf(KindInvalidInput, "invalid status %q", status)
	}
	if !status.Terminal() {
		return nil, errf(KindInvalidTransition, "status %s cannot be set directly", status)
	}

	unlock := c.locks.Lock(triggerID)
	defer unlock()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		trigger, err := c.triggers.GetByID(ctx, triggerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, errf(KindNotFound, "trigger %s not found", triggerID)
			}
			return nil, fmt.Errorf("look up trigger: %w", err)
		}
		if caller.Role == models.RoleEndUser && trigger.RaisedBy != caller.ID {
			return nil, errf(KindForbidden, "not authorized to update this trigger")
		}
		if trigger.Status.Terminal() {
			return nil, errf(KindInvalidTransition, "trigger is already %s", trigger.Status)
		}

		now := c.now()
		trigger.Status = status
		trigger.ResolvedBy = caller.ID
		trigger.ResolvedAt = &now
		if notes != "" {
			trigger.ResolutionNotes = notes
		}
		trigger.UpdatedAt = now

		err = c.triggers.UpdateVersioned(ctx, trigger)
		if errors.Is(err, repository.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply status update: %w", err)
		}

		slog.Info("trigger status updated",
			"trigger", triggerID, "status", status, "by", caller.ID)

		payload := map[string]any{"trigger": trigger}
		c.events.Publish(notify.Event{
			Name:    notify.EventTriggerUpdated,
			Topic:   notify.TopicResponders,
			Payload: payload,
		})
		c.events.Publish(notify.Event{
			Name:    notify.EventTriggerUpdated,
			Topic:   notify.UserTopic(trigger.RaisedBy),
			Payload: payload,
		})

		return trigger, nil
	}

	return nil, errf(KindConflict, "trigger %s is under heavy contention, retry", triggerID)
}

// Cancel is the raiser-only alias of the cancelled transition.
func (c *Coordinator) Cancel(ctx context.Context, caller Caller, triggerID string) (*models.Trigger, error) {
	unlock := c.locks.Lock(triggerID)
	defer unlock()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		trigger, err := c.triggers.GetByID(ctx, triggerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, errf(KindNotFound, "trigger %s not found", triggerID)
			}
			return nil, fmt.Errorf("look up trigger: %w", err)
		}
		if trigger.RaisedBy != caller.ID {
			return nil, errf(KindForbidden, "not authorized to cancel this trigger")
		}
		if trigger.Status.Terminal() {
			return nil, errf(KindAlreadyResolved, "cannot cancel a %s trigger", trigger.Status)
		}

		now := c.now()
		trigger.Status = models.TriggerStatusCancelled
		trigger.ResolvedBy = caller.ID
		trigger.ResolvedAt = &now
		trigger.ResolutionNotes = "Cancelled by user"
		trigger.UpdatedAt = now

		err = c.triggers.UpdateVersioned(ctx, trigger)
		if errors.Is(err, repository.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply cancellation: %w", err)
		}

		slog.Info("trigger cancelled", "trigger", triggerID, "by", caller.ID)

		c.events.Publish(notify.Event{
			Name:  notify.EventTriggerCancelled,
			Topic: notify.TopicResponders,
			Payload: map[string]any{
				"trigger_id": trigger.ID,
				"message":    "Emergency alert cancelled by user",
			},
		})

		return trigger, nil
	}

	return nil, errf(KindConflict, "trigger %s is under heavy contention, retry", triggerID)
}

// GetTrigger fetches one trigger, enforcing that end users only see their own.
func (c *Coordinator) GetTrigger(ctx context.Context, caller Caller, triggerID string) (*models.Trigger, error) {
	trigger, err := c.triggers.GetByID(ctx, triggerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errf(KindNotFound, "trigger %s not found", triggerID)
		}
		return nil, fmt.Errorf("look up trigger: %w", err)
	}
	if caller.Role == models.RoleEndUser && trigger.RaisedBy != caller.ID {
		return nil, errf(KindForbidden, "not authorized to access this trigger")
	}
	return trigger, nil
}
