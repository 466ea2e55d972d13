package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/notify"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

// UpdateResponseStatus moves a responder's own response to the given label.
// The machine is deliberately permissive: any valid label from the owning
// responder is accepted, and only the two first-entry timestamp rules are
// enforced (arrived stamps actualArrival/arrivalTime once, completed stamps
// completedAt once; both are no-ops on re-entry).
func (c *Coordinator) UpdateResponseStatus(ctx context.Context, caller Caller, responseID string, status models.ResponseStatus, notes string) (*models.Response, error) {
	if !status.Valid() {
		return nil, errf(KindInvalidInput, "invalid status %q", status)
	}

	response, err := c.getOwnResponse(ctx, caller, responseID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	response.Status = status
	if notes != "" {
		response.Notes = notes
	}

	if status == models.ResponseStatusArrived && response.ActualArrival == nil {
		response.ActualArrival = &now
		if response.AcceptedAt != nil && response.ArrivalTime == nil {
			seconds := int64(now.Sub(*response.AcceptedAt) / time.Second)
			response.ArrivalTime = &seconds
		}
	}
	if status == models.ResponseStatusCompleted && response.CompletedAt == nil {
		response.CompletedAt = &now
	}
	response.UpdatedAt = now

	if err := c.responses.Update(ctx, response); err != nil {
		return nil, fmt.Errorf("update response: %w", err)
	}

	slog.Info("response status updated",
		"response", responseID, "responder", caller.ID, "status", status)

	c.publishResponseUpdate(ctx, response)
	return response, nil
}

// AddAction appends one free-text entry to the response's action log.
func (c *Coordinator) AddAction(ctx context.Context, caller Caller, responseID, action string) (*models.Response, error) {
	if action == "" {
		return nil, errf(KindInvalidInput, "action description is required")
	}

	response, err := c.getOwnResponse(ctx, caller, responseID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	response.Actions = append(response.Actions, models.Action{
		Action:    action,
		Timestamp: now,
	})
	response.UpdatedAt = now

	if err := c.responses.Update(ctx, response); err != nil {
		return nil, fmt.Errorf("append action: %w", err)
	}
	return response, nil
}

func (c *Coordinator) getOwnResponse(ctx context.Context, caller Caller, responseID string) (*models.Response, error) {
	response, err := c.responses.GetByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errf(KindNotFound, "response %s not found", responseID)
		}
		return nil, fmt.Errorf("look up response: %w", err)
	}
	if response.ResponderID != caller.ID {
		return nil, errf(KindForbidden, "not authorized to update this response")
	}
	return response, nil
}

// publishResponseUpdate notifies the victim whose trigger this response
// belongs to. Best-effort: a missing trigger is logged, not surfaced.
func (c *Coordinator) publishResponseUpdate(ctx context.Context, response *models.Response) {
	trigger, err := c.triggers.GetByID(ctx, response.TriggerID)
	if err != nil {
		slog.Warn("response update not published, trigger lookup failed",
			"trigger", response.TriggerID, "error", err)
		return
	}
	c.events.Publish(notify.Event{
		Name:  notify.EventResponseUpdated,
		Topic: notify.UserTopic(trigger.RaisedBy),
		Payload: map[string]any{
			"response": response,
		},
	})
}
