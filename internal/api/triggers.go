package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/dispatch"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

type raiseTriggerRequest struct {
	DeviceID    string          `json:"device_id" binding:"required"`
	Location    models.Location `json:"location" binding:"required"`
	Description string          `json:"description"`
	Priority    models.Priority `json:"priority"`
}

func (h *Handler) raiseTrigger(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req raiseTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trigger, err := h.coord.RaiseTrigger(c.Request.Context(), caller, dispatch.RaiseInput{
		DeviceID:    req.DeviceID,
		Location:    req.Location,
		Description: req.Description,
		Priority:    req.Priority,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": trigger})
}

type deviceTriggerRequest struct {
	DeviceID     string          `json:"device_id" binding:"required"`
	DeviceToken  string          `json:"device_token" binding:"required"`
	Location     models.Location `json:"location" binding:"required"`
	Description  string          `json:"description"`
	Priority     models.Priority `json:"priority"`
	BatteryLevel *int            `json:"battery_level"`
}

func (h *Handler) deviceTrigger(c *gin.Context) {
	var req deviceTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trigger, err := h.coord.RaiseFromDevice(c.Request.Context(), req.DeviceID, req.DeviceToken, dispatch.DeviceRaiseInput{
		Location:     req.Location,
		Description:  req.Description,
		Priority:     req.Priority,
		BatteryLevel: req.BatteryLevel,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": trigger})
}

func (h *Handler) listTriggers(c *gin.Context) {
	filter, err := triggerFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	triggers, err := h.triggers.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": triggers, "count": len(triggers)})
}

func (h *Handler) myTriggers(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	triggers, err := h.triggers.List(c.Request.Context(), repository.TriggerFilter{RaisedBy: caller.ID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": triggers, "count": len(triggers)})
}

// activeTriggers returns every open trigger, i.e. active plus responded.
func (h *Handler) activeTriggers(c *gin.Context) {
	ctx := c.Request.Context()
	open := make([]models.Trigger, 0)
	for _, status := range []models.TriggerStatus{models.TriggerStatusActive, models.TriggerStatusResponded} {
		s := status
		batch, err := h.triggers.List(ctx, repository.TriggerFilter{Status: &s})
		if err != nil {
			respondError(c, err)
			return
		}
		open = append(open, batch...)
	}
	c.JSON(http.StatusOK, gin.H{"data": open, "count": len(open)})
}

func (h *Handler) triggerStats(c *gin.Context) {
	stats, err := h.triggers.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) getTrigger(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	trigger, err := h.coord.GetTrigger(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trigger})
}

type updateTriggerStatusRequest struct {
	Status models.TriggerStatus `json:"status" binding:"required"`
	Notes  string               `json:"notes"`
}

func (h *Handler) updateTriggerStatus(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req updateTriggerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trigger, err := h.coord.UpdateStatus(c.Request.Context(), caller, c.Param("id"), req.Status, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trigger})
}

func (h *Handler) cancelTrigger(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	trigger, err := h.coord.Cancel(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trigger})
}

func triggerFilterFromQuery(c *gin.Context) (repository.TriggerFilter, error) {
	var filter repository.TriggerFilter

	if v := c.Query("status"); v != "" {
		status := models.TriggerStatus(v)
		if !status.Valid() {
			return filter, errInvalidQuery("status", v)
		}
		filter.Status = &status
	}
	if v := c.Query("priority"); v != "" {
		priority := models.Priority(v)
		if !priority.Valid() {
			return filter, errInvalidQuery("priority", v)
		}
		filter.Priority = &priority
	}
	filter.RaisedBy = c.Query("raised_by")
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errInvalidQuery("since", v)
		}
		filter.Since = &t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errInvalidQuery("until", v)
		}
		filter.Until = &t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, errInvalidQuery("limit", v)
		}
		filter.Limit = n
	}

	return filter, nil
}
