package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

type acceptTriggerRequest struct {
	TriggerID        string `json:"trigger_id" binding:"required"`
	EstimatedArrival *int   `json:"estimated_arrival"`
}

func (h *Handler) acceptTrigger(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req acceptTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, trigger, err := h.coord.Accept(c.Request.Context(), caller, req.TriggerID, req.EstimatedArrival)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"response": response,
		"trigger":  trigger,
	}})
}

type updateResponseStatusRequest struct {
	Status models.ResponseStatus `json:"status" binding:"required"`
	Notes  string                `json:"notes"`
}

func (h *Handler) updateResponseStatus(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req updateResponseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.coord.UpdateResponseStatus(c.Request.Context(), caller, c.Param("id"), req.Status, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": response})
}

type addActionRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) addAction(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req addActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.coord.AddAction(c.Request.Context(), caller, c.Param("id"), req.Action)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": response})
}

func (h *Handler) myResponses(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	responses, err := h.responses.List(c.Request.Context(), repository.ResponseFilter{ResponderID: caller.ID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": responses, "count": len(responses)})
}

func (h *Handler) listResponses(c *gin.Context) {
	filter := repository.ResponseFilter{
		TriggerID:   c.Query("trigger_id"),
		ResponderID: c.Query("responder_id"),
	}
	if v := c.Query("status"); v != "" {
		status := models.ResponseStatus(v)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidQuery("status", v).Error()})
			return
		}
		filter.Status = &status
	}

	responses, err := h.responses.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": responses, "count": len(responses)})
}

func (h *Handler) responseStats(c *gin.Context) {
	stats, err := h.responses.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// responsesByTrigger lists the response ledger of one trigger. Access follows
// trigger visibility: end users only see the ledger of their own triggers.
func (h *Handler) responsesByTrigger(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	triggerID := c.Param("triggerId")

	if _, err := h.coord.GetTrigger(c.Request.Context(), caller, triggerID); err != nil {
		respondError(c, err)
		return
	}

	responses, err := h.responses.List(c.Request.Context(), repository.ResponseFilter{TriggerID: triggerID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": responses, "count": len(responses)})
}
