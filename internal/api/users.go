package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
)

func (h *Handler) listUsers(c *gin.Context) {
	var role *models.Role
	if v := c.Query("role"); v != "" {
		r := models.Role(v)
		if !r.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidQuery("role", v).Error()})
			return
		}
		role = &r
	}

	users, err := h.users.List(c.Request.Context(), role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users, "count": len(users)})
}
