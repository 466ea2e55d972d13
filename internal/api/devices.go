package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

type createDeviceRequest struct {
	Name         string            `json:"name" binding:"required"`
	Type         models.DeviceType `json:"type" binding:"required"`
	SerialNumber string            `json:"serial_number"`
	Firmware     string            `json:"firmware_version"`
	Notes        string            `json:"notes"`
}

// createDevice provisions a device and mints its ingestion token. The
// cleartext token appears in this response only; afterwards the store holds
// just the digest.
func (h *Handler) createDevice(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device type"})
		return
	}

	token := uuid.NewString()
	now := timeNow()
	device := &models.Device{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Type:         req.Type,
		SerialNumber: req.SerialNumber,
		TokenHash:    models.HashDeviceToken(token),
		Status:       models.DeviceStatusUnassigned,
		BatteryLevel: 100,
		Firmware:     req.Firmware,
		Notes:        req.Notes,
		CreatedBy:    caller.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.devices.Create(c.Request.Context(), device); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "serial number already registered"})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": device, "device_token": token})
}

func (h *Handler) getDevice(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	device, err := h.devices.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if caller.Role == models.RoleEndUser && device.AssignedTo != caller.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to access this device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": device})
}

type updateDeviceRequest struct {
	Name         *string              `json:"name"`
	Status       *models.DeviceStatus `json:"status"`
	BatteryLevel *int                 `json:"battery_level"`
	Firmware     *string              `json:"firmware_version"`
	Notes        *string              `json:"notes"`
}

func (h *Handler) updateDevice(c *gin.Context) {
	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.devices.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Name != nil {
		device.Name = *req.Name
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device status"})
			return
		}
		device.Status = *req.Status
	}
	if req.BatteryLevel != nil {
		device.BatteryLevel = *req.BatteryLevel
	}
	if req.Firmware != nil {
		device.Firmware = *req.Firmware
	}
	if req.Notes != nil {
		device.Notes = *req.Notes
	}
	device.UpdatedAt = timeNow()

	if err := h.devices.Update(c.Request.Context(), device); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": device})
}

type assignDeviceRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) assignDevice(c *gin.Context) {
	var req assignDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		respondError(c, err)
		return
	}
	if user.Role != models.RoleEndUser {
		c.JSON(http.StatusBadRequest, gin.H{"error": "devices can only be assigned to end users"})
		return
	}

	device, err := h.devices.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	device.AssignedTo = req.UserID
	device.Status = models.DeviceStatusActive
	device.UpdatedAt = timeNow()

	if err := h.devices.Update(ctx, device); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": device})
}

func (h *Handler) unassignDevice(c *gin.Context) {
	ctx := c.Request.Context()
	device, err := h.devices.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	device.AssignedTo = ""
	device.Status = models.DeviceStatusUnassigned
	device.UpdatedAt = timeNow()

	if err := h.devices.Update(ctx, device); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": device})
}

func (h *Handler) deleteDevice(c *gin.Context) {
	if err := h.devices.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (h *Handler) listDevices(c *gin.Context) {
	filter := repository.DeviceFilter{AssignedTo: c.Query("assigned_to")}
	if v := c.Query("status"); v != "" {
		status := models.DeviceStatus(v)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidQuery("status", v).Error()})
			return
		}
		filter.Status = &status
	}
	if v := c.Query("type"); v != "" {
		deviceType := models.DeviceType(v)
		if !deviceType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidQuery("type", v).Error()})
			return
		}
		filter.Type = &deviceType
	}

	devices, err := h.devices.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices, "count": len(devices)})
}

func (h *Handler) myDevices(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	devices, err := h.devices.List(c.Request.Context(), repository.DeviceFilter{AssignedTo: caller.ID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices, "count": len(devices)})
}

func (h *Handler) deviceStats(c *gin.Context) {
	stats, err := h.devices.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
