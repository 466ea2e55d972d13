package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/auth"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/dispatch"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/notify"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

type Handler struct {
	coord     *dispatch.Coordinator
	triggers  repository.TriggerRepository
	responses repository.ResponseRepository
	devices   repository.DeviceRepository
	users     repository.UserRepository
	auth      *auth.Service
	hub       *notify.Hub
}

func NewHandler(
	coord *dispatch.Coordinator,
	triggers repository.TriggerRepository,
	responses repository.ResponseRepository,
	devices repository.DeviceRepository,
	users repository.UserRepository,
	authSvc *auth.Service,
	hub *notify.Hub,
) *Handler {
	return &Handler{
		coord:     coord,
		triggers:  triggers,
		responses: responses,
		devices:   devices,
		users:     users,
		auth:      authSvc,
		hub:       hub,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.register)
	authGroup.POST("/login", h.login)
	authGroup.GET("/me", h.auth.Middleware(), h.me)

	// Device ingestion authenticates with the per-device token, not a JWT.
	api.POST("/triggers/device", RateLimitMiddleware(5), h.deviceTrigger)

	secured := api.Group("", h.auth.Middleware())

	users := secured.Group("/users")
	users.GET("", auth.RequireRole(models.RoleAdmin), h.listUsers)

	devices := secured.Group("/devices")
	devices.POST("", auth.RequireRole(models.RoleAdmin), h.createDevice)
	devices.GET("", auth.RequireRole(models.RoleAdmin), h.listDevices)
	devices.GET("/stats", auth.RequireRole(models.RoleAdmin), h.deviceStats)
	devices.GET("/my-devices", auth.RequireRole(models.RoleEndUser), h.myDevices)
	devices.GET("/:id", h.getDevice)
	devices.PUT("/:id", auth.RequireRole(models.RoleAdmin), h.updateDevice)
	devices.PUT("/:id/assign", auth.RequireRole(models.RoleAdmin), h.assignDevice)
	devices.PUT("/:id/unassign", auth.RequireRole(models.RoleAdmin), h.unassignDevice)
	devices.DELETE("/:id", auth.RequireRole(models.RoleAdmin), h.deleteDevice)

	triggers := secured.Group("/triggers")
	triggers.POST("", auth.RequireRole(models.RoleEndUser), h.raiseTrigger)
	triggers.GET("", auth.RequireRole(models.RoleAdmin), h.listTriggers)
	triggers.GET("/stats", auth.RequireRole(models.RoleAdmin), h.triggerStats)
	triggers.GET("/my-triggers", auth.RequireRole(models.RoleEndUser), h.myTriggers)
	triggers.GET("/active", auth.RequireRole(models.RoleResponder, models.RoleAdmin), h.activeTriggers)
	triggers.GET("/:id", h.getTrigger)
	triggers.PUT("/:id/status", h.updateTriggerStatus)
	triggers.PUT("/:id/cancel", auth.RequireRole(models.RoleEndUser), h.cancelTrigger)

	responses := secured.Group("/responses")
	responses.POST("", auth.RequireRole(models.RoleResponder), h.acceptTrigger)
	responses.GET("", auth.RequireRole(models.RoleAdmin), h.listResponses)
	responses.GET("/stats", auth.RequireRole(models.RoleAdmin), h.responseStats)
	responses.GET("/my-responses", auth.RequireRole(models.RoleResponder), h.myResponses)
	responses.PUT("/:id/status", auth.RequireRole(models.RoleResponder), h.updateResponseStatus)
	responses.POST("/:id/actions", auth.RequireRole(models.RoleResponder), h.addAction)
	responses.GET("/trigger/:triggerId", h.responsesByTrigger)

	secured.GET("/events/ws", h.serveWS)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps the dispatch error taxonomy onto HTTP statuses. Unknown
// errors are logged and surfaced as opaque 500s.
func respondError(c *gin.Context, err error) {
	var de *dispatch.Error
	if errors.As(err, &de) {
		c.JSON(statusForKind(de.Kind), gin.H{"error": de.Message, "kind": de.Kind})
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": dispatch.KindNotFound})
		return
	}
	slog.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func statusForKind(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindInvalidInput:
		return http.StatusBadRequest
	case dispatch.KindNotFound:
		return http.StatusNotFound
	case dispatch.KindUnauthorized:
		return http.StatusUnauthorized
	case dispatch.KindForbidden:
		return http.StatusForbidden
	case dispatch.KindAlreadyResolved, dispatch.KindInvalidTransition, dispatch.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// timeNow is swapped out in tests.
var timeNow = time.Now

func errInvalidQuery(param, value string) error {
	return fmt.Errorf("invalid %s value %q", param, value)
}

func mustCaller(c *gin.Context) (dispatch.Caller, bool) {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
	}
	return caller, ok
}
