package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint is violated, e.g. a
	// second Response for the same (trigger, responder) pair.
	ErrDuplicate = errors.New("duplicate record")
	// ErrVersionMismatch is returned by conditional trigger updates when the
	// row changed underneath the caller. The coordinator retries on it.
	ErrVersionMismatch = errors.New("version mismatch")
)

type TriggerFilter struct {
	Status   *models.TriggerStatus
	Priority *models.Priority
	RaisedBy string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

type ResponseFilter struct {
	TriggerID   string
	ResponderID string
	Status      *models.ResponseStatus
}

type DeviceFilter struct {
	Status     *models.DeviceStatus
	Type       *models.DeviceType
	AssignedTo string
}

type TriggerRepository interface {
	// CreateWithResponses persists a new trigger together with its fan-out
	// Response records in a single transaction, so the notified snapshot and
	// the ledger rows cannot diverge.
	CreateWithResponses(ctx context.Context, t *models.Trigger, responses []*models.Response) error
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	// UpdateVersioned applies the trigger state conditionally on t.Version
	// matching the stored row, bumping the version on success. Returns
	// ErrVersionMismatch when the condition fails.
	UpdateVersioned(ctx context.Context, t *models.Trigger) error
	List(ctx context.Context, f TriggerFilter) ([]models.Trigger, error)
	Stats(ctx context.Context) (*models.TriggerStats, error)
}

type ResponseRepository interface {
	Create(ctx context.Context, r *models.Response) error
	GetByID(ctx context.Context, id string) (*models.Response, error)
	GetByTriggerAndResponder(ctx context.Context, triggerID, responderID string) (*models.Response, error)
	// Update rewrites a response row. Timestamp and timing fields are
	// first-write-wins at the store: once set they never change.
	Update(ctx context.Context, r *models.Response) error
	List(ctx context.Context, f ResponseFilter) ([]models.Response, error)
	Stats(ctx context.Context) (*models.ResponseStats, error)
}

type DeviceRepository interface {
	Create(ctx context.Context, d *models.Device) error
	GetByID(ctx context.Context, id string) (*models.Device, error)
	Update(ctx context.Context, d *models.Device) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f DeviceFilter) ([]models.Device, error)
	Stats(ctx context.Context) (*models.DeviceStats, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	// ListActiveResponders enumerates every user with role responder and
	// is_active set; this is the fan-out audience snapshot source.
	ListActiveResponders(ctx context.Context) ([]models.User, error)
	List(ctx context.Context, role *models.Role) ([]models.User, error)
}
