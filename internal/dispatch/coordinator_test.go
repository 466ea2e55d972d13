package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/notify"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

// In-memory repositories honoring the same contracts as the sqlite stores,
// including the version condition and the unique (trigger, responder) pair.

type fakeTriggerRepo struct {
	mu        sync.Mutex
	rows      map[string]models.Trigger
	responses *fakeResponseRepo
}

func newFakeTriggerRepo(responses *fakeResponseRepo) *fakeTriggerRepo {
	return &fakeTriggerRepo{rows: make(map[string]models.Trigger), responses: responses}
}

func cloneTrigger(t models.Trigger) models.Trigger {
	t.NotifiedResponders = append([]string(nil), t.NotifiedResponders...)
	t.ActiveResponders = append([]models.ActiveResponder(nil), t.ActiveResponders...)
	return t
}

func (f *fakeTriggerRepo) CreateWithResponses(ctx context.Context, t *models.Trigger, responses []*models.Response) error {
	f.mu.Lock()
	f.rows[t.ID] = cloneTrigger(*t)
	f.mu.Unlock()
	for _, r := range responses {
		if err := f.responses.Create(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTriggerRepo) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneTrigger(row)
	return &out, nil
}

func (f *fakeTriggerRepo) UpdateVersioned(ctx context.Context, t *models.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != t.Version {
		return repository.ErrVersionMismatch
	}
	t.Version++
	f.rows[t.ID] = cloneTrigger(*t)
	return nil
}

func (f *fakeTriggerRepo) List(ctx context.Context, filter repository.TriggerFilter) ([]models.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Trigger
	for _, row := range f.rows {
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		if filter.RaisedBy != "" && row.RaisedBy != filter.RaisedBy {
			continue
		}
		out = append(out, cloneTrigger(row))
	}
	return out, nil
}

func (f *fakeTriggerRepo) Stats(ctx context.Context) (*models.TriggerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.TriggerStats{}
	for _, row := range f.rows {
		stats.Total++
		switch row.Status {
		case models.TriggerStatusActive:
			stats.Active++
		case models.TriggerStatusResponded:
			stats.Responded++
		case models.TriggerStatusResolved:
			stats.Resolved++
		case models.TriggerStatusFalseAlarm:
			stats.FalseAlarms++
		case models.TriggerStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

type fakeResponseRepo struct {
	mu   sync.Mutex
	rows map[string]models.Response
}

func newFakeResponseRepo() *fakeResponseRepo {
	return &fakeResponseRepo{rows: make(map[string]models.Response)}
}

func cloneResponse(r models.Response) models.Response {
	r.Actions = append([]models.Action(nil), r.Actions...)
	return r
}

func (f *fakeResponseRepo) Create(ctx context.Context, r *models.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.TriggerID == r.TriggerID && row.ResponderID == r.ResponderID {
			return repository.ErrDuplicate
		}
	}
	f.rows[r.ID] = cloneResponse(*r)
	return nil
}

func (f *fakeResponseRepo) GetByID(ctx context.Context, id string) (*models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneResponse(row)
	return &out, nil
}

func (f *fakeResponseRepo) GetByTriggerAndResponder(ctx context.Context, triggerID, responderID string) (*models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.TriggerID == triggerID && row.ResponderID == responderID {
			out := cloneResponse(row)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeResponseRepo) Update(ctx context.Context, r *models.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[r.ID]
	if !ok {
		return repository.ErrNotFound
	}
	merged := cloneResponse(*r)
	// Timestamp and timing columns are first-write-wins, like the sqlite store.
	if cur.NotifiedAt != nil {
		merged.NotifiedAt = cur.NotifiedAt
	}
	if cur.AcceptedAt != nil {
		merged.AcceptedAt = cur.AcceptedAt
	}
	if cur.ActualArrival != nil {
		merged.ActualArrival = cur.ActualArrival
	}
	if cur.CompletedAt != nil {
		merged.CompletedAt = cur.CompletedAt
	}
	if cur.ResponseTime != nil {
		merged.ResponseTime = cur.ResponseTime
	}
	if cur.ArrivalTime != nil {
		merged.ArrivalTime = cur.ArrivalTime
	}
	f.rows[r.ID] = merged
	return nil
}

func (f *fakeResponseRepo) List(ctx context.Context, filter repository.ResponseFilter) ([]models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Response
	for _, row := range f.rows {
		if filter.TriggerID != "" && row.TriggerID != filter.TriggerID {
			continue
		}
		if filter.ResponderID != "" && row.ResponderID != filter.ResponderID {
			continue
		}
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		out = append(out, cloneResponse(row))
	}
	return out, nil
}

func (f *fakeResponseRepo) Stats(ctx context.Context) (*models.ResponseStats, error) {
	return &models.ResponseStats{}, nil
}

type fakeDeviceRepo struct {
	mu   sync.Mutex
	rows map[string]models.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{rows: make(map[string]models.Device)}
}

func (f *fakeDeviceRepo) Create(ctx context.Context, d *models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[d.ID] = *d
	return nil
}

func (f *fakeDeviceRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := row
	return &out, nil
}

func (f *fakeDeviceRepo) Update(ctx context.Context, d *models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[d.ID]; !ok {
		return repository.ErrNotFound
	}
	f.rows[d.ID] = *d
	return nil
}

func (f *fakeDeviceRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeDeviceRepo) List(ctx context.Context, filter repository.DeviceFilter) ([]models.Device, error) {
	return nil, nil
}

func (f *fakeDeviceRepo) Stats(ctx context.Context) (*models.DeviceStats, error) {
	return &models.DeviceStats{}, nil
}

type fakeUserRepo struct {
	mu   sync.Mutex
	rows map[string]models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{rows: make(map[string]models.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[u.ID] = *u
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := row
	return &out, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Email == email {
			out := row
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) Update(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[u.ID] = *u
	return nil
}

func (f *fakeUserRepo) ListActiveResponders(ctx context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, row := range f.rows {
		if row.Role == models.RoleResponder && row.IsActive {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) List(ctx context.Context, role *models.Role) ([]models.User, error) {
	return nil, nil
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePublisher) Publish(e notify.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *capturePublisher) byName(name string) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	triggers  *fakeTriggerRepo
	responses *fakeResponseRepo
	devices   *fakeDeviceRepo
	users     *fakeUserRepo
	pub       *capturePublisher
	coord     *Coordinator

	mu    sync.Mutex
	clock time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	responses := newFakeResponseRepo()
	e := &testEnv{
		triggers:  newFakeTriggerRepo(responses),
		responses: responses,
		devices:   newFakeDeviceRepo(),
		users:     newFakeUserRepo(),
		pub:       &capturePublisher{},
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e.coord = New(e.triggers, e.responses, e.devices, e.users, e.pub, 5)
	e.coord.now = func() time.Time {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.clock
	}
	return e
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.clock = e.clock.Add(d)
	e.mu.Unlock()
}

func (e *testEnv) addUser(role models.Role, active bool) dispatchUser {
	id := uuid.NewString()
	u := models.User{
		ID:       id,
		Name:     "user-" + id[:8],
		Email:    id[:8] + "@test.local",
		Role:     role,
		Phone:    "555-0100",
		IsActive: active,
	}
	e.users.Create(context.Background(), &u)
	return dispatchUser{u}
}

type dispatchUser struct {
	models.User
}

func (u dispatchUser) caller() Caller {
	return Caller{ID: u.ID, Role: u.Role, Name: u.Name, Phone: u.Phone}
}

func (e *testEnv) addDevice(assignedTo string) *models.Device {
	d := &models.Device{
		ID:           uuid.NewString(),
		Name:         "panic button",
		Type:         models.DeviceTypeButton,
		TokenHash:    models.HashDeviceToken("device-secret"),
		AssignedTo:   assignedTo,
		Status:       models.DeviceStatusActive,
		BatteryLevel: 75,
	}
	e.devices.Create(context.Background(), d)
	return d
}

func (e *testEnv) raise(t *testing.T, victim dispatchUser, device *models.Device) *models.Trigger {
	t.Helper()
	trigger, err := e.coord.RaiseTrigger(context.Background(), victim.caller(), RaiseInput{
		DeviceID: device.ID,
		Location: models.Location{Longitude: -122.4194, Latitude: 37.7749},
		Priority: models.PriorityCritical,
	})
	require.NoError(t, err)
	return trigger
}

func TestRaiseTriggerFanOut(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	r1 := e.addUser(models.RoleResponder, true)
	r2 := e.addUser(models.RoleResponder, true)
	r3 := e.addUser(models.RoleResponder, true)
	e.addUser(models.RoleResponder, false) // inactive, outside the snapshot
	e.addUser(models.RoleEndUser, true)

	trigger := e.raise(t, victim, device)

	assert.Equal(t, models.TriggerStatusActive, trigger.Status)
	assert.Equal(t, models.TriggerTypeManual, trigger.Type)
	assert.Equal(t, models.PriorityCritical, trigger.Priority)
	assert.Equal(t, victim.ID, trigger.RaisedBy)
	assert.Equal(t, 75, trigger.BatteryLevel)
	assert.ElementsMatch(t, []string{r1.ID, r2.ID, r3.ID}, trigger.NotifiedResponders)
	assert.Empty(t, trigger.ActiveResponders)

	ledger, err := e.responses.List(context.Background(), repository.ResponseFilter{TriggerID: trigger.ID})
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	for _, r := range ledger {
		assert.Equal(t, models.ResponseStatusNotified, r.Status)
		require.NotNil(t, r.NotifiedAt)
		assert.Nil(t, r.ResponseTime)
	}

	alerts := e.pub.byName(notify.EventEmergencyAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.TopicResponders, alerts[0].Topic)
}

func TestRaiseTriggerValidation(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	other := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	ctx := context.Background()

	_, err := e.coord.RaiseTrigger(ctx, victim.caller(), RaiseInput{DeviceID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.coord.RaiseTrigger(ctx, other.caller(), RaiseInput{DeviceID: device.ID})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.coord.RaiseTrigger(ctx, victim.caller(), RaiseInput{
		DeviceID: device.ID,
		Location: models.Location{Longitude: -200, Latitude: 0},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.coord.RaiseTrigger(ctx, victim.caller(), RaiseInput{
		DeviceID: device.ID,
		Location: models.Location{Longitude: 0, Latitude: 0},
		Priority: models.Priority("urgent"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	trigger, err := e.coord.RaiseTrigger(ctx, victim.caller(), RaiseInput{
		DeviceID: device.ID,
		Location: models.Location{Longitude: 0, Latitude: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, trigger.Priority, "priority defaults to high")
}

func TestRaiseFromDevice(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	ctx := context.Background()

	_, err := e.coord.RaiseFromDevice(ctx, device.ID, "wrong-token", DeviceRaiseInput{
		Location: models.Location{Longitude: 1, Latitude: 1},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	unassigned := e.addDevice("")
	_, err = e.coord.RaiseFromDevice(ctx, unassigned.ID, "device-secret", DeviceRaiseInput{
		Location: models.Location{Longitude: 1, Latitude: 1},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	battery := 42
	trigger, err := e.coord.RaiseFromDevice(ctx, device.ID, "device-secret", DeviceRaiseInput{
		Location:     models.Location{Longitude: 1, Latitude: 1},
		BatteryLevel: &battery,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeAutomatic, trigger.Type)
	assert.Equal(t, victim.ID, trigger.RaisedBy)
	assert.Equal(t, 42, trigger.BatteryLevel)

	updated, err := e.devices.GetByID(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, updated.BatteryLevel)
}

func TestAcceptFirstAcceptanceFlipsOnce(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	responder := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)

	e.advance(5 * time.Second)
	eta := 12
	response, updated, err := e.coord.Accept(context.Background(), responder.caller(), trigger.ID, &eta)
	require.NoError(t, err)

	assert.Equal(t, models.TriggerStatusResponded, updated.Status)
	require.Len(t, updated.ActiveResponders, 1)
	assert.Equal(t, responder.ID, updated.ActiveResponders[0].ResponderID)

	assert.Equal(t, models.ResponseStatusAccepted, response.Status)
	require.NotNil(t, response.ResponseTime)
	assert.Equal(t, int64(5), *response.ResponseTime)
	require.NotNil(t, response.EstimatedArrival)
	assert.Equal(t, 12, *response.EstimatedArrival)

	accepted := e.pub.byName(notify.EventTriggerAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, notify.TopicResponders, accepted[0].Topic)

	assigned := e.pub.byName(notify.EventResponderAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, notify.UserTopic(victim.ID), assigned[0].Topic)
}

func TestAcceptIsIdempotentPerResponder(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	responder := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)

	e.advance(5 * time.Second)
	first, _, err := e.coord.Accept(context.Background(), responder.caller(), trigger.ID, nil)
	require.NoError(t, err)

	// Much later re-acceptance: metrics stay frozen, estimate may be revised.
	e.advance(10 * time.Minute)
	eta := 3
	second, updated, err := e.coord.Accept(context.Background(), responder.caller(), trigger.ID, &eta)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-acceptance reuses the existing record")
	require.NotNil(t, second.ResponseTime)
	assert.Equal(t, int64(5), *second.ResponseTime, "responseTime is computed once")
	assert.True(t, second.AcceptedAt.Equal(*first.AcceptedAt), "acceptedAt is frozen")
	require.NotNil(t, second.EstimatedArrival)
	assert.Equal(t, 3, *second.EstimatedArrival)

	require.Len(t, updated.ActiveResponders, 1, "no duplicate activeResponders entry")
}

func TestAcceptConcurrentResponders(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)

	const n = 8
	responders := make([]dispatchUser, 0, n)
	for i := 0; i < n; i++ {
		responders = append(responders, e.addUser(models.RoleResponder, true))
	}
	trigger := e.raise(t, victim, device)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, r := range responders {
		wg.Add(1)
		go func(r dispatchUser) {
			defer wg.Done()
			_, _, err := e.coord.Accept(context.Background(), r.caller(), trigger.ID, nil)
			errs <- err
		}(r)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := e.triggers.GetByID(context.Background(), trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusResponded, final.Status)
	require.Len(t, final.ActiveResponders, n)

	seen := make(map[string]bool)
	for _, ar := range final.ActiveResponders {
		assert.False(t, seen[ar.ResponderID], "responder %s appears twice", ar.ResponderID)
		seen[ar.ResponderID] = true
	}

	// The active to responded flip happened exactly once; every later
	// acceptance observed responded.
	accepted := e.pub.byName(notify.EventTriggerAccepted)
	assert.Len(t, accepted, n)
}

func TestAcceptSequentialOrder(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	first := e.addUser(models.RoleResponder, true)
	second := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	_, afterFirst, err := e.coord.Accept(ctx, first.caller(), trigger.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusResponded, afterFirst.Status)

	e.advance(5 * time.Second)
	_, afterSecond, err := e.coord.Accept(ctx, second.caller(), trigger.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.TriggerStatusResponded, afterSecond.Status)
	require.Len(t, afterSecond.ActiveResponders, 2)
	assert.Equal(t, first.ID, afterSecond.ActiveResponders[0].ResponderID)
	assert.Equal(t, second.ID, afterSecond.ActiveResponders[1].ResponderID)
	assert.Equal(t, 5*time.Second,
		afterSecond.ActiveResponders[1].AcceptedAt.Sub(afterSecond.ActiveResponders[0].AcceptedAt))
}

// staleTriggerRepo simulates losing every optimistic write to another
// instance, as when a second process keeps bumping the trigger version.
type staleTriggerRepo struct {
	*fakeTriggerRepo
}

func (s *staleTriggerRepo) UpdateVersioned(ctx context.Context, t *models.Trigger) error {
	return repository.ErrVersionMismatch
}

func TestRetryExhaustionLeavesNoTrace(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	responder := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	contended := New(&staleTriggerRepo{e.triggers}, e.responses, e.devices, e.users, e.pub, 3)
	contended.now = e.coord.now

	_, _, err := contended.Accept(ctx, responder.caller(), trigger.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)

	// The fan-out record is untouched and no acceptance was announced.
	row, err := e.responses.GetByTriggerAndResponder(ctx, trigger.ID, responder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusNotified, row.Status)
	assert.Nil(t, row.AcceptedAt)
	assert.Empty(t, e.pub.byName(notify.EventTriggerAccepted))

	// A responder outside the snapshot gains no record at all.
	late := e.addUser(models.RoleResponder, true)
	_, _, err = contended.Accept(ctx, late.caller(), trigger.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = e.responses.GetByTriggerAndResponder(ctx, trigger.ID, late.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = contended.UpdateStatus(ctx, victim.caller(), trigger.ID, models.TriggerStatusResolved, "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = contended.Cancel(ctx, victim.caller(), trigger.ID)
	assert.ErrorIs(t, err, ErrConflict)

	unchanged, err := e.triggers.GetByID(ctx, trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusActive, unchanged.Status)
	assert.Empty(t, unchanged.ActiveResponders)
}

func TestAcceptOutsideSnapshot(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	trigger := e.raise(t, victim, device) // no responders active: empty snapshot

	late := e.addUser(models.RoleResponder, true)
	response, updated, err := e.coord.Accept(context.Background(), late.caller(), trigger.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusAccepted, response.Status)
	assert.Nil(t, response.NotifiedAt)
	assert.Nil(t, response.ResponseTime, "no responseTime without a notification baseline")
	assert.Equal(t, models.TriggerStatusResponded, updated.Status)
	assert.Empty(t, updated.NotifiedResponders)
}

func TestAcceptTerminalTrigger(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	responder := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)

	_, err := e.coord.Cancel(context.Background(), victim.caller(), trigger.ID)
	require.NoError(t, err)

	_, _, err = e.coord.Accept(context.Background(), responder.caller(), trigger.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, _, err = e.coord.Accept(context.Background(), responder.caller(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusTerminalOnly(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	other := e.addUser(models.RoleEndUser, true)
	admin := e.addUser(models.RoleAdmin, true)
	device := e.addDevice(victim.ID)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	_, err := e.coord.UpdateStatus(ctx, admin.caller(), trigger.ID, models.TriggerStatus("bogus"), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// responded is only reachable through acceptance.
	_, err = e.coord.UpdateStatus(ctx, admin.caller(), trigger.ID, models.TriggerStatusResponded, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.coord.UpdateStatus(ctx, other.caller(), trigger.ID, models.TriggerStatusResolved, "")
	assert.ErrorIs(t, err, ErrForbidden)

	resolved, err := e.coord.UpdateStatus(ctx, admin.caller(), trigger.ID, models.TriggerStatusResolved, "situation handled")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusResolved, resolved.Status)
	assert.Equal(t, admin.ID, resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "situation handled", resolved.ResolutionNotes)

	// Terminal states are sinks.
	_, err = e.coord.UpdateStatus(ctx, admin.caller(), trigger.ID, models.TriggerStatusFalseAlarm, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	updates := e.pub.byName(notify.EventTriggerUpdated)
	require.Len(t, updates, 2)
	topics := []string{updates[0].Topic, updates[1].Topic}
	assert.Contains(t, topics, notify.TopicResponders)
	assert.Contains(t, topics, notify.UserTopic(victim.ID))
}

func TestCancel(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	other := e.addUser(models.RoleEndUser, true)
	admin := e.addUser(models.RoleAdmin, true)
	device := e.addDevice(victim.ID)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	_, err := e.coord.Cancel(ctx, other.caller(), trigger.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := e.coord.Cancel(ctx, victim.caller(), trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled by user", cancelled.ResolutionNotes)

	events := e.pub.byName(notify.EventTriggerCancelled)
	require.Len(t, events, 1)
	assert.Equal(t, notify.TopicResponders, events[0].Topic)

	// Cancelling again, or after any other terminal transition, reports the
	// trigger as already settled.
	_, err = e.coord.Cancel(ctx, victim.caller(), trigger.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	second := e.raise(t, victim, device)
	_, err = e.coord.UpdateStatus(ctx, admin.caller(), second.ID, models.TriggerStatusResolved, "")
	require.NoError(t, err)
	_, err = e.coord.Cancel(ctx, victim.caller(), second.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestUpdateResponseStatusTimings(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	responder := e.addUser(models.RoleResponder, true)
	intruder := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	response, _, err := e.coord.Accept(ctx, responder.caller(), trigger.ID, nil)
	require.NoError(t, err)

	_, err = e.coord.UpdateResponseStatus(ctx, responder.caller(), response.ID, models.ResponseStatus("nope"), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.coord.UpdateResponseStatus(ctx, intruder.caller(), response.ID, models.ResponseStatusEnRoute, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.coord.UpdateResponseStatus(ctx, responder.caller(), response.ID, models.ResponseStatusEnRoute, "on my way")
	require.NoError(t, err)

	e.advance(90 * time.Second)
	arrived, err := e.coord.UpdateResponseStatus(ctx, responder.caller(), response.ID, models.ResponseStatusArrived, "")
	require.NoError(t, err)
	require.NotNil(t, arrived.ActualArrival)
	require.NotNil(t, arrived.ArrivalTime)
	assert.Equal(t, int64(90), *arrived.ArrivalTime)

	// Re-entering arrived keeps the first arrival facts.
	e.advance(30 * time.Second)
	again, err := e.coord.UpdateResponseStatus(ctx, responder.caller(), response.ID, models.ResponseStatusArrived, "")
	require.NoError(t, err)
	assert.Equal(t, int64(90), *again.ArrivalTime)
	assert.True(t, again.ActualArrival.Equal(*arrived.ActualArrival))

	completed, err := e.coord.UpdateResponseStatus(ctx, responder.caller(), response.ID, models.ResponseStatusCompleted, "all clear")
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, "all clear", completed.Notes)

	updates := e.pub.byName(notify.EventResponseUpdated)
	require.NotEmpty(t, updates)
	for _, u := range updates {
		assert.Equal(t, notify.UserTopic(victim.ID), u.Topic)
	}
}

func TestAddAction(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	device := e.addDevice(victim.ID)
	responder := e.addUser(models.RoleResponder, true)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	response, _, err := e.coord.Accept(ctx, responder.caller(), trigger.ID, nil)
	require.NoError(t, err)

	_, err = e.coord.AddAction(ctx, responder.caller(), response.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	updated, err := e.coord.AddAction(ctx, responder.caller(), response.ID, "called for backup")
	require.NoError(t, err)
	require.Len(t, updated.Actions, 1)
	assert.Equal(t, "called for backup", updated.Actions[0].Action)

	updated, err = e.coord.AddAction(ctx, responder.caller(), response.ID, "secured the area")
	require.NoError(t, err)
	require.Len(t, updated.Actions, 2)
}

func TestGetTriggerVisibility(t *testing.T) {
	e := newTestEnv(t)
	victim := e.addUser(models.RoleEndUser, true)
	other := e.addUser(models.RoleEndUser, true)
	responder := e.addUser(models.RoleResponder, true)
	device := e.addDevice(victim.ID)
	trigger := e.raise(t, victim, device)
	ctx := context.Background()

	_, err := e.coord.GetTrigger(ctx, other.caller(), trigger.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := e.coord.GetTrigger(ctx, victim.caller(), trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.ID, got.ID)

	_, err = e.coord.GetTrigger(ctx, responder.caller(), trigger.ID)
	require.NoError(t, err)
}

func TestKeyedMutexSerializes(t *testing.T) {
	km := newKeyedMutex()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("trigger-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)

	km.mu.Lock()
	remaining := len(km.locks)
	km.mu.Unlock()
	assert.Zero(t, remaining, "entries are reclaimed after the last unlock")
}

func TestErrorKinds(t *testing.T) {
	err := errf(KindForbidden, "nope: %s", "reason")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "nope: reason", err.Error())
	assert.Equal(t, fmt.Sprintf("%v", err), err.Error())
}
