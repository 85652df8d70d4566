// Package events builds well-formed envelopes for every domain action and
// hands them to a publisher. It carries no business logic: each method maps
// one action to a fixed event type and priority.
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

var priorities = map[domain.EventType]domain.Priority{
	domain.AnalyticsNewActivity:       domain.PriorityLow,
	domain.AnalyticsTrafficUpdate:     domain.PriorityLow,
	domain.AnalyticsPerformanceUpdate: domain.PriorityLow,
	domain.AnalyticsChartUpdate:       domain.PriorityLow,

	domain.ContentCreated:       domain.PriorityMedium,
	domain.ContentUpdated:       domain.PriorityLow,
	domain.ContentDeleted:       domain.PriorityHigh,
	domain.ContentStatusChanged: domain.PriorityMedium,
	domain.ContentPublished:     domain.PriorityMedium,
	domain.ContentUnpublished:   domain.PriorityMedium,

	domain.UserLogin:           domain.PriorityLow,
	domain.UserLogout:          domain.PriorityLow,
	domain.UserRegistered:      domain.PriorityMedium,
	domain.UserProfileUpdated:  domain.PriorityLow,
	domain.UserPasswordChanged: domain.PriorityHigh,

	domain.SettingsUpdated:        domain.PriorityMedium,
	domain.SettingsBackupCreated:  domain.PriorityMedium,
	domain.SettingsBackupRestored: domain.PriorityHigh,

	domain.ProjectCreated:       domain.PriorityMedium,
	domain.ProjectUpdated:       domain.PriorityLow,
	domain.ProjectDeleted:       domain.PriorityHigh,
	domain.ProjectStatusChanged: domain.PriorityMedium,

	domain.SystemHealthCheck: domain.PriorityLow,
	domain.SystemError:       domain.PriorityCritical,
	domain.SystemMaintenance: domain.PriorityHigh,
}

// PriorityOf returns the fixed priority for t, or PriorityLow for unknown types.
func PriorityOf(t domain.EventType) domain.Priority {
	if p, ok := priorities[t]; ok {
		return p
	}
	return domain.PriorityLow
}

// Emitter stamps envelopes with an id, the clock's time and its source.
type Emitter struct {
	publisher domain.Publisher
	clock     clockwork.Clock
	source    string
}

func NewEmitter(publisher domain.Publisher, clock clockwork.Clock, source string) *Emitter {
	return &Emitter{publisher: publisher, clock: clock, source: source}
}

// Emit publishes data under t. The typed methods below are preferred; Emit
// exists for callers that receive the type at runtime.
func (e *Emitter) Emit(ctx context.Context, t domain.EventType, userID string, data domain.Payload) (domain.Envelope, error) {
	env := domain.Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Data:      data,
		Timestamp: e.clock.Now(),
		Source:    e.source,
		UserID:    userID,
		Priority:  PriorityOf(t),
	}
	if err := e.publisher.Publish(ctx, env); err != nil {
		return env, fmt.Errorf("publish %s: %w", t, err)
	}
	return env, nil
}

// Analytics

func (e *Emitter) NewActivity(ctx context.Context, data domain.AnalyticsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.AnalyticsNewActivity, "", data)
}

func (e *Emitter) TrafficUpdate(ctx context.Context, data domain.AnalyticsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.AnalyticsTrafficUpdate, "", data)
}

func (e *Emitter) PerformanceUpdate(ctx context.Context, data domain.AnalyticsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.AnalyticsPerformanceUpdate, "", data)
}

func (e *Emitter) ChartUpdate(ctx context.Context, data domain.AnalyticsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.AnalyticsChartUpdate, "", data)
}

// Content

func (e *Emitter) ContentCreated(ctx context.Context, userID string, data domain.ContentData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.ContentCreated, userID, data)
}

func (e *Emitter) ContentUpdated(ctx context.Context, userID string, data domain.ContentData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.ContentUpdated, userID, data)
}

func (e *Emitter) ContentDeleted(ctx context.Context, userID string, data domain.ContentData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.ContentDeleted, userID, data)
}

// ContentStatusChanged records the move from previous to data.Status.
func (e *Emitter) ContentStatusChanged(ctx context.Context, userID, previous string, data domain.ContentData) (domain.Envelope, error) {
	data.PreviousStatus = previous
	return e.Emit(ctx, domain.ContentStatusChanged, userID, data)
}

func (e *Emitter) ContentPublished(ctx context.Context, userID string, data domain.ContentData) (domain.Envelope, error) {
	data.Status = "published"
	return e.Emit(ctx, domain.ContentPublished, userID, data)
}

func (e *Emitter) ContentUnpublished(ctx context.Context, userID string, data domain.ContentData) (domain.Envelope, error) {
	data.Status = "draft"
	return e.Emit(ctx, domain.ContentUnpublished, userID, data)
}

// User

func (e *Emitter) UserLoggedIn(ctx context.Context, userID string, data domain.UserData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.UserLogin, userID, data)
}

func (e *Emitter) UserLoggedOut(ctx context.Context, userID string, data domain.UserData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.UserLogout, userID, data)
}

func (e *Emitter) UserRegistered(ctx context.Context, userID string, data domain.UserData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.UserRegistered, userID, data)
}

func (e *Emitter) UserProfileUpdated(ctx context.Context, userID string, data domain.UserData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.UserProfileUpdated, userID, data)
}

func (e *Emitter) UserPasswordChanged(ctx context.Context, userID string, data domain.UserData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.UserPasswordChanged, userID, data)
}

// Settings

func (e *Emitter) SettingsUpdated(ctx context.Context, userID string, data domain.SettingsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.SettingsUpdated, userID, data)
}

func (e *Emitter) BackupCreated(ctx context.Context, userID string, data domain.SettingsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.SettingsBackupCreated, userID, data)
}

func (e *Emitter) BackupRestored(ctx context.Context, userID string, data domain.SettingsData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.SettingsBackupRestored, userID, data)
}

// Project

func (e *Emitter) ProjectCreated(ctx context.Context, userID string, data domain.ProjectData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.ProjectCreated, userID, data)
}

func (e *Emitter) ProjectUpdated(ctx context.Context, userID string, data domain.ProjectData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.ProjectUpdated, userID, data)
}

func (e *Emitter) ProjectDeleted(ctx context.Context, userID string, data domain.ProjectData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.ProjectDeleted, userID, data)
}

func (e *Emitter) ProjectStatusChanged(ctx context.Context, userID, previous string, data domain.ProjectData) (domain.Envelope, error) {
	data.PreviousStatus = previous
	return e.Emit(ctx, domain.ProjectStatusChanged, userID, data)
}

// System

func (e *Emitter) HealthCheck(ctx context.Context, data domain.SystemData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.SystemHealthCheck, "", data)
}

// SystemError reports a failing component. code is a stable machine-readable identifier.
func (e *Emitter) SystemError(ctx context.Context, component, code string, cause error) (domain.Envelope, error) {
	return e.Emit(ctx, domain.SystemError, "", domain.SystemData{
		Status:    "error",
		Component: component,
		Code:      code,
		Message:   cause.Error(),
	})
}

func (e *Emitter) Maintenance(ctx context.Context, data domain.SystemData) (domain.Envelope, error) {
	return e.Emit(ctx, domain.SystemMaintenance, "", data)
}
