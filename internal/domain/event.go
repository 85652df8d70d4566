package domain

import (
	"fmt"
	"strings"
)

// EventType identifies what happened. The set is closed: anything outside
// AllEventTypes is rejected by ParseEventType and Envelope.Validate.
type EventType string

// Domain is the dotted prefix grouping related event types.
type Domain string

const (
	DomainAnalytics Domain = "analytics"
	DomainContent   Domain = "content"
	DomainUser      Domain = "user"
	DomainSettings  Domain = "settings"
	DomainProject   Domain = "project"
	DomainSystem    Domain = "system"
)

const (
	AnalyticsNewActivity       EventType = "analytics.new_activity"
	AnalyticsTrafficUpdate     EventType = "analytics.traffic_update"
	AnalyticsPerformanceUpdate EventType = "analytics.performance_update"
	AnalyticsChartUpdate       EventType = "analytics.chart_update"

	ContentCreated       EventType = "content.created"
	ContentUpdated       EventType = "content.updated"
	ContentDeleted       EventType = "content.deleted"
	ContentStatusChanged EventType = "content.status_changed"
	ContentPublished     EventType = "content.published"
	ContentUnpublished   EventType = "content.unpublished"

	UserLogin           EventType = "user.login"
	UserLogout          EventType = "user.logout"
	UserRegistered      EventType = "user.registered"
	UserProfileUpdated  EventType = "user.profile_updated"
	UserPasswordChanged EventType = "user.password_changed"

	SettingsUpdated        EventType = "settings.updated"
	SettingsBackupCreated  EventType = "settings.backup_created"
	SettingsBackupRestored EventType = "settings.backup_restored"

	ProjectCreated       EventType = "project.created"
	ProjectUpdated       EventType = "project.updated"
	ProjectDeleted       EventType = "project.deleted"
	ProjectStatusChanged EventType = "project.status_changed"

	SystemHealthCheck EventType = "system.health_check"
	SystemError       EventType = "system.error"
	SystemMaintenance EventType = "system.maintenance"
)

var allEventTypes = []EventType{
	AnalyticsNewActivity, AnalyticsTrafficUpdate, AnalyticsPerformanceUpdate, AnalyticsChartUpdate,
	ContentCreated, ContentUpdated, ContentDeleted, ContentStatusChanged, ContentPublished, ContentUnpublished,
	UserLogin, UserLogout, UserRegistered, UserProfileUpdated, UserPasswordChanged,
	SettingsUpdated, SettingsBackupCreated, SettingsBackupRestored,
	ProjectCreated, ProjectUpdated, ProjectDeleted, ProjectStatusChanged,
	SystemHealthCheck, SystemError, SystemMaintenance,
}

var knownEventTypes = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(allEventTypes))
	for _, t := range allEventTypes {
		m[t] = struct{}{}
	}
	return m
}()

// AllEventTypes returns a copy of the full enumeration.
func AllEventTypes() []EventType {
	out := make([]EventType, len(allEventTypes))
	copy(out, allEventTypes)
	return out
}

// EventTypesIn returns every event type belonging to d.
func EventTypesIn(d Domain) []EventType {
	var out []EventType
	for _, t := range allEventTypes {
		if t.Domain() == d {
			out = append(out, t)
		}
	}
	return out
}

// ParseEventType converts s into a known EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Domain returns the prefix before the first dot.
func (t EventType) Domain() Domain {
	prefix, _, _ := strings.Cut(string(t), ".")
	return Domain(prefix)
}

func (t EventType) String() string { return string(t) }

// Priority is informational only; it never changes delivery order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}
