package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllEventTypes(t *testing.T) {
	all := AllEventTypes()
	require.Len(t, all, 25)

	seen := make(map[EventType]bool)
	for _, et := range all {
		assert.True(t, et.Valid(), et)
		assert.False(t, seen[et], "duplicate %s", et)
		seen[et] = true
	}

	// Returned slice is a copy.
	all[0] = "mutated"
	assert.Equal(t, AnalyticsNewActivity, AllEventTypes()[0])
}

func TestEventType_Domain(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      Domain
	}{
		{AnalyticsChartUpdate, DomainAnalytics},
		{ContentStatusChanged, DomainContent},
		{UserPasswordChanged, DomainUser},
		{SettingsBackupRestored, DomainSettings},
		{ProjectDeleted, DomainProject},
		{SystemHealthCheck, DomainSystem},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.Domain())
		})
	}
}

func TestEventTypesIn(t *testing.T) {
	assert.Len(t, EventTypesIn(DomainAnalytics), 4)
	assert.Len(t, EventTypesIn(DomainContent), 6)
	assert.Len(t, EventTypesIn(DomainUser), 5)
	assert.Len(t, EventTypesIn(DomainSettings), 3)
	assert.Len(t, EventTypesIn(DomainProject), 4)
	assert.Equal(t, []EventType{SystemHealthCheck, SystemError, SystemMaintenance}, EventTypesIn(DomainSystem))
	assert.Empty(t, EventTypesIn("billing"))
}

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType("project.status_changed")
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusChanged, got)

	for _, bad := range []string{"", "project", "project.archived", "Project.Created"} {
		_, err := ParseEventType(bad)
		assert.ErrorIs(t, err, ErrUnknownEventType, bad)
	}
}

func TestPriority_Valid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, Priority("").Valid())
	assert.False(t, Priority("urgent").Valid())
}

func TestDecodePayload_MatchesDomain(t *testing.T) {
	for _, et := range AllEventTypes() {
		p, err := DecodePayload(et, []byte(`{}`))
		require.NoError(t, err, et)
		assert.Equal(t, et.Domain(), p.Domain(), et)
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := DecodePayload("nope.nope", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = DecodePayload(UserLogin, []byte(`{"email":42}`))
	assert.Error(t, err)
}
