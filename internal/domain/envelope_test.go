package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() Envelope {
	return Envelope{
		ID:        "evt-1",
		Type:      ContentPublished,
		Data:      ContentData{ID: "post-9", Title: "Launch notes", Status: "published"},
		Timestamp: time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
		Source:    "content-service",
		UserID:    "admin-1",
		Priority:  PriorityMedium,
	}
}

func TestEnvelope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr error
	}{
		{name: "valid", mutate: func(*Envelope) {}},
		{name: "missing id", mutate: func(e *Envelope) { e.ID = "" }, wantErr: ErrInvalidEnvelope},
		{name: "unknown type", mutate: func(e *Envelope) { e.Type = "content.exploded" }, wantErr: ErrUnknownEventType},
		{name: "unknown priority", mutate: func(e *Envelope) { e.Priority = "urgent" }, wantErr: ErrUnknownPriority},
		{name: "zero timestamp", mutate: func(e *Envelope) { e.Timestamp = time.Time{} }, wantErr: ErrInvalidEnvelope},
		{name: "nil data", mutate: func(e *Envelope) { e.Data = nil }, wantErr: ErrInvalidEnvelope},
		{name: "wrong domain data", mutate: func(e *Envelope) { e.Data = ProjectData{ID: "p"} }, wantErr: ErrPayloadMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(&env)

			err := env.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEnvelope_JSONWireFormat(t *testing.T) {
	data, err := json.Marshal(validEnvelope())
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "evt-1", wire["id"])
	assert.Equal(t, "content.published", wire["type"])
	assert.Equal(t, "2026-05-04T10:30:00Z", wire["timestamp"])
	assert.Equal(t, "content-service", wire["source"])
	assert.Equal(t, "admin-1", wire["userId"])
	assert.Equal(t, "medium", wire["priority"])

	body, ok := wire["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Launch notes", body["title"])
}

func TestEnvelope_OmitsEmptyUserID(t *testing.T) {
	env := validEnvelope()
	env.UserID = ""

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "userId")
}

func TestEnvelope_UnmarshalDecodesConcretePayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Payload
	}{
		{
			name: "analytics",
			raw:  `{"id":"1","type":"analytics.traffic_update","data":{"visitors":12,"pageViews":40},"timestamp":"2026-05-04T10:30:00Z","source":"s","priority":"low"}`,
			want: AnalyticsData{Visitors: 12, PageViews: 40},
		},
		{
			name: "settings",
			raw:  `{"id":"2","type":"settings.backup_created","data":{"backupId":"b-1","size":2048},"timestamp":"2026-05-04T10:30:00Z","source":"s","priority":"medium"}`,
			want: SettingsData{BackupID: "b-1", Size: 2048},
		},
		{
			name: "system",
			raw:  `{"id":"3","type":"system.error","data":{"status":"error","code":"db_down"},"timestamp":"2026-05-04T10:30:00Z","source":"s","priority":"high"}`,
			want: SystemData{Status: "error", Code: "db_down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &env))
			assert.Equal(t, tt.want, env.Data)
			assert.NoError(t, env.Validate())
		})
	}
}

func TestEnvelope_UnmarshalUnknownType(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"id":"1","type":"billing.charged","data":{}}`), &env)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestEnvelope_UnmarshalNullData(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","type":"user.login","data":null,"timestamp":"2026-05-04T10:30:00Z","source":"s","priority":"low"}`), &env))
	assert.Nil(t, env.Data)
	assert.ErrorIs(t, env.Validate(), ErrInvalidEnvelope)
}

func TestEnvelope_RoundTripPreservesPayload(t *testing.T) {
	until := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	original := validEnvelope()
	original.Type = SystemMaintenance
	original.Priority = PriorityCritical
	original.Data = SystemData{Status: "scheduled", Message: "DB upgrade", Until: &until}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}
