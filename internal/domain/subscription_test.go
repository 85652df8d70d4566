package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subscription
		wantErr bool
	}{
		{name: "valid", sub: Subscription{ID: "s1", EventTypes: []EventType{UserLogin}}},
		{name: "missing id", sub: Subscription{EventTypes: []EventType{UserLogin}}, wantErr: true},
		{name: "no types", sub: Subscription{ID: "s1"}, wantErr: true},
		{name: "unknown type", sub: Subscription{ID: "s1", EventTypes: []EventType{UserLogin, "user.deleted"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSubscription)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSubscription_Covers(t *testing.T) {
	sub := Subscription{ID: "s", EventTypes: []EventType{ContentCreated, ContentDeleted}}

	assert.True(t, sub.Covers(ContentCreated))
	assert.True(t, sub.Covers(ContentDeleted))
	assert.False(t, sub.Covers(ContentUpdated))
}

func TestFilter_Matches(t *testing.T) {
	env := Envelope{Type: UserLogin, UserID: "admin-1"}

	assert.True(t, Filter{}.Matches(env), "zero filter matches everything")
	assert.True(t, Filter{UserID: "admin-1"}.Matches(env))
	assert.False(t, Filter{UserID: "admin-2"}.Matches(env))
	assert.False(t, Filter{UserID: "admin-1"}.Matches(Envelope{Type: UserLogin}))
}
