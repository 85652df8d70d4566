package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the event-specific body of an Envelope. It is a closed sum type:
// one concrete struct per event domain, so adding a domain forces every
// switch over payloads to be revisited.
type Payload interface {
	Domain() Domain
	isPayload()
}

// AnalyticsData carries visitor activity and dashboard chart updates.
type AnalyticsData struct {
	Page       string    `json:"page,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	Country    string    `json:"country,omitempty"`
	Visitors   int       `json:"visitors,omitempty"`
	PageViews  int       `json:"pageViews,omitempty"`
	BounceRate float64   `json:"bounceRate,omitempty"`
	LoadTimeMs float64   `json:"loadTimeMs,omitempty"`
	Chart      string    `json:"chart,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	Series     []float64 `json:"series,omitempty"`
}

// ContentData describes a blog post or page change.
type ContentData struct {
	ID             string `json:"id,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Title          string `json:"title,omitempty"`
	Slug           string `json:"slug,omitempty"`
	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Version        int    `json:"version,omitempty"`
	Author         string `json:"author,omitempty"`
}

// UserData describes an admin account action.
type UserData struct {
	Email     string   `json:"email,omitempty"`
	Name      string   `json:"name,omitempty"`
	IPAddress string   `json:"ipAddress,omitempty"`
	UserAgent string   `json:"userAgent,omitempty"`
	Fields    []string `json:"fields,omitempty"`
}

// SettingsData describes a settings change or backup operation.
type SettingsData struct {
	Section  string         `json:"section,omitempty"`
	Changes  map[string]any `json:"changes,omitempty"`
	BackupID string         `json:"backupId,omitempty"`
	Size     int64          `json:"size,omitempty"`
}

// ProjectData describes a portfolio project change.
type ProjectData struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title,omitempty"`
	Slug           string `json:"slug,omitempty"`
	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Featured       bool   `json:"featured,omitempty"`
	Version        int    `json:"version,omitempty"`
}

// SystemData describes health, error and maintenance notices.
type SystemData struct {
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Component string         `json:"component,omitempty"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
}

func (AnalyticsData) Domain() Domain { return DomainAnalytics }
func (ContentData) Domain() Domain   { return DomainContent }
func (UserData) Domain() Domain      { return DomainUser }
func (SettingsData) Domain() Domain  { return DomainSettings }
func (ProjectData) Domain() Domain   { return DomainProject }
func (SystemData) Domain() Domain    { return DomainSystem }

func (AnalyticsData) isPayload() {}
func (ContentData) isPayload()   {}
func (UserData) isPayload()      {}
func (SettingsData) isPayload()  {}
func (ProjectData) isPayload()   {}
func (SystemData) isPayload()    {}

// DecodePayload decodes raw into the payload struct of t's domain.
// An empty or null body decodes to a nil Payload.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch t.Domain() {
	case DomainAnalytics:
		return decodeAs[AnalyticsData](raw)
	case DomainContent:
		return decodeAs[ContentData](raw)
	case DomainUser:
		return decodeAs[UserData](raw)
	case DomainSettings:
		return decodeAs[SettingsData](raw)
	case DomainProject:
		return decodeAs[ProjectData](raw)
	case DomainSystem:
		return decodeAs[SystemData](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", v.Domain(), err)
	}
	return v, nil
}
