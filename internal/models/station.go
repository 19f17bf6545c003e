package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider kinds for a station's stream
const (
	ProviderAuto   = "auto"   // detect token providers by host
	ProviderToken  = "token"  // base URL redirects to a short-lived token URL
	ProviderStatic = "static" // fixed URLs
)

// Station is a configured radio stream
type Station struct {
	ID                uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	Name              string    `json:"name" gorm:"type:text;not null;uniqueIndex;column:name"`
	DisplayName       string    `json:"display_name" gorm:"type:text;not null;default:'';column:display_name"`
	StreamURL         string    `json:"stream_url" gorm:"type:text;not null;column:stream_url"`
	SegmentedURL      string    `json:"segmented_url,omitempty" gorm:"type:text;not null;default:'';column:segmented_url"`
	Mirrors           []string  `json:"mirrors" gorm:"type:text;serializer:json;column:mirrors"`
	Provider          string    `json:"provider" gorm:"type:text;not null;default:'auto';column:provider"`
	ExternalPlayerURL string    `json:"external_player_url,omitempty" gorm:"type:text;not null;default:'';column:external_player_url"`
	CreatedAt         time.Time `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:updated_at"`
}

// NewStation creates a Station with a generated UUID and timestamps
func NewStation(name, streamURL string) *Station {
	now := time.Now().UTC()
	return &Station{
		ID:        uuid.New(),
		Name:      name,
		StreamURL: streamURL,
		Mirrors:   []string{},
		Provider:  ProviderAuto,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Label returns the display name, falling back to the name
func (s *Station) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}
