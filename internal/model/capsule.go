package model

import (
	"time"

	"github.com/timeseal/timeseal-go/internal/geo"
)

// Footprint is a geolocation fix captured at sealing or at an unlock attempt.
type Footprint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Fix converts the footprint to the geo package's measurement type.
func (f Footprint) Fix() geo.Fix {
	return geo.Fix{
		Coordinate: geo.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude},
		Accuracy:   f.Accuracy,
	}
}

// Attachment is opaque metadata for a media file stored in the blob store.
// The capsule core stores and forwards it; it never touches the file bytes.
type Attachment struct {
	FileID       string `json:"file_id"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Type         string `json:"type"`
	LastModified int64  `json:"last_modified"`
	URL          string `json:"url"`
}

// Capsule is a sealed message in the database. Message holds ciphertext
// until the capsule is opened, plaintext afterwards.
type Capsule struct {
	ID          string
	OwnerID     int64
	OwnerEmail  string
	Name        string
	Message     string
	CodeHash    string
	LockedUntil time.Time
	Footprint   *Footprint
	Attachment  *Attachment
	IsOpened    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SealCapsuleRequest represents a request to seal a new capsule.
// An empty Code asks the server to generate one.
type SealCapsuleRequest struct {
	Name        string      `json:"name"`
	Message     string      `json:"message"`
	Code        string      `json:"code"`
	YearsLocked int         `json:"years_locked"`
	Footprint   *Footprint  `json:"footprint,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
}

// SealCapsuleResponse is returned after sealing. GeneratedCode is set only
// when the server picked the code, and is the single time it is ever shown.
type SealCapsuleResponse struct {
	Capsule       CapsuleResponse `json:"capsule"`
	GeneratedCode string          `json:"generated_code,omitempty"`
}

// UnlockRequest represents an unlock attempt on a specific capsule.
type UnlockRequest struct {
	Code      string     `json:"code"`
	Footprint *Footprint `json:"footprint,omitempty"`
}

// UnlockByEmailRequest represents an unlock attempt that identifies the
// capsule by the sealer's email instead of the capsule ID.
type UnlockByEmailRequest struct {
	Email     string     `json:"email"`
	Code      string     `json:"code"`
	Footprint *Footprint `json:"footprint,omitempty"`
}

// RenameCapsuleRequest updates a capsule's display name before it is opened.
type RenameCapsuleRequest struct {
	Name string `json:"name"`
}

// CapsuleResponse represents capsule data safe for API responses: no code
// hash, and the message only once the capsule has been opened.
type CapsuleResponse struct {
	ID           string      `json:"id"`
	OwnerEmail   string      `json:"owner_email"`
	Name         string      `json:"name"`
	Message      string      `json:"message,omitempty"`
	LockedUntil  time.Time   `json:"locked_until"`
	HasFootprint bool        `json:"has_footprint"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	IsOpened     bool        `json:"is_opened"`
	CreatedAt    time.Time   `json:"created_at"`
}

// StatsResponse reports global capsule usage against the configured quota.
type StatsResponse struct {
	Total     int64 `json:"total"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}
