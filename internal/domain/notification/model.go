package notification

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("notification not found")
	ErrForbidden  = errors.New("forbidden")
)

// Notification types shown by the in-app bell.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeError   = "error"
)

func validType(t string) bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

type Notification struct {
	ID          uuid.UUID  `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Type        string     `json:"type"`
	Link        *string    `json:"link,omitempty"`
	EncounterID *uuid.UUID `json:"encounterId,omitempty"`
	PatientID   *uuid.UUID `json:"patientId,omitempty"`
	IsRead      bool       `json:"isRead"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// CreateRequest is the body of POST /notifications.
type CreateRequest struct {
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Type        string     `json:"type"`
	Link        *string    `json:"link,omitempty"`
	EncounterID *uuid.UUID `json:"encounterId,omitempty"`
	PatientID   *uuid.UUID `json:"patientId,omitempty"`
}

type ListFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}
