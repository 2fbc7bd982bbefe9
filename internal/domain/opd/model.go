package opd

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one patient's place in a doctor's queue for one day.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patientId"`
	DoctorID       uuid.UUID `json:"doctorId"`
	QueueDate      Day       `json:"queueDate"`
	TokenNumber    int       `json:"tokenNumber"`
	Status         Status    `json:"status"`
	IdempotencyKey *string   `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PatientSummary is the slice of the patient record shown on the queue board.
type PatientSummary struct {
	ID     uuid.UUID  `json:"id"`
	UHID   string     `json:"uhid"`
	Name   string     `json:"name"`
	Gender *string    `json:"gender"`
	DOB    *time.Time `json:"dob"`
}

type Doctor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department,omitempty"`
}

// QueueItem is a listed entry with its patient embedded.
type QueueItem struct {
	Entry
	Patient PatientSummary `json:"patient"`
}

// Projection is what a patient sees when polling their place in the queue.
type Projection struct {
	EntryID           uuid.UUID `json:"entryId"`
	MyToken           int       `json:"myToken"`
	CurrentToken      int       `json:"currentToken"`
	PeopleAhead       int       `json:"peopleAhead"`
	EstimatedWaitTime int       `json:"estimatedWaitTime"`
	DoctorName        string    `json:"doctorName"`
	Department        string    `json:"department"`
	Status            Status    `json:"status"`
}

// CheckInRequest is the body of POST /opd/queue.
type CheckInRequest struct {
	PatientID      string `json:"patientId"`
	DoctorID       string `json:"doctorId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// ListParams are the raw filters of GET /opd/queue.
type ListParams struct {
	DoctorID string
	Status   string
	Date     string
}

// PatientDirectory and DoctorDirectory resolve references owned by
// registration and staff management. Both return (nil, nil) when the record
// does not exist.
type PatientDirectory interface {
	PatientSummary(ctx context.Context, id uuid.UUID) (*PatientSummary, error)
}

type DoctorDirectory interface {
	Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// Notice is an in-app message raised by the queue, e.g. to tell a doctor a
// patient has checked in.
type Notice struct {
	UserID    string
	Title     string
	Message   string
	Link      string
	PatientID uuid.UUID
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice) error

func (f NotifierFunc) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }
