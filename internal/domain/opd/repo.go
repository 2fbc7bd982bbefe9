package opd

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Allocation asks the repository for the next token in a doctor's day.
type Allocation struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Day            Day
	IdempotencyKey string
	ActorID        string
	At             time.Time
}

type ListQuery struct {
	DoctorID uuid.UUID
	Status   Status
	// Date narrows the listing to one queue day when set.
	Date *Day
}

// Position is a patient's waiting entry together with the doctor's current
// token, both read from the same snapshot.
type Position struct {
	Entry        *Entry
	CurrentToken int
}

// Repository persists queue entries. Implementations must serialise Allocate
// per (DoctorID, Day) so tokens come out as 1..N with no gaps or repeats, and
// must record every write in the queue's event history in the same
// transaction.
type Repository interface {
	// Allocate inserts a WAITING entry with the next token. If an entry of the
	// same doctor already carries IdempotencyKey it is returned with
	// replayed=true and nothing is written.
	Allocate(ctx context.Context, a Allocation) (entry *Entry, replayed bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	List(ctx context.Context, q ListQuery) ([]*QueueItem, error)
	// Position returns nil when the patient has no WAITING entry on day.
	Position(ctx context.Context, patientID uuid.UUID, day Day) (*Position, error)
	// UpdateStatus moves the entry from one status to another and fails with
	// ErrConflict if it is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, actorID string) (*Entry, error)
	// CallNext moves the lowest WAITING token of the doctor's day to
	// IN_PROGRESS. It returns nil when nobody is waiting.
	CallNext(ctx context.Context, doctorID uuid.UUID, day Day, actorID string) (*Entry, error)
	// CancelStale cancels WAITING and IN_PROGRESS entries of days before
	// before and reports how many were cancelled.
	CancelStale(ctx context.Context, before Day, actorID string) (int64, error)
}
