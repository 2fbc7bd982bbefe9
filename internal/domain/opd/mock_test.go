package opd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/events"
)

// -- Mock Repository --

// memRepo mirrors the Postgres contract: one mutex stands in for the per-day
// advisory lock and every write appends to the event history.
type memRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	events  []memEvent
	// failAllocate makes the next n Allocate calls fail with the error.
	failAllocate    error
	failAllocateN   int
	allocateCalls   int
	currentOverride *int
}

type memEvent struct {
	EntryID uuid.UUID
	Type    string
	From    Status
	To      Status
	Actor   string
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[uuid.UUID]*Entry)}
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	return &cp
}

func (m *memRepo) Allocate(_ context.Context, a Allocation) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocateCalls++
	if m.failAllocateN > 0 {
		m.failAllocateN--
		return nil, false, m.failAllocate
	}

	if a.IdempotencyKey != "" {
		for _, e := range m.entries {
			if e.DoctorID == a.DoctorID && e.QueueDate.Equal(a.Day.Time) &&
				e.IdempotencyKey != nil && *e.IdempotencyKey == a.IdempotencyKey {
				return copyEntry(e), true, nil
			}
		}
	}

	next := 1
	for _, e := range m.entries {
		if e.DoctorID == a.DoctorID && e.QueueDate.Equal(a.Day.Time) && e.TokenNumber >= next {
			next = e.TokenNumber + 1
		}
	}
	e := &Entry{
		ID:          uuid.New(),
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		QueueDate:   a.Day,
		TokenNumber: next,
		Status:      StatusWaiting,
		CreatedAt:   a.At,
		UpdatedAt:   a.At,
	}
	if a.IdempotencyKey != "" {
		key := a.IdempotencyKey
		e.IdempotencyKey = &key
	}
	m.entries[e.ID] = e
	m.events = append(m.events, memEvent{EntryID: e.ID, Type: "created", To: StatusWaiting, Actor: a.ActorID})
	return copyEntry(e), false, nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (m *memRepo) sorted(match func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, e := range m.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenNumber != out[j].TokenNumber {
			return out[i].TokenNumber < out[j].TokenNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memRepo) List(_ context.Context, q ListQuery) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*QueueItem
	for _, e := range m.sorted(func(e *Entry) bool {
		return e.DoctorID == q.DoctorID && e.Status == q.Status && (q.Date == nil || e.QueueDate.Equal(q.Date.Time))
	}) {
		items = append(items, &QueueItem{Entry: *e, Patient: PatientSummary{ID: e.PatientID, Name: "Patient " + e.PatientID.String()[:4]}})
	}
	return items, nil
}

func (m *memRepo) Position(_ context.Context, patientID uuid.UUID, day Day) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mine := m.sorted(func(e *Entry) bool {
		return e.PatientID == patientID && e.QueueDate.Equal(day.Time) && e.Status == StatusWaiting
	})
	if len(mine) == 0 {
		return nil, nil
	}
	entry := mine[0]
	active := m.sorted(func(e *Entry) bool {
		return e.DoctorID == entry.DoctorID && e.QueueDate.Equal(day.Time) && e.Status.Active()
	})
	current := active[0].TokenNumber
	if m.currentOverride != nil {
		current = *m.currentOverride
	}
	return &Position{Entry: copyEntry(entry), CurrentToken: current}, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, actorID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != from {
		return nil, fmt.Errorf("%w: entry %s is no longer %s", ErrConflict, id, from)
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	m.events = append(m.events, memEvent{EntryID: id, Type: "status_changed", From: from, To: to, Actor: actorID})
	return copyEntry(e), nil
}

func (m *memRepo) CallNext(_ context.Context, doctorID uuid.UUID, day Day, actorID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := m.sorted(func(e *Entry) bool {
		return e.DoctorID == doctorID && e.QueueDate.Equal(day.Time) && e.Status == StatusWaiting
	})
	if len(waiting) == 0 {
		return nil, nil
	}
	e := waiting[0]
	e.Status = StatusInProgress
	m.events = append(m.events, memEvent{EntryID: e.ID, Type: "called", From: StatusWaiting, To: StatusInProgress, Actor: actorID})
	return copyEntry(e), nil
}

func (m *memRepo) CancelStale(_ context.Context, before Day, actorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.QueueDate.Before(before.Time) && e.Status.Active() {
			m.events = append(m.events, memEvent{EntryID: e.ID, Type: "expired", From: e.Status, To: StatusCancelled, Actor: actorID})
			e.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

// seed inserts an entry directly, bypassing allocation.
func (m *memRepo) seed(e Entry) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries[e.ID] = &e
	return copyEntry(&e)
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// -- Mock Directories --

type memDirectory struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*PatientSummary
	doctors  map[uuid.UUID]*Doctor
	err      error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		patients: make(map[uuid.UUID]*PatientSummary),
		doctors:  make(map[uuid.UUID]*Doctor),
	}
}

func (d *memDirectory) addPatient(name string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.patients[id] = &PatientSummary{ID: id, UHID: "UH" + id.String()[:6], Name: name}
	return id
}

func (d *memDirectory) addDoctor(name, department string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.doctors[id] = &Doctor{ID: id, Name: name, Department: department}
	return id
}

func (d *memDirectory) PatientSummary(_ context.Context, id uuid.UUID) (*PatientSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.patients[id], nil
}

func (d *memDirectory) Doctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.doctors[id], nil
}

// -- Recorders --

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}
