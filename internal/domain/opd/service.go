package opd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
)

const (
	DefaultMinutesPerPatient = 10
	defaultDepartment        = "OPD"
	unknownDoctor            = "Unknown Doctor"
	maxIdempotencyKeyLen     = 255
	// SweepActor is recorded on entries cancelled by the day-end sweep.
	SweepActor = "system:queue-sweep"
)

// Event types published on the doctor's topic.
const (
	EventCheckedIn     = "opd.checked_in"
	EventStatusChanged = "opd.status_changed"
)

// DoctorTopic is the websocket topic carrying a doctor's queue changes.
func DoctorTopic(doctorID uuid.UUID) string {
	return "opd/doctor/" + doctorID.String()
}

type ServiceConfig struct {
	Clock             Clock
	MinutesPerPatient int
	Publisher         events.Publisher
	Notifier          Notifier
	Logger            zerolog.Logger
}

type Service struct {
	repo              Repository
	patients          PatientDirectory
	doctors           DoctorDirectory
	clock             Clock
	minutesPerPatient int
	publisher         events.Publisher
	notifier          Notifier
	logger            zerolog.Logger
}

func NewService(repo Repository, patients PatientDirectory, doctors DoctorDirectory, cfg ServiceConfig) *Service {
	if cfg.MinutesPerPatient <= 0 {
		cfg.MinutesPerPatient = DefaultMinutesPerPatient
	}
	if cfg.Clock.now == nil {
		cfg.Clock = NewClock(time.UTC)
	}
	return &Service{
		repo:              repo,
		patients:          patients,
		doctors:           doctors,
		clock:             cfg.Clock,
		minutesPerPatient: cfg.MinutesPerPatient,
		publisher:         cfg.Publisher,
		notifier:          cfg.Notifier,
		logger:            cfg.Logger,
	}
}

func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, validationf("%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, validationf("%s must be a valid id", field)
	}
	return id, nil
}

// callerDoctorID resolves an omitted doctor id to the calling doctor.
func callerDoctorID(caller auth.Caller, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) != "" {
		return parseID("doctorId", raw)
	}
	id, err := uuid.Parse(caller.UserID)
	if err != nil {
		return uuid.Nil, validationf("doctorId is required")
	}
	return id, nil
}

// CheckIn puts the patient at the end of the doctor's queue for today and
// returns the new entry. replayed is true when the idempotency key matched an
// earlier check-in, in which case that entry is returned unchanged.
func (s *Service) CheckIn(ctx context.Context, caller auth.Caller, req CheckInRequest) (*Entry, bool, error) {
	if !caller.Authenticated() {
		return nil, false, ErrUnauthorized
	}
	patientID, err := parseID("patientId", req.PatientID)
	if err != nil {
		return nil, false, err
	}
	doctorID, err := parseID("doctorId", req.DoctorID)
	if err != nil {
		return nil, false, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, false, validationf("idempotency key exceeds %d characters", maxIdempotencyKeyLen)
	}

	patient, err := s.patients.PatientSummary(ctx, patientID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: look up patient: %w", ErrStorage, err)
	}
	if patient == nil {
		return nil, false, fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
	}
	doctor, err := s.doctors.Doctor(ctx, doctorID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: look up doctor: %w", ErrStorage, err)
	}
	if doctor == nil {
		return nil, false, fmt.Errorf("%w: doctor %s", ErrNotFound, doctorID)
	}

	now := s.clock.Now()
	alloc := Allocation{
		PatientID:      patientID,
		DoctorID:       doctorID,
		Day:            s.clock.DayOf(now),
		IdempotencyKey: key,
		ActorID:        caller.UserID,
		At:             now,
	}

	// A conflict means the unique index caught a race the lock should have
	// prevented (or a concurrent replay of the same key). One retry settles it.
	entry, replayed, err := s.repo.Allocate(ctx, alloc)
	if errors.Is(err, ErrConflict) && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("token allocation conflict, retrying")
		entry, replayed, err = s.repo.Allocate(ctx, alloc)
	}
	if err != nil {
		return nil, false, err
	}

	if replayed {
		if entry.PatientID != patientID {
			return nil, false, fmt.Errorf("%w: idempotency key already used for another patient", ErrConflict)
		}
		return entry, true, nil
	}

	s.logger.Info().
		Str("entry_id", entry.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("queue_date", entry.QueueDate.String()).
		Int("token", entry.TokenNumber).
		Msg("patient checked in")

	s.publish(ctx, caller, EventCheckedIn, entry)
	s.notifyDoctor(ctx, entry, patient)
	return entry, false, nil
}

// List returns one doctor's entries in a single status ordered by token. The
// doctor defaults to the caller and the status to WAITING.
func (s *Service) List(ctx context.Context, caller auth.Caller, p ListParams) ([]*QueueItem, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	doctorID, err := callerDoctorID(caller, p.DoctorID)
	if err != nil {
		return nil, err
	}

	q := ListQuery{DoctorID: doctorID, Status: StatusWaiting}
	if p.Status != "" {
		if q.Status, err = ParseStatus(p.Status); err != nil {
			return nil, err
		}
	}
	if p.Date != "" {
		day, err := ParseDay(p.Date)
		if err != nil {
			return nil, err
		}
		q.Date = &day
	}

	items, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*QueueItem{}
	}
	return items, nil
}

// Status projects the patient's place in today's queue. It returns nil when
// the patient has no WAITING entry today. Patients may only ask about the
// record linked to their own login.
func (s *Service) Status(ctx context.Context, caller auth.Caller, patientIDParam string) (*Projection, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	patientID, err := s.resolvePatient(caller, patientIDParam)
	if err != nil {
		return nil, err
	}

	pos, err := s.repo.Position(ctx, patientID, s.clock.Today())
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	ahead := pos.Entry.TokenNumber - pos.CurrentToken
	if ahead < 0 {
		s.logger.Error().
			Str("entry_id", pos.Entry.ID.String()).
			Int("my_token", pos.Entry.TokenNumber).
			Int("current_token", pos.CurrentToken).
			Msg("waiting token is behind the current token")
		return nil, fmt.Errorf("%w: token %d is behind current token %d", ErrInconsistentState, pos.Entry.TokenNumber, pos.CurrentToken)
	}

	proj := &Projection{
		EntryID:           pos.Entry.ID,
		MyToken:           pos.Entry.TokenNumber,
		CurrentToken:      pos.CurrentToken,
		PeopleAhead:       ahead,
		EstimatedWaitTime: ahead * s.minutesPerPatient,
		DoctorName:        unknownDoctor,
		Department:        defaultDepartment,
		Status:            pos.Entry.Status,
	}

	// The doctor's name is display-only; a directory failure degrades to the
	// placeholder rather than failing the poll.
	doctor, err := s.doctors.Doctor(ctx, pos.Entry.DoctorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", pos.Entry.DoctorID.String()).Msg("doctor lookup failed")
	}
	if doctor != nil {
		if doctor.Name != "" {
			proj.DoctorName = doctor.Name
		}
		if doctor.Department != "" {
			proj.Department = doctor.Department
		}
	}
	return proj, nil
}

func (s *Service) resolvePatient(caller auth.Caller, raw string) (uuid.UUID, error) {
	if caller.IsStaff() {
		if strings.TrimSpace(raw) == "" && caller.PatientID != "" {
			raw = caller.PatientID
		}
		return parseID("patient_id", raw)
	}
	if caller.PatientID == "" {
		return uuid.Nil, fmt.Errorf("%w: patient record not found", ErrNotFound)
	}
	own, err := uuid.Parse(caller.PatientID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: linked patient id is malformed", ErrForbidden)
	}
	if strings.TrimSpace(raw) != "" {
		requested, err := parseID("patient_id", raw)
		if err != nil {
			return uuid.Nil, err
		}
		if requested != own {
			return uuid.Nil, fmt.Errorf("%w: patients may only view their own queue status", ErrForbidden)
		}
	}
	return own, nil
}

// Transition moves an entry to a new status. Asking for the status the entry
// already has is a no-op that returns it unchanged.
func (s *Service) Transition(ctx context.Context, caller auth.Caller, rawID, rawStatus string) (*Entry, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawStatus) == "" {
		return nil, validationf("status is required")
	}
	to, err := ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: queue entry %s", ErrNotFound, id)
	}
	if current.Status == to {
		return current, nil
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: entry is already %s", ErrInvalidTransition, current.Status)
	}
	if !current.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to, caller.UserID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, caller, EventStatusChanged, updated)
	return updated, nil
}

// CallNext calls the lowest waiting token of the doctor's queue today. The
// doctor defaults to the caller.
func (s *Service) CallNext(ctx context.Context, caller auth.Caller, rawDoctorID string) (*Entry, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	doctorID, err := callerDoctorID(caller, rawDoctorID)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.CallNext(ctx, doctorID, s.clock.Today(), caller.UserID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: no patient waiting for doctor %s", ErrNotFound, doctorID)
	}
	s.publish(ctx, caller, EventStatusChanged, entry)
	return entry, nil
}

// SweepStale cancels entries left WAITING or IN_PROGRESS on earlier days so
// yesterday's queue never reports a current token.
func (s *Service) SweepStale(ctx context.Context) (int64, error) {
	today := s.clock.Today()
	n, err := s.repo.CancelStale(ctx, today, SweepActor)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("cancelled", n).Str("before", today.String()).Msg("stale queue entries swept")
	return n, nil
}

func (s *Service) publish(ctx context.Context, caller auth.Caller, eventType string, e *Entry) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = caller.TenantID
	}
	err = s.publisher.Publish(ctx, events.Event{
		Type:         eventType,
		Topic:        DoctorTopic(e.DoctorID),
		Key:          e.DoctorID.String(),
		TenantID:     tenant,
		ResourceType: "OPDQueueEntry",
		ResourceID:   e.ID.String(),
		Timestamp:    s.clock.Now(),
		Data:         data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("queue event not published")
	}
}

func (s *Service) notifyDoctor(ctx context.Context, e *Entry, patient *PatientSummary) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, Notice{
		UserID:    e.DoctorID.String(),
		Title:     "Patient checked in",
		Message:   fmt.Sprintf("%s (UHID %s) is waiting with token %d.", patient.Name, patient.UHID, e.TokenNumber),
		Link:      "/doctor/opd",
		PatientID: e.PatientID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("check-in notification failed")
	}
}
