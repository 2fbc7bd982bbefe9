package opd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Executor {
	return db.ExecutorFromContext(ctx, r.pool)
}

const entryCols = `id, patient_id, doctor_id, queue_date, token_number, status,
	idempotency_key, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status string
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.QueueDate.Time, &e.TokenNumber, &status,
		&e.IdempotencyKey, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

// classify maps driver errors onto the package's error classes.
func classify(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		return err
	case db.IsUniqueViolation(err), db.IsSerializationFailure(err):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s: referenced patient or doctor does not exist", ErrNotFound, op)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
	}
}

func lockKey(doctorID uuid.UUID, day Day) string {
	return "opd_queue:" + doctorID.String() + ":" + day.String()
}

func insertEvent(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, eventType string, from, to Status, actorID string) error {
	var fromCol *string
	if from != "" {
		s := string(from)
		fromCol = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO opd_queue_event (entry_id, event_type, from_status, to_status, actor_id)
		VALUES ($1, $2, $3, $4, $5)`,
		entryID, eventType, fromCol, string(to), actorID)
	return err
}

// Allocate takes a transaction-scoped advisory lock on (doctor, day) before
// reading MAX(token_number), so concurrent check-ins for the same queue
// proceed one at a time while other queues are unaffected. The unique index on
// (doctor_id, queue_date, token_number) backs the lock.
func (r *repoPG) Allocate(ctx context.Context, a Allocation) (*Entry, bool, error) {
	var entry *Entry
	replayed := false

	err := db.WithTx(ctx, r.conn(ctx), pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := db.LockKey(ctx, tx, lockKey(a.DoctorID, a.Day)); err != nil {
			return err
		}

		if a.IdempotencyKey != "" {
			// Keys are scoped to the queue day; a kiosk reusing a key tomorrow
			// gets a new token.
			existing, err := scanEntry(tx.QueryRow(ctx, `
				SELECT `+entryCols+`
				FROM opd_queue_entry
				WHERE doctor_id = $1 AND queue_date = $2 AND idempotency_key = $3`,
				a.DoctorID, a.Day.Time, a.IdempotencyKey))
			if err == nil {
				entry, replayed = existing, true
				return nil
			}
			if !db.IsNoRows(err) {
				return err
			}
		}

		var next int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(token_number), 0) + 1
			FROM opd_queue_entry
			WHERE doctor_id = $1 AND queue_date = $2`,
			a.DoctorID, a.Day.Time).Scan(&next); err != nil {
			return err
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

		if _, err := tx.Exec(ctx, `
			INSERT INTO opd_queue_entry (id, patient_id, doctor_id, queue_date, token_number, status,
				idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.PatientID, e.DoctorID, e.QueueDate.Time, e.TokenNumber, string(e.Status),
			e.IdempotencyKey, e.CreatedAt, e.UpdatedAt); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, e.ID, "created", "", StatusWaiting, a.ActorID); err != nil {
			return err
		}

		entry = e
		return nil
	})
	if err != nil {
		return nil, false, classify(err, "allocate token")
	}
	return entry, replayed, nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM opd_queue_entry WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get entry")
	}
	return e, nil
}

func (r *repoPG) List(ctx context.Context, q ListQuery) ([]*QueueItem, error) {
	query := `
		SELECT e.id, e.patient_id, e.doctor_id, e.queue_date, e.token_number, e.status,
			e.idempotency_key, e.created_at, e.updated_at,
			p.id, p.uhid, p.name, p.gender, p.dob
		FROM opd_queue_entry e
		JOIN patient p ON p.id = e.patient_id
		WHERE e.doctor_id = $1 AND e.status = $2`
	args := []interface{}{q.DoctorID, string(q.Status)}
	if q.Date != nil {
		query += ` AND e.queue_date = $3`
		args = append(args, q.Date.Time)
	}
	query += ` ORDER BY e.token_number ASC, e.created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list queue")
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		var it QueueItem
		var status string
		if err := rows.Scan(&it.ID, &it.PatientID, &it.DoctorID, &it.QueueDate.Time, &it.TokenNumber, &status,
			&it.IdempotencyKey, &it.CreatedAt, &it.UpdatedAt,
			&it.Patient.ID, &it.Patient.UHID, &it.Patient.Name, &it.Patient.Gender, &it.Patient.DOB); err != nil {
			return nil, classify(err, "scan queue item")
		}
		it.Status = Status(status)
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list queue")
	}
	return items, nil
}

// Position reads the patient's entry and the doctor's current token inside a
// single REPEATABLE READ snapshot so a concurrent status change cannot be
// seen by one read and missed by the other.
func (r *repoPG) Position(ctx context.Context, patientID uuid.UUID, day Day) (*Position, error) {
	var pos *Position
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

	err := db.WithTx(ctx, r.conn(ctx), opts, func(tx pgx.Tx) error {
		mine, err := scanEntry(tx.QueryRow(ctx, `
			SELECT `+entryCols+`
			FROM opd_queue_entry
			WHERE patient_id = $1 AND queue_date = $2 AND status = 'WAITING'
			ORDER BY token_number ASC
			LIMIT 1`,
			patientID, day.Time))
		if db.IsNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}

		var current int
		if err := tx.QueryRow(ctx, `
			SELECT token_number
			FROM opd_queue_entry
			WHERE doctor_id = $1 AND queue_date = $2 AND status IN ('WAITING', 'IN_PROGRESS')
			ORDER BY token_number ASC
			LIMIT 1`,
			mine.DoctorID, day.Time).Scan(&current); err != nil {
			return err
		}

		pos = &Position{Entry: mine, CurrentToken: current}
		return nil
	})
	if err != nil {
		return nil, classify(err, "read queue position")
	}
	return pos, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, actorID string) (*Entry, error) {
	var updated *Entry
	err := db.WithTx(ctx, r.conn(ctx), pgx.TxOptions{}, func(tx pgx.Tx) error {
		e, err := scanEntry(tx.QueryRow(ctx, `
			UPDATE opd_queue_entry SET status = $3, updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING `+entryCols,
			id, string(from), string(to)))
		if db.IsNoRows(err) {
			return fmt.Errorf("%w: entry %s is no longer %s", ErrConflict, id, from)
		}
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, id, "status_changed", from, to, actorID); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, classify(err, "update status")
	}
	return updated, nil
}

// CallNext skips rows another caller has already locked, so two nurses
// pressing "next" at once call two different patients.
func (r *repoPG) CallNext(ctx context.Context, doctorID uuid.UUID, day Day, actorID string) (*Entry, error) {
	var called *Entry
	err := db.WithTx(ctx, r.conn(ctx), pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM opd_queue_entry
			WHERE doctor_id = $1 AND queue_date = $2 AND status = 'WAITING'
			ORDER BY token_number ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			doctorID, day.Time).Scan(&id)
		if db.IsNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}

		e, err := scanEntry(tx.QueryRow(ctx, `
			UPDATE opd_queue_entry SET status = 'IN_PROGRESS', updated_at = NOW()
			WHERE id = $1
			RETURNING `+entryCols, id))
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, id, "called", StatusWaiting, StatusInProgress, actorID); err != nil {
			return err
		}
		called = e
		return nil
	})
	if err != nil {
		return nil, classify(err, "call next")
	}
	return called, nil
}

func (r *repoPG) CancelStale(ctx context.Context, before Day, actorID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		WITH stale AS (
			SELECT id, status FROM opd_queue_entry
			WHERE queue_date < $1 AND status IN ('WAITING', 'IN_PROGRESS')
			FOR UPDATE SKIP LOCKED
		), cancelled AS (
			UPDATE opd_queue_entry e SET status = 'CANCELLED', updated_at = NOW()
			FROM stale
			WHERE e.id = stale.id
			RETURNING e.id, stale.status AS from_status
		)
		INSERT INTO opd_queue_event (entry_id, event_type, from_status, to_status, actor_id)
		SELECT id, 'expired', from_status, 'CANCELLED', $2 FROM cancelled`,
		before.Time, actorID)
	if err != nil {
		return 0, classify(err, "cancel stale entries")
	}
	return tag.RowsAffected(), nil
}
