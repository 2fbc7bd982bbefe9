package opd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrConflict},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, ErrNotFound},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), ErrConflict},
		{"already classified", fmt.Errorf("%w: lost race", ErrConflict), ErrConflict},
		{"deadline", context.DeadlineExceeded, ErrStorage},
		{"anything else", errors.New("connection reset"), ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "allocate")
			if !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
	if classify(nil, "allocate") != nil {
		t.Error("expected nil for nil")
	}
}

func TestClassify_KeepsCause(t *testing.T) {
	got := classify(context.DeadlineExceeded, "allocate")
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("expected the cause to stay reachable, got %v", got)
	}
}

func TestLockKey(t *testing.T) {
	doc := uuid.MustParse("6f1c2c8e-8a55-4c1e-9d8e-2f7f1f3b9a10")
	got := lockKey(doc, NewDay(2026, 3, 10))
	if got != "opd_queue:6f1c2c8e-8a55-4c1e-9d8e-2f7f1f3b9a10:2026-03-10" {
		t.Errorf("unexpected lock key %s", got)
	}
	if lockKey(doc, NewDay(2026, 3, 11)) == got {
		t.Error("different days must not share a lock")
	}
	if lockKey(uuid.New(), NewDay(2026, 3, 10)) == got {
		t.Error("different doctors must not share a lock")
	}
}
