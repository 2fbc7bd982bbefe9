package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/opd"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

// testDB holds the shared database for the suite.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (*testDB, func(), error) {
	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres: %w", err)
	}

	// Enough connections for the concurrent check-in tests.
	pool, err := db.NewPool(ctx, db.PoolOptions{URL: connStr, MaxConns: 40})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	return &testDB{Pool: pool, ConnStr: connStr}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// createTenantSchema creates a tenant schema with every embedded migration.
func createTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	migrator := db.NewMigrator(globalDB.Pool, migrations.FS)
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, migrator); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
}

func dropTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	_, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaName(tenantID)))
	if err != nil {
		t.Logf("warning: failed to drop schema %s: %v", db.SchemaName(tenantID), err)
	}
}

// newTenant creates an isolated tenant that is dropped when the test ends.
func newTenant(t *testing.T, ctx context.Context, prefix string) string {
	t.Helper()
	tid := uniqueTenantID(prefix)
	createTenantSchema(t, ctx, tid)
	t.Cleanup(func() { dropTenantSchema(t, context.Background(), tid) })
	return tid
}

// inTenant runs fn inside the tenant schema and fails the test on error.
func inTenant(t *testing.T, ctx context.Context, tenantID string, fn func(ctx context.Context) error) {
	t.Helper()
	if err := db.WithTenant(ctx, globalDB.Pool, tenantID, fn); err != nil {
		t.Fatalf("tenant %s: %v", tenantID, err)
	}
}

func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

func createTestPatient(t *testing.T, ctx context.Context, tenantID, name, uhid string) *identity.Patient {
	t.Helper()
	p := &identity.Patient{UHID: uhid, Name: name}
	inTenant(t, ctx, tenantID, func(ctx context.Context) error {
		return identity.NewPatientRepo(globalDB.Pool).Create(ctx, p)
	})
	return p
}

func createTestDoctor(t *testing.T, ctx context.Context, tenantID, name, department string) *identity.Staff {
	t.Helper()
	s := &identity.Staff{Name: name, Role: identity.RolePhysician, Department: &department, Active: true}
	inTenant(t, ctx, tenantID, func(ctx context.Context) error {
		return identity.NewStaffRepo(globalDB.Pool).Create(ctx, s)
	})
	return s
}

// queueAt builds a queue service against the real repositories whose clock
// is pinned to now in Asia/Kolkata.
func queueAt(t *testing.T, now time.Time) *opd.Service {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	pool := globalDB.Pool
	dir := identity.NewDirectory(identity.NewPatientRepo(pool), identity.NewStaffRepo(pool))
	return opd.NewService(opd.NewRepoPG(pool), dir, dir, opd.ServiceConfig{
		Clock:  opd.NewClock(loc).WithNow(func() time.Time { return now }),
		Logger: zerolog.Nop(),
	})
}

var (
	registrar = auth.Caller{UserID: "reg-1", Roles: []string{auth.RoleRegistrar}}
	nurse     = auth.Caller{UserID: "nurse-1", Roles: []string{auth.RoleNurse}}
)

// withTenant is db.WithTenant on the shared pool, for goroutines that must
// not call t.Fatal.
func withTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return db.WithTenant(ctx, globalDB.Pool, tenantID, fn)
}

func connFromCtx(ctx context.Context) *pgxpool.Conn {
	return db.ConnFromContext(ctx)
}
