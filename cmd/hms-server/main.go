package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/opd"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sandbox"
	"github.com/hms/hms/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital OPD queue API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(queueCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads the configuration and connects to the database for the
// one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// migrationsFS returns the embedded migrations unless dir points elsewhere.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// targetTenants resolves the --tenant/--all flags. --all reads every tenant
// schema that exists.
func targetTenants(ctx context.Context, pool *pgxpool.Pool, tenant string, all bool) ([]string, error) {
	if all {
		return db.ListTenants(ctx, pool)
	}
	if tenant == "" {
		return nil, fmt.Errorf("--tenant or --all is required")
	}
	return []string{tenant}, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			all, _ := cmd.Flags().GetBool("all")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			tenants, err := targetTenants(ctx, pool, tenant, all)
			if err != nil {
				return err
			}
			migrator := db.NewMigrator(pool, migrationsFS(dir))
			for _, tid := range tenants {
				schema := db.SchemaName(tid)
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := migrator.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed for %s: %w", schema, err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
			}
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	upCmd.Flags().Bool("all", false, "Migrate every existing tenant schema")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return fmt.Errorf("failed to create tenant: %w", err)
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant name (required)")
	cmd.AddCommand(createCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill a tenant with demo doctors and patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.DoctorCount, _ = cmd.Flags().GetInt("doctors")
			seedCfg.PatientCount, _ = cmd.Flags().GetInt("patients")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			seeder := sandbox.NewSeeder(seedCfg, identity.NewPatientRepo(pool), identity.NewStaffRepo(pool))
			return db.WithTenant(ctx, pool, name, func(ctx context.Context) error {
				res, err := seeder.Seed(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d doctor(s) and %d patient(s) into %s in %s.\n",
					len(res.Doctors), res.Patients, db.SchemaName(name), res.Duration)
				for _, id := range res.Doctors {
					fmt.Printf("  doctor %s\n", id)
				}
				return nil
			})
		},
	}
	defaults := sandbox.DefaultSeedConfig()
	seedCmd.Flags().String("name", "default", "Tenant to seed")
	seedCmd.Flags().Int("doctors", defaults.DoctorCount, "Number of doctors")
	seedCmd.Flags().Int("patients", defaults.PatientCount, "Number of patients")
	seedCmd.Flags().Int64("seed", defaults.Seed, "Random seed; 0 picks one from the clock")
	cmd.AddCommand(seedCmd)

	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "OPD queue maintenance",
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel queue entries left open on earlier days",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			all, _ := cmd.Flags().GetBool("all")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			tenants, err := targetTenants(ctx, pool, tenant, all)
			if err != nil {
				return err
			}
			dir := identity.NewDirectory(identity.NewPatientRepo(pool), identity.NewStaffRepo(pool))
			svc := opd.NewService(opd.NewRepoPG(pool), dir, dir, opd.ServiceConfig{
				Clock:  opd.NewClock(loc),
				Logger: logger,
			})
			return sweepTenants(ctx, tenants, tenantRunner(pool), svc.SweepStale, logger)
		},
	}
	sweepCmd.Flags().String("tenant", "default", "Tenant to sweep")
	sweepCmd.Flags().Bool("all", false, "Sweep every tenant schema")
	cmd.AddCommand(sweepCmd)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
