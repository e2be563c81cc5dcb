package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// migrationLockKey is the pg_advisory_lock key serializing concurrent
// migrators. Two engine instances starting at once must not race the DDL.
const migrationLockKey = 0x7465726d // "term"

// Migrator runs SQL migration files in numeric order.
// Compatible with golang-migrate file naming: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	db            *sql.DB
	migrationsDir string
}

// migration is one version parsed from the migrations directory.
type migration struct {
	version int64
	name    string
	upFile  string
}

func (mg migration) downFile() string {
	return strings.Replace(mg.upFile, ".up.sql", ".down.sql", 1)
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir}
}

// Up applies all pending up-migrations in version order, each in its own
// transaction. Safe to run from every instance on startup.
func (m *Migrator) Up(ctx context.Context) error {
	unlock, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.ensureMigrationTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	for _, mg := range migrations {
		if applied[mg.version] {
			continue
		}
		if err := m.applyOne(ctx, mg); err != nil {
			return err
		}
		log.Printf("INFO: applied migration %06d_%s", mg.version, mg.name)
	}

	return nil
}

func (m *Migrator) applyOne(ctx context.Context, mg migration) error {
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, mg.upFile))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", mg.upFile, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", mg.upFile, err)
	}

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", mg.upFile, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
		mg.version, mg.upFile,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %s: %w", mg.upFile, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mg.upFile, err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	unlock, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version int64
	var filename string
	err = m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if err == sql.ErrNoRows {
		log.Println("INFO: no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, downFile))
	if err != nil {
		return fmt.Errorf("read down migration %s: %w", downFile, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec down migration %s: %w", downFile, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.schema_migrations WHERE version = $1`, version,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("INFO: rolled back migration %s", downFile)
	return nil
}

// Status logs every known migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}

	for _, mg := range migrations {
		state := "pending"
		if applied[mg.version] {
			state = "applied"
		}
		log.Printf("INFO: %06d_%s: %s", mg.version, mg.name, state)
	}
	return nil
}

// acquireLock takes the session-level advisory lock and returns its release.
func (m *Migrator) acquireLock(ctx context.Context) (func(), error) {
	if _, err := m.db.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	return func() {
		if _, err := m.db.Exec(`SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			log.Printf("WARN: release migration lock: %v", err)
		}
	}, nil
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    BIGINT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadMigrations parses the directory into versioned migrations, sorted
// numerically. Every up file must have a matching down file so a rollback
// never discovers the gap at runtime.
func (m *Migrator) loadMigrations() ([]migration, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}

	var migrations []migration
	for name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		mg, err := parseMigrationName(name)
		if err != nil {
			return nil, err
		}
		if !names[mg.downFile()] {
			return nil, fmt.Errorf("migration %s has no down file", name)
		}
		migrations = append(migrations, mg)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// parseMigrationName splits "000001_event_log.up.sql" into version 1 and
// name "event_log".
func parseMigrationName(filename string) (migration, error) {
	base := strings.TrimSuffix(filename, ".up.sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return migration{}, fmt.Errorf("malformed migration filename %q", filename)
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return migration{}, fmt.Errorf("malformed migration version in %q: %w", filename, err)
	}
	return migration{version: version, name: parts[1], upFile: filename}, nil
}
