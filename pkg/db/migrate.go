package db

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaMismatch is returned when the database schema version differs
// from the version compiled into the binary.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// migrationLockKey serialises concurrent migrators via an advisory lock.
const migrationLockKey = 73_110_001

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations returns the embedded migrations ordered by version.
// File names follow NNNN_name.sql.
func Migrations() ([]Migration, error) {
	return loadMigrations(migrationsFS, "migrations")
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	out := make([]Migration, 0, len(entries))
	seen := map[int]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".sql")
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, errors.Errorf("migration %q: expected NNNN_name.sql", e.Name())
		}
		v, err := strconv.Atoi(num)
		if err != nil || v <= 0 {
			return nil, errors.Errorf("migration %q: bad version", e.Name())
		}
		if prev, dup := seen[v]; dup {
			return nil, errors.Errorf("migration version %d used by %q and %q", v, prev, e.Name())
		}
		seen[v] = e.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %q", e.Name())
		}
		out = append(out, Migration{Version: v, Name: name, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i, m := range out {
		if m.Version != i+1 {
			return nil, errors.Errorf("migration versions must be contiguous from 1, got %d at position %d", m.Version, i+1)
		}
	}
	return out, nil
}

// LatestVersion is the schema version this binary expects.
func LatestVersion() (int, error) {
	ms, err := Migrations()
	if err != nil {
		return 0, err
	}
	if len(ms) == 0 {
		return 0, nil
	}
	return ms[len(ms)-1].Version, nil
}

// Migrate applies every embedded migration newer than the database
// version, one transaction per migration. Returns the number applied.
func (m *PgTxManager) Migrate(ctx context.Context) (int, error) {
	ms, err := Migrations()
	if err != nil {
		return 0, err
	}

	_, err = m.Conn().Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return 0, errors.Wrap(err, "create schema_migrations")
	}

	applied := 0
	for _, mig := range ms {
		mig := mig
		done := false
		err := m.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
			if _, err := tx.Exec(ctxTx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return errors.Wrap(err, "advisory lock")
			}
			var exists bool
			if err := tx.QueryRow(ctxTx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version,
			).Scan(&exists); err != nil {
				return errors.Wrap(err, "check version")
			}
			if exists {
				return nil
			}
			if _, err := tx.Exec(ctxTx, mig.SQL); err != nil {
				return errors.Wrapf(err, "apply %04d_%s", mig.Version, mig.Name)
			}
			if _, err := tx.Exec(ctxTx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name,
			); err != nil {
				return errors.Wrap(err, "record version")
			}
			done = true
			return nil
		})
		if err != nil {
			return applied, err
		}
		if done {
			applied++
		}
	}
	return applied, nil
}

// SchemaVersion reads the highest applied migration version.
func (m *PgTxManager) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := m.Conn().QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, errors.Wrap(ErrSchemaMismatch, "schema_migrations unreadable: "+err.Error())
	}
	return v, nil
}

// CheckSchema fails fast unless the database is exactly at LatestVersion.
func (m *PgTxManager) CheckSchema(ctx context.Context) error {
	want, err := LatestVersion()
	if err != nil {
		return err
	}
	got, err := m.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	return compareVersions(got, want)
}

func compareVersions(got, want int) error {
	switch {
	case got == want:
		return nil
	case got < want:
		return errors.Wrapf(ErrSchemaMismatch, "database at version %d, binary expects %d: run migrate", got, want)
	default:
		return errors.Wrapf(ErrSchemaMismatch, "database at version %d is ahead of binary version %d", got, want)
	}
}
