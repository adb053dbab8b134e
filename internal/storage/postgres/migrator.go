package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockKey  = int64(20240611)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

// Migration: пара up/down скриптов одной версии схемы.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrationState: состояние схемы для команды status.
type MigrationState struct {
	Current int64
	Applied []int64
	Pending []Migration
}

// Migrator применяет встроенные миграции под advisory lock.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     *log.Entry
}

// NewMigrator читает встроенные миграции.
func NewMigrator(store *Store) (*Migrator, error) {
	if store == nil || store.db == nil {
		return nil, errors.New("postgres store is not initialized")
	}
	migrations, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: store.db, migrations: migrations, logger: log.WithField("component", "migrator")}, nil
}

// Up применяет до steps неприменённых миграций; steps <= 0 применяет все.
func (m *Migrator) Up(ctx context.Context, steps int) (int, error) {
	applied := 0
	err := m.locked(ctx, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if slices.Contains(done, mig.Version) {
				continue
			}
			if steps > 0 && applied >= steps {
				break
			}
			if err := m.apply(ctx, conn, mig, mig.Up, true); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// Down откатывает steps последних миграций; steps <= 0 откатывает одну.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	byVersion := make(map[int64]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		byVersion[mig.Version] = mig
	}

	reverted := 0
	err := m.locked(ctx, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for i := len(done) - 1; i >= 0 && reverted < steps; i-- {
			mig, ok := byVersion[done[i]]
			if !ok {
				return fmt.Errorf("cannot roll back unknown migration version %d", done[i])
			}
			if err := m.apply(ctx, conn, mig, mig.Down, false); err != nil {
				return err
			}
			reverted++
		}
		return nil
	})
	return reverted, err
}

func (m *Migrator) Status(ctx context.Context) (MigrationState, error) {
	var state MigrationState
	err := m.locked(ctx, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		state.Applied = done
		if len(done) > 0 {
			state.Current = done[len(done)-1]
		}
		for _, mig := range m.migrations {
			if !slices.Contains(done, mig.Version) {
				state.Pending = append(state.Pending, mig)
			}
		}
		return nil
	})
	return state, err
}

func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn)
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, mig Migration, script string, up bool) (err error) {
	direction := "down"
	if up {
		direction = "up"
	}
	started := time.Now()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d (%s): %w", mig.Version, direction, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("migration %d_%s %s: %w", mig.Version, mig.Name, direction, err)
	}
	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
	}
	if err != nil {
		return fmt.Errorf("record migration %d_%s: %w", mig.Version, mig.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d_%s: %w", mig.Version, mig.Name, err)
	}

	m.logger.WithFields(log.Fields{
		"version":     mig.Version,
		"name":        mig.Name,
		"direction":   direction,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("migration applied")
	return nil
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// parseMigrations собирает пары NNNN_name.up.sql / NNNN_name.down.sql.
func parseMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		parts := migrationName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = mig
		}
		if mig.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, mig.Name, parts[2])
		}

		target := &mig.Up
		if parts[3] == "down" {
			target = &mig.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = script
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" || mig.Down == "" {
			return nil, fmt.Errorf("migration %d_%s needs both up and down scripts", mig.Version, mig.Name)
		}
		migrations = append(migrations, *mig)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
