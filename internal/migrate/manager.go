// Package migrate applies ordered SQL migrations and seeds from an fs.FS.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// ErrNothingApplied is returned by Down when no migration has been applied.
var ErrNothingApplied = errors.New("no migrations applied")

// Manager executes SQL migrations and seed files.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	log             *zap.Logger
}

// Entry describes one migration file and whether it has been applied.
type Entry struct {
	Name    string
	Applied bool
}

func (e Entry) String() string {
	if e.Applied {
		return "applied  " + e.Name
	}
	return "pending  " + e.Name
}

// Option configures Manager.
type Option func(*Manager)

// WithTables overrides the bookkeeping tables; empty names keep the defaults.
func WithTables(migrations, seeds string) Option {
	return func(m *Manager) {
		if migrations != "" {
			m.migrationsTable = migrations
		}
		if seeds != "" {
			m.seedsTable = seeds
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l.Named("migrate") }
}

// NewManager constructs a Manager. Files are read from the root of each
// filesystem; either may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.migrations, m.migrationsTable, upSuffix)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.seeds, m.seedsTable, seedSuffix)
}

func (m *Manager) apply(ctx context.Context, fsys fs.FS, table, suffix string) ([]string, error) {
	if err := m.bootstrap(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}

	var ran []string
	for _, name := range files {
		if _, ok := seen[name]; ok {
			continue
		}
		started := time.Now()
		err := m.run(ctx, fsys, name, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table), name, started.UTC())
		if err != nil {
			return ran, fmt.Errorf("apply %s: %w", name, err)
		}
		m.log.Info("applied", zap.String("table", table), zap.String("name", name), zap.Duration("took", time.Since(started)))
		ran = append(ran, name)
	}
	return ran, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.bootstrap(ctx); err != nil {
		return "", err
	}
	done, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(done) == 0 {
		return "", ErrNothingApplied
	}
	last := done[len(done)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if m.migrations == nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	err = m.run(ctx, m.migrations, down, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
	if err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	m.log.Info("rolled back", zap.String("name", last))
	return last, nil
}

// Status lists applied migrations in order followed by pending ones.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.bootstrap(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(files))
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
		out = append(out, Entry{Name: name, Applied: true})
	}
	for _, name := range files {
		if _, ok := seen[name]; !ok {
			out = append(out, Entry{Name: name})
		}
	}
	return out, nil
}

func (m *Manager) bootstrap(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("bootstrap %s: %w", table, err)
		}
	}
	return nil
}

// run executes every statement of the file and the bookkeeping statement in
// one transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name, record string, args ...any) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) && !strings.HasSuffix(d.Name(), downSuffix) {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return path.Base(files[i]) < path.Base(files[j]) })
	return files, nil
}

// splitStatements splits SQL on semicolons that are outside quoted strings,
// dollar-quoted bodies and line comments. Blank statements are dropped.
func splitStatements(src string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quote   bool
		dollar  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
			continue
		case quote:
			if c == '\'' {
				quote = false
			}
		case dollar:
			if c == '$' && i+1 < len(src) && src[i+1] == '$' {
				dollar = false
				cur.WriteByte(c)
				i++
			}
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			comment = true
			i++
			continue
		case c == '\'':
			quote = true
		case c == '$' && i+1 < len(src) && src[i+1] == '$':
			dollar = true
			cur.WriteByte(c)
			i++
		case c == ';':
			cur.WriteByte(c)
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return stmts
}
