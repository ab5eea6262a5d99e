package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/core/*.sql
var coreMigrations embed.FS

//go:embed migrations/agents/*.sql
var agentsMigrations embed.FS

//go:embed migrations/memory/*.sql
var memoryMigrations embed.FS

// schemaSources maps a logical schema name to its embedded migration
// filesystem, adapting MigrationManager.LoadMigrations's directory-walking
// to compiled-in SQL since no .sql files existed on disk to reuse.
var schemaSources = map[string]embed.FS{
	"core":   coreMigrations,
	"agents": agentsMigrations,
	"memory": memoryMigrations,
}

// migration is one forward-only step for one schema.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrationManager tracks and applies forward-only migrations per schema,
// grounded on internal/database/migrations.go's MigrationManager.
type migrationManager struct {
	db *sql.DB
}

func newMigrationManager(db *sql.DB) *migrationManager {
	return &migrationManager{db: db}
}

func (m *migrationManager) initialize() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			module TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		);
	`)
	return err
}

func (m *migrationManager) currentVersion(module string) (int, error) {
	var v int
	err := m.db.QueryRow("SELECT version FROM schema_versions WHERE module = ?", module).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version for %s: %v", module, err)
	}
	return v, nil
}

func loadMigrations(fsys embed.FS, dir string) ([]migration, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations for %s: %v", dir, err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			log.Printf("skipping migration file with invalid name format: %s", name)
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			log.Printf("skipping migration file with invalid version: %s", name)
			continue
		}
		content, err := fsys.ReadFile(dir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", name, err)
		}
		out = append(out, migration{
			Version: version,
			Name:    strings.TrimSuffix(parts[1], ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// migrateModule applies every pending migration for one schema, in order,
// each inside its own transaction. It refuses to run if the durable version
// is newer than any migration this binary knows about.
func (m *migrationManager) migrateModule(module string) error {
	fsys, ok := schemaSources[module]
	if !ok {
		return fmt.Errorf("unknown schema module %q", module)
	}

	migrations, err := loadMigrations(fsys, "migrations/"+module)
	if err != nil {
		return err
	}

	current, err := m.currentVersion(module)
	if err != nil {
		return err
	}

	maxKnown := 0
	for _, mig := range migrations {
		if mig.Version > maxKnown {
			maxKnown = mig.Version
		}
	}
	if current > maxKnown {
		return fmt.Errorf("schema %q is at version %d, newer than the %d this binary understands", module, current, maxKnown)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.applyMigration(module, mig); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrationManager) applyMigration(module string, mig migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to apply %s migration %d_%s: %v", module, mig.Version, mig.Name, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO schema_versions (module, version) VALUES (?, ?)
		ON CONFLICT(module) DO UPDATE SET version = excluded.version
	`, module, mig.Version); err != nil {
		return fmt.Errorf("failed to record %s migration %d_%s: %v", module, mig.Version, mig.Name, err)
	}
	return tx.Commit()
}

// migrateAll runs every known schema's pending migrations.
func (m *migrationManager) migrateAll() error {
	if err := m.initialize(); err != nil {
		return fmt.Errorf("failed to initialize schema_versions: %v", err)
	}
	for _, module := range []string{"core", "agents", "memory"} {
		if err := m.migrateModule(module); err != nil {
			return err
		}
	}
	return nil
}
