// Package schema upgrades stored documents to the layout this build writes
package schema

import (
	"fmt"
	"sort"

	"ailego/application/ports"
)

// Migration upgrades one collection's documents by a single version step
type Migration struct {
	Collection  string
	FromVersion int
	ToVersion   int
	Description string
	Up          func(doc ports.Document) error
}

// Evolution holds the migration chain of every collection
type Evolution struct {
	target     int
	migrations map[string]map[int]Migration
}

// NewEvolution creates an empty chain ending at target
func NewEvolution(target int) *Evolution {
	return &Evolution{
		target:     target,
		migrations: make(map[string]map[int]Migration),
	}
}

// Target returns the version documents are upgraded to
func (e *Evolution) Target() int {
	return e.target
}

// RegisterMigration adds a single-step migration
func (e *Evolution) RegisterMigration(m Migration) error {
	if m.ToVersion != m.FromVersion+1 {
		return fmt.Errorf("invalid migration: %s %d->%d must advance one version", m.Collection, m.FromVersion, m.ToVersion)
	}
	if m.ToVersion > e.target {
		return fmt.Errorf("invalid migration: %s %d->%d goes past version %d", m.Collection, m.FromVersion, m.ToVersion, e.target)
	}
	if m.Up == nil {
		return fmt.Errorf("invalid migration: %s %d->%d has no Up", m.Collection, m.FromVersion, m.ToVersion)
	}

	steps, ok := e.migrations[m.Collection]
	if !ok {
		steps = make(map[int]Migration)
		e.migrations[m.Collection] = steps
	}
	if _, exists := steps[m.FromVersion]; exists {
		return fmt.Errorf("migration %s %d->%d already exists", m.Collection, m.FromVersion, m.ToVersion)
	}
	steps[m.FromVersion] = m
	return nil
}

// Version reads a document's schema version. Documents written before
// versioning carry none and count as version 1.
func Version(doc ports.Document) int {
	switch v := doc[ports.SchemaVersionField].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// Upgrade migrates doc in place and reports the steps applied. Documents
// newer than the target are left untouched.
func (e *Evolution) Upgrade(collection string, doc ports.Document) ([]string, error) {
	var applied []string
	version := Version(doc)
	for version < e.target {
		m, ok := e.migrations[collection][version]
		if !ok {
			if _, known := e.migrations[collection]; !known {
				// collection without migrations, only the stamp changes
				break
			}
			return applied, fmt.Errorf("no migration for %s from version %d", collection, version)
		}
		if err := m.Up(doc); err != nil {
			return applied, fmt.Errorf("migration %s %d->%d failed: %w", collection, m.FromVersion, m.ToVersion, err)
		}
		applied = append(applied, m.Description)
		version = m.ToVersion
	}
	if len(applied) > 0 {
		doc[ports.SchemaVersionField] = float64(version)
	}
	return applied, nil
}

// Collections lists the collections with registered migrations
func (e *Evolution) Collections() []string {
	out := make([]string, 0, len(e.migrations))
	for c := range e.migrations {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
