package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"folio/api/db"
)

var migrationNamePattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestEmbeddedMigrationsMatchDirectory(t *testing.T) {
	embedded, err := upMigrations(db.Migrations())
	if err != nil {
		t.Fatalf("list embedded migrations: %v", err)
	}
	onDisk, err := upMigrations(os.DirFS(filepath.Join("..", "..", "db", "migrations")))
	if err != nil {
		t.Fatalf("list migrations on disk: %v", err)
	}
	if len(embedded) == 0 || len(embedded) != len(onDisk) {
		t.Fatalf("embedded=%v on disk=%v", embedded, onDisk)
	}
	for i := range embedded {
		if embedded[i] != onDisk[i] {
			t.Fatalf("migration %d: embedded %q, on disk %q", i, embedded[i], onDisk[i])
		}
	}

	body, err := fs.ReadFile(db.Migrations(), embedded[0])
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("embedded migration %s is empty", embedded[0])
	}
}
