package store

import (
	"path/filepath"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	ups, err := ListMigrations(testMigrationsDir, "up")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	downs, err := ListMigrations(testMigrationsDir, "down")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	if len(ups) != len(downs) {
		t.Fatalf("got %d up and %d down migrations", len(ups), len(downs))
	}

	seen := map[string]bool{}
	for _, up := range ups {
		if seen[up.Version] {
			t.Fatalf("duplicate up migration for version %s", up.Version)
		}
		seen[up.Version] = true
	}
	for _, down := range downs {
		if !seen[down.Version] {
			t.Fatalf("down migration %s has no up file", filepath.Base(down.Path))
		}
	}
}

func TestListMigrationsOrdersByDirection(t *testing.T) {
	ups, err := ListMigrations(testMigrationsDir, "up")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	for i := 1; i < len(ups); i++ {
		if ups[i-1].Version >= ups[i].Version {
			t.Fatalf("up migrations out of order: %s before %s", ups[i-1].Version, ups[i].Version)
		}
	}

	downs, err := ListMigrations(testMigrationsDir, "down")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	for i := 1; i < len(downs); i++ {
		if downs[i-1].Version <= downs[i].Version {
			t.Fatalf("down migrations out of order: %s before %s", downs[i-1].Version, downs[i].Version)
		}
	}
}
