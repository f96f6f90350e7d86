package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/config"
)

func openTestDB(t *testing.T, migrations fstest.MapFS) *DB {
	t.Helper()
	cfg := Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
	if migrations != nil {
		cfg.Migrations = migrations
	}
	db, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("empty path rejected", func(t *testing.T) {
		if _, err := Open(context.Background(), Config{}); err == nil {
			t.Error("Open() expected error for empty path")
		}
	})
}

func TestFromConfig(t *testing.T) {
	migrations := fstest.MapFS{}
	cfg := FromConfig(config.DatabaseConfig{Path: "/x.db", WALMode: true, BusyTimeout: 3}, migrations)

	if cfg.Path != "/x.db" || !cfg.WALMode || cfg.BusyTimeout != 3 {
		t.Errorf("FromConfig() = %+v", cfg)
	}
	if cfg.Migrations == nil {
		t.Error("FromConfig() dropped migrations filesystem")
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t, nil)
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() should fail")
	}
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tests := []struct {
		name   string
		commit bool
		want   int
	}{
		{"rollback discards", false, 0},
		{"commit persists", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.ExecContext(ctx, "DELETE FROM t"); err != nil {
				t.Fatalf("reset: %v", err)
			}
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("BeginTx() error = %v", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES ('x')"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if tt.commit {
				err = tx.Commit()
			} else {
				err = tx.Rollback()
			}
			if err != nil {
				t.Fatalf("finish tx: %v", err)
			}

			var n int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != tt.want {
				t.Errorf("rows = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestExecContext_WrapsError(t *testing.T) {
	db := openTestDB(t, nil)
	if _, err := db.ExecContext(context.Background(), "NOT SQL"); err == nil {
		t.Error("ExecContext() expected error for invalid SQL")
	}
}
