package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

func (db *DB) Ready(ctx context.Context) error {
	var one int
	return db.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// RunMigrations executes every *.sql file of dir in lexical order. Files
// must be idempotent (CREATE ... IF NOT EXISTS); there is no version table.
func (db *DB) RunMigrations(ctx context.Context, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no migrations found in %s", dir)
	}
	sort.Strings(paths)
	for _, path := range paths {
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
		}
		if _, err := db.Pool.Exec(ctx, string(sqlBytes)); err != nil {
			return 0, fmt.Errorf("exec migration %s: %w", filepath.Base(path), err)
		}
	}
	return len(paths), nil
}

// PurgeEvents deletes every playback event. Administrative and test use only.
func (db *DB) PurgeEvents(ctx context.Context) (int64, error) {
	ct, err := db.Pool.Exec(ctx, "DELETE FROM playback_events")
	if err != nil {
		return 0, fmt.Errorf("purge playback events: %w", err)
	}
	return ct.RowsAffected(), nil
}
