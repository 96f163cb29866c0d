package mbtiles

import (
	"context"
	"database/sql"

	"github.com/BurntSushi/migration"
	"github.com/pkg/errors"
)

// 与 tilelive 的去重 schema 兼容
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS map (
		zoom_level INTEGER,
		tile_column INTEGER,
		tile_row INTEGER,
		tile_id TEXT,
		grid_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS images (tile_data BLOB, tile_id TEXT)`,
	`CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT)`,
	`CREATE TABLE IF NOT EXISTS satdata (zoom_level INTEGER, name TEXT, value TEXT)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row)`,
	`CREATE INDEX IF NOT EXISTS map_tile_id ON map (tile_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS images_id ON images (tile_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS name ON metadata (name)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS satdata_index ON satdata (zoom_level, name)`,
	`CREATE VIEW IF NOT EXISTS tiles AS
		SELECT map.zoom_level AS zoom_level,
			map.tile_column AS tile_column,
			map.tile_row AS tile_row,
			images.tile_data AS tile_data
		FROM map JOIN images ON images.tile_id = map.tile_id`,
}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var migrations = []migration.Migrator{
	schema1,
}

var schemaVersion = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, datetime('now'))`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied TEXT)`,
}

func schema1(tx migration.LimitedTx) error {
	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrap(err, "schema1")
		}
	}
	return nil
}

// EnsureSchema 幂等地补齐表、索引和视图, 不会清除已有数据
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Wrap(err, "ensure schema")
			}
		}
		return nil
	})
}

// dbVersion adapts the migration version bookkeeping to SQLite.
type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	var version sql.NullInt64
	if err := tx.QueryRow(d.GetSQL).Scan(&version); err != nil {
		// we assume error means there is no migration table
		return 0, nil
	}
	return int(version.Int64), nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec(d.SetSQL, version); err != nil {
		if _, err := tx.Exec(d.CreateSQL); err != nil {
			return err
		}
		_, err = tx.Exec(d.SetSQL, version)
		return err
	}
	return nil
}
