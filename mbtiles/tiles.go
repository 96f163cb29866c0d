package mbtiles

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	"github.com/pkg/errors"

	"sattiler/tile"
)

// BlobID 内容寻址的 blob 标识, 相同内容共享一条 images 记录
func BlobID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GetTile 读取瓦片
func (s *Store) GetTile(ctx context.Context, c tile.Coord) ([]byte, error) {
	const query = `SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, c.Z, c.X, c.Y).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(tile.ErrNotFound, "tile %s", c)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get tile %s", c)
	}
	return data, nil
}

// TileExists 瓦片是否存在
func (s *Store) TileExists(ctx context.Context, c tile.Coord) (bool, error) {
	id, _, err := tileID(ctx, s.db, c)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

// SetTile 写入或替换瓦片, 记录与 blob 在同一事务内提交
func (s *Store) SetTile(ctx context.Context, c tile.Coord, data []byte) error {
	if !c.Valid() {
		return errors.Errorf("set tile: invalid coordinate %s", c)
	}
	id := BlobID(data)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		old, found, err := tileID(ctx, tx, c)
		if err != nil {
			return err
		}
		if old == id {
			return nil
		}

		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO images (tile_data, tile_id) VALUES (?, ?)`, data, id)
		if err != nil {
			return errors.Wrapf(err, "insert image %s", c)
		}
		if n, _ := res.RowsAffected(); n > 1 {
			return &tile.StorageConsistencyError{Op: "insert images", Key: c.String(), Expected: 1, Rows: n}
		}

		if !found {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)`,
				c.Z, c.X, c.Y, id)
			if err != nil {
				return errors.Wrapf(err, "insert map %s", c)
			}
			return expectRows(res, "insert map", c.String(), 1)
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE map SET tile_id = ? WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
			id, c.Z, c.X, c.Y)
		if err != nil {
			return errors.Wrapf(err, "update map %s", c)
		}
		if err := expectRows(res, "update map", c.String(), 1); err != nil {
			return err
		}
		return reclaimBlob(ctx, tx, old)
	})
}

// DeleteTile 删除瓦片, 没有其它记录引用时一并删除 blob
func (s *Store) DeleteTile(ctx context.Context, c tile.Coord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		old, found, err := tileID(ctx, tx, c)
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrapf(tile.ErrNotFound, "delete tile %s", c)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM map WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, c.Z, c.X, c.Y)
		if err != nil {
			return errors.Wrapf(err, "delete map %s", c)
		}
		if err := expectRows(res, "delete map", c.String(), 1); err != nil {
			return err
		}
		return reclaimBlob(ctx, tx, old)
	})
}

// TileCoords 某级别已存瓦片的坐标, 按行优先排序
func (s *Store) TileCoords(ctx context.Context, zoom int) ([]tile.Coord, error) {
	const query = `SELECT tile_column, tile_row FROM map WHERE zoom_level = ? ORDER BY tile_row, tile_column`

	rows, err := s.db.QueryContext(ctx, query, zoom)
	if err != nil {
		return nil, errors.Wrapf(err, "list zoom %d", zoom)
	}
	defer rows.Close()

	var coords []tile.Coord
	for rows.Next() {
		c := tile.Coord{Z: zoom}
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, errors.Wrap(err, "scan coord")
		}
		coords = append(coords, c)
	}
	return coords, errors.Wrapf(rows.Err(), "list zoom %d", zoom)
}

// BlobCount images 表行数
func (s *Store) BlobCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM images`).Scan(&n)
	return n, errors.Wrap(err, "count images")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// tileID 返回记录的 blob 标识; found 为 true 而 id 为空表示记录存在但 tile_id 为 NULL
func tileID(ctx context.Context, q querier, c tile.Coord) (id string, found bool, err error) {
	const query = `SELECT tile_id FROM map WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`

	var nid sql.NullString
	err = q.QueryRowContext(ctx, query, c.Z, c.X, c.Y).Scan(&nid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "lookup tile %s", c)
	}
	return nid.String, true, nil
}

func reclaimBlob(ctx context.Context, tx *sql.Tx, id string) error {
	if id == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM images WHERE tile_id = ? AND NOT EXISTS (SELECT 1 FROM map WHERE tile_id = ?)`, id, id)
	return errors.Wrapf(err, "reclaim blob %s", id)
}
