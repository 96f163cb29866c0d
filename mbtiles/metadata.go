package mbtiles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"sattiler/tile"
)

// GetAllMetadata 全部元数据
func (s *Store) GetAllMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, errors.Wrap(err, "get metadata")
	}
	return scanPairs(rows)
}

// SetMetadata 写入元数据, 同名覆盖
func (s *Store) SetMetadata(ctx context.Context, name, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsert(ctx, tx, "metadata "+name,
			`UPDATE metadata SET value = ? WHERE name = ?`, []interface{}{value, name},
			`INSERT INTO metadata (name, value) VALUES (?, ?)`, []interface{}{name, value})
	})
}

// DeleteMetadata 删除元数据
func (s *Store) DeleteMetadata(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "delete metadata %s", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(tile.ErrNotFound, "metadata %s", name)
	}
	return nil
}

// GetZoomStat 某级别的下载统计
func (s *Store) GetZoomStat(ctx context.Context, zoom int) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM satdata WHERE zoom_level = ?`, zoom)
	if err != nil {
		return nil, errors.Wrapf(err, "get zoom stat %d", zoom)
	}
	return scanPairs(rows)
}

// SetZoomStat 写入某级别的统计项
func (s *Store) SetZoomStat(ctx context.Context, zoom int, name, value string) error {
	return s.SetZoomStats(ctx, zoom, map[string]string{name: value})
}

// SetZoomStats 在一个事务内写入多个统计项
func (s *Store) SetZoomStats(ctx context.Context, zoom int, values map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for name, value := range values {
			err := upsert(ctx, tx, fmt.Sprintf("satdata z%d %s", zoom, name),
				`UPDATE satdata SET value = ? WHERE zoom_level = ? AND name = ?`, []interface{}{value, zoom, name},
				`INSERT INTO satdata (zoom_level, name, value) VALUES (?, ?, ?)`, []interface{}{zoom, name, value})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteZoomStat 删除某级别的统计项
func (s *Store) DeleteZoomStat(ctx context.Context, zoom int, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM satdata WHERE zoom_level = ? AND name = ?`, zoom, name)
	if err != nil {
		return errors.Wrapf(err, "delete zoom stat %d %s", zoom, name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(tile.ErrNotFound, "zoom stat %d %s", zoom, name)
	}
	return nil
}

// upsert 先 UPDATE, 没有命中再 INSERT
func upsert(ctx context.Context, tx *sql.Tx, key, update string, updateArgs []interface{}, insert string, insertArgs []interface{}) error {
	res, err := tx.ExecContext(ctx, update, updateArgs...)
	if err != nil {
		return errors.Wrapf(err, "update %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update %s", key)
	}
	switch {
	case n == 1:
		return nil
	case n > 1:
		return &tile.StorageConsistencyError{Op: "update", Key: key, Expected: 1, Rows: n}
	}
	res, err = tx.ExecContext(ctx, insert, insertArgs...)
	if err != nil {
		return errors.Wrapf(err, "insert %s", key)
	}
	return expectRows(res, "insert", key, 1)
}

func scanPairs(rows *sql.Rows) (map[string]string, error) {
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "scan")
		}
		out[name] = value.String
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
