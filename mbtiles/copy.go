package mbtiles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// CopyZoomFrom 从另一个库导入某一级别, 已存在的坐标和 blob 保持不变
func (s *Store) CopyZoomFrom(ctx context.Context, zoom int, other *Store) (int64, error) {
	return s.copyFrom(ctx, other, "WHERE zoom_level = ?", zoom)
}

// CopyAllFrom 从另一个库导入全部级别
func (s *Store) CopyAllFrom(ctx context.Context, other *Store) (int64, error) {
	return s.copyFrom(ctx, other, "")
}

func (s *Store) copyFrom(ctx context.Context, other *Store, where string, args ...interface{}) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "copy: conn")
	}
	defer conn.Close()

	// ATTACH 不能在事务内执行
	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS src`, other.Path()); err != nil {
		return 0, errors.Wrapf(err, "attach %s", other.Path())
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `DETACH DATABASE src`); err != nil {
			s.log.Warnf("detach %s: %s", other.Path(), err)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "copy: begin")
	}
	copied, err := copyRows(ctx, tx, where, args)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "copy: commit")
	}
	s.log.Infof("copied %d tiles from %s", copied, other.Path())
	return copied, nil
}

func copyRows(ctx context.Context, tx *sql.Tx, where string, args []interface{}) (int64, error) {
	insertMap := fmt.Sprintf(`
		INSERT OR IGNORE INTO main.map (zoom_level, tile_column, tile_row, tile_id, grid_id)
		SELECT zoom_level, tile_column, tile_row, tile_id, grid_id FROM src.map %s`, where)
	res, err := tx.ExecContext(ctx, insertMap, args...)
	if err != nil {
		return 0, errors.Wrap(err, "copy map")
	}
	copied, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "copy map")
	}

	// 只导入被目标记录引用的 blob
	insertImages := fmt.Sprintf(`
		INSERT OR IGNORE INTO main.images (tile_data, tile_id)
		SELECT tile_data, tile_id FROM src.images
		WHERE tile_id IN (SELECT tile_id FROM main.map %s)`, where)
	if _, err := tx.ExecContext(ctx, insertImages, args...); err != nil {
		return 0, errors.Wrap(err, "copy images")
	}
	return copied, nil
}

// DeleteZoom 删除某级别的全部瓦片并回收空间
func (s *Store) DeleteZoom(ctx context.Context, zoom int) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM map WHERE zoom_level = ?`, zoom)
		if err != nil {
			return errors.Wrapf(err, "delete zoom %d", zoom)
		}
		deleted, _ = res.RowsAffected()
		_, err = tx.ExecContext(ctx, `DELETE FROM images WHERE tile_id NOT IN (SELECT tile_id FROM map WHERE tile_id IS NOT NULL)`)
		return errors.Wrap(err, "delete orphan images")
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return deleted, errors.Wrap(err, "vacuum")
	}
	s.log.Infof("deleted %d tiles of zoom %d", deleted, zoom)
	return deleted, nil
}
