package mbtiles

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"sattiler/tile"
)

// Bounds 某级别已存瓦片的行列范围 (闭区间) 与数量
type Bounds struct {
	MinX  int   `json:"minX"`
	MaxX  int   `json:"maxX"`
	MinY  int   `json:"minY"`
	MaxY  int   `json:"maxY"`
	Count int64 `json:"count"`
}

// Rect 转为左闭右开矩形
func (b Bounds) Rect() tile.Rect {
	return tile.Rect{MinX: b.MinX, MaxX: b.MaxX + 1, MinY: b.MinY, MaxY: b.MaxY + 1}
}

// Area 范围内的格子数, 与 Count 比较可知缺多少
func (b Bounds) Area() int64 {
	return b.Rect().Count()
}

// BoundsByZoom 全表聚合, 调用方应缓存结果
func (s *Store) BoundsByZoom(ctx context.Context) (map[int]Bounds, error) {
	const query = `
		SELECT zoom_level, min(tile_column), max(tile_column), min(tile_row), max(tile_row), count(*)
		FROM tiles
		GROUP BY zoom_level`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "bounds")
	}
	defer rows.Close()

	out := make(map[int]Bounds)
	for rows.Next() {
		var zoom int
		var b Bounds
		if err := rows.Scan(&zoom, &b.MinX, &b.MaxX, &b.MinY, &b.MaxY, &b.Count); err != nil {
			return nil, errors.Wrap(err, "scan bounds")
		}
		out[zoom] = b
	}
	return out, errors.Wrap(rows.Err(), "bounds")
}

// CountTiles 某级别瓦片数
func (s *Store) CountTiles(ctx context.Context, zoom int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tiles WHERE zoom_level = ?`, zoom).Scan(&n)
	return n, errors.Wrapf(err, "count zoom %d", zoom)
}

// Summarize 统计每个级别的范围并写入 satdata
func (s *Store) Summarize(ctx context.Context) (map[int]Bounds, error) {
	bounds, err := s.BoundsByZoom(ctx)
	if err != nil {
		return nil, err
	}
	for zoom, b := range bounds {
		err := s.SetZoomStats(ctx, zoom, map[string]string{
			"minX":  strconv.Itoa(b.MinX),
			"maxX":  strconv.Itoa(b.MaxX),
			"minY":  strconv.Itoa(b.MinY),
			"maxY":  strconv.Itoa(b.MaxY),
			"count": strconv.FormatInt(b.Count, 10),
		})
		if err != nil {
			return nil, err
		}
		s.log.Infof("zoom %d: x %d-%d y %d-%d, %d tiles of %d", zoom, b.MinX, b.MaxX, b.MinY, b.MaxY, b.Count, b.Area())
	}
	return bounds, nil
}
