package mbtiles_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sattiler/internal/tiletest"
	"sattiler/mbtiles"
	"sattiler/tile"
)

// rawExec 绕过 Store 直接改写文件, 模拟旧工具留下的库
func rawExec(t *testing.T, s *mbtiles.Store, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite3", s.Path())
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func TestSetMetadataDuplicateRows(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "dup-metadata.mbtiles")
	rawExec(t, s,
		`DROP INDEX name`,
		`INSERT INTO metadata (name, value) VALUES ('format', 'png'), ('format', 'jpg')`,
	)

	err := s.SetMetadata(ctx, "format", "webp")
	require.Error(t, err)
	var cerr *tile.StorageConsistencyError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, int64(1), cerr.Expected)
	assert.Equal(t, int64(2), cerr.Rows)
	assert.True(t, tile.IsFatal(err))

	md, err := s.GetAllMetadata(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "webp", md["format"])
}

func TestSetZoomStatsRollsBackOnDuplicateRows(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "dup-satdata.mbtiles")
	rawExec(t, s,
		`DROP INDEX satdata_index`,
		`INSERT INTO satdata (zoom_level, name, value) VALUES (3, 'tileX', '0'), (3, 'tileX', '0')`,
	)

	err := s.SetZoomStats(ctx, 3, map[string]string{"land": "5", "tileX": "1"})
	var cerr *tile.StorageConsistencyError
	require.True(t, errors.As(err, &cerr))

	st, err := s.GetZoomStat(ctx, 3)
	require.NoError(t, err)
	_, ok := st["land"]
	assert.False(t, ok)
	assert.Equal(t, "0", st["tileX"])
}

func TestSetTileOverNullTileID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "null-id.mbtiles")
	c := tile.Coord{Z: 3, X: 1, Y: 2}
	rawExec(t, s, `INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (3, 1, 2, NULL)`)

	ok, err := s.TileExists(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	data := tiletest.PNG(4, 8)
	require.NoError(t, s.SetTile(ctx, c, data))
	got, err := s.GetTile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	coords, err := s.TileCoords(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []tile.Coord{c}, coords)
}

func TestDeleteTileWithNullTileID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "null-delete.mbtiles")
	c := tile.Coord{Z: 2, X: 0, Y: 1}
	rawExec(t, s, `INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (2, 0, 1, NULL)`)

	require.NoError(t, s.DeleteTile(ctx, c))
	assert.True(t, tile.IsNotFound(s.DeleteTile(ctx, c)))
}
