package mbtiles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sattiler/internal/tiletest"
	"sattiler/tile"
)

func TestCopyZoomFrom(t *testing.T) {
	ctx := context.Background()
	seed := openStore(t, "seed.mbtiles")
	dst := openStore(t, "dst.mbtiles")

	for x := 0; x < 4; x++ {
		require.NoError(t, seed.SetTile(ctx, tile.Coord{Z: 2, X: x, Y: 1}, tiletest.PNG(int64(x), 8)))
	}
	require.NoError(t, seed.SetTile(ctx, tile.Coord{Z: 3, X: 0, Y: 0}, tiletest.PNG(99, 8)))

	// 目标里已有的坐标不被覆盖
	mine := tiletest.PNG(42, 8)
	require.NoError(t, dst.SetTile(ctx, tile.Coord{Z: 2, X: 0, Y: 1}, mine))

	copied, err := dst.CopyZoomFrom(ctx, 2, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(3), copied)

	n, err := dst.CountTiles(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	n, err = dst.CountTiles(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := dst.GetTile(ctx, tile.Coord{Z: 2, X: 0, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, mine, got)
	got, err = dst.GetTile(ctx, tile.Coord{Z: 2, X: 3, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, tiletest.PNG(3, 8), got)

	// 没有引用的 blob 不应被带过来
	blobs, err := dst.BlobCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), blobs)
}

func TestCopyAllFromAndDeleteZoom(t *testing.T) {
	ctx := context.Background()
	seed := openStore(t, "seed_all.mbtiles")
	dst := openStore(t, "dst_all.mbtiles")
	for z := 0; z < 3; z++ {
		require.NoError(t, seed.SetTile(ctx, tile.Coord{Z: z, X: 0, Y: 0}, tiletest.PNG(int64(z), 8)))
	}

	copied, err := dst.CopyAllFrom(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(3), copied)

	// 重复导入不产生重复记录
	copied, err = dst.CopyAllFrom(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), copied)

	deleted, err := dst.DeleteZoom(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	bounds, err := dst.BoundsByZoom(ctx)
	require.NoError(t, err)
	assert.Len(t, bounds, 2)
	_, ok := bounds[1]
	assert.False(t, ok)
	blobs, err := dst.BlobCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), blobs)
}
