package tile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileIndexKnownPoints(t *testing.T) {
	x, y, err := TileIndex(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, x)
	assert.Equal(t, 1, y)

	x, y, err = TileIndex(37.46, -122.14, 10)
	require.NoError(t, err)
	assert.Equal(t, 164, x)
	assert.Equal(t, 396, y)

	// 东边界与最北端落在最后一个/第一个瓦片
	x, y, err = TileIndex(MaxLatitude, 180, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, x)
	assert.Equal(t, 0, y)
}

func TestTileIndexOutOfRange(t *testing.T) {
	cases := []struct {
		name      string
		lat, lon  float64
		zoom      int
		wantField string
	}{
		{"north pole", 89.9, 0, 5, "latitude"},
		{"south", -86, 10, 5, "latitude"},
		{"lon", 10, 181, 5, "longitude"},
		{"zoom", 10, 10, -1, "zoom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := TileIndex(tc.lat, tc.lon, tc.zoom)
			var oe *OutOfRangeError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, tc.wantField, oe.Field)
		})
	}
}

func TestTileIndexRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		lat := (r.Float64()*2 - 1) * 85.05
		lon := (r.Float64()*2 - 1) * 180
		zoom := r.Intn(20)

		x, y, err := TileIndex(lat, lon, zoom)
		require.NoError(t, err)
		lat2, lon2 := LatLon(x, y, zoom)
		x2, y2, err := TileIndex(lat2, lon2, zoom)
		require.NoError(t, err)
		require.Equal(t, [2]int{x, y}, [2]int{x2, y2}, "lat=%v lon=%v zoom=%d", lat, lon, zoom)
	}
}

func TestLatLonInsideMapTileBound(t *testing.T) {
	c := Coord{Z: 6, X: 10, Y: 23}
	lat, lon := LatLon(c.X, c.Y, c.Z)
	b := c.Bound()
	assert.True(t, lon > b.Min.X() && lon < b.Max.X())
	assert.True(t, lat > b.Min.Y() && lat < b.Max.Y())
}

func TestBBoxCoverExample(t *testing.T) {
	b := BBox{West: -122.5, South: 37.2, East: -122.0, North: 37.8}
	cover, err := BBoxCover(b, 10)
	require.NoError(t, err)
	require.Len(t, cover.Rects, 1)
	assert.False(t, cover.Unwrapped)

	r := cover.Rects[0]
	assert.GreaterOrEqual(t, r.XCount(), 1)
	assert.LessOrEqual(t, r.XCount(), 4)
	assert.GreaterOrEqual(t, r.YCount(), 1)
	assert.LessOrEqual(t, r.YCount(), 4)
	assert.Equal(t, Rect{MinX: 163, MaxX: 165, MinY: 395, MaxY: 398}, r)
}

func TestBBoxCoverDoublesPerZoom(t *testing.T) {
	boxes := []BBox{
		{West: -122.5, South: 37.2, East: -122.0, North: 37.8},
		{West: 2.2, South: 48.8, East: 2.5, North: 48.95},
		{West: -80, South: -40, East: -30, North: 10},
	}
	for _, b := range boxes {
		for z := 2; z < 16; z++ {
			c1, err := BBoxCover(b, z)
			require.NoError(t, err)
			c2, err := BBoxCover(b, z+1)
			require.NoError(t, err)
			r1, r2 := c1.Rects[0], c2.Rects[0]
			// 两条边各自可能落在子瓦片的另一半, 最多差 2
			assert.InDelta(t, 2*r1.XCount(), r2.XCount(), 2, "x_count box=%v zoom=%d", b, z)
			assert.InDelta(t, 2*r1.YCount(), r2.YCount(), 2, "y_count box=%v zoom=%d", b, z)
		}
	}
}

func TestBBoxCoverAntimeridian(t *testing.T) {
	b := BBox{West: 170, South: -20, East: -170, North: -10}
	cover, err := BBoxCover(b, 4)
	require.NoError(t, err)
	require.True(t, cover.Unwrapped)
	require.Len(t, cover.Rects, 2)
	assert.Equal(t, 16, cover.Rects[0].MaxX)
	assert.Equal(t, 0, cover.Rects[1].MinX)
	assert.Equal(t, int64(2*cover.Rects[0].YCount()), cover.Count())
}

func TestBBoxCoverRejectsInvertedLatitudes(t *testing.T) {
	_, err := BBoxCover(BBox{West: 0, South: 10, East: 1, North: 5}, 3)
	var oe *OutOfRangeError
	require.ErrorAs(t, err, &oe)
}

func TestRectScale(t *testing.T) {
	r := Rect{MinX: 3, MaxX: 5, MinY: 7, MaxY: 8}
	s := r.Scale()
	assert.Equal(t, Rect{MinX: 6, MaxX: 10, MinY: 14, MaxY: 16}, s)
	assert.Equal(t, 4*r.Count(), s.Count())
	assert.True(t, s.Contains(9, 15))
	assert.False(t, s.Contains(10, 15))
}

func TestRadiusRect(t *testing.T) {
	r, err := RadiusRect(37.46, -122.14, 15, 10)
	require.NoError(t, err)
	assert.True(t, r.Contains(164, 396))
	assert.Equal(t, r.XCount(), r.YCount())
	assert.Greater(t, r.Count(), int64(1))

	_, err = RadiusRect(37.46, -122.14, -1, 10)
	assert.Error(t, err)
}

func TestChildrenAndParent(t *testing.T) {
	parent := Coord{Z: 4, X: 3, Y: 5}
	kids := parent.Children()
	assert.Equal(t, [4]Coord{
		{Z: 5, X: 6, Y: 10},
		{Z: 5, X: 7, Y: 10},
		{Z: 5, X: 6, Y: 11},
		{Z: 5, X: 7, Y: 11},
	}, kids)
	for _, k := range kids {
		assert.Equal(t, parent, k.Parent())
		assert.True(t, k.Valid())
	}
	assert.Equal(t, parent, FromMapTile(parent.MapTile()))
	assert.False(t, Coord{Z: 2, X: 4, Y: 0}.Valid())
}

func TestRectBBox(t *testing.T) {
	r := Rect{MinX: 163, MaxX: 165, MinY: 395, MaxY: 398}
	b := r.BBox(10)
	assert.True(t, b.West <= -122.5 && b.East >= -122.0)
	assert.True(t, b.South <= 37.2 && b.North >= 37.8)

	cover, err := BBoxCover(b, 10)
	require.NoError(t, err)
	require.Len(t, cover.Rects, 1)
	// 边界正好落在瓦片边上, 浮点误差下可能差一格
	assert.InDelta(t, r.MinX, cover.Rects[0].MinX, 1)
	assert.InDelta(t, r.MinY, cover.Rects[0].MinY, 1)
	assert.InDelta(t, r.MaxX, cover.Rects[0].MaxX, 1)
	assert.InDelta(t, r.MaxY, cover.Rects[0].MaxY, 1)
}
