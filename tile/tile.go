package tile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ZoomMin 最小级别
const ZoomMin = 0

// ZoomMax 最大级别
const ZoomMax = 24

// Coord 瓦片坐标 (XYZ 方案, 原点在左上角)
type Coord struct {
	Z int
	X int
	Y int
}

// Constants representing TileFormat types
const (
	PNG  string = "png"
	JPG         = "jpg"
	PBF         = "pbf"
	WEBP        = "webp"
	GIF         = "gif"
)

func (c Coord) String() string {
	return fmt.Sprintf("z%d/%d/%d", c.Z, c.X, c.Y)
}

// Valid 坐标是否落在该级别的网格内
func (c Coord) Valid() bool {
	if c.Z < ZoomMin || c.Z > ZoomMax {
		return false
	}
	n := 1 << uint(c.Z)
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Children 下一级的四个子瓦片
func (c Coord) Children() [4]Coord {
	x, y, z := c.X*2, c.Y*2, c.Z+1
	return [4]Coord{
		{Z: z, X: x, Y: y},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y + 1},
	}
}

// Parent 上一级瓦片
func (c Coord) Parent() Coord {
	if c.Z == 0 {
		return c
	}
	return Coord{Z: c.Z - 1, X: c.X / 2, Y: c.Y / 2}
}

// FlipY TMS 行号
func (c Coord) FlipY() int {
	return (1 << uint(c.Z)) - c.Y - 1
}

// MapTile 转换为 orb 瓦片
func (c Coord) MapTile() maptile.Tile {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z))
}

// Bound 瓦片地理范围
func (c Coord) Bound() orb.Bound {
	return c.MapTile().Bound()
}

// FromMapTile 由 orb 瓦片构造坐标
func FromMapTile(t maptile.Tile) Coord {
	return Coord{Z: int(t.Z), X: int(t.X), Y: int(t.Y)}
}
