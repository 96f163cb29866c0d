package tile

import (
	"math"

	"github.com/paulmach/orb"
)

// MaxLatitude Web Mercator 纬度上限
const MaxLatitude = 85.05112877980659

// EarthCircumference 赤道周长 (km)
const EarthCircumference = 40075.0

// BBox 经纬度范围, West > East 表示跨越日期变更线
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Rect 瓦片行列号范围, 左闭右开
type Rect struct {
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinY int `json:"minY"`
	MaxY int `json:"maxY"`
}

// Cover 一个范围在某级别覆盖的瓦片, 跨日期变更线时拆成两段
type Cover struct {
	Rects     []Rect
	Unwrapped bool
}

// TileIndex 经纬度转瓦片行列号
func TileIndex(lat, lon float64, zoom int) (int, int, error) {
	if zoom < ZoomMin || zoom > ZoomMax {
		return 0, 0, &OutOfRangeError{Field: "zoom", Value: float64(zoom)}
	}
	if math.IsNaN(lat) || math.Abs(lat) > MaxLatitude {
		return 0, 0, &OutOfRangeError{Field: "latitude", Value: lat}
	}
	if math.IsNaN(lon) || math.Abs(lon) > 180 {
		return 0, 0, &OutOfRangeError{Field: "longitude", Value: lon}
	}
	n := math.Exp2(float64(zoom))
	rad := lat * math.Pi / 180
	x := math.Floor((lon + 180) / 360 * n)
	y := math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n)
	last := int(n) - 1
	return clamp(int(x), 0, last), clamp(int(y), 0, last), nil
}

// LatLon 瓦片中心点经纬度
func LatLon(x, y, zoom int) (float64, float64) {
	n := math.Exp2(float64(zoom))
	lon := (float64(x)+0.5)/n*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*(float64(y)+0.5)/n))) * 180 / math.Pi
	return lat, lon
}

// BBoxCover 计算范围在 zoom 级别的瓦片矩形
func BBoxCover(b BBox, zoom int) (Cover, error) {
	if b.South >= b.North {
		return Cover{}, &OutOfRangeError{Field: "south", Value: b.South}
	}
	swX, swY, err := TileIndex(b.South, b.West, zoom)
	if err != nil {
		return Cover{}, err
	}
	neX, neY, err := TileIndex(b.North, b.East, zoom)
	if err != nil {
		return Cover{}, err
	}
	minY, maxY := neY, swY+1
	if !b.CrossesAntimeridian() {
		return Cover{Rects: []Rect{{MinX: swX, MaxX: neX + 1, MinY: minY, MaxY: maxY}}}, nil
	}

	n := 1 << uint(zoom)
	if swX <= neX {
		// 两段在该级别重叠, 整行都要
		return Cover{Rects: []Rect{{MinX: 0, MaxX: n, MinY: minY, MaxY: maxY}}, Unwrapped: true}, nil
	}
	return Cover{
		Rects: []Rect{
			{MinX: swX, MaxX: n, MinY: minY, MaxY: maxY},
			{MinX: 0, MaxX: neX + 1, MinY: minY, MaxY: maxY},
		},
		Unwrapped: true,
	}, nil
}

// RadiusRect 以某点为中心, 半径 radiusKm 内的瓦片矩形
func RadiusRect(lat, lon, radiusKm float64, zoom int) (Rect, error) {
	x, y, err := TileIndex(lat, lon, zoom)
	if err != nil {
		return Rect{}, err
	}
	if radiusKm < 0 || math.IsNaN(radiusKm) {
		return Rect{}, &OutOfRangeError{Field: "radius", Value: radiusKm}
	}
	n := 1 << uint(zoom)
	tileKm := EarthCircumference * math.Cos(lat*math.Pi/180) / float64(n)
	r := int(math.Ceil(radiusKm / tileKm))
	return Rect{
		MinX: clamp(x-r, 0, n),
		MaxX: clamp(x+r+1, 0, n),
		MinY: clamp(y-r, 0, n),
		MaxY: clamp(y+r+1, 0, n),
	}, nil
}

// CrossesAntimeridian 是否跨越日期变更线
func (b BBox) CrossesAntimeridian() bool {
	return b.West > b.East
}

// Clamp 把纬度收敛到 Web Mercator 有效范围
func (b BBox) Clamp() BBox {
	b.South = math.Max(b.South, -MaxLatitude)
	b.North = math.Min(b.North, MaxLatitude)
	b.West = math.Max(b.West, -180)
	b.East = math.Min(b.East, 180)
	return b
}

// Center 中心点 (lat, lon)
func (b BBox) Center() (float64, float64) {
	lat := (b.South + b.North) / 2
	if !b.CrossesAntimeridian() {
		return lat, (b.West + b.East) / 2
	}
	lon := (b.West + b.East + 360) / 2
	if lon > 180 {
		lon -= 360
	}
	return lat, lon
}

// Bound 转换为 orb 范围; 跨日期变更线时东边界展开到 180 以外
func (b BBox) Bound() orb.Bound {
	east := b.East
	if b.CrossesAntimeridian() {
		east += 360
	}
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{east, b.North}}
}

// BBoxFromBound 由 orb 范围构造
func BBoxFromBound(bound orb.Bound) BBox {
	east := bound.Max.X()
	if east > 180 {
		east -= 360
	}
	return BBox{West: bound.Min.X(), South: bound.Min.Y(), East: east, North: bound.Max.Y()}
}

func (r Rect) XCount() int { return r.MaxX - r.MinX }

func (r Rect) YCount() int { return r.MaxY - r.MinY }

// Count 瓦片总数
func (r Rect) Count() int64 {
	if r.Empty() {
		return 0
	}
	return int64(r.XCount()) * int64(r.YCount())
}

func (r Rect) Empty() bool {
	return r.MaxX <= r.MinX || r.MaxY <= r.MinY
}

func (r Rect) Contains(x, y int) bool {
	return x >= r.MinX && x < r.MaxX && y >= r.MinY && y < r.MaxY
}

// Scale 下一级对应的矩形, 每个瓦片对应 2x2 子瓦片
func (r Rect) Scale() Rect {
	return Rect{MinX: r.MinX * 2, MaxX: r.MaxX * 2, MinY: r.MinY * 2, MaxY: r.MaxY * 2}
}

// BBox 矩形在 zoom 级别覆盖的经纬度范围
func (r Rect) BBox(zoom int) BBox {
	nw := Coord{Z: zoom, X: r.MinX, Y: r.MinY}.Bound()
	se := Coord{Z: zoom, X: r.MaxX - 1, Y: r.MaxY - 1}.Bound()
	return BBox{West: nw.Min.X(), South: se.Min.Y(), East: se.Max.X(), North: nw.Max.Y()}
}

// Count 所有矩形瓦片数之和
func (c Cover) Count() int64 {
	var total int64
	for _, r := range c.Rects {
		total += r.Count()
	}
	return total
}

// Scale 下一级对应的覆盖
func (c Cover) Scale() Cover {
	next := Cover{Rects: make([]Rect, len(c.Rects)), Unwrapped: c.Unwrapped}
	for i, r := range c.Rects {
		next.Rects[i] = r.Scale()
	}
	return next
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
