// Package region loads named download regions and derives store metadata from them.
package region

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/pkg/errors"

	"sattiler/tile"
)

// Region 命名的下载范围
type Region struct {
	Name string
	BBox tile.BBox
	// Zoom 中心点级别
	Zoom int
	// Geometry 来自 geojson 的原始图形, regions.json 中的区域为空
	Geometry orb.Collection
}

// Info 写入 metadata 的描述信息
type Info struct {
	Type        string
	Version     string
	Attribution string
	Description string
	Format      string
}

// Registry 区域表
type Registry map[string]Region

// Get 按名称查找
func (r Registry) Get(name string) (Region, error) {
	reg, ok := r[name]
	if !ok {
		return Region{}, errors.Wrapf(tile.ErrNotFound, "region %q", name)
	}
	return reg, nil
}

// Names 排序后的区域名
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type regionsFile struct {
	Regions map[string]struct {
		West  float64 `json:"west"`
		South float64 `json:"south"`
		East  float64 `json:"east"`
		North float64 `json:"north"`
		Zoom  int     `json:"zoom"`
	} `json:"regions"`
}

// Load 读取区域文件, 支持 geojson FeatureCollection 和 regions.json
func Load(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read region file")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".geojson" || bytes.Contains(data, []byte(`"FeatureCollection"`)) {
		return parseCollection(data)
	}
	return parseRegions(data)
}

func parseCollection(data []byte) (Registry, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal feature collection")
	}
	reg := make(Registry)
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		name := f.Properties.MustString("name", "")
		if name == "" {
			name = fmt.Sprintf("region%d", i)
		}
		r := Region{
			Name:     name,
			BBox:     tile.BBoxFromBound(f.Geometry.Bound()),
			Zoom:     f.Properties.MustInt("zoom", 0),
			Geometry: orb.Collection{f.Geometry},
		}
		if err := validate(r); err != nil {
			return nil, err
		}
		reg[name] = r
	}
	return reg, nil
}

func parseRegions(data []byte) (Registry, error) {
	var rf regionsFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, errors.Wrap(err, "regions.json parse error")
	}
	reg := make(Registry, len(rf.Regions))
	for name, v := range rf.Regions {
		r := Region{
			Name: name,
			BBox: tile.BBox{West: v.West, South: v.South, East: v.East, North: v.North},
			Zoom: v.Zoom,
		}
		if err := validate(r); err != nil {
			return nil, err
		}
		reg[name] = r
	}
	return reg, nil
}

func validate(r Region) error {
	b := r.BBox
	if b.South >= b.North {
		return errors.Errorf("region %q: south %g must be below north %g", r.Name, b.South, b.North)
	}
	if b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180 {
		return errors.Errorf("region %q: longitude out of range", r.Name)
	}
	return nil
}

// TileCount 某级别覆盖的瓦片数, 有图形时按图形计算
func (r Region) TileCount(zoom int) (int64, error) {
	if len(r.Geometry) > 0 {
		return tilecover.CollectionCount(r.Geometry, maptile.Zoom(zoom)), nil
	}
	cover, err := tile.BBoxCover(r.BBox, zoom)
	if err != nil {
		return 0, err
	}
	return cover.Count(), nil
}

// Metadata 生成 mbtiles metadata
func (r Region) Metadata(minZoom, maxZoom int, info Info) map[string]string {
	lat, lon := r.BBox.Center()
	md := map[string]string{
		"name":        r.Name,
		"type":        "baselayer",
		"version":     "1",
		"attribution": info.Attribution,
		"description": info.Description,
		"format":      "png",
		"minzoom":     strconv.Itoa(minZoom),
		"maxzoom":     strconv.Itoa(maxZoom),
		"bounds":      fmt.Sprintf("%g,%g,%g,%g", r.BBox.West, r.BBox.South, r.BBox.East, r.BBox.North),
		"center":      fmt.Sprintf("%g,%g,%d", lon, lat, r.Zoom),
	}
	if info.Type != "" {
		md["type"] = info.Type
	}
	if info.Version != "" {
		md["version"] = info.Version
	}
	if info.Format != "" {
		md["format"] = info.Format
	}
	return md
}
