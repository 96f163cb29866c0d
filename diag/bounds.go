// Package diag writes the side artifacts of a run: a per-zoom bounds snapshot and the
// repair audit log.
package diag

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"sattiler/mbtiles"
	"sattiler/tile"
)

// WriteBounds 保存各级别范围快照, key 为级别
func WriteBounds(path string, bounds map[int]mbtiles.Bounds) error {
	data, err := json.MarshalIndent(bounds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal bounds")
	}
	return writeFile(path, data)
}

// ReadBounds 读取范围快照
func ReadBounds(path string) (map[int]mbtiles.Bounds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read bounds %s", path)
	}
	bounds := make(map[int]mbtiles.Bounds)
	if err := json.Unmarshal(data, &bounds); err != nil {
		return nil, errors.Wrapf(err, "parse bounds %s", path)
	}
	return bounds, nil
}

// BoundsCollection 每个级别一个多边形要素
func BoundsCollection(bounds map[int]mbtiles.Bounds) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for z := tile.ZoomMin; z <= tile.ZoomMax; z++ {
		b, ok := bounds[z]
		if !ok {
			continue
		}
		extent := b.Rect().BBox(z).Bound()
		f := geojson.NewFeature(extent.ToPolygon())
		f.Properties["zoom"] = z
		f.Properties["minX"] = b.MinX
		f.Properties["maxX"] = b.MaxX
		f.Properties["minY"] = b.MinY
		f.Properties["maxY"] = b.MaxY
		f.Properties["count"] = b.Count
		f.Properties["name"] = "zoom " + strconv.Itoa(z)
		fc.Append(f)
	}
	return fc
}

// WriteBoundsGeoJSON 把范围快照写成 geojson, 便于在地图上查看
func WriteBoundsGeoJSON(path string, bounds map[int]mbtiles.Bounds) error {
	data, err := BoundsCollection(bounds).MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "marshal geojson")
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}
