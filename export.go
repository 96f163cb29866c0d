package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"sattiler/tile"
)

// Export 把库中的瓦片按 z/x/y.ext 写成文件
func (task *Task) Export(ctx context.Context, rootdir string) error {
	bounds, err := task.store.BoundsByZoom(ctx)
	if err != nil {
		return err
	}
	zooms := make([]int, 0, len(bounds))
	for z := range bounds {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	var total int
	for _, z := range zooms {
		coords, err := task.store.TileCoords(ctx, z)
		if err != nil {
			return err
		}
		for _, c := range coords {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := task.store.GetTile(ctx, c)
			if err != nil {
				return err
			}
			if err := saveToFile(rootdir, c, data); err != nil {
				return err
			}
		}
		total += len(coords)
		task.log.Infof("zoom %d: exported %d tiles", z, len(coords))
	}
	task.log.Infof("exported %d tiles to %s", total, rootdir)
	return nil
}

func saveToFile(rootdir string, c tile.Coord, data []byte) error {
	dir := filepath.Join(rootdir, fmt.Sprintf(`%d`, c.Z), fmt.Sprintf(`%d`, c.X))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "create %v tile dir", c)
	}
	ext := tile.Format(data)
	if ext == "" {
		ext = "bin"
	}
	fileName := filepath.Join(dir, fmt.Sprintf(`%d.%s`, c.Y, ext))
	return errors.Wrapf(os.WriteFile(fileName, data, 0o644), "create %v tile file", c)
}
