package acquire

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"sattiler/tile"
)

// satdata 中的字段名
const (
	statTileX       = "tileX"
	statTileY       = "tileY"
	statOcean       = "ocean"
	statLand        = "land"
	statHTML        = "html"
	statCorrupt     = "corrupt"
	statUnavailable = "unavailable"
	statDone        = "done"
	statCover       = "cover"
)

// Counts 处理结果统计
type Counts struct {
	// Ocean 库中已有, 未请求
	Ocean int64 `json:"ocean"`
	// Land 新下载并入库
	Land        int64 `json:"land"`
	HTML        int64 `json:"html"`
	Corrupt     int64 `json:"corrupt"`
	Unavailable int64 `json:"unavailable"`
}

// Count 已确认存在的瓦片数
func (c Counts) Count() int64 {
	return c.Ocean + c.Land
}

// Processed 已处理的坐标数, 包括跳过的
func (c Counts) Processed() int64 {
	return c.Ocean + c.Land + c.HTML + c.Corrupt + c.Unavailable
}

// Skipped 请求了但没有入库的坐标数
func (c Counts) Skipped() int64 {
	return c.HTML + c.Corrupt + c.Unavailable
}

func (c *Counts) add(o outcome) {
	switch o {
	case outcomePresent:
		c.Ocean++
	case outcomeStored:
		c.Land++
	case outcomeHTML:
		c.HTML++
	case outcomeCorrupt:
		c.Corrupt++
	case outcomeUnavailable:
		c.Unavailable++
	}
}

func (c *Counts) merge(o Counts) {
	c.Ocean += o.Ocean
	c.Land += o.Land
	c.HTML += o.HTML
	c.Corrupt += o.Corrupt
	c.Unavailable += o.Unavailable
}

// Progress 某级别的断点, 持久化在 satdata
type Progress struct {
	Counts
	// TileX, TileY 最后处理的坐标, 未开始时为 -1
	TileX int    `json:"tileX"`
	TileY int    `json:"tileY"`
	Done  bool   `json:"done"`
	// Cover 断点所属的覆盖范围, 范围不同时断点作废
	Cover string `json:"cover"`
}

// CoverKey 覆盖范围的标识, 形如 minX,maxX,minY,maxY;...
func CoverKey(cover tile.Cover) string {
	parts := make([]string, len(cover.Rects))
	for i, r := range cover.Rects {
		parts[i] = strings.Join([]string{
			strconv.Itoa(r.MinX), strconv.Itoa(r.MaxX), strconv.Itoa(r.MinY), strconv.Itoa(r.MaxY),
		}, ",")
	}
	return strings.Join(parts, ";")
}

func (p Progress) started() bool {
	return p.TileY >= 0
}

func (p Progress) values() map[string]string {
	return map[string]string{
		statTileX:       strconv.Itoa(p.TileX),
		statTileY:       strconv.Itoa(p.TileY),
		statOcean:       strconv.FormatInt(p.Ocean, 10),
		statLand:        strconv.FormatInt(p.Land, 10),
		statHTML:        strconv.FormatInt(p.HTML, 10),
		statCorrupt:     strconv.FormatInt(p.Corrupt, 10),
		statUnavailable: strconv.FormatInt(p.Unavailable, 10),
		statDone:        strconv.FormatBool(p.Done),
		statCover:       p.Cover,
	}
}

func parseProgress(zoom int, st map[string]string) (Progress, error) {
	p := Progress{TileX: -1, TileY: -1, Cover: st[statCover]}
	ints := []struct {
		key string
		dst *int
	}{{statTileX, &p.TileX}, {statTileY, &p.TileY}}
	for _, f := range ints {
		v, ok := st[f.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.Wrapf(err, "zoom %d: bad %s", zoom, f.key)
		}
		*f.dst = n
	}
	counters := []struct {
		key string
		dst *int64
	}{
		{statOcean, &p.Ocean}, {statLand, &p.Land}, {statHTML, &p.HTML},
		{statCorrupt, &p.Corrupt}, {statUnavailable, &p.Unavailable},
	}
	for _, f := range counters {
		v, ok := st[f.key]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(err, "zoom %d: bad %s", zoom, f.key)
		}
		*f.dst = n
	}
	if v, ok := st[statDone]; ok {
		done, err := strconv.ParseBool(v)
		if err != nil {
			return p, errors.Wrapf(err, "zoom %d: bad %s", zoom, statDone)
		}
		p.Done = done
	}
	return p, nil
}

// LoadProgress 读取某级别的断点
func (e *Engine) LoadProgress(ctx context.Context, zoom int) (Progress, error) {
	st, err := e.store.GetZoomStat(ctx, zoom)
	if err != nil {
		return Progress{}, err
	}
	return parseProgress(zoom, st)
}

// Reset 清除某级别的断点, 下次从头开始
func (e *Engine) Reset(ctx context.Context, zoom int) error {
	return e.saveProgress(ctx, zoom, Progress{TileX: -1, TileY: -1})
}

func (e *Engine) saveProgress(ctx context.Context, zoom int, p Progress) error {
	return errors.Wrapf(e.store.SetZoomStats(ctx, zoom, p.values()), "save progress zoom %d", zoom)
}
