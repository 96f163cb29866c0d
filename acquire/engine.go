// Package acquire fills tile rectangles of a store from a tile source, skipping what is
// already stored and persisting resumable per-zoom progress.
package acquire

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	pb "gopkg.in/cheggaaa/pb.v1"

	"sattiler/metrics"
	"sattiler/source"
	"sattiler/tile"
)

// Store 引擎需要的存储操作
type Store interface {
	TileExists(ctx context.Context, c tile.Coord) (bool, error)
	SetTile(ctx context.Context, c tile.Coord, data []byte) error
	GetZoomStat(ctx context.Context, zoom int) (map[string]string, error)
	SetZoomStats(ctx context.Context, zoom int, values map[string]string) error
	TileCoords(ctx context.Context, zoom int) ([]tile.Coord, error)
}

// Config 下载参数
type Config struct {
	// ProgressEvery 每处理多少个瓦片保存一次断点
	ProgressEvery int
	// Workers Refine 的并发数
	Workers int
	// Delay 每次请求前的等待
	Delay time.Duration
	// Progress 进度条输出, nil 不显示
	Progress io.Writer
}

// Engine 下载引擎
type Engine struct {
	store   Store
	fetcher source.Fetcher
	cfg     Config
	log     logrus.FieldLogger

	// mu 保护检查-写入, 请求不持有锁
	mu     sync.Mutex
	flight singleflight.Group
}

// New 创建下载引擎
func New(store Store, fetcher source.Fetcher, cfg Config, log logrus.FieldLogger) *Engine {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{store: store, fetcher: fetcher, cfg: cfg, log: log}
}

type outcome int

const (
	outcomePresent outcome = iota
	outcomeStored
	outcomeHTML
	outcomeCorrupt
	outcomeUnavailable
)

func skipOutcome(class tile.Class) outcome {
	switch class {
	case tile.Placeholder:
		return outcomeHTML
	case tile.Unavailable:
		return outcomeUnavailable
	default:
		return outcomeCorrupt
	}
}

// Fill 从 minZoom 的覆盖范围开始, 逐级放大到 maxZoom
func (e *Engine) Fill(ctx context.Context, bbox tile.BBox, minZoom, maxZoom int) (map[int]Progress, error) {
	if minZoom > maxZoom {
		return nil, errors.Errorf("fill: min zoom %d > max zoom %d", minZoom, maxZoom)
	}
	cover, err := tile.BBoxCover(bbox, minZoom)
	if err != nil {
		return nil, err
	}
	out := make(map[int]Progress)
	for z := minZoom; z <= maxZoom; z++ {
		p, err := e.fillCover(ctx, z, cover)
		out[z] = p
		if err != nil {
			return out, err
		}
		cover = cover.Scale()
	}
	return out, nil
}

// FillRect 补齐某级别矩形内缺失的瓦片
func (e *Engine) FillRect(ctx context.Context, zoom int, rect tile.Rect) (Progress, error) {
	return e.fillCover(ctx, zoom, tile.Cover{Rects: []tile.Rect{rect}})
}

func (e *Engine) fillCover(ctx context.Context, zoom int, cover tile.Cover) (Progress, error) {
	log := e.log.WithField("zoom", zoom)
	p, err := e.LoadProgress(ctx, zoom)
	if err != nil {
		return p, err
	}
	key := CoverKey(cover)
	same := p.Cover == key
	if same && p.Done {
		log.Infof("zoom %d already done, %d tiles", zoom, p.Count())
		return p, nil
	}
	if !same && (p.Done || p.started()) {
		log.Infof("zoom %d: saved progress belongs to cover %q, starting over", zoom, p.Cover)
	}
	resume := same && p.started() && coverContains(cover, p.TileX, p.TileY)
	if resume {
		log.Infof("zoom %d resuming after %d/%d, ocean %d, land %d", zoom, p.TileX, p.TileY, p.Ocean, p.Land)
	} else {
		p = Progress{TileX: -1, TileY: -1, Cover: key}
	}

	total := cover.Count()
	log.Infof("zoom %d: %d tiles", zoom, total)
	bar := e.newBar(fmt.Sprintf("Zoom %d : ", zoom), total)
	if bar != nil {
		bar.Set64(p.Processed())
		bar.Start()
	}

	pending := 0
	flush := func(ctx context.Context) error {
		if bar != nil {
			bar.Add(pending)
		}
		pending = 0
		return e.saveProgress(ctx, zoom, p)
	}

	minY, maxY := coverRows(cover)
	skipping := resume
	for y := minY; y < maxY; y++ {
		if skipping && y < p.TileY {
			continue
		}
		for _, r := range cover.Rects {
			if y < r.MinY || y >= r.MaxY {
				continue
			}
			for x := r.MinX; x < r.MaxX; x++ {
				if skipping {
					if x == p.TileX && y == p.TileY {
						skipping = false
					}
					continue
				}
				c := tile.Coord{Z: zoom, X: x, Y: y}
				o, err := e.visit(ctx, c)
				if err != nil {
					if ferr := flush(context.Background()); ferr != nil {
						log.Errorf("save progress: %s", ferr)
					}
					return p, errors.Wrapf(err, "zoom %d at %s", zoom, c)
				}
				p.add(o)
				p.TileX, p.TileY = x, y
				pending++
				if pending >= e.cfg.ProgressEvery {
					if err := flush(ctx); err != nil {
						return p, err
					}
				}
			}
		}
	}

	p.Done = true
	if err := flush(ctx); err != nil {
		return p, err
	}
	if bar != nil {
		bar.FinishPrint(fmt.Sprintf("Zoom %d finished ~", zoom))
	}
	log.Infof("zoom %d done: ocean %d, land %d, html %d, corrupt %d, unavailable %d",
		zoom, p.Ocean, p.Land, p.HTML, p.Corrupt, p.Unavailable)
	return p, nil
}

// visit 检查-请求-写入单个坐标, 请求在锁外进行
func (e *Engine) visit(ctx context.Context, c tile.Coord) (outcome, error) {
	exists, err := e.exists(ctx, c)
	if err != nil {
		return 0, err
	}
	if exists {
		metrics.TilesPresent.Inc()
		return outcomePresent, nil
	}

	resp, err := e.fetch(ctx, c)
	if err != nil {
		return 0, err
	}
	class := resp.Class()
	if class != tile.Valid {
		metrics.TilesSkipped.WithLabelValues(class.String()).Inc()
		if class == tile.Placeholder {
			e.log.Infof("tile %s: source returned an html page, skipped", c)
		} else {
			e.log.Debugf("tile %s: %s (status %d, %d bytes), skipped", c, class, resp.Status, len(resp.Body))
		}
		return skipOutcome(class), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	exists, err = e.store.TileExists(ctx, c)
	if err != nil {
		return 0, err
	}
	if exists {
		return outcomePresent, nil
	}
	if err := e.store.SetTile(ctx, c, resp.Body); err != nil {
		return 0, err
	}
	metrics.TilesCommitted.Inc()
	return outcomeStored, nil
}

func (e *Engine) exists(ctx context.Context, c tile.Coord) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.TileExists(ctx, c)
}

// fetch 同一坐标的并发请求只发一次
func (e *Engine) fetch(ctx context.Context, c tile.Coord) (source.Response, error) {
	v, err, _ := e.flight.Do(c.String(), func() (interface{}, error) {
		if e.cfg.Delay > 0 {
			select {
			case <-time.After(e.cfg.Delay):
			case <-ctx.Done():
				return source.Response{}, ctx.Err()
			}
		}
		return e.fetcher.Fetch(ctx, c)
	})
	if err != nil {
		return source.Response{}, err
	}
	return v.(source.Response), nil
}

func (e *Engine) newBar(prefix string, total int64) *pb.ProgressBar {
	if e.cfg.Progress == nil {
		return nil
	}
	bar := pb.New64(total).Prefix(prefix)
	bar.Output = e.cfg.Progress
	bar.SetRefreshRate(time.Second)
	return bar
}

func coverRows(cover tile.Cover) (int, int) {
	if len(cover.Rects) == 0 {
		return 0, 0
	}
	minY, maxY := cover.Rects[0].MinY, cover.Rects[0].MaxY
	for _, r := range cover.Rects[1:] {
		if r.MinY < minY {
			minY = r.MinY
		}
		if r.MaxY > maxY {
			maxY = r.MaxY
		}
	}
	return minY, maxY
}

func coverContains(cover tile.Cover, x, y int) bool {
	for _, r := range cover.Rects {
		if r.Contains(x, y) {
			return true
		}
	}
	return false
}
