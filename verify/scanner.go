// Package verify walks the stored extent of every zoom, classifies each tile payload and
// optionally repairs bad tiles into a working copy of the store.
package verify

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"sattiler/mbtiles"
	"sattiler/metrics"
	"sattiler/source"
	"sattiler/tile"
)

// DefaultMinBytes 小于此大小的瓦片多半是纯色海洋
const DefaultMinBytes = 2000

// 审计日志中的状态
const (
	StatusReplaced  = "replaced"
	StatusUnfixable = "unfixable"
)

// ErrNoTarget 修复模式必须写入独立的副本
var ErrNoTarget = errors.New("verify: fix requires a target distinct from the scanned store")

// Store 被检查的库, 只读
type Store interface {
	BoundsByZoom(ctx context.Context) (map[int]mbtiles.Bounds, error)
	GetTile(ctx context.Context, c tile.Coord) ([]byte, error)
}

// Target 修复写入的副本
type Target interface {
	GetTile(ctx context.Context, c tile.Coord) ([]byte, error)
	SetTile(ctx context.Context, c tile.Coord, data []byte) error
}

// Recorder 记录修复结果
type Recorder interface {
	Record(c tile.Coord, status string)
}

// Config 检查参数
type Config struct {
	MinBytes int
	// Fix 重新下载坏瓦片
	Fix bool
	// RepairUndersized 过小的瓦片也重新下载
	RepairUndersized bool
	Source           source.Fetcher
	Target           Target
	Audit            Recorder
}

// Counts 检查结果统计
type Counts struct {
	Bad        int64 `json:"bad"`
	OK         int64 `json:"ok"`
	Empty      int64 `json:"empty"`
	HTML       int64 `json:"html"`
	Unfixable  int64 `json:"unfixable"`
	Replaced   int64 `json:"replaced"`
	Undersized int64 `json:"undersized"`
}

func (c *Counts) merge(o Counts) {
	c.Bad += o.Bad
	c.OK += o.OK
	c.Empty += o.Empty
	c.HTML += o.HTML
	c.Unfixable += o.Unfixable
	c.Replaced += o.Replaced
	c.Undersized += o.Undersized
}

// Report 每级与总计
type Report struct {
	Zooms map[int]Counts `json:"zooms"`
	Total Counts         `json:"total"`
}

// Scanner 完整性检查
type Scanner struct {
	src Store
	cfg Config
	log logrus.FieldLogger
}

// New 创建检查器
func New(src Store, cfg Config, log logrus.FieldLogger) *Scanner {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{src: src, cfg: cfg, log: log}
}

// Scan 按级别从小到大检查范围内的每个坐标
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	report := Report{Zooms: make(map[int]Counts)}
	if s.cfg.Fix {
		if s.cfg.Target == nil || interface{}(s.cfg.Target) == interface{}(s.src) {
			return report, ErrNoTarget
		}
		if s.cfg.Source == nil {
			return report, errors.New("verify: fix requires a tile source")
		}
	}

	bounds, err := s.src.BoundsByZoom(ctx)
	if err != nil {
		return report, err
	}
	zooms := make([]int, 0, len(bounds))
	for z := range bounds {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	for _, z := range zooms {
		counts, err := s.scanZoom(ctx, z, bounds[z])
		report.Zooms[z] = counts
		report.Total.merge(counts)
		if err != nil {
			return report, errors.Wrapf(err, "scan zoom %d", z)
		}
		s.logCounts(s.log.WithField("zoom", z), fmt.Sprintf("zoom %d", z), counts)
	}
	s.logCounts(s.log, "total", report.Total)
	return report, nil
}

func (s *Scanner) scanZoom(ctx context.Context, zoom int, b mbtiles.Bounds) (Counts, error) {
	var counts Counts
	for y := b.MinY; y <= b.MaxY; y++ {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		for x := b.MinX; x <= b.MaxX; x++ {
			c := tile.Coord{Z: zoom, X: x, Y: y}
			data, err := s.src.GetTile(ctx, c)
			if tile.IsNotFound(err) {
				counts.Empty++
				metrics.ScanTiles.WithLabelValues("empty").Inc()
				continue
			}
			if err != nil {
				return counts, err
			}

			repair := false
			if tile.Classify(data) == tile.Valid {
				counts.OK++
				metrics.ScanTiles.WithLabelValues("ok").Inc()
				if len(data) < s.cfg.MinBytes {
					counts.Undersized++
					repair = s.cfg.RepairUndersized
				}
			} else {
				counts.Bad++
				metrics.ScanTiles.WithLabelValues("bad").Inc()
				if tile.HasHTMLMarker(data) {
					counts.HTML++
				}
				s.log.Debugf("tile %s: bad payload, %d bytes", c, len(data))
				repair = true
			}

			if !repair || !s.cfg.Fix {
				continue
			}
			fixed, err := s.repair(ctx, c)
			if err != nil {
				return counts, err
			}
			status := StatusUnfixable
			if fixed {
				counts.Replaced++
				status = StatusReplaced
			} else {
				counts.Unfixable++
			}
			metrics.ScanTiles.WithLabelValues(status).Inc()
			if s.cfg.Audit != nil {
				s.cfg.Audit.Record(c, status)
			}
		}
	}
	return counts, nil
}

// repair 重新下载并写入副本, 写入后读回确认能解码
func (s *Scanner) repair(ctx context.Context, c tile.Coord) (bool, error) {
	resp, err := s.cfg.Source.Fetch(ctx, c)
	if err != nil {
		return false, errors.Wrapf(err, "repair %s", c)
	}
	if class := resp.Class(); class != tile.Valid {
		s.log.Infof("tile %s: refetch returned %s, unfixable", c, class)
		return false, nil
	}
	if err := s.cfg.Target.SetTile(ctx, c, resp.Body); err != nil {
		return false, errors.Wrapf(err, "repair %s", c)
	}
	data, err := s.cfg.Target.GetTile(ctx, c)
	if err != nil {
		return false, errors.Wrapf(err, "read back %s", c)
	}
	if tile.Classify(data) != tile.Valid {
		s.log.Warnf("tile %s: repaired tile does not decode", c)
		return false, nil
	}
	s.log.Debugf("tile %s: replaced, %d bytes", c, len(data))
	return true, nil
}

func (s *Scanner) logCounts(log logrus.FieldLogger, what string, c Counts) {
	log.Infof("%s: bad %d, ok %d, empty %d, html %d, unfixable %d, replaced %d, undersized %d",
		what, c.Bad, c.OK, c.Empty, c.HTML, c.Unfixable, c.Replaced, c.Undersized)
}
