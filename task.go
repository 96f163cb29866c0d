package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"sattiler/acquire"
	"sattiler/diag"
	"sattiler/mbtiles"
	"sattiler/metrics"
	"sattiler/region"
	"sattiler/source"
	"sattiler/tile"
	"sattiler/verify"
)

// Task 一次运行
type Task struct {
	ID    string
	conf  *Conf
	log   *logrus.Entry
	store *mbtiles.Store
	exit  *SafeExit
}

// NewTask 打开库并创建任务
func NewTask(conf *Conf, logger *logrus.Logger, exit *SafeExit) (*Task, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "task id")
	}
	log := logger.WithField("task", id)

	path := conf.StorePath()
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "output dir")
	}
	store, err := mbtiles.Open(path, mbtiles.Options{
		Driver:      conf.Store.Driver,
		BusyTimeout: conf.Store.BusyTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	// 注册安全退出
	exit.Register(func() {
		if err := store.Close(); err != nil {
			log.Errorf("close store: %s", err)
		}
	})

	return &Task{ID: id, conf: conf, log: log, store: store, exit: exit}, nil
}

// Run 按命令行选择的模式执行
func (task *Task) Run(ctx context.Context) error {
	start := time.Now()
	if addr := task.conf.Metrics.Listen; addr != "" {
		go func() {
			task.log.Infof("metrics listening on %s", addr)
			if err := metrics.Serve(addr); err != nil {
				task.log.Warnf("metrics listener: %s", err)
			}
		}()
	}

	var err error
	switch {
	case showFlag:
		err = task.ShowMetadata(ctx, os.Stdout)
	case summarizeFlag:
		err = task.Summarize(ctx)
	case verifyFlag:
		err = task.Verify(ctx, fixFlag)
	case seedPath != "":
		err = task.Seed(ctx, seedPath)
	case refineFlag:
		err = task.Refine(ctx)
	case exportDir != "":
		err = task.Export(ctx, exportDir)
	case regionName != "" || task.conf.Regions.Name != "":
		err = task.DownloadRegion(ctx)
	case radius > 0:
		err = task.DownloadRadius(ctx, lat, lon, radius)
	default:
		return errors.New("nothing to do: choose a region, a radius or one of the maintenance flags")
	}
	if err != nil {
		return err
	}
	task.log.Infof("%.3fs finished...", time.Since(start).Seconds())
	return nil
}

func (task *Task) newSource() (*source.Source, error) {
	c := task.conf.Source
	return source.New(source.Config{
		URL:       c.URL,
		Retries:   c.Retries,
		Backoff:   c.Backoff,
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
		Insecure:  c.Insecure,
	}, task.log)
}

func (task *Task) engine() (*acquire.Engine, error) {
	src, err := task.newSource()
	if err != nil {
		return nil, err
	}
	var bar io.Writer
	if task.conf.Output.Progress {
		bar = os.Stdout
	}
	return acquire.New(task.store, src, acquire.Config{
		ProgressEvery: task.conf.Task.ProgressEvery,
		Workers:       task.conf.Task.Workers,
		Delay:         task.conf.Task.Timedelay,
		Progress:      bar,
	}, task.log), nil
}

// zoomRange 补齐下载的级别范围, 小于 0 为未设置, 最大级别缺省取 def
func zoomRange(minZoom, maxZoom, def int) (int, int, error) {
	if maxZoom < 0 {
		maxZoom = def
	}
	if minZoom < 0 || minZoom > maxZoom {
		minZoom = maxZoom
	}
	if maxZoom < tile.ZoomMin || maxZoom > tile.ZoomMax {
		return 0, 0, errors.Errorf("zoom %d out of range", maxZoom)
	}
	return minZoom, maxZoom, nil
}

// DownloadRegion 下载区域表中的一个区域
func (task *Task) DownloadRegion(ctx context.Context) error {
	reg, err := region.Load(task.conf.Regions.File)
	if err != nil {
		return err
	}
	r, err := reg.Get(task.conf.Regions.Name)
	if err != nil {
		return errors.Wrapf(err, "known regions: %s", strings.Join(reg.Names(), ", "))
	}
	minZoom, maxZoom, err := zoomRange(task.conf.Regions.MinZoom, task.conf.Regions.MaxZoom, r.Zoom)
	if err != nil {
		return err
	}
	for z := minZoom; z <= maxZoom; z++ {
		n, err := r.TileCount(z)
		if err != nil {
			return err
		}
		task.log.Infof("zoom: %d, tiles: %d", z, n)
	}
	if err := task.writeMetadata(ctx, r, minZoom, maxZoom); err != nil {
		return err
	}

	engine, err := task.engine()
	if err != nil {
		return err
	}
	progress, err := engine.Fill(ctx, r.BBox, minZoom, maxZoom)
	if err != nil {
		return err
	}
	task.logProgress(progress)
	return nil
}

// DownloadRadius 下载一个点周围 radius 公里内的瓦片
func (task *Task) DownloadRadius(ctx context.Context, lat, lon, radiusKm float64) error {
	minZoom, maxZoom, err := zoomRange(task.conf.Regions.MinZoom, task.conf.Regions.MaxZoom, tile.ZoomMin)
	if err != nil {
		return err
	}
	rect, err := tile.RadiusRect(lat, lon, radiusKm, minZoom)
	if err != nil {
		return err
	}
	r := region.Region{
		Name: fmt.Sprintf("%.4f,%.4f+%gkm", lat, lon, radiusKm),
		BBox: rect.BBox(minZoom),
		Zoom: maxZoom,
	}
	if err := task.writeMetadata(ctx, r, minZoom, maxZoom); err != nil {
		return err
	}

	engine, err := task.engine()
	if err != nil {
		return err
	}
	progress := make(map[int]acquire.Progress)
	for z := minZoom; z <= maxZoom; z++ {
		p, err := engine.FillRect(ctx, z, rect)
		progress[z] = p
		if err != nil {
			return err
		}
		rect = rect.Scale()
	}
	task.logProgress(progress)
	return nil
}

func (task *Task) writeMetadata(ctx context.Context, r region.Region, minZoom, maxZoom int) error {
	md := r.Metadata(minZoom, maxZoom, region.Info{
		Attribution: task.conf.Regions.Attribution,
		Description: task.conf.Regions.Description,
		Format:      task.conf.Regions.Format,
		Version:     task.conf.App.Version,
	})
	for k, v := range md {
		if err := task.store.SetMetadata(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (task *Task) logProgress(progress map[int]acquire.Progress) {
	zooms := make([]int, 0, len(progress))
	for z := range progress {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)
	for _, z := range zooms {
		p := progress[z]
		task.log.Infof("zoom %d: ocean %d, land %d, skipped %d (html %d)", z, p.Ocean, p.Land, p.Skipped(), p.HTML)
	}
}

// Refine 对 -z 级别的每个瓦片下载下一级
func (task *Task) Refine(ctx context.Context) error {
	zoom := task.conf.Regions.MaxZoom
	if zoom < 0 {
		return errors.New("refine needs a zoom, set -z")
	}
	engine, err := task.engine()
	if err != nil {
		return err
	}
	_, err = engine.Refine(ctx, zoom)
	return err
}

// Summarize 统计范围并写出快照
func (task *Task) Summarize(ctx context.Context) error {
	bounds, err := task.store.Summarize(ctx)
	if err != nil {
		return err
	}
	if err := diag.WriteBounds(task.conf.OutputFile("bounds.json"), bounds); err != nil {
		return err
	}
	return diag.WriteBoundsGeoJSON(task.conf.OutputFile("bounds.geojson"), bounds)
}

// Verify 检查全部瓦片, fix 时修复到副本
func (task *Task) Verify(ctx context.Context, fix bool) error {
	cfg := verify.Config{
		MinBytes:         task.conf.Verify.MinBytes,
		Fix:              fix,
		RepairUndersized: task.conf.Verify.RepairUndersized,
	}
	if fix {
		src, err := task.newSource()
		if err != nil {
			return err
		}
		work := task.conf.Verify.WorkFile
		if work == "" {
			work = strings.TrimSuffix(task.store.Path(), ".mbtiles") + "-fixed.mbtiles"
		}
		target, err := task.store.CloneTo(ctx, work)
		if err != nil {
			return err
		}
		task.exit.Register(func() { target.Close() })

		audit, err := diag.OpenAudit(task.conf.OutputFile(task.conf.Verify.AuditFile), task.conf.Task.BufSize, task.log)
		if err != nil {
			return err
		}
		task.exit.Register(func() {
			if err := audit.Close(); err != nil {
				task.log.Errorf("close audit log: %s", err)
			}
		})
		cfg.Source, cfg.Target, cfg.Audit = src, target, audit
		task.log.Infof("repairs go to %s", work)
	}

	report, err := verify.New(task.store, cfg, task.log).Scan(ctx)
	if err != nil {
		return err
	}
	if report.Total.Bad > 0 && !fix {
		task.log.Warnf("%d bad tiles, rerun with -fix to repair", report.Total.Bad)
	}
	return nil
}

// Seed 从种子库导入, 指定 -z 时只导入该级别
func (task *Task) Seed(ctx context.Context, path string) error {
	seed, err := mbtiles.Open(path, mbtiles.Options{Driver: task.conf.Store.Driver, Logger: task.log})
	if err != nil {
		return err
	}
	defer seed.Close()
	if zoomFlag >= 0 {
		_, err = task.store.CopyZoomFrom(ctx, zoomFlag, seed)
	} else {
		_, err = task.store.CopyAllFrom(ctx, seed)
	}
	return err
}

// ShowMetadata 打印 metadata
func (task *Task) ShowMetadata(ctx context.Context, w io.Writer) error {
	md, err := task.store.GetAllMetadata(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s %s\n", k, md[k])
	}
	return nil
}
