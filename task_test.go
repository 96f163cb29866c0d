package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sattiler/diag"
	"sattiler/internal/tiletest"
	"sattiler/tile"
)

func newTestTask(t *testing.T) *Task {
	t.Helper()
	conf := new(Conf)
	conf.Output.Directory = t.TempDir()
	conf.Store.Name = "test"
	conf.Task.BufSize = 4
	conf.Verify.AuditFile = "audit.csv"
	exit, _ := NewSafeExit(context.Background())
	task, err := NewTask(conf, tiletest.Logger(), exit)
	require.NoError(t, err)
	t.Cleanup(exit.Close)
	return task
}

func tileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tiletest.PNG(int64(len(r.URL.Path)), 48))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[output]
directory = "tiles"

[task]
workers = 8
timedelay = "25ms"

[source]
url = "https://tiles.example/{z}/{x}/{y}"
`), 0o644))
	t.Setenv("SATTILER_STORE_NAME", "fromenv")

	conf, err := InitConf(path)
	require.NoError(t, err)
	assert.Equal(t, 8, conf.Task.Workers)
	assert.Equal(t, int64(25), conf.Task.Timedelay.Milliseconds())
	assert.Equal(t, 50, conf.Task.ProgressEvery)
	assert.Equal(t, "https://tiles.example/{z}/{x}/{y}", conf.Source.URL)
	assert.Equal(t, 2000, conf.Verify.MinBytes)
	assert.Equal(t, -1, conf.Regions.MinZoom)
	assert.Equal(t, -1, conf.Regions.MaxZoom)
	assert.Equal(t, filepath.Join("tiles", "fromenv.mbtiles"), conf.StorePath())

	_, err = InitConf(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestZoomRange(t *testing.T) {
	cases := []struct {
		min, max, def int
		wantMin       int
		wantMax       int
	}{
		{0, 5, 12, 0, 5},
		{-1, 5, 12, 5, 5},
		{-1, -1, 12, 12, 12},
		{3, -1, 12, 3, 12},
		{7, 5, 12, 5, 5},
		{-1, 0, 12, 0, 0},
	}
	for _, c := range cases {
		minZoom, maxZoom, err := zoomRange(c.min, c.max, c.def)
		require.NoError(t, err)
		assert.Equal(t, c.wantMin, minZoom, "min %d max %d", c.min, c.max)
		assert.Equal(t, c.wantMax, maxZoom, "min %d max %d", c.min, c.max)
	}

	_, _, err := zoomRange(-1, 25, 12)
	assert.Error(t, err)
}

func TestDownloadRadiusAndSummarize(t *testing.T) {
	ctx := context.Background()
	task := newTestTask(t)
	task.conf.Source.URL = tileServer(t).URL + "/{z}/{x}/{y}.png"
	task.conf.Regions.MinZoom = 10
	task.conf.Regions.MaxZoom = 11

	require.NoError(t, task.DownloadRadius(ctx, 37.5, -122.25, 2))

	n10, err := task.store.CountTiles(ctx, 10)
	require.NoError(t, err)
	n11, err := task.store.CountTiles(ctx, 11)
	require.NoError(t, err)
	assert.Greater(t, n10, int64(0))
	assert.Equal(t, 4*n10, n11)

	md, err := task.store.GetAllMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10", md["minzoom"])
	assert.Equal(t, "11", md["maxzoom"])

	require.NoError(t, task.Summarize(ctx))
	bounds, err := diag.ReadBounds(task.conf.OutputFile("bounds.json"))
	require.NoError(t, err)
	assert.Equal(t, n11, bounds[11].Count)
	_, err = os.Stat(task.conf.OutputFile("bounds.geojson"))
	assert.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, task.ShowMetadata(ctx, &out))
	assert.Contains(t, out.String(), "maxzoom 11\n")
}

func TestVerifyFixWritesWorkCopy(t *testing.T) {
	ctx := context.Background()
	task := newTestTask(t)
	task.conf.Source.URL = tileServer(t).URL + "/{z}/{x}/{y}"
	c := tile.Coord{Z: 4, X: 3, Y: 6}
	require.NoError(t, task.store.SetTile(ctx, c, []byte(tiletest.HTMLPage)))

	require.NoError(t, task.Verify(ctx, true))
	task.exit.Close()

	entries, err := diag.ReadAudit(task.conf.OutputFile("audit.csv"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, c, entries[0].Coord)
	assert.Equal(t, "replaced", entries[0].Status)
	_, err = os.Stat(filepath.Join(task.conf.Output.Directory, "test-fixed.mbtiles"))
	assert.NoError(t, err)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	task := newTestTask(t)
	require.NoError(t, task.store.SetTile(ctx, tile.Coord{Z: 2, X: 1, Y: 3}, tiletest.PNG(1, 8)))
	require.NoError(t, task.store.SetTile(ctx, tile.Coord{Z: 3, X: 0, Y: 0}, []byte("raw")))

	dir := t.TempDir()
	require.NoError(t, task.Export(ctx, dir))

	data, err := os.ReadFile(filepath.Join(dir, "2", "1", "3.png"))
	require.NoError(t, err)
	assert.Equal(t, tiletest.PNG(1, 8), data)
	_, err = os.Stat(filepath.Join(dir, "3", "0", "0.bin"))
	assert.NoError(t, err)
}
