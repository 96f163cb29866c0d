package verify_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sattiler/diag"
	"sattiler/internal/tiletest"
	"sattiler/mbtiles"
	"sattiler/tile"
	"sattiler/verify"
)

func openStore(t *testing.T, name string) *mbtiles.Store {
	t.Helper()
	s, err := mbtiles.Open(filepath.Join(t.TempDir(), name), mbtiles.Options{Logger: tiletest.Logger()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanTruncatedTile(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "truncated.mbtiles")
	c := tile.Coord{Z: 8, X: 40, Y: 90}
	require.NoError(t, s.SetTile(ctx, c, tiletest.PNG(1, 48)[:10]))

	report, err := verify.New(s, verify.Config{}, tiletest.Logger()).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Total.Bad)
	assert.Equal(t, int64(0), report.Total.OK)
	assert.Equal(t, int64(0), report.Total.HTML)
	assert.Equal(t, report.Total, report.Zooms[8])
}

func TestScanFixReplacesIntoClone(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "fix.mbtiles")
	c := tile.Coord{Z: 8, X: 40, Y: 90}
	require.NoError(t, s.SetTile(ctx, c, tiletest.PNG(1, 48)[:10]))

	fresh := tiletest.PNG(2, 48)
	require.Greater(t, len(fresh), 5000)
	src := tiletest.NewSource()
	src.Set(c, 200, fresh)

	target, err := s.CloneTo(ctx, filepath.Join(t.TempDir(), "fix.work.mbtiles"))
	require.NoError(t, err)
	defer target.Close()
	auditPath := filepath.Join(t.TempDir(), "audit.csv")
	audit, err := diag.OpenAudit(auditPath, 8, tiletest.Logger())
	require.NoError(t, err)

	scanner := verify.New(s, verify.Config{Fix: true, Source: src, Target: target, Audit: audit}, tiletest.Logger())
	report, err := scanner.Scan(ctx)
	require.NoError(t, err)
	require.NoError(t, audit.Close())

	assert.Equal(t, int64(1), report.Total.Bad)
	assert.Equal(t, int64(1), report.Total.Replaced)
	assert.Equal(t, int64(0), report.Total.Unfixable)

	got, err := target.GetTile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, tile.Valid, tile.Classify(got))

	// 原库不被修改
	orig, err := s.GetTile(ctx, c)
	require.NoError(t, err)
	assert.Len(t, orig, 10)

	entries, err := diag.ReadAudit(auditPath)
	require.NoError(t, err)
	assert.Equal(t, []diag.AuditEntry{{Coord: c, Status: verify.StatusReplaced}}, entries)
}

func TestScanCountsHTMLEmptyAndUnfixable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "mixed.mbtiles")
	html := tile.Coord{Z: 3, X: 1, Y: 1}
	good := tile.Coord{Z: 3, X: 2, Y: 2}
	require.NoError(t, s.SetTile(ctx, html, []byte(tiletest.HTMLPage)))
	require.NoError(t, s.SetTile(ctx, good, tiletest.PNG(3, 48)))

	src := tiletest.NewSource()
	src.Set(html, 200, []byte(tiletest.HTMLPage))
	target, err := s.CloneTo(ctx, filepath.Join(t.TempDir(), "mixed.work.mbtiles"))
	require.NoError(t, err)
	defer target.Close()

	report, err := verify.New(s, verify.Config{Fix: true, Source: src, Target: target}, tiletest.Logger()).Scan(ctx)
	require.NoError(t, err)

	// 范围 [1,2]x[1,2] 中两个坐标没有瓦片
	assert.Equal(t, verify.Counts{Bad: 1, OK: 1, Empty: 2, HTML: 1, Unfixable: 1}, report.Total)
	assert.Equal(t, 1, src.TotalCalls())
}

func TestScanUndersized(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "small.mbtiles")
	c := tile.Coord{Z: 2, X: 1, Y: 1}
	small := tiletest.SolidPNG(256)
	require.Less(t, len(small), verify.DefaultMinBytes)
	require.NoError(t, s.SetTile(ctx, c, small))

	report, err := verify.New(s, verify.Config{}, tiletest.Logger()).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Total.OK)
	assert.Equal(t, int64(1), report.Total.Undersized)

	src := tiletest.NewSource()
	target, err := s.CloneTo(ctx, filepath.Join(t.TempDir(), "small.work.mbtiles"))
	require.NoError(t, err)
	defer target.Close()
	cfg := verify.Config{Fix: true, RepairUndersized: true, Source: src, Target: target}
	report, err = verify.New(s, cfg, tiletest.Logger()).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Total.Replaced)
	assert.Equal(t, 1, src.Calls(c))
}

func TestScanFixNeedsDistinctTarget(t *testing.T) {
	s := openStore(t, "notarget.mbtiles")
	src := tiletest.NewSource()

	_, err := verify.New(s, verify.Config{Fix: true, Source: src}, tiletest.Logger()).Scan(context.Background())
	assert.Equal(t, verify.ErrNoTarget, err)

	_, err = verify.New(s, verify.Config{Fix: true, Source: src, Target: s}, tiletest.Logger()).Scan(context.Background())
	assert.Equal(t, verify.ErrNoTarget, err)
}
