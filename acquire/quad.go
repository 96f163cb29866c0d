package acquire

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"sattiler/tile"
)

// FetchQuad 并发补齐 parent 的四个子瓦片, 四个都结束后返回
func (e *Engine) FetchQuad(ctx context.Context, parent tile.Coord) (Counts, error) {
	if !parent.Valid() {
		return Counts{}, errors.Errorf("quad: invalid parent %s", parent)
	}
	children := parent.Children()
	var outcomes [4]outcome

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range children {
		i, c := i, c
		g.Go(func() error {
			o, err := e.visit(gctx, c)
			if err != nil {
				return errors.Wrapf(err, "quad %s child %s", parent, c)
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Counts{}, err
	}

	var counts Counts
	for _, o := range outcomes {
		counts.add(o)
	}
	return counts, nil
}

// Refine 对某级别每个已存瓦片补齐下一级的四个子瓦片
func (e *Engine) Refine(ctx context.Context, zoom int) (Counts, error) {
	parents, err := e.store.TileCoords(ctx, zoom)
	if err != nil {
		return Counts{}, err
	}
	if len(parents) == 0 {
		return Counts{}, errors.Wrapf(tile.ErrNotFound, "refine: no tiles at zoom %d", zoom)
	}
	log := e.log.WithField("zoom", zoom+1)
	log.Infof("refine zoom %d -> %d: %d parents, %d workers", zoom, zoom+1, len(parents), e.cfg.Workers)

	bar := e.newBar(fmt.Sprintf("Refine %d : ", zoom+1), int64(len(parents)))
	if bar != nil {
		bar.Start()
	}

	var (
		mu    sync.Mutex
		total Counts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, parent := range parents {
		parent := parent
		g.Go(func() error {
			counts, err := e.FetchQuad(gctx, parent)
			if err != nil {
				return err
			}
			mu.Lock()
			total.merge(counts)
			mu.Unlock()
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	err = g.Wait()
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return total, err
	}
	log.Infof("refine zoom %d done: ocean %d, land %d, html %d, corrupt %d, unavailable %d",
		zoom+1, total.Ocean, total.Land, total.HTML, total.Corrupt, total.Unavailable)
	return total, nil
}
