package datasource

import (
	"context"
	"fmt"

	"optpath/internal/logger"
	"optpath/internal/market"
	"optpath/internal/store/barstore"
)

// Cached 先查本地 SQLite，已同步区间命中时不访问远端；否则拉取并回写。
type Cached struct {
	src   Source
	store *barstore.Store
}

func WithCache(src Source, store *barstore.Store) Source {
	if store == nil {
		return src
	}
	return &Cached{src: src, store: store}
}

func (c *Cached) Name() string { return c.src.Name() + "+cache" }

func (c *Cached) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	m, err := c.store.Manifest(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("cache manifest: %w", err)
	}
	if m.Covers(req.Start, req.End) {
		bars, err := c.store.RangeBars(ctx, req.Symbol, req.Start, req.End)
		if err != nil {
			return nil, fmt.Errorf("cache read: %w", err)
		}
		if len(bars) > 0 {
			logger.Debugf("[datasource] cache hit %s rows=%d", req, len(bars))
			return bars, nil
		}
	}
	bars, err := c.src.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := market.ValidateOrder(bars); err != nil {
		// 不缓存乱序数据，交由上层报错
		return bars, nil
	}
	if _, err := c.store.InsertBars(ctx, req.Symbol, bars); err != nil {
		logger.Warnf("[datasource] cache write %s failed: %v", req, err)
		return bars, nil
	}
	if err := c.store.MarkSynced(ctx, req.Symbol, req.Start, req.End); err != nil {
		logger.Warnf("[datasource] cache mark %s failed: %v", req, err)
	}
	logger.Infof("[datasource] fetched %s from %s rows=%d", req, c.src.Name(), len(bars))
	return bars, nil
}
