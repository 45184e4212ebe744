// Package marketcache holds the last-fetched market snapshot per coin id.
// The cache is a flat map: lookups never invalidate it, only the periodic
// sweep does, and that sweep is driven by an external ticker so the cache
// itself stays free of timers.
package marketcache

import (
	"context"
	"sync"

	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	marketCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "market_cache_hits_total",
		Help: "Refreshes served entirely from the market data cache",
	})
	marketCacheFetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "market_cache_fetches_total",
		Help: "Refreshes that reached the remote market data source",
	})
)

func init() {
	prometheus.MustRegister(marketCacheHits, marketCacheFetches)
}

// Source is the remote market data dependency of the cache.
type Source interface {
	GetMarketData(ctx context.Context, ids []string) (map[string]models.MarketSnapshot, error)
}

// Cache caches market snapshots in memory.
type Cache struct {
	mu     sync.Mutex
	data   map[string]models.MarketSnapshot
	source Source
}

// New builds an empty cache over the given source.
func New(source Source) *Cache {
	return &Cache{
		data:   make(map[string]models.MarketSnapshot),
		source: source,
	}
}

// Refresh returns a snapshot per requested id. When the id list is empty
// or every id is already cached, the remote source is not called at all.
// On a remote failure the cache keeps its previous contents and the error
// is returned.
func (c *Cache) Refresh(ctx context.Context, ids []string) (map[string]models.MarketSnapshot, error) {
	if len(ids) == 0 {
		return map[string]models.MarketSnapshot{}, nil
	}

	c.mu.Lock()
	cached := make(map[string]models.MarketSnapshot, len(ids))
	for _, id := range ids {
		if snapshot, ok := c.data[id]; ok {
			cached[id] = snapshot
		}
	}
	c.mu.Unlock()

	if len(cached) == len(ids) {
		marketCacheHits.Inc()
		return cached, nil
	}

	marketCacheFetches.Inc()
	fetched, err := c.source.GetMarketData(ctx, ids)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for id, snapshot := range fetched {
		c.data[id] = snapshot
	}
	result := make(map[string]models.MarketSnapshot, len(ids))
	for _, id := range ids {
		if snapshot, ok := c.data[id]; ok {
			result[id] = snapshot
		}
	}
	c.mu.Unlock()

	return result, nil
}

// Clear empties the cache. Invoked by the caller's sweep ticker.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.data)
	c.data = make(map[string]models.MarketSnapshot)
	c.mu.Unlock()

	if n > 0 {
		logger.Log.Info("Market data cache cleared", zap.Int("evicted", n))
	}
}

// Len reports the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// ChartSource is the remote chart data dependency of the chart cache.
type ChartSource interface {
	GetChartData(ctx context.Context, symbol, currency string) (map[string][]models.ChartPoint, error)
}

// ChartCache caches price history per symbol and timeframe. One remote
// call fills every timeframe for a symbol.
type ChartCache struct {
	mu     sync.Mutex
	data   map[string]map[string][]models.ChartPoint
	source ChartSource
}

// NewChartCache builds an empty chart cache over the given source.
func NewChartCache(source ChartSource) *ChartCache {
	return &ChartCache{
		data:   make(map[string]map[string][]models.ChartPoint),
		source: source,
	}
}

// Get returns the chart for a symbol and timeframe, fetching all
// timeframes from the source on a miss. A missing timeframe after a
// successful fetch yields an empty slice, not an error.
func (c *ChartCache) Get(ctx context.Context, symbol, currency, timeframe string) ([]models.ChartPoint, error) {
	c.mu.Lock()
	if bySymbol, ok := c.data[symbol]; ok {
		points := bySymbol[timeframe]
		c.mu.Unlock()
		return points, nil
	}
	c.mu.Unlock()

	fetched, err := c.source.GetChartData(ctx, symbol, currency)
	if err != nil {
		return nil, err
	}

	entry := make(map[string][]models.ChartPoint, len(models.Timeframes))
	for _, tf := range models.Timeframes {
		if points, ok := fetched[tf]; ok {
			entry[tf] = points
		}
	}

	c.mu.Lock()
	c.data[symbol] = entry
	c.mu.Unlock()

	return entry[timeframe], nil
}

// Clear empties the chart cache.
func (c *ChartCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]map[string][]models.ChartPoint)
	c.mu.Unlock()
}
