// Package roster maintains the user's tracked-coin list: the active and
// archived partitions, pin ordering, the persisted custom order, and the
// merge points for market data and alert state.
package roster

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"wenmoon/internal/database"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"
	"wenmoon/internal/settings"

	"go.uber.org/zap"
)

// PredefinedCoinIDs seeds the roster on a first launch with an empty store.
var PredefinedCoinIDs = []string{
	"bitcoin",
	"ethereum",
	"solana",
	"ripple",
	"binancecoin",
}

// Store is the durable side of the roster.
type Store interface {
	ActiveCoins(ctx context.Context) ([]models.Coin, error)
	CoinByID(ctx context.Context, id string) (*models.Coin, error)
	InsertCoin(ctx context.Context, coin models.Coin) error
	UpdateCoin(ctx context.Context, coin models.Coin) error
	DeleteCoin(ctx context.Context, id string) error
	CoinReferenceCount(ctx context.Context, coinID string) (int, error)
}

// MarketProvider supplies market snapshots, normally through the cache.
type MarketProvider interface {
	Refresh(ctx context.Context, ids []string) (map[string]models.MarketSnapshot, error)
}

// CoinSource supplies full coin records for bootstrap and user additions.
type CoinSource interface {
	GetCoins(ctx context.Context, ids []string) ([]models.Coin, error)
}

// ImageSource downloads coin logos for storage alongside the record.
type ImageSource interface {
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

// Roster is the ordered, deduplicated set of tracked coins. All mutations
// run under one lock; readers get snapshot copies.
type Roster struct {
	mu       sync.Mutex
	store    Store
	settings settings.Store
	market   MarketProvider
	images   ImageSource

	coins []models.Coin

	// refreshGen discards market data results landing after a newer
	// refresh already started.
	refreshGen atomic.Uint64

	subsMu      sync.Mutex
	subscribers []chan struct{}
}

// Option configures a Roster.
type Option func(*Roster)

// WithImageSource enables logo downloads when coins are inserted.
func WithImageSource(images ImageSource) Option {
	return func(r *Roster) { r.images = images }
}

// New builds a roster over its collaborators.
func New(store Store, settingsStore settings.Store, market MarketProvider, opts ...Option) *Roster {
	r := &Roster{
		store:    store,
		settings: settingsStore,
		market:   market,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe returns a channel that receives a signal whenever the visible
// list or a member's displayed fields change. Signals are coalesced; slow
// receivers never block the roster.
func (r *Roster) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	r.subsMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Roster) notify() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Load populates the roster from the store: archived coins excluded, rank
// order ascending, the persisted custom order (when present) taking
// precedence with unknown ids sorted last, and pinned coins first.
func (r *Roster) Load(ctx context.Context) error {
	coins, err := r.store.ActiveCoins(ctx)
	if err != nil {
		return err
	}

	var savedOrder []string
	if ok, err := r.settings.Get(ctx, settings.KeyCoinsOrder, &savedOrder); err != nil {
		logger.Log.Warn("Failed to read saved coin order", zap.Error(err))
	} else if ok {
		applySavedOrder(coins, savedOrder)
	}
	partitionPinned(coins)

	r.mu.Lock()
	r.coins = coins
	r.mu.Unlock()

	r.notify()
	return nil
}

// Bootstrap seeds an empty roster with the predefined starter coins.
func (r *Roster) Bootstrap(ctx context.Context, source CoinSource) error {
	r.mu.Lock()
	empty := len(r.coins) == 0
	r.mu.Unlock()
	if !empty {
		return nil
	}

	coins, err := source.GetCoins(ctx, PredefinedCoinIDs)
	if err != nil {
		return err
	}
	for _, coin := range coins {
		if err := r.AddOrRestore(ctx, coin); err != nil {
			return err
		}
	}
	return nil
}

// Coins returns a snapshot of the visible list.
func (r *Roster) Coins() []models.Coin {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]models.Coin, len(r.coins))
	copy(snapshot, r.coins)
	return snapshot
}

// CoinByID returns a snapshot of one visible coin.
func (r *Roster) CoinByID(id string) (models.Coin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, coin := range r.coins {
		if coin.ID == id {
			return coin, true
		}
	}
	return models.Coin{}, false
}

// AddOrRestore tracks a coin. An archived coin with the same id is
// restored to the end of the visible list; an active one is a no-op; an
// unknown one is inserted as a new record.
func (r *Roster) AddOrRestore(ctx context.Context, coin models.Coin) error {
	existing, err := r.store.CoinByID(ctx, coin.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	if existing != nil {
		if !existing.IsArchived {
			return nil
		}
		existing.IsArchived = false
		if err := r.store.UpdateCoin(ctx, *existing); err != nil {
			return err
		}
		logger.Log.Info("Restored archived coin", zap.String("coin_id", existing.ID))

		r.mu.Lock()
		r.coins = append(r.coins, *existing)
		r.mu.Unlock()
		r.notify()
		return nil
	}

	if r.images != nil && coin.ImageURL != "" && coin.ImageData == nil {
		data, err := r.images.DownloadImage(ctx, coin.ImageURL)
		if err != nil {
			logger.Log.Warn("Failed to download coin image",
				zap.String("coin_id", coin.ID),
				zap.Error(err),
			)
		} else {
			coin.ImageData = data
		}
	}

	if err := r.store.InsertCoin(ctx, coin); err != nil {
		return err
	}
	logger.Log.Info("Inserted coin", zap.String("coin_id", coin.ID))

	r.mu.Lock()
	r.coins = append(r.coins, coin)
	r.mu.Unlock()
	r.notify()
	return nil
}

// Remove untracks a coin. A coin referenced by any transaction is archived
// so the reference stays valid; an unreferenced one is deleted outright.
func (r *Roster) Remove(ctx context.Context, coinID string) error {
	r.mu.Lock()
	idx := indexOf(r.coins, coinID)
	if idx < 0 {
		r.mu.Unlock()
		return nil
	}
	coin := r.coins[idx]
	r.mu.Unlock()

	refs, err := r.store.CoinReferenceCount(ctx, coinID)
	if err != nil {
		return err
	}

	if refs > 0 {
		coin.IsArchived = true
		if err := r.store.UpdateCoin(ctx, coin); err != nil {
			return err
		}
		logger.Log.Info("Archived coin",
			zap.String("coin_id", coinID),
			zap.Int("references", refs),
		)
	} else {
		if err := r.store.DeleteCoin(ctx, coinID); err != nil {
			return err
		}
		logger.Log.Info("Deleted coin", zap.String("coin_id", coinID))
	}

	r.mu.Lock()
	if idx = indexOf(r.coins, coinID); idx >= 0 {
		r.coins = append(r.coins[:idx], r.coins[idx+1:]...)
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Pin marks a coin pinned and moves it to the front of the list.
func (r *Roster) Pin(ctx context.Context, coinID string) error {
	return r.setPinned(ctx, coinID, true)
}

// Unpin clears the pin and moves the coin to the front of the unpinned
// partition.
func (r *Roster) Unpin(ctx context.Context, coinID string) error {
	return r.setPinned(ctx, coinID, false)
}

func (r *Roster) setPinned(ctx context.Context, coinID string, pinned bool) error {
	r.mu.Lock()
	idx := indexOf(r.coins, coinID)
	if idx < 0 {
		r.mu.Unlock()
		return nil
	}
	coin := r.coins[idx]
	coin.IsPinned = pinned

	r.coins = append(r.coins[:idx], r.coins[idx+1:]...)
	if pinned {
		r.coins = append([]models.Coin{coin}, r.coins...)
	} else {
		insertAt := 0
		for insertAt < len(r.coins) && r.coins[insertAt].IsPinned {
			insertAt++
		}
		r.coins = append(r.coins[:insertAt], append([]models.Coin{coin}, r.coins[insertAt:]...)...)
	}
	r.mu.Unlock()

	if err := r.store.UpdateCoin(ctx, coin); err != nil {
		return err
	}
	r.notify()
	return nil
}

// Move reorders one coin inside its pinned or unpinned partition. The
// other partition is untouched and pinned coins keep preceding unpinned
// ones.
func (r *Roster) Move(from, to int, pinned bool) {
	r.mu.Lock()
	var partition, other []models.Coin
	for _, coin := range r.coins {
		if coin.IsPinned == pinned {
			partition = append(partition, coin)
		} else {
			other = append(other, coin)
		}
	}

	if from < 0 || from >= len(partition) || to < 0 || to >= len(partition) {
		r.mu.Unlock()
		return
	}

	moved := partition[from]
	partition = append(partition[:from], partition[from+1:]...)
	partition = append(partition[:to], append([]models.Coin{moved}, partition[to:]...)...)

	if pinned {
		r.coins = append(partition, other...)
	} else {
		r.coins = append(other, partition...)
	}
	r.mu.Unlock()
	r.notify()
}

// SaveOrder persists the current id sequence as the custom order.
func (r *Roster) SaveOrder(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, len(r.coins))
	for i, coin := range r.coins {
		ids[i] = coin.ID
	}
	r.mu.Unlock()
	return r.settings.Set(ctx, settings.KeyCoinsOrder, ids)
}

// RefreshMarketData merges fresh snapshots into every tracked coin and
// persists the result. A result arriving after a newer refresh has started
// is discarded; the newer one will overwrite it anyway.
func (r *Roster) RefreshMarketData(ctx context.Context) error {
	gen := r.refreshGen.Add(1)

	r.mu.Lock()
	ids := make([]string, len(r.coins))
	for i, coin := range r.coins {
		ids[i] = coin.ID
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	snapshots, err := r.market.Refresh(ctx, ids)
	if err != nil {
		return err
	}

	if r.refreshGen.Load() != gen {
		logger.Log.Debug("Discarding stale market data refresh", zap.Uint64("generation", gen))
		return nil
	}

	r.mu.Lock()
	updated := make([]models.Coin, 0, len(r.coins))
	for i := range r.coins {
		if snapshot, ok := snapshots[r.coins[i].ID]; ok {
			r.coins[i].ApplyMarketData(snapshot)
			updated = append(updated, r.coins[i])
		}
	}
	r.mu.Unlock()

	for _, coin := range updated {
		if err := r.store.UpdateCoin(ctx, coin); err != nil {
			return err
		}
	}
	r.notify()
	return nil
}

// ReplaceAlerts swaps in the alert lists produced by a registry sync.
// Coins absent from the synced slice keep their current lists.
func (r *Roster) ReplaceAlerts(synced []models.Coin) {
	byID := make(map[string][]models.PriceAlert, len(synced))
	for _, coin := range synced {
		byID[coin.ID] = coin.PriceAlerts
	}

	r.mu.Lock()
	for i := range r.coins {
		if alerts, ok := byID[r.coins[i].ID]; ok {
			r.coins[i].PriceAlerts = alerts
		}
	}
	r.mu.Unlock()
	r.notify()
}

// SaveCoin persists and re-caches a coin whose fields changed outside the
// roster, such as after an alert registration.
func (r *Roster) SaveCoin(ctx context.Context, coin models.Coin) error {
	if err := r.store.UpdateCoin(ctx, coin); err != nil {
		return err
	}
	r.mu.Lock()
	if idx := indexOf(r.coins, coin.ID); idx >= 0 {
		r.coins[idx] = coin
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// DeactivateAlert removes one alert, by id, from whichever coin holds it.
// The remote registry is not called: a triggered alert was already
// consumed server-side before the push arrived.
func (r *Roster) DeactivateAlert(alertID string) {
	r.mu.Lock()
	changed := false
	for i := range r.coins {
		for j, alert := range r.coins[i].PriceAlerts {
			if alert.ID == alertID {
				r.coins[i].PriceAlerts = append(
					r.coins[i].PriceAlerts[:j],
					r.coins[i].PriceAlerts[j+1:]...,
				)
				changed = true
				break
			}
		}
		if changed {
			break
		}
	}
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

func indexOf(coins []models.Coin, id string) int {
	for i, coin := range coins {
		if coin.ID == id {
			return i
		}
	}
	return -1
}

// applySavedOrder stable-sorts coins by their position in the saved id
// sequence; ids missing from it sort last, keeping their relative order.
func applySavedOrder(coins []models.Coin, savedOrder []string) {
	position := make(map[string]int, len(savedOrder))
	for i, id := range savedOrder {
		position[id] = i
	}
	rank := func(id string) int {
		if p, ok := position[id]; ok {
			return p
		}
		return len(savedOrder)
	}
	sort.SliceStable(coins, func(i, j int) bool {
		return rank(coins[i].ID) < rank(coins[j].ID)
	})
}

// partitionPinned stable-sorts pinned coins ahead of unpinned ones.
func partitionPinned(coins []models.Coin) {
	sort.SliceStable(coins, func(i, j int) bool {
		return coins[i].IsPinned && !coins[j].IsPinned
	})
}
