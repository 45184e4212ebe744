package roster

import (
	"context"
	"testing"

	"wenmoon/internal/database"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"
	"wenmoon/internal/settings"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	m.Run()
}

type fakeStore struct {
	coins map[string]models.Coin
	refs  map[string]int

	updates int
	deletes int
}

func newFakeStore(coins ...models.Coin) *fakeStore {
	s := &fakeStore{
		coins: make(map[string]models.Coin),
		refs:  make(map[string]int),
	}
	for _, coin := range coins {
		s.coins[coin.ID] = coin
	}
	return s
}

func (s *fakeStore) ActiveCoins(ctx context.Context) ([]models.Coin, error) {
	var out []models.Coin
	for _, coin := range s.coins {
		if !coin.IsArchived {
			out = append(out, coin)
		}
	}
	return out, nil
}

func (s *fakeStore) CoinByID(ctx context.Context, id string) (*models.Coin, error) {
	coin, ok := s.coins[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &coin, nil
}

func (s *fakeStore) InsertCoin(ctx context.Context, coin models.Coin) error {
	s.coins[coin.ID] = coin
	return nil
}

func (s *fakeStore) UpdateCoin(ctx context.Context, coin models.Coin) error {
	if _, ok := s.coins[coin.ID]; !ok {
		return database.ErrNotFound
	}
	s.coins[coin.ID] = coin
	s.updates++
	return nil
}

func (s *fakeStore) DeleteCoin(ctx context.Context, id string) error {
	delete(s.coins, id)
	s.deletes++
	return nil
}

func (s *fakeStore) CoinReferenceCount(ctx context.Context, coinID string) (int, error) {
	return s.refs[coinID], nil
}

type fakeMarket struct {
	snapshots map[string]models.MarketSnapshot
	calls     int
	onRefresh func()
}

func (m *fakeMarket) Refresh(ctx context.Context, ids []string) (map[string]models.MarketSnapshot, error) {
	m.calls++
	if m.onRefresh != nil {
		m.onRefresh()
	}
	out := make(map[string]models.MarketSnapshot, len(ids))
	for _, id := range ids {
		if snapshot, ok := m.snapshots[id]; ok {
			out[id] = snapshot
		}
	}
	return out, nil
}

func floatPtr(v float64) *float64 { return &v }

func coin(id string) models.Coin {
	return models.Coin{ID: id, Symbol: id[:3], Name: id}
}

func ids(coins []models.Coin) []string {
	out := make([]string, len(coins))
	for i, c := range coins {
		out[i] = c.ID
	}
	return out
}

func equalIDs(got []models.Coin, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].ID != want[i] {
			return false
		}
	}
	return true
}

func newTestRoster(store *fakeStore, market MarketProvider) (*Roster, *settings.MemoryStore) {
	mem := settings.NewMemoryStore()
	return New(store, mem, market), mem
}

func TestLoadAppliesSavedOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("saved order wins over store order", func(t *testing.T) {
		store := newFakeStore(coin("bitcoin"), coin("ethereum"), coin("solana"))
		r, mem := newTestRoster(store, &fakeMarket{})

		if err := mem.Set(ctx, settings.KeyCoinsOrder, []string{"solana", "bitcoin", "ethereum"}); err != nil {
			t.Fatal(err)
		}
		if err := r.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.Coins(); !equalIDs(got, []string{"solana", "bitcoin", "ethereum"}) {
			t.Errorf("order = %v", ids(got))
		}
	})

	t.Run("ids missing from the saved order sort last", func(t *testing.T) {
		coins := []models.Coin{coin("bitcoin"), coin("ethereum"), coin("dogecoin")}
		applySavedOrder(coins, []string{"ethereum"})
		if coins[0].ID != "ethereum" {
			t.Errorf("first = %s, want ethereum", coins[0].ID)
		}
		// The unsaved pair keeps its relative order.
		if coins[1].ID != "bitcoin" || coins[2].ID != "dogecoin" {
			t.Errorf("tail = %v, want [bitcoin dogecoin]", []string{coins[1].ID, coins[2].ID})
		}
	})

	t.Run("pinned coins come first", func(t *testing.T) {
		pinned := coin("solana")
		pinned.IsPinned = true
		store := newFakeStore(coin("bitcoin"), pinned)
		r, _ := newTestRoster(store, &fakeMarket{})

		if err := r.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.Coins(); got[0].ID != "solana" {
			t.Errorf("first = %s, want solana", got[0].ID)
		}
	})
}

func TestAddOrRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("new coin is inserted and appended", func(t *testing.T) {
		store := newFakeStore()
		r, _ := newTestRoster(store, &fakeMarket{})

		if err := r.AddOrRestore(ctx, coin("bitcoin")); err != nil {
			t.Fatalf("AddOrRestore: %v", err)
		}
		if _, ok := store.coins["bitcoin"]; !ok {
			t.Error("coin was not persisted")
		}
		if len(r.Coins()) != 1 {
			t.Errorf("len = %d, want 1", len(r.Coins()))
		}
	})

	t.Run("active duplicate is a no-op", func(t *testing.T) {
		store := newFakeStore(coin("bitcoin"))
		r, _ := newTestRoster(store, &fakeMarket{})
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}

		if err := r.AddOrRestore(ctx, coin("bitcoin")); err != nil {
			t.Fatalf("AddOrRestore: %v", err)
		}
		if got := len(r.Coins()); got != 1 {
			t.Errorf("len = %d, want 1 (no duplicate)", got)
		}
	})

	t.Run("archived coin is restored with its history", func(t *testing.T) {
		archived := coin("bitcoin")
		archived.IsArchived = true
		archived.TargetPrice = floatPtr(70000)
		store := newFakeStore(archived, coin("ethereum"))
		r, _ := newTestRoster(store, &fakeMarket{})
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}

		if err := r.AddOrRestore(ctx, coin("bitcoin")); err != nil {
			t.Fatalf("AddOrRestore: %v", err)
		}
		coins := r.Coins()
		if !equalIDs(coins, []string{"ethereum", "bitcoin"}) {
			t.Errorf("order = %v, want restored coin at the end", ids(coins))
		}
		restored := coins[1]
		if restored.IsArchived {
			t.Error("restored coin should not be archived")
		}
		if restored.TargetPrice == nil || *restored.TargetPrice != 70000 {
			t.Error("restored coin should keep its stored fields")
		}
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("referenced coin is archived, not deleted", func(t *testing.T) {
		store := newFakeStore(coin("bitcoin"))
		store.refs["bitcoin"] = 2
		r, _ := newTestRoster(store, &fakeMarket{})
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}

		if err := r.Remove(ctx, "bitcoin"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		stored, ok := store.coins["bitcoin"]
		if !ok {
			t.Fatal("referenced coin must stay in the store")
		}
		if !stored.IsArchived {
			t.Error("referenced coin should be archived")
		}
		if len(r.Coins()) != 0 {
			t.Error("archived coin should leave the visible list")
		}
	})

	t.Run("unreferenced coin is deleted", func(t *testing.T) {
		store := newFakeStore(coin("bitcoin"))
		r, _ := newTestRoster(store, &fakeMarket{})
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}

		if err := r.Remove(ctx, "bitcoin"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, ok := store.coins["bitcoin"]; ok {
			t.Error("unreferenced coin should be deleted from the store")
		}
		if store.deletes != 1 {
			t.Errorf("deletes = %d, want 1", store.deletes)
		}
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		store := newFakeStore()
		r, _ := newTestRoster(store, &fakeMarket{})
		if err := r.Remove(ctx, "nope"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	})
}

func TestPinning(t *testing.T) {
	ctx := context.Background()

	load := func(t *testing.T) (*Roster, *fakeStore) {
		t.Helper()
		store := newFakeStore()
		r, mem := newTestRoster(store, &fakeMarket{})
		for _, id := range []string{"bitcoin", "ethereum", "solana", "ripple"} {
			if err := r.AddOrRestore(ctx, coin(id)); err != nil {
				t.Fatal(err)
			}
		}
		if err := mem.Set(ctx, settings.KeyCoinsOrder, []string{"bitcoin", "ethereum", "solana", "ripple"}); err != nil {
			t.Fatal(err)
		}
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}
		return r, store
	}

	t.Run("pin moves to the front", func(t *testing.T) {
		r, store := load(t)
		if err := r.Pin(ctx, "solana"); err != nil {
			t.Fatalf("Pin: %v", err)
		}
		if got := r.Coins(); !equalIDs(got, []string{"solana", "bitcoin", "ethereum", "ripple"}) {
			t.Errorf("order = %v", ids(got))
		}
		if !store.coins["solana"].IsPinned {
			t.Error("pin flag was not persisted")
		}
	})

	t.Run("unpin moves to the front of the unpinned partition", func(t *testing.T) {
		r, _ := load(t)
		if err := r.Pin(ctx, "solana"); err != nil {
			t.Fatal(err)
		}
		if err := r.Pin(ctx, "ripple"); err != nil {
			t.Fatal(err)
		}
		// ripple, solana | bitcoin, ethereum
		if err := r.Unpin(ctx, "solana"); err != nil {
			t.Fatalf("Unpin: %v", err)
		}
		if got := r.Coins(); !equalIDs(got, []string{"ripple", "solana", "bitcoin", "ethereum"}) {
			t.Errorf("order = %v", ids(got))
		}
		if got := r.Coins(); got[1].IsPinned {
			t.Error("unpinned coin kept its pin flag")
		}
	})
}

func TestMove(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	r, _ := newTestRoster(store, &fakeMarket{})
	for _, id := range []string{"bitcoin", "ethereum", "solana", "ripple"} {
		if err := r.AddOrRestore(ctx, coin(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Pin(ctx, "ripple"); err != nil {
		t.Fatal(err)
	}
	// ripple | bitcoin, ethereum, solana

	t.Run("move inside the unpinned partition", func(t *testing.T) {
		r.Move(2, 0, false)
		if got := r.Coins(); !equalIDs(got, []string{"ripple", "solana", "bitcoin", "ethereum"}) {
			t.Errorf("order = %v", ids(got))
		}
	})

	t.Run("out of range is a no-op", func(t *testing.T) {
		before := ids(r.Coins())
		r.Move(0, 9, false)
		r.Move(-1, 0, true)
		if after := ids(r.Coins()); !equalIDs(r.Coins(), before) {
			t.Errorf("order changed: %v -> %v", before, after)
		}
	})
}

func TestSaveOrder(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	r, mem := newTestRoster(store, &fakeMarket{})
	for _, id := range []string{"bitcoin", "ethereum"} {
		if err := r.AddOrRestore(ctx, coin(id)); err != nil {
			t.Fatal(err)
		}
	}
	r.Move(1, 0, false)

	if err := r.SaveOrder(ctx); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	var saved []string
	ok, err := mem.Get(ctx, settings.KeyCoinsOrder, &saved)
	if err != nil || !ok {
		t.Fatalf("Get saved order: ok=%v err=%v", ok, err)
	}
	if len(saved) != 2 || saved[0] != "ethereum" || saved[1] != "bitcoin" {
		t.Errorf("saved = %v, want [ethereum bitcoin]", saved)
	}
}

func TestRefreshMarketData(t *testing.T) {
	ctx := context.Background()

	t.Run("merges snapshots and persists", func(t *testing.T) {
		store := newFakeStore(coin("bitcoin"), coin("ethereum"))
		market := &fakeMarket{snapshots: map[string]models.MarketSnapshot{
			"bitcoin": {CurrentPrice: floatPtr(65000)},
		}}
		r, _ := newTestRoster(store, market)
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}

		if err := r.RefreshMarketData(ctx); err != nil {
			t.Fatalf("RefreshMarketData: %v", err)
		}
		btc, ok := r.CoinByID("bitcoin")
		if !ok || btc.CurrentPrice == nil || *btc.CurrentPrice != 65000 {
			t.Errorf("bitcoin price = %v, want 65000", btc.CurrentPrice)
		}
		if stored := store.coins["bitcoin"]; stored.CurrentPrice == nil || *stored.CurrentPrice != 65000 {
			t.Error("refreshed price was not persisted")
		}
		eth, _ := r.CoinByID("ethereum")
		if eth.CurrentPrice != nil {
			t.Error("coin without a snapshot should be untouched")
		}
	})

	t.Run("empty roster skips the source", func(t *testing.T) {
		market := &fakeMarket{}
		r, _ := newTestRoster(newFakeStore(), market)
		if err := r.RefreshMarketData(ctx); err != nil {
			t.Fatalf("RefreshMarketData: %v", err)
		}
		if market.calls != 0 {
			t.Errorf("market calls = %d, want 0", market.calls)
		}
	})

	t.Run("stale result is discarded", func(t *testing.T) {
		store := newFakeStore(coin("bitcoin"))
		market := &fakeMarket{snapshots: map[string]models.MarketSnapshot{
			"bitcoin": {CurrentPrice: floatPtr(1)},
		}}
		r, _ := newTestRoster(store, market)
		if err := r.Load(ctx); err != nil {
			t.Fatal(err)
		}

		// A newer refresh starts while this one's fetch is in flight.
		market.onRefresh = func() { r.refreshGen.Add(1) }

		if err := r.RefreshMarketData(ctx); err != nil {
			t.Fatalf("RefreshMarketData: %v", err)
		}
		btc, _ := r.CoinByID("bitcoin")
		if btc.CurrentPrice != nil {
			t.Error("stale refresh result should be discarded")
		}
		if store.updates != 0 {
			t.Errorf("updates = %d, want 0 after a discarded refresh", store.updates)
		}
	})
}

func TestDeactivateAlert(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore(coin("bitcoin"))
	r, _ := newTestRoster(store, &fakeMarket{})
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}
	r.ReplaceAlerts([]models.Coin{{
		ID: "bitcoin",
		PriceAlerts: []models.PriceAlert{
			{ID: "bitcoin-target", TargetPrice: 70000, IsActive: true},
			{ID: "bitcoin-other", TargetPrice: 80000, IsActive: true},
		},
	}})

	r.DeactivateAlert("bitcoin-target")

	btc, _ := r.CoinByID("bitcoin")
	if len(btc.PriceAlerts) != 1 || btc.PriceAlerts[0].ID != "bitcoin-other" {
		t.Errorf("alerts = %+v, want only bitcoin-other", btc.PriceAlerts)
	}
}

func TestSubscribeCoalesces(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	r, _ := newTestRoster(store, &fakeMarket{})
	ch := r.Subscribe()

	// Two back-to-back changes with no receiver must not block.
	if err := r.AddOrRestore(ctx, coin("bitcoin")); err != nil {
		t.Fatal(err)
	}
	if err := r.AddOrRestore(ctx, coin("ethereum")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
	default:
		t.Error("expected a pending notification")
	}
}
