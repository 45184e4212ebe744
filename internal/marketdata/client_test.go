package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	m.Run()
}

func floatPtr(v float64) *float64 { return &v }

func TestGetCoins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin,ethereum" {
			t.Errorf("ids = %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("api key = %q", got)
		}
		json.NewEncoder(w).Encode([]models.Coin{
			{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: floatPtr(60000)},
			{ID: "ethereum", Symbol: "eth", Name: "Ethereum"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, WithAPIKey("test-key"))
	coins, err := client.GetCoins(context.Background(), []string{"bitcoin", "ethereum"})
	if err != nil {
		t.Fatalf("GetCoins: %v", err)
	}
	if len(coins) != 2 || coins[0].ID != "bitcoin" {
		t.Errorf("coins = %+v", coins)
	}
}

func TestGetCoinsAtPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "3" || q.Get("per_page") != "250" || q.Get("order") != "market_cap_desc" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode([]models.Coin{{ID: "bitcoin"}})
	}))
	defer server.Close()

	coins, err := NewClient(server.URL).GetCoinsAtPage(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetCoinsAtPage: %v", err)
	}
	if len(coins) != 1 {
		t.Errorf("coins = %+v", coins)
	}
}

func TestSearchCoins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "doge" {
			t.Errorf("query = %q", got)
		}
		json.NewEncoder(w).Encode(searchResult{Coins: []models.Coin{{ID: "dogecoin"}}})
	}))
	defer server.Close()

	coins, err := NewClient(server.URL).SearchCoins(context.Background(), "doge")
	if err != nil {
		t.Fatalf("SearchCoins: %v", err)
	}
	if len(coins) != 1 || coins[0].ID != "dogecoin" {
		t.Errorf("coins = %+v", coins)
	}
}

func TestGetMarketData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]models.MarketSnapshot{
			"bitcoin": {CurrentPrice: floatPtr(60000), PriceChange24H: floatPtr(-1.2)},
		})
	}))
	defer server.Close()

	snapshots, err := NewClient(server.URL).GetMarketData(context.Background(), []string{"bitcoin"})
	if err != nil {
		t.Fatalf("GetMarketData: %v", err)
	}
	snapshot, ok := snapshots["bitcoin"]
	if !ok || *snapshot.CurrentPrice != 60000 || *snapshot.PriceChange24H != -1.2 {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestGetChartData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chart" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "btc" || q.Get("currency") != "usd" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string][]models.ChartPoint{
			models.TimeframeOneHour: {{Timestamp: 1, Price: 100}},
		})
	}))
	defer server.Close()

	chart, err := NewClient(server.URL).GetChartData(context.Background(), "btc", "usd")
	if err != nil {
		t.Fatalf("GetChartData: %v", err)
	}
	if len(chart[models.TimeframeOneHour]) != 1 {
		t.Errorf("chart = %+v", chart)
	}
}

func TestGetGlobalCryptoMarketData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": models.GlobalCryptoMarketData{
				MarketCapPercentage: map[string]float64{"btc": 52.1, "eth": 17.3},
			},
		})
	}))
	defer server.Close()

	global, err := NewClient(server.URL).GetGlobalCryptoMarketData(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalCryptoMarketData: %v", err)
	}
	if global.MarketCapPercentage["btc"] != 52.1 {
		t.Errorf("global = %+v", global)
	}
}

func TestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).GetCoins(context.Background(), []string{"bitcoin"}); err == nil {
		t.Fatal("expected an error on a non-200 status")
	}
}

func TestDownloadImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	t.Run("fetches the bytes", func(t *testing.T) {
		data, err := client.DownloadImage(context.Background(), server.URL+"/logo.png")
		if err != nil {
			t.Fatalf("DownloadImage: %v", err)
		}
		if string(data) != "png-bytes" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("empty url is rejected", func(t *testing.T) {
		if _, err := client.DownloadImage(context.Background(), ""); err == nil {
			t.Error("expected an error")
		}
	})
}
