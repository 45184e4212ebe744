package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wenmoon/internal/cache"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const globalCachePrefix = "global_market_"

// GlobalMarketItem is one labeled headline figure for the market overview
// strip.
type GlobalMarketItem struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// GlobalMarketHandler assembles the market overview: dominance shares from
// the crypto global endpoint and macro indicators from the macro endpoint,
// fetched concurrently.
func (a *API) GlobalMarketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GlobalMarketHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	cacheKey := generateCacheKey(r, globalCachePrefix)

	cached, err := cache.GetCache(ctx, cacheKey, "/market/global", a.Instance)
	if err == nil && cached != "" {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	var crypto models.GlobalCryptoMarketData
	var macro models.GlobalMarketData

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		crypto, err = a.Market.GetGlobalCryptoMarketData(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		macro, err = a.Market.GetGlobalMarketData(gCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("Failed to fetch global market data",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch global market data", http.StatusBadGateway)
		return
	}

	btcDominance := crypto.MarketCapPercentage["btc"]
	ethDominance := crypto.MarketCapPercentage["eth"]
	othersDominance := 100 - (btcDominance + ethDominance)

	items := []GlobalMarketItem{
		{Title: "BTC.D:", Value: formatPercentage(btcDominance)},
		{Title: "ETH.D:", Value: formatPercentage(ethDominance)},
		{Title: "OTHERS.D:", Value: formatPercentage(othersDominance)},
		{Title: "CPI:", Value: formatPercentage(macro.CPIPercentage)},
		{Title: "Next CPI:", Value: formatDate(macro.NextCPIDate)},
		{Title: "Interest Rate:", Value: formatPercentage(macro.InterestRatePercentage)},
		{Title: "Next FOMC:", Value: formatDate(macro.NextFOMCMeetingDate)},
	}

	response := Response{Message: "Global market data retrieved successfully", Data: items}
	respBytes, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		return
	}

	if cacheErr := cache.SetCache(ctx, cacheKey, string(respBytes), 5*time.Minute, "/market/global", a.Instance); cacheErr != nil {
		logger.Log.Warn("Failed to store response in cache",
			zap.String("trace_id", traceID),
			zap.String("cache_key", cacheKey),
			zap.Error(cacheErr),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}

func formatPercentage(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("Jan 2, 2006")
}
