package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"wenmoon/internal/cache"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// CoinsCachePrefix namespaces the cached /coins responses so roster
// changes can invalidate them from outside the handler layer.
const CoinsCachePrefix = "browse_coins_"

type addCoinRequest struct {
	ID string `json:"id"`
}

type moveCoinRequest struct {
	From     int  `json:"from"`
	To       int  `json:"to"`
	IsPinned bool `json:"is_pinned"`
}

type setAlertRequest struct {
	TargetPrice *float64 `json:"target_price"`
}

// CoinsHandler routes all coin operations based on path and HTTP method.
func (a *API) CoinsHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path)

	// Collection endpoints: /coins
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.browseCoins(w, r)
		case http.MethodPost:
			a.addCoin(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	// Reserved sub-resources: /coins/{verb}
	if len(parts) == 2 {
		switch parts[1] {
		case "search":
			a.searchCoins(w, r)
			return
		case "page":
			a.browseCoinsPage(w, r)
			return
		case "order":
			a.saveCoinsOrder(w, r)
			return
		case "move":
			a.moveCoin(w, r)
			return
		case "refresh":
			a.refreshMarketData(w, r)
			return
		}
	}

	coinID := parts[1]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			a.getCoin(w, r, coinID)
		case http.MethodDelete:
			a.removeCoin(w, r, coinID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 3 {
		switch parts[2] {
		case "pin", "unpin":
			a.setCoinPinned(w, r, coinID, parts[2] == "pin")
			return
		case "chart":
			a.getChartData(w, r, coinID)
			return
		case "alert":
			a.setPriceAlert(w, r, coinID)
			return
		}
	}

	http.NotFound(w, r)
}

// browseCoins lists the visible roster in display order.
func (a *API) browseCoins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "browseCoins")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	cacheKey := generateCacheKey(r, CoinsCachePrefix)

	cached, err := cache.GetCache(ctx, cacheKey, "/coins", a.Instance)
	if err == nil && cached != "" {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	response := Response{
		Message: "Coins retrieved successfully",
		Data:    a.Roster.Coins(),
	}

	respBytes, err := json.Marshal(response)
	if err != nil {
		logger.Log.Error("Failed to encode JSON response",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		return
	}

	if cacheErr := cache.SetCache(ctx, cacheKey, string(respBytes), 30*time.Second, "/coins", a.Instance); cacheErr != nil {
		logger.Log.Warn("Failed to store response in cache",
			zap.String("trace_id", traceID),
			zap.String("cache_key", cacheKey),
			zap.Error(cacheErr),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}

// addCoin tracks a new coin, restoring it when it was archived.
func (a *API) addCoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "addCoin")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	var req addCoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Missing required field: id", http.StatusBadRequest)
		return
	}

	coins, err := a.Market.GetCoins(ctx, []string{req.ID})
	if err != nil || len(coins) == 0 {
		logger.Log.Error("Failed to fetch coin from market data source",
			zap.String("trace_id", traceID),
			zap.String("coin_id", req.ID),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch coin", http.StatusBadGateway)
		return
	}

	if err := a.Roster.AddOrRestore(ctx, coins[0]); err != nil {
		logger.Log.Error("Failed to save coin",
			zap.String("trace_id", traceID),
			zap.String("coin_id", req.ID),
			zap.Error(err),
		)
		http.Error(w, "Failed to save coin", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusCreated, Response{Message: "Coin saved successfully", Data: coins[0]})
}

func (a *API) getCoin(w http.ResponseWriter, r *http.Request, coinID string) {
	coin, ok := a.Roster.CoinByID(coinID)
	if !ok {
		http.Error(w, "Coin not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Coin retrieved successfully", Data: coin})
}

// removeCoin archives a referenced coin and deletes an unreferenced one.
func (a *API) removeCoin(w http.ResponseWriter, r *http.Request, coinID string) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "removeCoin")
	defer span.End()

	if err := a.Roster.Remove(ctx, coinID); err != nil {
		logger.Log.Error("Failed to remove coin",
			zap.String("coin_id", coinID),
			zap.Error(err),
		)
		http.Error(w, "Failed to remove coin", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Coin removed successfully"})
}

func (a *API) setCoinPinned(w http.ResponseWriter, r *http.Request, coinID string, pinned bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var err error
	if pinned {
		err = a.Roster.Pin(ctx, coinID)
	} else {
		err = a.Roster.Unpin(ctx, coinID)
	}
	if err != nil {
		logger.Log.Error("Failed to update pin state",
			zap.String("coin_id", coinID),
			zap.Bool("pinned", pinned),
			zap.Error(err),
		)
		http.Error(w, "Failed to update pin state", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Pin state updated successfully"})
}

// moveCoin reorders one coin inside its pinned or unpinned group and
// persists the resulting order.
func (a *API) moveCoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req moveCoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	a.Roster.Move(req.From, req.To, req.IsPinned)
	if err := a.Roster.SaveOrder(ctx); err != nil {
		logger.Log.Error("Failed to save coin order", zap.Error(err))
		http.Error(w, "Failed to save coin order", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Coin moved successfully"})
}

func (a *API) saveCoinsOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.Roster.SaveOrder(r.Context()); err != nil {
		logger.Log.Error("Failed to save coin order", zap.Error(err))
		http.Error(w, "Failed to save coin order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Coin order saved successfully"})
}

// refreshMarketData pulls fresh snapshots through the cache and merges
// them into the roster.
func (a *API) refreshMarketData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "refreshMarketData")
	defer span.End()

	if err := a.Roster.RefreshMarketData(ctx); err != nil {
		logger.Log.Error("Failed to refresh market data", zap.Error(err))
		http.Error(w, "Failed to refresh market data", http.StatusBadGateway)
		return
	}

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Market data refreshed successfully", Data: a.Roster.Coins()})
}

func (a *API) searchCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		http.Error(w, "Missing required parameter: query", http.StatusBadRequest)
		return
	}

	coins, err := a.Market.SearchCoins(r.Context(), query)
	if err != nil {
		logger.Log.Error("Failed to search coins",
			zap.String("query", query),
			zap.Error(err),
		)
		http.Error(w, "Failed to search coins", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Coins retrieved successfully", Data: coins})
}

func (a *API) browseCoinsPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	coins, err := a.Market.GetCoinsAtPage(r.Context(), page)
	if err != nil {
		logger.Log.Error("Failed to fetch coins page",
			zap.Int("page", page),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch coins", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Coins retrieved successfully", Data: coins})
}

// getChartData serves a coin's price history for one timeframe, filled
// from the chart cache.
func (a *API) getChartData(w http.ResponseWriter, r *http.Request, coinID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	coin, ok := a.Roster.CoinByID(coinID)
	if !ok {
		http.Error(w, "Coin not found", http.StatusNotFound)
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = models.TimeframeOneHour
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "usd"
	}

	points, err := a.Charts.Get(r.Context(), coin.Symbol, currency, timeframe)
	if err != nil {
		logger.Log.Error("Failed to fetch chart data",
			zap.String("coin_id", coinID),
			zap.String("timeframe", timeframe),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch chart data", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Chart data retrieved successfully", Data: points})
}

// setPriceAlert registers or deletes the coin's target-price alert. A null
// target price requests deletion.
func (a *API) setPriceAlert(w http.ResponseWriter, r *http.Request, coinID string) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "setPriceAlert")
	defer span.End()

	coin, ok := a.Roster.CoinByID(coinID)
	if !ok {
		http.Error(w, "Coin not found", http.StatusNotFound)
		return
	}

	var req setAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, alertErr := a.Reconciler.SetAlert(ctx, coin, req.TargetPrice)
	if err := a.Roster.SaveCoin(ctx, updated); err != nil {
		logger.Log.Error("Failed to persist coin alert state",
			zap.String("coin_id", coinID),
			zap.Error(err),
		)
		http.Error(w, "Failed to save coin", http.StatusInternalServerError)
		return
	}
	if alertErr != nil {
		logger.Log.Error("Alert registration failed",
			zap.String("coin_id", coinID),
			zap.Error(alertErr),
		)
		http.Error(w, "Failed to update price alert", http.StatusBadGateway)
		return
	}

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Price alert updated successfully", Data: updated})
}
