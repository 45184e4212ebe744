package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"wenmoon/internal/cache"
	"wenmoon/internal/database"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"
	"wenmoon/internal/portfolio"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const portfoliosCachePrefix = "browse_portfolios_"

type createPortfolioRequest struct {
	Name string `json:"name"`
}

type transactionRequest struct {
	CoinID       string    `json:"coin_id"`
	Quantity     *float64  `json:"quantity,omitempty"`
	PricePerCoin *float64  `json:"price_per_coin,omitempty"`
	Date         time.Time `json:"date,omitempty"`
	Type         string    `json:"type"`
}

// portfolioView decorates a portfolio with its derived valuation figures.
type portfolioView struct {
	models.Portfolio
	TotalValue float64 `json:"total_value"`
	CostBasis  float64 `json:"cost_basis"`
}

// PortfoliosHandler routes all portfolio and transaction operations.
func (a *API) PortfoliosHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path)

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.browsePortfolios(w, r)
		case http.MethodPost:
			a.createPortfolio(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	portfolioID := parts[1]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			a.getPortfolio(w, r, portfolioID)
		case http.MethodDelete:
			a.deletePortfolio(w, r, portfolioID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if parts[2] == "transactions" {
		if len(parts) == 3 && r.Method == http.MethodPost {
			a.addTransaction(w, r, portfolioID)
			return
		}
		if len(parts) == 4 {
			switch r.Method {
			case http.MethodPut, http.MethodPatch:
				a.updateTransaction(w, r, portfolioID, parts[3])
				return
			case http.MethodDelete:
				a.deleteTransaction(w, r, parts[3])
				return
			}
		}
	}

	http.NotFound(w, r)
}

func (a *API) browsePortfolios(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "browsePortfolios")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	cacheKey := generateCacheKey(r, portfoliosCachePrefix)

	cached, err := cache.GetCache(ctx, cacheKey, "/portfolios", a.Instance)
	if err == nil && cached != "" {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	portfolios, err := a.Portfolios.List(ctx)
	if err != nil {
		logger.Log.Error("Failed to fetch portfolios",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch portfolios", http.StatusInternalServerError)
		return
	}

	views := make([]portfolioView, len(portfolios))
	for i, p := range portfolios {
		views[i] = a.valuate(p)
	}

	response := Response{Message: "Portfolios retrieved successfully", Data: views}
	respBytes, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		return
	}

	if cacheErr := cache.SetCache(ctx, cacheKey, string(respBytes), 30*time.Second, "/portfolios", a.Instance); cacheErr != nil {
		logger.Log.Warn("Failed to store response in cache",
			zap.String("trace_id", traceID),
			zap.String("cache_key", cacheKey),
			zap.Error(cacheErr),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}

func (a *API) createPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Missing required field: name", http.StatusBadRequest)
		return
	}

	p, err := a.Portfolios.Create(ctx, req.Name)
	if err != nil {
		logger.Log.Error("Failed to create portfolio", zap.Error(err))
		http.Error(w, "Failed to create portfolio", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, portfoliosCachePrefix, "/portfolios", a.Instance)
	writeJSON(w, http.StatusCreated, Response{Message: "Portfolio created successfully", Data: p})
}

func (a *API) getPortfolio(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.Portfolios.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Portfolio not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to fetch portfolio",
			zap.String("portfolio_id", id),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Portfolio retrieved successfully", Data: a.valuate(*p)})
}

func (a *API) deletePortfolio(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if err := a.Portfolios.Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Portfolio not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to delete portfolio",
			zap.String("portfolio_id", id),
			zap.Error(err),
		)
		http.Error(w, "Failed to delete portfolio", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, portfoliosCachePrefix, "/portfolios", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Portfolio deleted successfully"})
}

func (a *API) addTransaction(w http.ResponseWriter, r *http.Request, portfolioID string) {
	ctx := r.Context()

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CoinID == "" {
		http.Error(w, "Missing required field: coin_id", http.StatusBadRequest)
		return
	}

	tx := models.Transaction{
		CoinID:       req.CoinID,
		Quantity:     req.Quantity,
		PricePerCoin: req.PricePerCoin,
		Date:         req.Date,
		Type:         models.TransactionType(req.Type),
	}

	created, err := a.Portfolios.AddTransaction(ctx, portfolioID, tx)
	if err != nil {
		if errors.Is(err, portfolio.ErrUnknownType) {
			http.Error(w, "Invalid transaction type", http.StatusBadRequest)
			return
		}
		logger.Log.Error("Failed to add transaction",
			zap.String("portfolio_id", portfolioID),
			zap.Error(err),
		)
		http.Error(w, "Failed to add transaction", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, portfoliosCachePrefix, "/portfolios", a.Instance)
	writeJSON(w, http.StatusCreated, Response{Message: "Transaction added successfully", Data: created})
}

func (a *API) updateTransaction(w http.ResponseWriter, r *http.Request, portfolioID, txID string) {
	ctx := r.Context()

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tx := models.Transaction{
		ID:           txID,
		PortfolioID:  portfolioID,
		CoinID:       req.CoinID,
		Quantity:     req.Quantity,
		PricePerCoin: req.PricePerCoin,
		Date:         req.Date,
		Type:         models.TransactionType(req.Type),
	}

	if err := a.Portfolios.UpdateTransaction(ctx, tx); err != nil {
		if errors.Is(err, portfolio.ErrUnknownType) {
			http.Error(w, "Invalid transaction type", http.StatusBadRequest)
			return
		}
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to update transaction",
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		http.Error(w, "Failed to update transaction", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, portfoliosCachePrefix, "/portfolios", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Transaction updated successfully", Data: tx})
}

func (a *API) deleteTransaction(w http.ResponseWriter, r *http.Request, txID string) {
	ctx := r.Context()

	if err := a.Portfolios.DeleteTransaction(ctx, txID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to delete transaction",
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		http.Error(w, "Failed to delete transaction", http.StatusInternalServerError)
		return
	}

	cache.InvalidateByPrefix(ctx, portfoliosCachePrefix, "/portfolios", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Transaction deleted successfully"})
}

// valuate computes the portfolio's aggregate figures from the roster's
// current prices.
func (a *API) valuate(p models.Portfolio) portfolioView {
	prices := func(coinID string) *float64 {
		if coin, ok := a.Roster.CoinByID(coinID); ok {
			return coin.CurrentPrice
		}
		return nil
	}
	return portfolioView{
		Portfolio:  p,
		TotalValue: portfolio.Value(p, prices),
		CostBasis:  portfolio.CostBasis(p),
	}
}
