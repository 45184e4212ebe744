package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"wenmoon/internal/alerts"
	"wenmoon/internal/logger"
	"wenmoon/internal/marketcache"
	"wenmoon/internal/marketdata"
	"wenmoon/internal/portfolio"
	"wenmoon/internal/roster"

	"go.uber.org/zap"
)

const tracerName = "wenmoon"

type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// API bundles the handler dependencies for one server instance.
type API struct {
	Roster     *roster.Roster
	Portfolios *portfolio.Service
	Reconciler *alerts.Reconciler
	Market     *marketdata.Client
	Charts     *marketcache.ChartCache
	Instance   string
}

// Register mounts all routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/coins", a.CoinsHandler)
	mux.HandleFunc("/coins/", a.CoinsHandler)
	mux.HandleFunc("/portfolios", a.PortfoliosHandler)
	mux.HandleFunc("/portfolios/", a.PortfoliosHandler)
	mux.HandleFunc("/market/global", a.GlobalMarketHandler)
	mux.HandleFunc("/alerts/sync", a.SyncAlertsHandler)
	mux.HandleFunc("/alerts/stream", a.StreamAlertsHandler)
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Log.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func generateCacheKey(r *http.Request, prefix string) string {
	queryParams := r.URL.Query()
	var keys []string
	for k := range queryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var queryString []string
	for _, k := range keys {
		queryString = append(queryString, fmt.Sprintf("%s=%s", k, strings.Join(queryParams[k], ",")))
	}
	joinedParams := strings.Join(queryString, "&")

	hash := sha256.Sum256([]byte(joinedParams))
	return prefix + hex.EncodeToString(hash[:8])
}

// pathParts splits a request path into its non-empty segments.
func pathParts(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
