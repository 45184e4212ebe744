package handlers

import (
	"net/http"

	"wenmoon/internal/cache"
	"wenmoon/internal/logger"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// SyncAlertsHandler replaces every coin's alert list with the remote
// registry's state. Without an authenticated session the sync degrades to
// clearing all local alert lists.
func (a *API) SyncAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "SyncAlertsHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	synced, err := a.Reconciler.Sync(ctx, a.Roster.Coins())
	if err != nil {
		logger.Log.Error("Failed to sync price alerts",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to sync price alerts", http.StatusBadGateway)
		return
	}
	a.Roster.ReplaceAlerts(synced)

	cache.InvalidateByPrefix(ctx, CoinsCachePrefix, "/coins", a.Instance)
	writeJSON(w, http.StatusOK, Response{Message: "Price alerts synced successfully", Data: a.Roster.Coins()})
}
