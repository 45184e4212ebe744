package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wenmoon/internal/cache"
	"wenmoon/internal/logger"
	"wenmoon/internal/roster"

	"go.uber.org/zap"
)

// AlertTriggeredMessage is the push payload for a reached price target.
type AlertTriggeredMessage struct {
	AlertID     string  `json:"alert_id"`
	CoinID      string  `json:"coin_id"`
	Symbol      string  `json:"symbol"`
	TargetPrice float64 `json:"target_price"`
	Direction   string  `json:"direction"` // "above" or "below"
	Price       float64 `json:"price"`
	Timestamp   string  `json:"timestamp"`
}

// SSE Clients
var (
	clients = make(map[chan AlertTriggeredMessage]bool)
	mu      sync.Mutex
)

// AlertsChannel is the Redis channel carrying triggered-alert pushes.
const AlertsChannel = "price_alerts"

var alertSubscriber *cache.RedisSubscriber

// InitSSE subscribes to the push channel and starts the fan-out loop.
// Each incoming push also deactivates the triggered alert on the roster:
// the registry already consumed it server-side.
func InitSSE(r *roster.Roster) {
	var err error
	alertSubscriber, err = cache.NewRedisSubscriber(context.Background(), AlertsChannel)
	if err != nil {
		logger.Log.Error("Failed to create Redis subscriber", zap.Error(err))
		return
	}

	go listenForAlerts(r)
}

// listenForAlerts continuously listens for pushes from Redis and fans them
// out to connected clients.
func listenForAlerts(r *roster.Roster) {
	logger.Log.Info("Starting to listen for triggered alerts from Redis")

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		msg, err := alertSubscriber.ReceiveMessage(ctx)
		cancel()

		if err != nil {
			logger.Log.Error("Error receiving message from Redis", zap.Error(err))
			time.Sleep(1 * time.Second) // Wait before retry
			continue
		}

		var alert AlertTriggeredMessage
		if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
			logger.Log.Error("Error unmarshaling alert message", zap.Error(err))
			continue
		}

		logger.Log.Info("Received triggered alert from Redis",
			zap.String("alert_id", alert.AlertID),
			zap.String("symbol", alert.Symbol),
			zap.String("direction", alert.Direction))

		if r != nil && alert.AlertID != "" {
			r.DeactivateAlert(alert.AlertID)
		}

		broadcastToClients(alert)
	}
}

// StreamAlertsHandler handles SSE connections
func (a *API) StreamAlertsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientChan := make(chan AlertTriggeredMessage, 10)

	mu.Lock()
	clients[clientChan] = true
	clientCount := len(clients)
	mu.Unlock()

	logger.Log.Info("New SSE client connected", zap.Int("total_clients", clientCount))

	// The channel is never closed: the heartbeat goroutine may still be
	// sending when the client drops, and the buffered channel is collected
	// once both goroutines return.
	defer func() {
		mu.Lock()
		delete(clients, clientChan)
		clientCount := len(clients)
		mu.Unlock()
		logger.Log.Info("SSE client disconnected", zap.Int("total_clients", clientCount))
	}()

	// Send heartbeats to keep connection alive
	go func() {
		heartbeatTicker := time.NewTicker(15 * time.Second)
		defer heartbeatTicker.Stop()

		for {
			select {
			case <-heartbeatTicker.C:
				select {
				case clientChan <- AlertTriggeredMessage{Timestamp: time.Now().Format(time.RFC3339)}:
					// Heartbeat sent successfully
				default:
					// Channel is blocked or closed, exit goroutine
					return
				}
			case <-r.Context().Done():
				// Request context done, exit goroutine
				return
			}
		}
	}()

	// Stream events until the client disconnects
	for {
		select {
		case alert := <-clientChan:
			alertData, err := json.Marshal(alert)
			if err != nil {
				logger.Log.Error("Failed to marshal alert data", zap.Error(err))
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", alertData)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// broadcastToClients sends the push to all connected SSE clients
func broadcastToClients(alert AlertTriggeredMessage) {
	mu.Lock()
	defer mu.Unlock()

	if len(clients) == 0 {
		return
	}

	logger.Log.Info("Broadcasting alert to clients",
		zap.Int("client_count", len(clients)),
		zap.String("symbol", alert.Symbol))

	for clientChan := range clients {
		select {
		case clientChan <- alert:
			// Alert sent successfully
		default:
			logger.Log.Warn("Alert dropped due to slow client")
		}
	}
}

// BroadcastAlert publishes a triggered alert to Redis for distribution
func BroadcastAlert(alert AlertTriggeredMessage) {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		logger.Log.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if err := cache.PublishMessage(context.Background(), AlertsChannel, string(alertJSON)); err != nil {
		logger.Log.Error("Failed to publish alert to Redis", zap.Error(err))
		return
	}

	logger.Log.Info("Alert published to Redis",
		zap.String("alert_id", alert.AlertID),
		zap.String("symbol", alert.Symbol))
}
