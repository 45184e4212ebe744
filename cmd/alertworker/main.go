package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"wenmoon/internal/cache"
	"wenmoon/internal/config"
	"wenmoon/internal/database"
	"wenmoon/internal/handlers"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Cooldown duration before re-announcing the same coin's alert
const cooldown = 30 * time.Second

// Map to track last triggered alerts (coin id -> last notified timestamp)
var lastAlertTime = make(map[string]time.Time)

func main() {
	cfg := config.Load()
	logger.InitLogger()

	// Initialize Redis for the push channel
	cache.InitRedis(cfg.RedisAddr)

	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("❌ Database connection failed:", err)
	}
	defer store.Close()

	// Create Kafka consumer
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBroker,
		"group.id":          "alert-worker-group",
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		log.Fatal("❌ Failed to create Kafka consumer:", err)
	}
	defer consumer.Close()

	// Subscribe to price updates
	if err := consumer.Subscribe("price.updates", nil); err != nil {
		log.Fatal("❌ Failed to subscribe to Kafka topic:", err)
	}

	logger.Log.Info("Listening for price updates")

	// Consume messages
	for {
		msg, err := consumer.ReadMessage(-1)
		if err != nil {
			logger.Log.Warn("Kafka consumer error", zap.Error(err))
			continue
		}

		// Parse price update message
		var update models.PriceUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			logger.Log.Warn("Error parsing price update", zap.Error(err))
			continue
		}

		// Check if the price reaches any registered target
		processPriceUpdate(store, update)
	}
}

func processPriceUpdate(store *database.Store, update models.PriceUpdate) {
	ctx := context.Background()
	coins, err := store.CoinsWithActiveAlerts(ctx)
	if err != nil {
		logger.Log.Error("Failed to fetch coins with active alerts", zap.Error(err))
		return
	}

	symbol := normalizeSymbol(update.Symbol)

	for _, coin := range coins {
		if !strings.EqualFold(coin.Symbol, symbol) || coin.TargetPrice == nil {
			continue
		}

		// Enforce cooldown: don't announce the same coin's alert too often
		if lastTime, exists := lastAlertTime[coin.ID]; exists {
			if time.Since(lastTime) < cooldown {
				continue
			}
		}

		alert := models.PriceAlert{
			ID:              coin.ID + "-target",
			TargetPrice:     *coin.TargetPrice,
			TargetDirection: targetDirection(coin),
			IsActive:        coin.IsActive,
		}
		if !alert.ShouldTrigger(update.Price) {
			continue
		}

		lastAlertTime[coin.ID] = time.Now()

		// Publish the push to Redis; the API's SSE layer picks it up and
		// deactivates the local alert
		handlers.BroadcastAlert(handlers.AlertTriggeredMessage{
			AlertID:     alert.ID,
			CoinID:      coin.ID,
			Symbol:      coin.Symbol,
			TargetPrice: alert.TargetPrice,
			Direction:   alert.TargetDirection,
			Price:       update.Price,
			Timestamp:   time.Now().Format(time.RFC3339),
		})

		// Disarm the stored alert so it does not fire again
		coin.TargetPrice = nil
		coin.IsActive = false
		if err := store.UpdateCoin(ctx, coin); err != nil {
			logger.Log.Error("Failed to disarm triggered alert",
				zap.String("coin_id", coin.ID),
				zap.Error(err),
			)
		}
	}
}

// targetDirection infers the crossing direction from the last known price:
// a target above it fires on the way up, below it on the way down.
func targetDirection(coin models.Coin) string {
	if coin.CurrentPrice != nil && *coin.TargetPrice < *coin.CurrentPrice {
		return models.DirectionBelow
	}
	return models.DirectionAbove
}

// normalizeSymbol maps a feed product id like "BTC-USD" to the coin
// symbol "btc".
func normalizeSymbol(productID string) string {
	base, _, found := strings.Cut(productID, "-")
	if !found {
		base = productID
	}
	return strings.ToLower(base)
}
