package main

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"wenmoon/internal/config"
	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Kafka topic carrying normalized price updates
const priceUpdatesTopic = "price.updates"

// Exchange WebSocket message format
type SubscriptionMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// Trade message structure from the exchange feed
type TradeMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Time      string `json:"time"`
}

// Kafka producer
func newKafkaProducer(broker string) *kafka.Producer {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": broker})
	if err != nil {
		log.Fatal("Failed to create Kafka producer:", err)
	}
	return p
}

// Publish message to Kafka
func publishToKafka(producer *kafka.Producer, update models.PriceUpdate) {
	value, err := json.Marshal(update)
	if err != nil {
		logger.Log.Error("Error marshaling price update", zap.Error(err))
		return
	}

	topic := priceUpdatesTopic
	err = producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
	}, nil)

	if err != nil {
		logger.Log.Error("Error producing Kafka message", zap.Error(err))
	}
}

// Connect to the exchange WebSocket with exponential backoff
func connectWebSocket(feedURL string) *websocket.Conn {
	var backoff = 1 * time.Second

	for {
		logger.Log.Info("Connecting to exchange WebSocket", zap.String("url", feedURL))
		c, _, err := websocket.DefaultDialer.Dial(feedURL, nil)
		if err != nil {
			logger.Log.Warn("WebSocket connection failed, retrying",
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		logger.Log.Info("Connected to exchange WebSocket")
		return c
	}
}

func main() {
	cfg := config.Load()
	logger.InitLogger()

	producer := newKafkaProducer(cfg.KafkaBroker)
	defer producer.Close()

	for {
		c := connectWebSocket(cfg.ExchangeFeedURL)

		// Subscribe to trades for the configured products
		subscribe := SubscriptionMessage{
			Type:       "subscribe",
			ProductIDs: cfg.FeedProducts,
			Channels:   []string{"matches"},
		}
		if err := c.WriteJSON(subscribe); err != nil {
			logger.Log.Error("Subscription failed", zap.Error(err))
			c.Close()
			continue
		}

		logger.Log.Info("Subscribed to trade feed", zap.Strings("products", cfg.FeedProducts))

		// Read messages from WebSocket
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Error("WebSocket error", zap.Error(err))
				break
			}

			var trade TradeMessage
			if err := json.Unmarshal(message, &trade); err != nil {
				logger.Log.Warn("Error parsing message", zap.Error(err))
				continue
			}

			// Process only "match" messages (completed trades)
			if trade.Type == "match" {
				price, err := strconv.ParseFloat(trade.Price, 64)
				if err != nil {
					logger.Log.Warn("Error parsing trade price",
						zap.String("price", trade.Price),
						zap.Error(err),
					)
					continue
				}

				update := models.PriceUpdate{
					Exchange:  "coinbase",
					Symbol:    trade.ProductID,
					Price:     price,
					Timestamp: trade.Time,
				}

				// Publish trade data to Kafka
				publishToKafka(producer, update)
			}
		}

		c.Close()
	}
}
