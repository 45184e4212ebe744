package models

import (
	"time"
)

// Coin is a tracked cryptocurrency. Identity is the exchange-assigned id;
// market fields are overwritten wholesale on every successful refresh while
// id, flags and the alert list survive refreshes.
type Coin struct {
	ID        string `json:"id" db:"id"`
	Symbol    string `json:"symbol" db:"symbol"`
	Name      string `json:"name" db:"name"`
	ImageURL  string `json:"image,omitempty" db:"image_url"`
	ImageData []byte `json:"-" db:"image_data"`

	MarketCapRank     *int64   `json:"market_cap_rank,omitempty" db:"market_cap_rank"`
	CurrentPrice      *float64 `json:"current_price,omitempty" db:"current_price"`
	MarketCap         *float64 `json:"market_cap,omitempty" db:"market_cap"`
	TotalVolume       *float64 `json:"total_volume,omitempty" db:"total_volume"`
	PriceChange24H    *float64 `json:"price_change_percentage_24h,omitempty" db:"price_change_24h"`
	CirculatingSupply *float64 `json:"circulating_supply,omitempty" db:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply,omitempty" db:"total_supply"`
	MaxSupply         *float64 `json:"max_supply,omitempty" db:"max_supply"`
	ATH               *float64 `json:"ath,omitempty" db:"ath"`
	ATL               *float64 `json:"atl,omitempty" db:"atl"`

	IsArchived bool `json:"is_archived" db:"is_archived"`
	IsPinned   bool `json:"is_pinned" db:"is_pinned"`

	// Alert state for the coin itself plus the alerts synced from the
	// remote registry (the registry owns alert lifecycle).
	TargetPrice *float64     `json:"target_price,omitempty" db:"target_price"`
	IsActive    bool         `json:"is_active" db:"is_active"`
	PriceAlerts []PriceAlert `json:"price_alerts,omitempty"`
}

// ApplyMarketData overwrites the coin's live market fields from a snapshot.
func (c *Coin) ApplyMarketData(m MarketSnapshot) {
	c.CurrentPrice = m.CurrentPrice
	c.MarketCap = m.MarketCap
	c.TotalVolume = m.TotalVolume
	c.PriceChange24H = m.PriceChange24H
}

// Alert trigger directions.
const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)

// MarketSnapshot is the per-coin slice of a market data refresh.
type MarketSnapshot struct {
	CurrentPrice   *float64 `json:"current_price,omitempty"`
	MarketCap      *float64 `json:"market_cap,omitempty"`
	TotalVolume    *float64 `json:"total_volume,omitempty"`
	PriceChange24H *float64 `json:"price_change_percentage_24h,omitempty"`
}

// PriceAlert mirrors one alert record owned by the remote registry. The
// registry encodes the coin id inside the alert id.
type PriceAlert struct {
	ID              string    `json:"id"`
	TargetPrice     float64   `json:"target_price"`
	TargetDirection string    `json:"target_direction"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// ShouldTrigger reports whether an observed price crosses the alert target.
func (a PriceAlert) ShouldTrigger(price float64) bool {
	if !a.IsActive {
		return false
	}
	switch a.TargetDirection {
	case DirectionAbove:
		return price >= a.TargetPrice
	case DirectionBelow:
		return price <= a.TargetPrice
	default:
		return false
	}
}

// TransactionType classifies a ledger entry. Transfers represent custody
// moves and never contribute to cost basis.
type TransactionType string

const (
	TransactionBuy         TransactionType = "buy"
	TransactionSell        TransactionType = "sell"
	TransactionTransferIn  TransactionType = "transfer_in"
	TransactionTransferOut TransactionType = "transfer_out"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionSell, TransactionTransferIn, TransactionTransferOut:
		return true
	}
	return false
}

// Transaction is one ledger entry inside a portfolio. The referenced coin
// is shared, not owned: many transactions across many portfolios may point
// at the same coin id.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	PortfolioID  string          `json:"portfolio_id" db:"portfolio_id"`
	CoinID       string          `json:"coin_id" db:"coin_id"`
	Quantity     *float64        `json:"quantity,omitempty" db:"quantity"`
	PricePerCoin *float64        `json:"price_per_coin,omitempty" db:"price_per_coin"`
	Date         time.Time       `json:"date" db:"date"`
	Type         TransactionType `json:"type" db:"type"`
}

// TotalCost is quantity × pricePerCoin for buys and sells with both
// operands present, zero otherwise.
func (tx Transaction) TotalCost() float64 {
	if tx.Quantity == nil || tx.PricePerCoin == nil {
		return 0
	}
	if tx.Type != TransactionBuy && tx.Type != TransactionSell {
		return 0
	}
	return *tx.Quantity * *tx.PricePerCoin
}

// CurrentValue is quantity × the coin's current price when both are
// present, zero otherwise.
func (tx Transaction) CurrentValue(currentPrice *float64) float64 {
	if tx.Quantity == nil || currentPrice == nil {
		return 0
	}
	return *tx.Quantity * *currentPrice
}

// Portfolio owns an ordered collection of transactions. Insertion order is
// chronological entry order, not necessarily date order.
type Portfolio struct {
	ID           string        `json:"id" db:"id"`
	Name         string        `json:"name" db:"name"`
	Transactions []Transaction `json:"transactions,omitempty"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// ChartPoint is one sample of a coin's price history.
type ChartPoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// Chart timeframes served by the market data source.
const (
	TimeframeOneHour  = "1h"
	TimeframeOneDay   = "1d"
	TimeframeOneWeek  = "1w"
	TimeframeOneMonth = "1m"
	TimeframeOneYear  = "1y"
)

// Timeframes lists all chart timeframes in display order.
var Timeframes = []string{
	TimeframeOneHour,
	TimeframeOneDay,
	TimeframeOneWeek,
	TimeframeOneMonth,
	TimeframeOneYear,
}

// GlobalCryptoMarketData carries market-cap dominance shares keyed by
// lowercase symbol (btc, eth, ...).
type GlobalCryptoMarketData struct {
	MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
}

// GlobalMarketData carries macro indicators published by the backend.
type GlobalMarketData struct {
	CPIPercentage          float64   `json:"cpi_percentage"`
	NextCPIDate            time.Time `json:"next_cpi_date"`
	InterestRatePercentage float64   `json:"interest_rate_percentage"`
	NextFOMCMeetingDate    time.Time `json:"next_fomc_meeting_date"`
}

// PriceUpdate is the normalized feed message published to Kafka by the
// ingestion process and consumed by the alert worker.
type PriceUpdate struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}
