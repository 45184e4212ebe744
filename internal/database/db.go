package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a fetch targets a record that does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable home of coins, portfolios and transactions.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Set connection pool parameters
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	logger.Log.Info("Database connection established")
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS coins (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			image_data BYTEA,
			market_cap_rank BIGINT,
			current_price DOUBLE PRECISION,
			market_cap DOUBLE PRECISION,
			total_volume DOUBLE PRECISION,
			price_change_24h DOUBLE PRECISION,
			circulating_supply DOUBLE PRECISION,
			total_supply DOUBLE PRECISION,
			max_supply DOUBLE PRECISION,
			ath DOUBLE PRECISION,
			atl DOUBLE PRECISION,
			is_archived BOOLEAN NOT NULL DEFAULT FALSE,
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			target_price DOUBLE PRECISION,
			is_active BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS portfolios (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
			coin_id TEXT NOT NULL REFERENCES coins(id),
			quantity DOUBLE PRECISION,
			price_per_coin DOUBLE PRECISION,
			date TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			seq BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_coin_id ON transactions(coin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_portfolio_id ON transactions(portfolio_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			logger.Log.Error("Failed to run migration statement", zap.Error(err))
			return err
		}
	}
	return nil
}

const coinColumns = `id, symbol, name, image_url, image_data, market_cap_rank,
	current_price, market_cap, total_volume, price_change_24h,
	circulating_supply, total_supply, max_supply, ath, atl,
	is_archived, is_pinned, target_price, is_active`

// ActiveCoins returns all non-archived coins ordered by market cap rank
// ascending, unranked coins last.
func (s *Store) ActiveCoins(ctx context.Context) ([]models.Coin, error) {
	query := `
		SELECT ` + coinColumns + `
		FROM coins
		WHERE NOT is_archived
		ORDER BY market_cap_rank ASC NULLS LAST, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		logger.Log.Error("Failed to query active coins", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanCoins(rows)
}

// CoinByID retrieves one coin regardless of its archived state.
func (s *Store) CoinByID(ctx context.Context, id string) (*models.Coin, error) {
	query := `SELECT ` + coinColumns + ` FROM coins WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	coin, err := scanCoin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.Error("Failed to retrieve coin",
			zap.String("coin_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return coin, nil
}

// InsertCoin stores a new coin record.
func (s *Store) InsertCoin(ctx context.Context, coin models.Coin) error {
	query := `
		INSERT INTO coins (` + coinColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := s.db.ExecContext(ctx, query, coinArgs(coin)...)
	if err != nil {
		logger.Log.Error("Failed to insert coin",
			zap.String("coin_id", coin.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// UpdateCoin overwrites an existing coin record.
func (s *Store) UpdateCoin(ctx context.Context, coin models.Coin) error {
	query := `
		UPDATE coins
		SET symbol = $2, name = $3, image_url = $4, image_data = $5,
			market_cap_rank = $6, current_price = $7, market_cap = $8,
			total_volume = $9, price_change_24h = $10, circulating_supply = $11,
			total_supply = $12, max_supply = $13, ath = $14, atl = $15,
			is_archived = $16, is_pinned = $17, target_price = $18, is_active = $19
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, coinArgs(coin)...)
	if err != nil {
		logger.Log.Error("Failed to update coin",
			zap.String("coin_id", coin.ID),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCoin physically removes a coin record. Callers must check the
// transaction reference count first; a referenced coin is archived instead.
func (s *Store) DeleteCoin(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM coins WHERE id = $1`, id)
	if err != nil {
		logger.Log.Error("Failed to delete coin",
			zap.String("coin_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CoinReferenceCount counts the transactions across all portfolios that
// reference a coin. This replaces a full scan of every portfolio with one
// indexed lookup.
func (s *Store) CoinReferenceCount(ctx context.Context, coinID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE coin_id = $1`, coinID,
	).Scan(&count)
	if err != nil {
		logger.Log.Error("Failed to count coin references",
			zap.String("coin_id", coinID),
			zap.Error(err),
		)
		return 0, err
	}
	return count, nil
}

// CoinsWithActiveAlerts returns every coin with an armed price alert,
// archived ones included.
func (s *Store) CoinsWithActiveAlerts(ctx context.Context) ([]models.Coin, error) {
	query := `SELECT ` + coinColumns + ` FROM coins WHERE is_active AND target_price IS NOT NULL`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		logger.Log.Error("Failed to query coins with active alerts", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanCoins(rows)
}

// InsertPortfolio stores a new portfolio.
func (s *Store) InsertPortfolio(ctx context.Context, p models.Portfolio) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portfolios (id, name, created_at) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.CreatedAt,
	)
	if err != nil {
		logger.Log.Error("Failed to insert portfolio",
			zap.String("portfolio_id", p.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Portfolios returns all portfolios with their transactions in entry order.
func (s *Store) Portfolios(ctx context.Context) ([]models.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM portfolios ORDER BY created_at ASC`,
	)
	if err != nil {
		logger.Log.Error("Failed to query portfolios", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var portfolios []models.Portfolio
	for rows.Next() {
		var p models.Portfolio
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range portfolios {
		txs, err := s.TransactionsByPortfolio(ctx, portfolios[i].ID)
		if err != nil {
			return nil, err
		}
		portfolios[i].Transactions = txs
	}
	return portfolios, nil
}

// PortfolioByID retrieves one portfolio with its transactions.
func (s *Store) PortfolioByID(ctx context.Context, id string) (*models.Portfolio, error) {
	var p models.Portfolio
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM portfolios WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.Error("Failed to retrieve portfolio",
			zap.String("portfolio_id", id),
			zap.Error(err),
		)
		return nil, err
	}

	txs, err := s.TransactionsByPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Transactions = txs
	return &p, nil
}

// DeletePortfolio removes a portfolio; the schema cascades the delete to
// its transactions. Coins referenced by those transactions are untouched.
func (s *Store) DeletePortfolio(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		logger.Log.Error("Failed to delete portfolio",
			zap.String("portfolio_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTransaction appends a ledger entry to a portfolio.
func (s *Store) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	query := `
		INSERT INTO transactions (id, portfolio_id, coin_id, quantity, price_per_coin, date, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.PortfolioID, tx.CoinID,
		nullFloat(tx.Quantity), nullFloat(tx.PricePerCoin),
		tx.Date, string(tx.Type),
	)
	if err != nil {
		logger.Log.Error("Failed to insert transaction",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// UpdateTransaction overwrites an existing ledger entry.
func (s *Store) UpdateTransaction(ctx context.Context, tx models.Transaction) error {
	query := `
		UPDATE transactions
		SET coin_id = $2, quantity = $3, price_per_coin = $4, date = $5, type = $6
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.CoinID,
		nullFloat(tx.Quantity), nullFloat(tx.PricePerCoin),
		tx.Date, string(tx.Type),
	)
	if err != nil {
		logger.Log.Error("Failed to update transaction",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTransaction removes one ledger entry.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		logger.Log.Error("Failed to delete transaction",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransactionsByPortfolio returns a portfolio's ledger in entry order.
func (s *Store) TransactionsByPortfolio(ctx context.Context, portfolioID string) ([]models.Transaction, error) {
	query := `
		SELECT id, portfolio_id, coin_id, quantity, price_per_coin, date, type
		FROM transactions
		WHERE portfolio_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		logger.Log.Error("Failed to query transactions",
			zap.String("portfolio_id", portfolioID),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var quantity, pricePerCoin sql.NullFloat64
		var txType string

		err := rows.Scan(&tx.ID, &tx.PortfolioID, &tx.CoinID, &quantity, &pricePerCoin, &tx.Date, &txType)
		if err != nil {
			return nil, err
		}

		tx.Quantity = floatPtr(quantity)
		tx.PricePerCoin = floatPtr(pricePerCoin)
		tx.Type = models.TransactionType(txType)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoin(row rowScanner) (*models.Coin, error) {
	var c models.Coin
	var rank sql.NullInt64
	var price, marketCap, volume, change, circulating, total, max, ath, atl, target sql.NullFloat64

	err := row.Scan(
		&c.ID, &c.Symbol, &c.Name, &c.ImageURL, &c.ImageData,
		&rank, &price, &marketCap, &volume, &change,
		&circulating, &total, &max, &ath, &atl,
		&c.IsArchived, &c.IsPinned, &target, &c.IsActive,
	)
	if err != nil {
		return nil, err
	}

	if rank.Valid {
		val := rank.Int64
		c.MarketCapRank = &val
	}
	c.CurrentPrice = floatPtr(price)
	c.MarketCap = floatPtr(marketCap)
	c.TotalVolume = floatPtr(volume)
	c.PriceChange24H = floatPtr(change)
	c.CirculatingSupply = floatPtr(circulating)
	c.TotalSupply = floatPtr(total)
	c.MaxSupply = floatPtr(max)
	c.ATH = floatPtr(ath)
	c.ATL = floatPtr(atl)
	c.TargetPrice = floatPtr(target)
	return &c, nil
}

// Helper function to scan coin rows
func scanCoins(rows *sql.Rows) ([]models.Coin, error) {
	var coins []models.Coin
	for rows.Next() {
		coin, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, *coin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return coins, nil
}

func coinArgs(c models.Coin) []any {
	return []any{
		c.ID, c.Symbol, c.Name, c.ImageURL, c.ImageData,
		nullInt(c.MarketCapRank),
		nullFloat(c.CurrentPrice), nullFloat(c.MarketCap), nullFloat(c.TotalVolume),
		nullFloat(c.PriceChange24H), nullFloat(c.CirculatingSupply),
		nullFloat(c.TotalSupply), nullFloat(c.MaxSupply),
		nullFloat(c.ATH), nullFloat(c.ATL),
		c.IsArchived, c.IsPinned,
		nullFloat(c.TargetPrice), c.IsActive,
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	val := v.Float64
	return &val
}
