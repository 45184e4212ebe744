// Package portfolio manages transaction ledgers and computes valuation
// over them. The derived figures are pure functions: the same transactions
// and prices always produce the same numbers.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wenmoon/internal/models"

	"github.com/google/uuid"
)

// ErrUnknownType is returned for a transaction with an unrecognized type.
var ErrUnknownType = errors.New("unknown transaction type")

// Store is the durable side of portfolios and transactions.
type Store interface {
	Portfolios(ctx context.Context) ([]models.Portfolio, error)
	PortfolioByID(ctx context.Context, id string) (*models.Portfolio, error)
	InsertPortfolio(ctx context.Context, p models.Portfolio) error
	DeletePortfolio(ctx context.Context, id string) error

	InsertTransaction(ctx context.Context, tx models.Transaction) error
	UpdateTransaction(ctx context.Context, tx models.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
}

// PriceLookup resolves a coin id to its current price, nil when unknown.
type PriceLookup func(coinID string) *float64

// Service is the ledger CRUD layer over the store.
type Service struct {
	store Store
}

// NewService builds a portfolio service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create stores a new, empty portfolio.
func (s *Service) Create(ctx context.Context, name string) (models.Portfolio, error) {
	p := models.Portfolio{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertPortfolio(ctx, p); err != nil {
		return models.Portfolio{}, err
	}
	return p, nil
}

// List returns every portfolio with its ledger.
func (s *Service) List(ctx context.Context) ([]models.Portfolio, error) {
	return s.store.Portfolios(ctx)
}

// Get returns one portfolio with its ledger.
func (s *Service) Get(ctx context.Context, id string) (*models.Portfolio, error) {
	return s.store.PortfolioByID(ctx, id)
}

// Delete removes a portfolio and, through the store, its transactions.
// Referenced coins are never deleted here.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeletePortfolio(ctx, id)
}

// AddTransaction appends a ledger entry to a portfolio.
func (s *Service) AddTransaction(ctx context.Context, portfolioID string, tx models.Transaction) (models.Transaction, error) {
	if !tx.Type.Valid() {
		return models.Transaction{}, fmt.Errorf("%w: %q", ErrUnknownType, tx.Type)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	tx.PortfolioID = portfolioID

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

// UpdateTransaction overwrites an existing ledger entry.
func (s *Service) UpdateTransaction(ctx context.Context, tx models.Transaction) error {
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, tx.Type)
	}
	return s.store.UpdateTransaction(ctx, tx)
}

// DeleteTransaction removes one ledger entry.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	return s.store.DeleteTransaction(ctx, id)
}

// Value is the sum of every transaction's current value at today's prices.
func Value(p models.Portfolio, prices PriceLookup) float64 {
	var total float64
	for _, tx := range p.Transactions {
		total += tx.CurrentValue(prices(tx.CoinID))
	}
	return total
}

// CostBasis is the sum of total cost over buys and sells. Transfers are
// custody moves, not cost events, and contribute zero.
func CostBasis(p models.Portfolio) float64 {
	var total float64
	for _, tx := range p.Transactions {
		total += tx.TotalCost()
	}
	return total
}
