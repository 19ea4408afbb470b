package quotes

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"brokerd/internal/models"
)

// ErrSymbolNotFound indicates that no quote exists for the requested symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// Provider supplies the current price per traded symbol. The ledger treats
// it as a read-only lookup; it never writes prices.
type Provider interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Store reads prices from the quotes table that the external market-data
// feeds populate. It is the default provider.
type Store struct {
	db *gorm.DB
}

// ensure Store implements the interface
var _ Provider = (*Store)(nil)

// NewStore creates a database-backed quote provider.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Price returns the stored price for symbol, or ErrSymbolNotFound when the
// feeds have no row for it.
func (s *Store) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var quote models.Quote
	err := s.db.WithContext(ctx).First(&quote, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Decimal{}, ErrSymbolNotFound
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to look up quote for %s: %w", symbol, err)
	}
	return quote.Price, nil
}
