package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Quote feeds populated by the external scrapers.
const (
	FeedStocks = "stocks"
	FeedCrypto = "cryptocurrency"
)

// Quote is the current price of a traded symbol. The rows are written
// by the external market-data feeds; this service only reads them.
type Quote struct {
	gorm.Model
	Symbol string          `gorm:"uniqueIndex;not null"`
	Feed   string          `gorm:"not null"`
	Price  decimal.Decimal `gorm:"type:decimal(20,8);not null"`
}
