package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holding represents the quantity of a traded symbol owned by an account.
// At most one live row exists per (username, symbol); the row is deleted
// when the quantity reaches zero. Quantity is always positive while the
// row exists. Cost is the cumulative purchase cost of the position.
type Holding struct {
	gorm.Model
	Username string          `gorm:"uniqueIndex:idx_username_symbol;not null"`
	Symbol   string          `gorm:"uniqueIndex:idx_username_symbol;not null"`
	Quantity int64           `gorm:"not null"`
	Cost     decimal.Decimal `gorm:"type:decimal(20,8);not null"`
}
