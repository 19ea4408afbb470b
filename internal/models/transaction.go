package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction kinds recorded in the audit trail.
const (
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindBuy      = "buy"
	KindSell     = "sell"
)

// Transaction is an append-only audit record of one balance- or
// holding-affecting operation. Rows are never updated or deleted.
// Symbol is empty for pure cash operations. CreatedAt from gorm.Model
// is the operation timestamp.
type Transaction struct {
	gorm.Model
	Username string          `gorm:"index;not null"`
	Kind     string          `gorm:"not null"`
	Amount   decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Symbol   string
}
