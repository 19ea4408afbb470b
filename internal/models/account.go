package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account represents a registered user and their cash balance.
// The generated ID doubles as the client ID reported on login.
// Credential holds a bcrypt hash, never the raw secret.
type Account struct {
	gorm.Model
	Username   string          `gorm:"uniqueIndex;not null"`
	Credential string          `gorm:"not null"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,8);not null"`
}
