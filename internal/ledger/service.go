package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"brokerd/internal/models"
	"brokerd/internal/quotes"
)

// Service owns the balance and holding invariants. Every mutating
// operation runs inside one database transaction and under the
// per-account lock, so a failure rolls back all of its writes and
// concurrent operations on the same account never interleave their
// read-check-write steps.
type Service struct {
	db     *gorm.DB
	quotes quotes.Provider
	logger *zap.Logger
	locks  *accountLocks
}

// New creates the ledger service.
func New(db *gorm.DB, provider quotes.Provider, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		quotes: provider,
		logger: logger,
		locks:  newAccountLocks(),
	}
}

// Register creates a new account with a zero balance and returns its
// generated ID. The credential is stored as a bcrypt hash.
func (s *Service) Register(ctx context.Context, username, credential string) (uint, error) {
	if username == "" {
		return 0, ErrInvalidUsername
	}

	// Hash before taking the lock; bcrypt is deliberately slow.
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash credential: %w", err)
	}

	mu := s.locks.acquire(username)
	defer mu.Unlock()

	account := models.Account{
		Username:   username,
		Credential: string(hash),
		Balance:    decimal.Decimal{},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Account
		err := tx.First(&existing, "username = ?", username).Error
		if err == nil {
			return ErrDuplicateUsername
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check username %s: %w", username, err)
		}
		if err := tx.Create(&account).Error; err != nil {
			return fmt.Errorf("failed to create account %s: %w", username, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Account registered", zap.String("username", username), zap.Uint("client_id", account.ID))
	return account.ID, nil
}

// Authenticate verifies the credential and returns the account ID.
func (s *Service) Authenticate(ctx context.Context, username, credential string) (uint, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrAuthFailed
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load account %s: %w", username, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(account.Credential), []byte(credential)) != nil {
		return 0, ErrAuthFailed
	}
	return account.ID, nil
}

// Balance returns the account's current cash balance.
func (s *Service) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Decimal{}, ErrUnknownAccount
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to load account %s: %w", username, err)
	}
	return account.Balance, nil
}

// Deposit credits amount to the account and appends a deposit record.
func (s *Service) Deposit(ctx context.Context, username string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	mu := s.locks.acquire(username)
	defer mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := loadAccount(tx, username)
		if err != nil {
			return err
		}
		if err := setBalance(tx, account, account.Balance.Add(amount)); err != nil {
			return err
		}
		return appendRecord(tx, username, models.KindDeposit, amount, "")
	})
}

// Withdraw debits amount from the account and appends a withdraw record.
// A withdrawal of the exact balance is allowed and leaves it at zero.
func (s *Service) Withdraw(ctx context.Context, username string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	mu := s.locks.acquire(username)
	defer mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := loadAccount(tx, username)
		if err != nil {
			return err
		}
		if amount.GreaterThan(account.Balance) {
			return ErrInsufficientFunds
		}
		if err := setBalance(tx, account, account.Balance.Sub(amount)); err != nil {
			return err
		}
		return appendRecord(tx, username, models.KindWithdraw, amount, "")
	})
}

// Buy debits quantity*price from the balance and adds the quantity to
// the account's holding for symbol, creating the holding row on the
// first purchase. The debit and the holding update commit together.
func (s *Service) Buy(ctx context.Context, username, symbol string, quantity int64, price decimal.Decimal) error {
	if quantity <= 0 || !price.IsPositive() {
		return ErrInvalidAmount
	}
	total := price.Mul(decimal.NewFromInt(quantity))

	mu := s.locks.acquire(username)
	defer mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := loadAccount(tx, username)
		if err != nil {
			return err
		}
		if total.GreaterThan(account.Balance) {
			return ErrInsufficientFunds
		}
		if err := setBalance(tx, account, account.Balance.Sub(total)); err != nil {
			return err
		}

		var holding models.Holding
		err = tx.First(&holding, "username = ? AND symbol = ?", username, symbol).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			holding = models.Holding{Username: username, Symbol: symbol, Quantity: quantity, Cost: total}
			if err := tx.Create(&holding).Error; err != nil {
				return fmt.Errorf("failed to create holding %s/%s: %w", username, symbol, err)
			}
		case err != nil:
			return fmt.Errorf("failed to load holding %s/%s: %w", username, symbol, err)
		default:
			holding.Quantity += quantity
			holding.Cost = holding.Cost.Add(total)
			if err := tx.Save(&holding).Error; err != nil {
				return fmt.Errorf("failed to update holding %s/%s: %w", username, symbol, err)
			}
		}

		return appendRecord(tx, username, models.KindBuy, total, symbol)
	})
}

// Sell credits quantity*currentPrice(symbol) to the balance and removes
// the quantity from the holding, deleting the row when it reaches zero.
// A missing quote is a hard failure; nothing is sold at a stale price.
func (s *Service) Sell(ctx context.Context, username, symbol string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}

	price, err := s.quotes.Price(ctx, symbol)
	if err != nil {
		if errors.Is(err, quotes.ErrSymbolNotFound) {
			return ErrUnknownSymbol
		}
		return fmt.Errorf("price lookup for %s failed: %w", symbol, err)
	}
	proceeds := price.Mul(decimal.NewFromInt(quantity))

	mu := s.locks.acquire(username)
	defer mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := loadAccount(tx, username)
		if err != nil {
			return err
		}

		var holding models.Holding
		err = tx.First(&holding, "username = ? AND symbol = ?", username, symbol).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientHoldings
		}
		if err != nil {
			return fmt.Errorf("failed to load holding %s/%s: %w", username, symbol, err)
		}
		if holding.Quantity < quantity {
			return ErrInsufficientHoldings
		}

		remaining := holding.Quantity - quantity
		if remaining == 0 {
			// Hard delete so the (username, symbol) slot is free for a later buy.
			if err := tx.Unscoped().Delete(&holding).Error; err != nil {
				return fmt.Errorf("failed to delete holding %s/%s: %w", username, symbol, err)
			}
		} else {
			// Reduce the cost basis pro rata with the sold quantity.
			avgCost := holding.Cost.Div(decimal.NewFromInt(holding.Quantity))
			holding.Quantity = remaining
			holding.Cost = holding.Cost.Sub(avgCost.Mul(decimal.NewFromInt(quantity)))
			if err := tx.Save(&holding).Error; err != nil {
				return fmt.Errorf("failed to update holding %s/%s: %w", username, symbol, err)
			}
		}

		if err := setBalance(tx, account, account.Balance.Add(proceeds)); err != nil {
			return err
		}
		return appendRecord(tx, username, models.KindSell, proceeds, symbol)
	})
}

// Portfolio lists the account's holdings ordered by symbol.
func (s *Service) Portfolio(ctx context.Context, username string) ([]models.Holding, error) {
	if _, err := s.Balance(ctx, username); err != nil {
		return nil, err
	}
	var holdings []models.Holding
	err := s.db.WithContext(ctx).Order("symbol").Find(&holdings, "username = ?", username).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings for %s: %w", username, err)
	}
	return holdings, nil
}

// History lists the account's transaction records, newest first.
func (s *Service) History(ctx context.Context, username string) ([]models.Transaction, error) {
	if _, err := s.Balance(ctx, username); err != nil {
		return nil, err
	}
	var records []models.Transaction
	err := s.db.WithContext(ctx).Order("id DESC").Find(&records, "username = ?", username).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", username, err)
	}
	return records, nil
}

func loadAccount(tx *gorm.DB, username string) (*models.Account, error) {
	var account models.Account
	err := tx.First(&account, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", username, err)
	}
	return &account, nil
}

func setBalance(tx *gorm.DB, account *models.Account, balance decimal.Decimal) error {
	if err := tx.Model(account).Update("balance", balance).Error; err != nil {
		return fmt.Errorf("failed to update balance for %s: %w", account.Username, err)
	}
	return nil
}

func appendRecord(tx *gorm.DB, username, kind string, amount decimal.Decimal, symbol string) error {
	record := models.Transaction{
		Username: username,
		Kind:     kind,
		Amount:   amount,
		Symbol:   symbol,
	}
	if err := tx.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to append %s record for %s: %w", kind, username, err)
	}
	return nil
}
