package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"brokerd/internal/ledger"
	"brokerd/internal/models"
)

const malformedRequest = "Malformed request"

// handleConn runs one session: read a request line, dispatch exactly one
// ledger call, write one response line, repeat until the peer disconnects.
// A bad request gets an error response on this connection only; it never
// takes down the listener or another session.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Info("Client connected")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		response := s.dispatch(ctx, log, line)
		if _, err := fmt.Fprintln(conn, response); err != nil {
			log.Warn("Failed to write response", zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("Connection read failed", zap.Error(err))
	}

	log.Info("Client disconnected")
}

// dispatch decodes one pipe-separated request and returns the response line.
func (s *Server) dispatch(ctx context.Context, log *zap.Logger, line string) string {
	fields := strings.Split(line, "|")
	action := fields[0]

	switch action {
	case "login":
		if len(fields) != 3 {
			return malformedRequest
		}
		return s.login(ctx, log, fields[1], fields[2])

	case "register":
		if len(fields) != 3 {
			return malformedRequest
		}
		return s.register(ctx, log, fields[1], fields[2])

	case "get_balance":
		if len(fields) != 2 {
			return malformedRequest
		}
		return s.getBalance(ctx, log, fields[1])

	case "deposit":
		if len(fields) != 3 {
			return malformedRequest
		}
		return s.deposit(ctx, log, fields[1], fields[2])

	case "withdraw":
		if len(fields) != 3 {
			return malformedRequest
		}
		return s.withdraw(ctx, log, fields[1], fields[2])

	case "invest":
		if len(fields) != 6 {
			return malformedRequest
		}
		return s.invest(ctx, log, fields[1], fields[2], fields[3], fields[4], fields[5])

	case "sell_stock":
		if len(fields) != 4 {
			return malformedRequest
		}
		return s.sellStock(ctx, log, fields[1], fields[2], fields[3])

	case "get_portfolio":
		if len(fields) != 2 {
			return malformedRequest
		}
		return s.getPortfolio(ctx, log, fields[1])

	case "get_history":
		if len(fields) != 2 {
			return malformedRequest
		}
		return s.getHistory(ctx, log, fields[1])

	default:
		log.Warn("Unknown request action", zap.String("action", action))
		return "Unknown request"
	}
}

func (s *Server) login(ctx context.Context, log *zap.Logger, username, credential string) string {
	id, err := s.ledger.Authenticate(ctx, username, credential)
	if err != nil {
		if !errors.Is(err, ledger.ErrAuthFailed) {
			log.Error("Login failed", zap.String("username", username), zap.Error(err))
		}
		return "Login failed"
	}
	return fmt.Sprintf("Login successful, Client ID: %d", id)
}

func (s *Server) register(ctx context.Context, log *zap.Logger, username, credential string) string {
	id, err := s.ledger.Register(ctx, username, credential)
	switch {
	case errors.Is(err, ledger.ErrDuplicateUsername):
		return "Username already exists"
	case errors.Is(err, ledger.ErrInvalidUsername):
		return malformedRequest
	case err != nil:
		log.Error("Registration failed", zap.String("username", username), zap.Error(err))
		return "Error processing the registration."
	}
	return fmt.Sprintf("Registration successful, Client ID: %d", id)
}

func (s *Server) getBalance(ctx context.Context, log *zap.Logger, username string) string {
	balance, err := s.ledger.Balance(ctx, username)
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("Balance lookup failed", zap.String("username", username), zap.Error(err))
		return "Error retrieving the balance."
	}
	return balance.String()
}

func (s *Server) deposit(ctx context.Context, log *zap.Logger, username, rawAmount string) string {
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return malformedRequest
	}

	err = s.ledger.Deposit(ctx, username, amount)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "Deposit amount must be positive."
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("Deposit failed", zap.String("username", username), zap.Error(err))
		return "Error processing the deposit."
	}
	return "Deposit successful."
}

func (s *Server) withdraw(ctx context.Context, log *zap.Logger, username, rawAmount string) string {
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return malformedRequest
	}

	err = s.ledger.Withdraw(ctx, username, amount)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "Withdrawal amount must be positive"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("Withdrawal failed", zap.String("username", username), zap.Error(err))
		return "Error processing the withdrawal."
	}
	return "Withdrawal successful"
}

func (s *Server) invest(ctx context.Context, log *zap.Logger, username, market, rawQuantity, rawAmount, kind string) string {
	quantity, err := strconv.ParseInt(rawQuantity, 10, 64)
	if err != nil {
		return malformedRequest
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return malformedRequest
	}
	// Only buys come in over invest; sells go through sell_stock where the
	// proceeds are priced from the live quote.
	if kind != models.KindBuy {
		return malformedRequest
	}
	if quantity <= 0 || !amount.IsPositive() {
		return "Investment amount must be positive"
	}

	// The wire carries the total; the ledger prices per unit.
	price := amount.Div(decimal.NewFromInt(quantity))

	err = s.ledger.Buy(ctx, username, market, quantity, price)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "Investment amount must be positive"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("Investment failed",
			zap.String("username", username),
			zap.String("symbol", market),
			zap.Error(err))
		return "Error during investment"
	}
	return "Investment successful"
}

func (s *Server) sellStock(ctx context.Context, log *zap.Logger, username, symbol, rawQuantity string) string {
	quantity, err := strconv.ParseInt(rawQuantity, 10, 64)
	if err != nil {
		return malformedRequest
	}

	err = s.ledger.Sell(ctx, username, symbol, quantity)
	switch {
	case errors.Is(err, ledger.ErrUnknownSymbol):
		return "Invalid stock."
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		return "Not enough stock to sell."
	case errors.Is(err, ledger.ErrInvalidAmount):
		return malformedRequest
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("Sale failed",
			zap.String("username", username),
			zap.String("symbol", symbol),
			zap.Error(err))
		return "Error during sale"
	}
	return "Stock sold successfully."
}

func (s *Server) getPortfolio(ctx context.Context, log *zap.Logger, username string) string {
	holdings, err := s.ledger.Portfolio(ctx, username)
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("Portfolio lookup failed", zap.String("username", username), zap.Error(err))
		return "Error retrieving the portfolio."
	}
	if len(holdings) == 0 {
		return "No holdings"
	}

	parts := make([]string, 0, len(holdings))
	for _, h := range holdings {
		parts = append(parts, fmt.Sprintf("%s:%d", h.Symbol, h.Quantity))
	}
	return strings.Join(parts, ";")
}

func (s *Server) getHistory(ctx context.Context, log *zap.Logger, username string) string {
	records, err := s.ledger.History(ctx, username)
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Unknown account"
	case err != nil:
		log.Error("History lookup failed", zap.String("username", username), zap.Error(err))
		return "Error retrieving the transaction history."
	}
	if len(records) == 0 {
		return "No transactions"
	}

	parts := make([]string, 0, len(records))
	for _, r := range records {
		if r.Symbol != "" {
			parts = append(parts, fmt.Sprintf("%s %s %s", r.Kind, r.Amount.String(), r.Symbol))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s", r.Kind, r.Amount.String()))
		}
	}
	return strings.Join(parts, ";")
}
