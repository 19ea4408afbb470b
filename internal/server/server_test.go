package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"brokerd/internal/config"
	"brokerd/internal/database"
	"brokerd/internal/ledger"
	"brokerd/internal/models"
	"brokerd/internal/quotes"
)

// startServer spins up a server on a random port with a fresh in-memory
// database and returns a dialer for test sessions.
func startServer(t *testing.T) (*gorm.DB, func() *session) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	svc := ledger.New(db, quotes.NewStore(db), zap.NewNop())
	srv := New(config.Server{Host: "127.0.0.1", Port: 0, MaxConnections: 8}, zap.NewNop(), svc)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.Serve(ctx)
	}()

	dial := func() *session {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return &session{t: t, conn: conn, reader: bufio.NewReader(conn)}
	}
	return db, dial
}

type session struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// send writes one request line and returns the response line.
func (s *session) send(format string, args ...any) string {
	s.t.Helper()
	_, err := fmt.Fprintf(s.conn, format+"\n", args...)
	require.NoError(s.t, err)
	line, err := s.reader.ReadString('\n')
	require.NoError(s.t, err)
	return line[:len(line)-1]
}

func seedQuote(t *testing.T, db *gorm.DB, symbol, feed string, price int64) {
	require.NoError(t, db.Create(&models.Quote{
		Symbol: symbol,
		Feed:   feed,
		Price:  decimal.NewFromInt(price),
	}).Error)
}

func TestTradingScenario(t *testing.T) {
	db, dial := startServer(t)
	seedQuote(t, db, "AAPL", models.FeedStocks, 60)

	c := dial()

	assert.Equal(t, "Registration successful, Client ID: 1", c.send("register|alice|secret1"))
	assert.Equal(t, "Deposit successful.", c.send("deposit|alice|100"))
	assert.Equal(t, "100", c.send("get_balance|alice"))

	// Over-withdrawal leaves the balance untouched.
	assert.Equal(t, "Insufficient funds", c.send("withdraw|alice|150"))
	assert.Equal(t, "100", c.send("get_balance|alice"))

	// Buy 2 AAPL at 50 each: balance drains to zero.
	assert.Equal(t, "Investment successful", c.send("invest|alice|AAPL|2|100|buy"))
	assert.Equal(t, "0", c.send("get_balance|alice"))
	assert.Equal(t, "AAPL:2", c.send("get_portfolio|alice"))

	// Sell both at the quoted price of 60.
	assert.Equal(t, "Stock sold successfully.", c.send("sell_stock|alice|AAPL|2"))
	assert.Equal(t, "120", c.send("get_balance|alice"))
	assert.Equal(t, "No holdings", c.send("get_portfolio|alice"))

	assert.Equal(t, "sell 120 AAPL;buy 100 AAPL;deposit 100", c.send("get_history|alice"))
}

func TestLoginAndRegistration(t *testing.T) {
	_, dial := startServer(t)
	c := dial()

	assert.Equal(t, "Registration successful, Client ID: 1", c.send("register|alice|secret1"))
	assert.Equal(t, "Username already exists", c.send("register|alice|other"))

	assert.Equal(t, "Login successful, Client ID: 1", c.send("login|alice|secret1"))
	assert.Equal(t, "Login failed", c.send("login|alice|wrong"))
	assert.Equal(t, "Login failed", c.send("login|nobody|secret1"))
}

func TestSellRejections(t *testing.T) {
	db, dial := startServer(t)
	seedQuote(t, db, "BTC", models.FeedCrypto, 100)

	c := dial()
	c.send("register|alice|secret1")
	c.send("deposit|alice|200")
	assert.Equal(t, "Investment successful", c.send("invest|alice|BTC|1|100|buy"))

	assert.Equal(t, "Invalid stock.", c.send("sell_stock|alice|DOGE|1"))
	assert.Equal(t, "Not enough stock to sell.", c.send("sell_stock|alice|BTC|2"))
	assert.Equal(t, "100", c.send("get_balance|alice"))
}

func TestMalformedRequestsKeepSessionAlive(t *testing.T) {
	_, dial := startServer(t)
	c := dial()

	c.send("register|alice|secret1")

	assert.Equal(t, "Malformed request", c.send("deposit|alice"))
	assert.Equal(t, "Malformed request", c.send("deposit|alice|not-a-number"))
	assert.Equal(t, "Malformed request", c.send("invest|alice|AAPL|two|100|buy"))
	assert.Equal(t, "Malformed request", c.send("invest|alice|AAPL|1|100|hold"))
	assert.Equal(t, "Unknown request", c.send("transfer|alice|bob|10"))

	// The session survived all of it.
	assert.Equal(t, "Deposit successful.", c.send("deposit|alice|50"))
	assert.Equal(t, "50", c.send("get_balance|alice"))
}

func TestSessionsAreIndependent(t *testing.T) {
	_, dial := startServer(t)

	a, b := dial(), dial()
	assert.Equal(t, "Registration successful, Client ID: 1", a.send("register|alice|secret1"))
	assert.Equal(t, "Registration successful, Client ID: 2", b.send("register|bob|secret2"))

	// A malformed request on one connection does not disturb the other.
	assert.Equal(t, "Malformed request", a.send("deposit|alice"))
	assert.Equal(t, "Deposit successful.", b.send("deposit|bob|30"))
	assert.Equal(t, "30", b.send("get_balance|bob"))
	assert.Equal(t, "Unknown account", a.send("get_balance|carol"))
}

func TestUnknownAccountResponses(t *testing.T) {
	_, dial := startServer(t)
	c := dial()

	assert.Equal(t, "Unknown account", c.send("get_balance|ghost"))
	assert.Equal(t, "Unknown account", c.send("deposit|ghost|10"))
	assert.Equal(t, "Unknown account", c.send("withdraw|ghost|10"))
	assert.Equal(t, "Unknown account", c.send("get_portfolio|ghost"))
	assert.Equal(t, "Unknown account", c.send("get_history|ghost"))
}
