// Package store is the persistence boundary: users, trades, and daily PnL
// rows, with idempotent upserts keyed by transaction signature.
package store

import (
	"context"
	"time"

	"analysis/internal/models"
	"github.com/shopspring/decimal"
)

// SignatureRecord is one entry from latestSignaturesForWallet: a persisted
// trade's signature and the block time it was recorded under.
type SignatureRecord struct {
	Signature string
	Timestamp time.Time
}

// DailyPnlFields is the partial-update payload for updateDailyPnl; zero
// values mean "leave unchanged" is NOT assumed — callers always pass the full
// post-update values, matching the teacher's GORM .Save-style idiom of
// writing whole rows rather than sparse column patches.
type DailyPnlFields struct {
	EndBalance  decimal.Decimal
	RealizedPnl decimal.Decimal
	TotalTrades int
	LastTradeID *uint
}

// Store is the persistence contract the Monitor, PnL Aggregator, and Push Hub
// depend on. The only concrete implementation lives in gormstore.go; tests
// may substitute memstore.go instead.
type Store interface {
	ListLiveUsers(ctx context.Context) ([]models.User, error)

	// ListAllUsers returns every known user, unfiltered — used by the push
	// hub's USERS_LIST frame.
	ListAllUsers(ctx context.Context) ([]models.User, error)

	// UpsertTrade inserts by signature; on conflict it overwrites every
	// column and returns the stable row (including its id).
	UpsertTrade(ctx context.Context, t models.Trade) (models.Trade, error)

	LatestSignaturesForWallet(ctx context.Context, wallet string, limit int) ([]SignatureRecord, error)

	// TradeBySignature looks up a persisted trade by signature, nil if none
	// exists yet.
	TradeBySignature(ctx context.Context, signature string) (*models.Trade, error)

	GetDailyPnl(ctx context.Context, wallet string, dayStart time.Time) (*models.DailyPnL, error)
	InsertDailyPnl(ctx context.Context, row models.DailyPnL) (models.DailyPnL, error)
	UpdateDailyPnl(ctx context.Context, wallet string, dayStart time.Time, fields DailyPnlFields) (models.DailyPnL, error)

	// LastDailyPnl returns the most recent DailyPnL row for the wallet
	// (by date), used to seed a new day's startBalance.
	LastDailyPnl(ctx context.Context, wallet string) (*models.DailyPnL, error)

	LatestTrade(ctx context.Context, wallet string) (*models.Trade, error)
	TradeByID(ctx context.Context, id uint) (*models.Trade, error)

	GetTokenMeta(ctx context.Context, mint string) (*models.TokenMeta, error)
	UpsertTokenMeta(ctx context.Context, t models.TokenMeta) (models.TokenMeta, error)

	// ListAllTokenMeta returns every persisted token row, used by the
	// Supervisor to warm the tokenmeta cache at startup.
	ListAllTokenMeta(ctx context.Context) ([]models.TokenMeta, error)

	GetUserByWallet(ctx context.Context, wallet string) (*models.User, error)

	Close() error
}
