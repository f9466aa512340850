// Package pnl maintains one DailyPnL row per wallet per reference-timezone
// day: seeding a new day from the prior day's ending balance, and folding
// each classified trade's realized P&L into the running total.
package pnl

import (
	"context"
	"fmt"
	"sync"

	"analysis/internal/clock"
	"analysis/internal/eventbus"
	"analysis/internal/models"
	"analysis/internal/store"

	"github.com/shopspring/decimal"
)

// Aggregator applies classified trades to each wallet's running daily P&L,
// one wallet at a time: a coarse lock guards the per-wallet lock map itself,
// never the mutation, so unrelated wallets never wait on each other.
type Aggregator struct {
	store store.Store
	clock clock.Clock
	bus   *eventbus.Bus

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(st store.Store, clk clock.Clock, bus *eventbus.Bus) *Aggregator {
	return &Aggregator{
		store: st,
		clock: clk,
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) lockFor(wallet string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	l, ok := a.locks[wallet]
	if !ok {
		l = &sync.Mutex{}
		a.locks[wallet] = l
	}
	return l
}

// EnsureRow produces (loading or creating) today's DailyPnL row for wallet,
// seeding startBalance from the previous day's endBalance when one exists.
func (a *Aggregator) EnsureRow(ctx context.Context, wallet string, currentBalance decimal.Decimal) (models.DailyPnL, error) {
	l := a.lockFor(wallet)
	l.Lock()
	defer l.Unlock()
	return a.ensureRowLocked(ctx, wallet, currentBalance)
}

func (a *Aggregator) ensureRowLocked(ctx context.Context, wallet string, currentBalance decimal.Decimal) (models.DailyPnL, error) {
	today := clock.DayStart(a.clock.Now())

	existing, err := a.store.GetDailyPnl(ctx, wallet, today)
	if err != nil {
		return models.DailyPnL{}, fmt.Errorf("get daily pnl: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}

	startBalance := currentBalance
	prev, err := a.store.LastDailyPnl(ctx, wallet)
	if err != nil {
		return models.DailyPnL{}, fmt.Errorf("last daily pnl: %w", err)
	}
	if prev != nil {
		startBalance = prev.EndBalance
	}

	row := models.DailyPnL{
		WalletAddress: wallet,
		Date:          today,
		StartBalance:  startBalance,
		EndBalance:    startBalance,
		RealizedPnl:   decimal.Zero,
		TotalTrades:   0,
	}
	inserted, err := a.store.InsertDailyPnl(ctx, row)
	if err != nil {
		return models.DailyPnL{}, fmt.Errorf("insert daily pnl: %w", err)
	}
	return inserted, nil
}

// ApplyTrade ensures today's row exists, folds tradePnl into the running
// realized total, bumps totalTrades when the trade actually moved P&L, and
// emits a Pnl event with the resulting snapshot.
func (a *Aggregator) ApplyTrade(ctx context.Context, wallet string, currentBalance, tradePnl decimal.Decimal, lastTradeID *uint) (models.DailyPnL, error) {
	l := a.lockFor(wallet)
	l.Lock()
	defer l.Unlock()

	row, err := a.ensureRowLocked(ctx, wallet, currentBalance)
	if err != nil {
		return models.DailyPnL{}, err
	}

	totalTrades := row.TotalTrades
	if !tradePnl.IsZero() {
		totalTrades++
	}

	fields := store.DailyPnlFields{
		EndBalance:  currentBalance,
		RealizedPnl: row.RealizedPnl.Add(tradePnl),
		TotalTrades: totalTrades,
		LastTradeID: lastTradeID,
	}
	updated, err := a.store.UpdateDailyPnl(ctx, wallet, row.Date, fields)
	if err != nil {
		return models.DailyPnL{}, fmt.Errorf("update daily pnl: %w", err)
	}

	if a.bus != nil {
		a.bus.PublishPnl(models.PnlEvent{WalletAddress: wallet, DailyPnl: updated})
	}
	return updated, nil
}
