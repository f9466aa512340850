package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenBalance is one parsed SPL token account balance observed for a wallet.
type TokenBalance struct {
	Mint     string          `json:"mint"`
	UIAmount decimal.Decimal `json:"uiAmount"`
}

// BalanceSnapshot is the payload of a Balance event: the wallet's native
// balance plus every SPL token balance observed while processing a cycle.
type BalanceSnapshot struct {
	WalletAddress string          `json:"walletAddress"`
	SolBalance    decimal.Decimal `json:"solBalance"`
	Tokens        []TokenBalance  `json:"tokens"`
	Timestamp     time.Time       `json:"timestamp"`
}

// TradeEvent, BalanceEvent and PnlEvent are the three kinds the monitor's
// event bus carries. Listeners (the PnL Aggregator, the Push Hub) subscribe
// to whichever kinds they care about; cross-listener ordering is not
// guaranteed.
type TradeEvent struct {
	WalletAddress string
	Trade         Trade
}

type BalanceEvent struct {
	WalletAddress string
	Balance       BalanceSnapshot
}

type PnlEvent struct {
	WalletAddress string
	DailyPnl      DailyPnL
}

// Snapshot is the denormalized per-wallet view the Push Hub sends to
// subscribers: user record, optional last trade (with resolved token
// metadata for both legs), optional daily PnL, and the day's balance.
type Snapshot struct {
	User      User            `json:"user"`
	LastTrade *TradeSnapshot  `json:"lastTrade,omitempty"`
	DailyPnl  *DailyPnL       `json:"dailyPnl,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

// TradeSnapshot is a Trade enriched with token metadata for both legs, the
// shape the push hub embeds inside a Snapshot.
type TradeSnapshot struct {
	Trade      Trade     `json:"trade"`
	TokenAMeta TokenMeta `json:"tokenAMeta"`
	TokenBMeta TokenMeta `json:"tokenBMeta"`
}
