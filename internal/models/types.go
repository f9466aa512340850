// Package models holds the persisted and transient shapes shared across the
// monitor, PnL aggregator, and push hub.
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// NativeMint is the reserved mint representing the native coin wrapped as an
// SPL token. Lamport deltas on this mint are never classified as trades —
// they are accounted for directly via the wallet's SOL balance delta.
const NativeMint = "So11111111111111111111111111111111111111112"

// TradeType classifies a single on-chain event for a monitored wallet.
type TradeType string

const (
	TradeBuy        TradeType = "buy"
	TradeSell       TradeType = "sell"
	TradeDeposit    TradeType = "deposit"
	TradeWithdrawal TradeType = "withdrawal"
)

// PlatformUnknown and PlatformTransfer are the two platform tags this module
// ever assigns; a richer venue-detection layer is out of scope.
const (
	PlatformUnknown  = "unknown"
	PlatformTransfer = "transfer"
)

// User identifies a trader whose wallet is (or was) monitored.
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	DisplayName    string     `gorm:"column:display_name;size:128;not null" json:"displayName"`
	WalletAddress  string     `gorm:"column:wallet_address;size:44;uniqueIndex;not null" json:"walletAddress"`
	Email          *string    `gorm:"column:email;size:255;uniqueIndex" json:"email,omitempty"`
	StreamPlatform string     `gorm:"column:stream_platform;size:32;index" json:"streamPlatform,omitempty"`
	StreamURL      string     `gorm:"column:stream_url;size:255" json:"streamUrl,omitempty"`
	IsLive         bool       `gorm:"column:is_live;index" json:"isLive"`
	LastActive     *time.Time `gorm:"column:last_active" json:"lastActive,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// Trade is one classified on-chain event for a monitored wallet. Signature is
// the idempotency key: the monitor upserts on it so replays never duplicate.
type Trade struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Signature     string          `gorm:"column:signature;size:88;uniqueIndex;not null" json:"signature"`
	WalletAddress string          `gorm:"column:wallet_address;size:44;index;not null" json:"walletAddress"`
	UserID        *uint           `gorm:"column:user_id;index" json:"userId,omitempty"`
	TokenA        string          `gorm:"column:token_a;size:44;index:idx_trades_tokens,priority:1" json:"tokenA"`
	TokenB        string          `gorm:"column:token_b;size:44;index:idx_trades_tokens,priority:2" json:"tokenB"`
	Type          TradeType       `gorm:"column:type;size:10;not null" json:"type"`
	AmountA       decimal.Decimal `gorm:"column:amount_a;type:numeric(20,9);not null" json:"amountA"`
	AmountB       decimal.Decimal `gorm:"column:amount_b;type:numeric(20,9);not null" json:"amountB"`
	TradePnl      decimal.Decimal `gorm:"column:trade_pnl;type:numeric(20,6);not null" json:"tradePnl"`
	TxFees        decimal.Decimal `gorm:"column:tx_fees;type:numeric(10,9)" json:"txFees"`
	Platform      string          `gorm:"column:platform;size:50;not null" json:"platform"`
	Timestamp     time.Time       `gorm:"column:timestamp;index;not null" json:"timestamp"`
	RawData       datatypes.JSON  `gorm:"column:raw_data" json:"rawData,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (Trade) TableName() string { return "trades" }

// DailyPnL is the single row summarizing a wallet's realized trading activity
// within one reference-timezone day.
type DailyPnL struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        *uint           `gorm:"column:user_id;index" json:"userId,omitempty"`
	WalletAddress string          `gorm:"column:wallet_address;size:44;index:idx_pnl_wallet_day,priority:1;not null" json:"walletAddress"`
	Date          time.Time       `gorm:"column:date;index:idx_pnl_wallet_day,priority:2;not null" json:"date"`
	StartBalance  decimal.Decimal `gorm:"column:start_balance;type:numeric(20,9);not null" json:"startBalance"`
	EndBalance    decimal.Decimal `gorm:"column:end_balance;type:numeric(20,9)" json:"endBalance"`
	RealizedPnl   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(20,6);not null" json:"realizedPnl"`
	TotalTrades   int             `gorm:"column:total_trades;not null" json:"totalTrades"`
	LastTradeID   *uint           `gorm:"column:last_trade_id" json:"lastTradeId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (DailyPnL) TableName() string { return "pnl_records" }

// TokenMeta is the cached description of a mint: symbol, name, decimals, and
// the last price observed by an out-of-band price feed.
type TokenMeta struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Address     string         `gorm:"column:address;size:44;uniqueIndex;not null" json:"address"`
	Symbol      string         `gorm:"column:symbol;size:32;index" json:"symbol"`
	Name        string         `gorm:"column:name;size:128" json:"name"`
	Decimals    *int           `gorm:"column:decimals" json:"decimals,omitempty"`
	Verified    bool           `gorm:"column:verified" json:"verified"`
	LastPrice   *float64       `gorm:"column:last_price;type:numeric(20,6)" json:"lastPrice,omitempty"`
	LastUpdated *time.Time     `gorm:"column:last_updated" json:"lastUpdated,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"-"`
}

func (TokenMeta) TableName() string { return "tokens" }

// StreamSession and TokenPosition are referenced by the schema but written by
// no operation this module performs; they exist so AutoMigrate produces the
// full schema, matching the teacher's own habit of migrating a wider schema
// than any single service path touches.
type StreamSession struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"column:user_id;index"`
	StartedAt time.Time  `gorm:"column:started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

func (StreamSession) TableName() string { return "stream_sessions" }

type TokenPosition struct {
	ID       uint            `gorm:"primaryKey"`
	UserID   uint            `gorm:"column:user_id;index"`
	Mint     string          `gorm:"column:mint;size:44;index"`
	Quantity decimal.Decimal `gorm:"column:quantity;type:numeric(20,9)"`
}

func (TokenPosition) TableName() string { return "token_positions" }
