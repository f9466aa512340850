package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"analysis/internal/models"
)

// MemStore is an in-process Store used by unit tests that exercise the
// Monitor and PnL Aggregator without a database. It upserts trades by
// signature like the GORM store, and InsertDailyPnl rejects a second row for
// the same wallet and day, all over plain maps guarded by one mutex.
type MemStore struct {
	mu         sync.Mutex
	users      map[string]models.User // by wallet address
	tradesBySg map[string]models.Trade
	nextTradeID uint
	pnl        map[string]models.DailyPnL // key: wallet|date
	tokens     map[string]models.TokenMeta
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[string]models.User),
		tradesBySg: make(map[string]models.Trade),
		pnl:        make(map[string]models.DailyPnL),
		tokens:     make(map[string]models.TokenMeta),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.WalletAddress] = u
}

func (m *MemStore) ListLiveUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.IsLive {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletAddress < out[j].WalletAddress })
	return out, nil
}

func (m *MemStore) ListAllUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletAddress < out[j].WalletAddress })
	return out, nil
}

func (m *MemStore) UpsertTrade(ctx context.Context, t models.Trade) (models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tradesBySg[t.Signature]; ok {
		t.ID = existing.ID
	} else {
		m.nextTradeID++
		t.ID = m.nextTradeID
	}
	m.tradesBySg[t.Signature] = t
	return t, nil
}

func (m *MemStore) LatestSignaturesForWallet(ctx context.Context, wallet string, limit int) ([]SignatureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Trade
	for _, t := range m.tradesBySg {
		if t.WalletAddress == wallet {
			rows = append(rows, t)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]SignatureRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, SignatureRecord{Signature: r.Signature, Timestamp: r.Timestamp})
	}
	return out, nil
}

func (m *MemStore) TradeBySignature(ctx context.Context, signature string) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tradesBySg[signature]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func pnlKey(wallet string, day time.Time) string {
	return wallet + "|" + day.UTC().Format(time.RFC3339)
}

func (m *MemStore) GetDailyPnl(ctx context.Context, wallet string, dayStart time.Time) (*models.DailyPnL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.pnl[pnlKey(wallet, dayStart)]
	if !ok {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

func (m *MemStore) InsertDailyPnl(ctx context.Context, row models.DailyPnL) (models.DailyPnL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pnlKey(row.WalletAddress, row.Date)
	if _, ok := m.pnl[key]; ok {
		return models.DailyPnL{}, fmt.Errorf("daily pnl already exists for %s", key)
	}
	m.pnl[key] = row
	return row, nil
}

func (m *MemStore) UpdateDailyPnl(ctx context.Context, wallet string, dayStart time.Time, fields DailyPnlFields) (models.DailyPnL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pnlKey(wallet, dayStart)
	row, ok := m.pnl[key]
	if !ok {
		return models.DailyPnL{}, fmt.Errorf("daily pnl not found for %s", key)
	}
	row.EndBalance = fields.EndBalance
	row.RealizedPnl = fields.RealizedPnl
	row.TotalTrades = fields.TotalTrades
	row.LastTradeID = fields.LastTradeID
	m.pnl[key] = row
	return row, nil
}

func (m *MemStore) LastDailyPnl(ctx context.Context, wallet string) (*models.DailyPnL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.DailyPnL
	for k, row := range m.pnl {
		if row.WalletAddress != wallet {
			continue
		}
		_ = k
		if best == nil || row.Date.After(best.Date) {
			cp := row
			best = &cp
		}
	}
	return best, nil
}

func (m *MemStore) LatestTrade(ctx context.Context, wallet string) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Trade
	for _, t := range m.tradesBySg {
		if t.WalletAddress != wallet {
			continue
		}
		if best == nil || t.Timestamp.After(best.Timestamp) {
			cp := t
			best = &cp
		}
	}
	return best, nil
}

func (m *MemStore) TradeByID(ctx context.Context, id uint) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tradesBySg {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetTokenMeta(ctx context.Context, mint string) (*models.TokenMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tokens[mint]
	if !ok {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

func (m *MemStore) UpsertTokenMeta(ctx context.Context, t models.TokenMeta) (models.TokenMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tokens[t.Address]; ok {
		t.ID = existing.ID
	} else {
		t.ID = uint(len(m.tokens) + 1)
	}
	m.tokens[t.Address] = t
	return t, nil
}

func (m *MemStore) ListAllTokenMeta(ctx context.Context) ([]models.TokenMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TokenMeta, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *MemStore) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[wallet]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

var _ Store = (*MemStore)(nil)
