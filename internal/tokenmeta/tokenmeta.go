// Package tokenmeta resolves SPL mint addresses to human-readable metadata,
// read-through across an in-memory cache, an optional Redis tier, the
// relational store, and finally the chain itself.
package tokenmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"analysis/internal/chain"
	"analysis/internal/models"
	"analysis/internal/store"

	"github.com/redis/go-redis/v9"
)

// Info is the resolved metadata for a mint.
type Info struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int
}

const nativeMint = models.NativeMint

// RedisTier is the optional distributed cache ahead of the relational
// store, populated only when REDIS_URL is configured.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTier builds a tier from a redis:// URL such as the REDIS_URL value
// (e.g. "redis://localhost:6379/0"); a bare "host:port" address is also
// accepted. A failed ping makes this a configuration error the caller should
// fail fast on, matching the teacher's NewRedisCacheFromOptions.
func NewRedisTier(ctx context.Context, addr string) (*RedisTier, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisTier{client: client, ttl: 10 * time.Minute}, nil
}

func (r *RedisTier) key(mint string) string { return "tokenmeta:" + mint }

func (r *RedisTier) get(ctx context.Context, mint string) (*Info, bool) {
	if r == nil {
		return nil, false
	}
	val, err := r.client.Get(ctx, r.key(mint)).Result()
	if err != nil {
		return nil, false
	}
	var info Info
	if json.Unmarshal([]byte(val), &info) != nil {
		return nil, false
	}
	return &info, true
}

func (r *RedisTier) set(ctx context.Context, info Info) {
	if r == nil {
		return
	}
	bs, err := json.Marshal(info)
	if err != nil {
		return
	}
	r.client.Set(ctx, r.key(info.Address), bs, r.ttl)
}

// Resolver is the mint → metadata cache: cache → Redis(optional) → store →
// chain.
type Resolver struct {
	store store.Store
	chain chain.Client
	redis *RedisTier

	mu    sync.RWMutex
	cache map[string]Info
}

func New(st store.Store, ch chain.Client, redisTier *RedisTier) *Resolver {
	return &Resolver{
		store: st,
		chain: ch,
		redis: redisTier,
		cache: make(map[string]Info),
	}
}

// Get resolves a mint's metadata, upserting into every lower tier it had to
// fall through to.
func (r *Resolver) Get(ctx context.Context, mint string) (Info, error) {
	if mint == nativeMint {
		return Info{Address: mint, Symbol: "SOL", Name: "SOL", Decimals: 9}, nil
	}

	r.mu.RLock()
	if info, ok := r.cache[mint]; ok {
		r.mu.RUnlock()
		return info, nil
	}
	r.mu.RUnlock()

	if info, ok := r.redis.get(ctx, mint); ok {
		r.promote(ctx, *info)
		return *info, nil
	}

	row, err := r.store.GetTokenMeta(ctx, mint)
	if err != nil {
		return Info{}, fmt.Errorf("get token meta: %w", err)
	}
	if row != nil {
		info := fromRow(*row)
		r.promote(ctx, info)
		return info, nil
	}

	info := r.resolveFromChain(ctx, mint)
	if _, err := r.store.UpsertTokenMeta(ctx, toRow(info)); err != nil {
		return Info{}, fmt.Errorf("upsert token meta: %w", err)
	}
	r.promote(ctx, info)
	return info, nil
}

// Preload warms the in-memory (and, if configured, Redis) tier from every
// row already persisted, so the Supervisor's startup sequence pays the
// store round-trip once instead of on each cold mint lookup.
func (r *Resolver) Preload(ctx context.Context) (int, error) {
	rows, err := r.store.ListAllTokenMeta(ctx)
	if err != nil {
		return 0, fmt.Errorf("preload token meta: %w", err)
	}
	for _, row := range rows {
		r.promote(ctx, fromRow(row))
	}
	return len(rows), nil
}

// resolveFromChain asks the chain client for token accounts of the mint
// itself to recover decimals; it has no direct "token info" RPC, so when
// nothing useful comes back the symbol is synthesized from the address.
func (r *Resolver) resolveFromChain(ctx context.Context, mint string) Info {
	accounts, err := r.chain.GetParsedTokenAccounts(ctx, mint)
	decimals := 0
	if err == nil {
		for _, a := range accounts {
			if a.Mint == mint {
				decimals = a.Decimals
				break
			}
		}
	}
	symbol := synthesizeSymbol(mint)
	return Info{Address: mint, Symbol: symbol, Name: symbol, Decimals: decimals}
}

// synthesizeSymbol builds the fallback "firstThree...lastThree" label used
// when the chain offers no richer metadata for a mint.
func synthesizeSymbol(mint string) string {
	if len(mint) < 6 {
		return mint
	}
	return mint[:3] + "..." + mint[len(mint)-3:]
}

// SetPrice updates the store's lastPrice/lastUpdated for mint and refreshes
// whichever cache tiers already hold the entry.
func (r *Resolver) SetPrice(ctx context.Context, mint string, priceUSD float64) error {
	row, err := r.store.GetTokenMeta(ctx, mint)
	if err != nil {
		return fmt.Errorf("get token meta: %w", err)
	}
	now := time.Now().UTC()
	var out models.TokenMeta
	if row != nil {
		out = *row
	} else {
		out = models.TokenMeta{Address: mint, Symbol: synthesizeSymbol(mint), Name: synthesizeSymbol(mint)}
	}
	out.LastPrice = &priceUSD
	out.LastUpdated = &now

	saved, err := r.store.UpsertTokenMeta(ctx, out)
	if err != nil {
		return fmt.Errorf("upsert token meta: %w", err)
	}

	r.mu.Lock()
	if _, ok := r.cache[mint]; ok {
		r.cache[mint] = fromRow(saved)
	}
	r.mu.Unlock()
	if _, ok := r.redis.get(ctx, mint); ok {
		r.redis.set(ctx, fromRow(saved))
	}
	return nil
}

func (r *Resolver) promote(ctx context.Context, info Info) {
	r.mu.Lock()
	r.cache[info.Address] = info
	r.mu.Unlock()
	r.redis.set(ctx, info)
}

func fromRow(t models.TokenMeta) Info {
	decimals := 0
	if t.Decimals != nil {
		decimals = *t.Decimals
	}
	return Info{Address: t.Address, Symbol: t.Symbol, Name: t.Name, Decimals: decimals}
}

func toRow(i Info) models.TokenMeta {
	d := i.Decimals
	return models.TokenMeta{Address: i.Address, Symbol: i.Symbol, Name: i.Name, Decimals: &d}
}
