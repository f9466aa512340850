// Package monitor drives the wallet-watching cycle: it reconciles the live
// user set, pulls new signatures per wallet, classifies each into a trade or
// transfer, persists it, and emits typed events for the PnL Aggregator and
// Push Hub.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"analysis/internal/chain"
	"analysis/internal/clock"
	"analysis/internal/eventbus"
	"analysis/internal/models"
	"analysis/internal/pnl"
	"analysis/internal/store"

	"github.com/shopspring/decimal"
)

const (
	cyclePeriod         = 5 * time.Second
	preloadSignatures   = 20
	perWalletFetchLimit = 15
	feeOnlyThreshold    = 1e-6
)

// walletState tracks per-wallet cursor state across cycles.
type walletState struct {
	lastSeenSignature string
	seenSignatures    map[string]struct{}
}

// Monitor runs the fixed-cadence polling cycle described by the wallet
// monitoring pipeline: reconcile active wallets, pull new signatures,
// classify, persist, and emit.
type Monitor struct {
	store store.Store
	chain chain.Client
	clock clock.Clock
	bus   *eventbus.Bus
	pnl   *pnl.Aggregator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticker *time.Ticker

	mu      sync.Mutex
	wallets map[string]*walletState
	running bool
}

func New(st store.Store, ch chain.Client, clk clock.Clock, bus *eventbus.Bus, agg *pnl.Aggregator) *Monitor {
	return &Monitor{
		store:   st,
		chain:   ch,
		clock:   clk,
		bus:     bus,
		pnl:     agg,
		wallets: make(map[string]*walletState),
	}
}

// Start launches the cycle ticker. A second Start call is a no-op, matching
// the teacher's own idempotent Start on DataPreloader.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.ticker = time.NewTicker(cyclePeriod)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runCycle(m.ctx)
		for {
			select {
			case <-m.ticker.C:
				m.runCycle(m.ctx)
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the context, stops the ticker, and waits for the in-flight
// cycle to finish before returning.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.ticker.Stop()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// runCycle reconciles the active wallet set, then fans out one goroutine per
// wallet bounded by the ChainClient's own request semaphore: each goroutine
// processes new signatures and then publishes a fresh balance snapshot for
// that wallet, and the cycle waits for every wallet's work to finish before
// returning.
func (m *Monitor) runCycle(ctx context.Context) {
	users, err := m.store.ListLiveUsers(ctx)
	if err != nil {
		log.Printf("[monitor] list live users: %v", err)
		return
	}
	active := m.reconcile(ctx, users)

	var wg sync.WaitGroup
	for _, wallet := range active {
		wallet := wallet
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.pollWallet(ctx, wallet)
			if err := m.PublishBalance(ctx, wallet); err != nil {
				log.Printf("[monitor] publish balance for %s: %v", wallet, err)
			}
		}()
	}
	wg.Wait()
}

// reconcile adds newly-live wallets (preloading recent signatures) and
// drops wallets no longer live, without purging their seen-signature sets.
func (m *Monitor) reconcile(ctx context.Context, users []models.User) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := make(map[string]struct{}, len(users))
	for _, u := range users {
		live[u.WalletAddress] = struct{}{}
		if _, ok := m.wallets[u.WalletAddress]; !ok {
			st := &walletState{seenSignatures: make(map[string]struct{})}
			m.preload(ctx, u.WalletAddress, st)
			m.wallets[u.WalletAddress] = st
		}
	}
	for wallet := range m.wallets {
		if _, ok := live[wallet]; !ok {
			delete(m.wallets, wallet)
		}
	}

	active := make([]string, 0, len(m.wallets))
	for wallet := range m.wallets {
		active = append(active, wallet)
	}
	sort.Strings(active)
	return active
}

func (m *Monitor) preload(ctx context.Context, wallet string, st *walletState) {
	recs, err := m.store.LatestSignaturesForWallet(ctx, wallet, preloadSignatures)
	if err != nil {
		log.Printf("[monitor] preload signatures for %s: %v", wallet, err)
		return
	}
	for _, r := range recs {
		st.seenSignatures[r.Signature] = struct{}{}
	}
	if len(recs) > 0 {
		st.lastSeenSignature = recs[0].Signature
	}
}

func (m *Monitor) stateFor(wallet string) (*walletState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.wallets[wallet]
	return st, ok
}

// pollWallet fetches the most recent signatures for one wallet and, if the
// newest differs from what was last seen, processes all new signatures in
// ascending block-time order.
func (m *Monitor) pollWallet(ctx context.Context, wallet string) {
	st, ok := m.stateFor(wallet)
	if !ok {
		return
	}

	sigs, err := m.chain.GetSignaturesForAddress(ctx, wallet, perWalletFetchLimit)
	if err != nil {
		log.Printf("[monitor] get signatures for %s: %v", wallet, err)
		return
	}
	if len(sigs) == 0 {
		return
	}
	if sigs[0].Signature == st.lastSeenSignature {
		return
	}

	m.mu.Lock()
	st.lastSeenSignature = sigs[0].Signature
	m.mu.Unlock()

	sort.SliceStable(sigs, func(i, j int) bool {
		ti, tj := blockTimeOrZero(sigs[i]), blockTimeOrZero(sigs[j])
		return ti < tj
	})

	for _, sig := range sigs {
		m.processSignature(ctx, wallet, st, sig)
	}
}

func blockTimeOrZero(s chain.SignatureInfo) int64 {
	if s.BlockTime == nil {
		return 0
	}
	return *s.BlockTime
}

func (m *Monitor) markSeen(st *walletState, signature string) {
	m.mu.Lock()
	st.seenSignatures[signature] = struct{}{}
	m.mu.Unlock()
}

func (m *Monitor) isSeen(st *walletState, signature string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := st.seenSignatures[signature]
	return ok
}

// processSignature runs one signature through the full classification
// pipeline, persisting a Trade and emitting events only when it represents
// a genuine balance-moving trade for today.
func (m *Monitor) processSignature(ctx context.Context, wallet string, st *walletState, sig chain.SignatureInfo) {
	if m.isSeen(st, sig.Signature) {
		return
	}

	if existing, err := m.store.TradeBySignature(ctx, sig.Signature); err == nil && existing != nil {
		m.markSeen(st, sig.Signature)
		return
	}

	if sig.BlockTime == nil {
		m.markSeen(st, sig.Signature)
		return
	}
	blockTime := time.Unix(*sig.BlockTime, 0).UTC()
	now := m.clock.Now()
	if !clock.InDay(blockTime, now) {
		m.markSeen(st, sig.Signature)
		return
	}

	tx, err := m.chain.GetParsedTransaction(ctx, sig.Signature)
	if err != nil {
		log.Printf("[monitor] get transaction %s: %v", sig.Signature, err)
		m.markSeen(st, sig.Signature)
		return
	}
	if tx.Err {
		m.markSeen(st, sig.Signature)
		return
	}

	idx := indexOf(tx.AccountKeys, wallet)
	if idx < 0 {
		m.markSeen(st, sig.Signature)
		return
	}
	if idx >= len(tx.PreBalances) || idx >= len(tx.PostBalances) {
		m.markSeen(st, sig.Signature)
		return
	}

	// A tiny solChange alone does not decide the outcome: a same-cycle token
	// transfer with solChange == 0 (scenario "transfer in") still produces a
	// deposit. The fee-only case is really "no token deltas survive either",
	// so the skip is gated on that, not on solChange in isolation.
	solChange := float64(tx.PostBalances[idx]-tx.PreBalances[idx]) / 1e9

	deltas := tokenDeltas(tx, wallet)
	if len(deltas) == 0 {
		m.markSeen(st, sig.Signature)
		return
	}

	if !m.classifyAndPersist(ctx, wallet, sig, blockTime, tx, solChange, deltas) {
		// A persistence failure leaves the signature unseen, so it is
		// processed again the next time this wallet's signatures are walked.
		// lastSeenSignature has already moved to the newest signature, so
		// that happens only once a newer signature appears.
		return
	}
	m.markSeen(st, sig.Signature)
}

func indexOf(keys []string, target string) int {
	for i, k := range keys {
		if k == target {
			return i
		}
	}
	return -1
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// tokenDelta is one surviving post-minus-pre token balance change for the
// wallet.
type tokenDelta struct {
	mint   string
	change float64
}

// tokenDeltas computes per-mint balance changes owned by wallet: a matched
// pre/post pair by accountIndex, or a full-exit for a pre-only balance with
// no matching post entry. Deltas at or under the fee-only threshold are
// dropped.
func tokenDeltas(tx *chain.ParsedTx, wallet string) []tokenDelta {
	preByIdx := make(map[int]chain.TokenBalanceEntry)
	for _, p := range tx.PreTokenBalances {
		if p.Owner == wallet {
			preByIdx[p.AccountIndex] = p
		}
	}
	postByIdx := make(map[int]chain.TokenBalanceEntry)
	for _, p := range tx.PostTokenBalances {
		if p.Owner == wallet {
			postByIdx[p.AccountIndex] = p
		}
	}

	var out []tokenDelta
	for idx, post := range postByIdx {
		pre, hasPre := preByIdx[idx]
		preAmount := 0.0
		mint := post.Mint
		if hasPre {
			preAmount = pre.UIAmount
		}
		change := post.UIAmount - preAmount
		if absF(change) <= feeOnlyThreshold {
			continue
		}
		out = append(out, tokenDelta{mint: mint, change: change})
	}
	for idx, pre := range preByIdx {
		if _, hasPost := postByIdx[idx]; hasPost {
			continue
		}
		if pre.UIAmount <= 0 {
			continue
		}
		out = append(out, tokenDelta{mint: pre.Mint, change: -pre.UIAmount})
	}
	return out
}

// classifyAndPersist turns a signature's token deltas into a single trade
// row: a buy/sell when solChange moved the opposite direction, otherwise a
// plain deposit/withdrawal transfer. The native-wrapped mint is skipped since
// the SOL delta already accounts for it. A signature upserts by its unique
// signature column, so only one trade can ever survive per signature; when
// more than one non-native mint moved, the largest-magnitude delta is taken
// as the trade and the rest are dropped, keeping one Trade/ApplyTrade call
// (and one row) per signature instead of double-counting. Returns false if
// the upsert failed, so the caller can leave the signature unseen for retry.
func (m *Monitor) classifyAndPersist(ctx context.Context, wallet string, sig chain.SignatureInfo, blockTime time.Time, tx *chain.ParsedTx, solChange float64, deltas []tokenDelta) bool {
	walletIdx := indexOf(tx.AccountKeys, wallet)

	d, ok := dominantDelta(deltas)
	if !ok {
		return true
	}

	var tradeType models.TradeType
	var tradePnl decimal.Decimal
	var tokenB string
	var amountB decimal.Decimal
	var platform string
	isTrade := false

	switch {
	case d.change > 0 && solChange < 0:
		tradeType = models.TradeBuy
		tradePnl = decimal.NewFromFloat(-absF(solChange))
		tokenB = models.NativeMint
		amountB = decimal.NewFromFloat(absF(solChange))
		platform = models.PlatformUnknown
		isTrade = true
	case d.change < 0 && solChange > 0:
		tradeType = models.TradeSell
		tradePnl = decimal.NewFromFloat(absF(solChange))
		tokenB = models.NativeMint
		amountB = decimal.NewFromFloat(absF(solChange))
		platform = models.PlatformUnknown
		isTrade = true
	case d.change > 0:
		tradeType = models.TradeDeposit
		tradePnl = decimal.Zero
		tokenB = d.mint
		amountB = decimal.NewFromFloat(absF(d.change))
		platform = models.PlatformTransfer
	default:
		tradeType = models.TradeWithdrawal
		tradePnl = decimal.Zero
		tokenB = d.mint
		amountB = decimal.NewFromFloat(absF(d.change))
		platform = models.PlatformTransfer
	}

	trade := models.Trade{
		Signature:     sig.Signature,
		WalletAddress: wallet,
		TokenA:        d.mint,
		TokenB:        tokenB,
		Type:          tradeType,
		AmountA:       decimal.NewFromFloat(absF(d.change)),
		AmountB:       amountB,
		TradePnl:      tradePnl,
		TxFees:        decimal.NewFromFloat(float64(tx.Fee) / 1e9),
		Platform:      platform,
		Timestamp:     blockTime,
	}

	saved, err := m.store.UpsertTrade(ctx, trade)
	if err != nil {
		log.Printf("[monitor] upsert trade %s: %v", sig.Signature, err)
		return false
	}

	if m.bus != nil {
		m.bus.PublishTrade(models.TradeEvent{WalletAddress: wallet, Trade: saved})
	}

	if isTrade && m.pnl != nil && walletIdx >= 0 && walletIdx < len(tx.PostBalances) {
		currentBalance := decimal.NewFromFloat(float64(tx.PostBalances[walletIdx]) / 1e9)
		id := saved.ID
		if _, err := m.pnl.ApplyTrade(ctx, wallet, currentBalance, tradePnl, &id); err != nil {
			log.Printf("[monitor] apply trade to pnl %s: %v", sig.Signature, err)
		}
	}
	return true
}

// dominantDelta picks the non-native token delta with the largest absolute
// magnitude, so a signature that moved more than one SPL mint still yields
// exactly one trade. Returns ok=false if every delta is the native-wrapped
// mint (nothing to classify).
func dominantDelta(deltas []tokenDelta) (tokenDelta, bool) {
	var best tokenDelta
	found := false
	for _, d := range deltas {
		if d.mint == models.NativeMint {
			continue
		}
		if !found || absF(d.change) > absF(best.change) {
			best = d
			found = true
		}
	}
	return best, found
}

// PublishBalance fetches wallet's current SOL and token balances and emits a
// Balance event carrying the snapshot. runCycle calls this once per active
// wallet every cycle so BALANCE_UPDATE frames keep flowing even on cycles
// with no new trades; it is also safe to call on demand for an out-of-band
// refresh.
func (m *Monitor) PublishBalance(ctx context.Context, wallet string) error {
	lamports, err := m.chain.GetBalance(ctx, wallet)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	accounts, err := m.chain.GetParsedTokenAccounts(ctx, wallet)
	if err != nil {
		return fmt.Errorf("get token accounts: %w", err)
	}
	tokens := make([]models.TokenBalance, 0, len(accounts))
	for _, a := range accounts {
		tokens = append(tokens, models.TokenBalance{Mint: a.Mint, UIAmount: decimal.NewFromFloat(a.UIAmount)})
	}
	snap := models.BalanceSnapshot{
		WalletAddress: wallet,
		SolBalance:    decimal.NewFromFloat(float64(lamports) / 1e9),
		Tokens:        tokens,
		Timestamp:     m.clock.Now(),
	}
	if m.bus != nil {
		m.bus.PublishBalance(models.BalanceEvent{WalletAddress: wallet, Balance: snap})
	}
	return nil
}
