// Package pushhub is the WebSocket fan-out layer: one hub, many connections,
// each tracking its own subscribed-wallet set. Trade/balance/pnl events from
// the Monitor and PnL Aggregator reach subscribers as typed frames, and every
// event also broadcasts a global snapshot update so the dashboard can
// re-rank traders.
package pushhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"analysis/internal/clock"
	"analysis/internal/eventbus"
	"analysis/internal/models"
	"analysis/internal/store"
	"analysis/internal/tokenmeta"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Kind enumerates the frame types exchanged over the push channel.
type Kind string

const (
	KindSubscribeWallet   Kind = "SUBSCRIBE_WALLET"
	KindUnsubscribeWallet Kind = "UNSUBSCRIBE_WALLET"
	KindTradeUpdate       Kind = "TRADE_UPDATE"
	KindBalanceUpdate     Kind = "BALANCE_UPDATE"
	KindPnlUpdate         Kind = "PNL_UPDATE"
	KindUsersList         Kind = "USERS_LIST"
	KindUsersUpdate       Kind = "USERS_UPDATE"
	KindError             Kind = "ERROR"
)

// Frame is the wire envelope: {type, data}.
type Frame struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connection's state: its socket and the set of wallets it
// currently subscribes to.
type client struct {
	conn              *websocket.Conn
	send              chan []byte
	subscribedWallets map[string]struct{}
	mu                sync.Mutex
}

func (c *client) isSubscribed(wallet string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribedWallets[wallet]
	return ok
}

func (c *client) subscribe(wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribedWallets[wallet] = struct{}{}
}

func (c *client) unsubscribe(wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribedWallets, wallet)
}

// Hub is the push server: a mutex-guarded client set, an event loop fed by
// the eventbus that broadcasts to it, and HTTP/WS serving via gin.
type Hub struct {
	store     store.Store
	tokenmeta *tokenmeta.Resolver
	clock     clock.Clock

	mu      sync.RWMutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st store.Store, tm *tokenmeta.Resolver, clk clock.Clock) *Hub {
	return &Hub{
		store:     st,
		tokenmeta: tm,
		clock:     clk,
		clients:   make(map[*client]struct{}),
	}
}

// Router builds the gin engine: the WS upgrade route, CORS, and /healthz.
func (h *Hub) Router(corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	cfg := cors.DefaultConfig()
	if len(corsOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = corsOrigins
	}
	cfg.AllowMethods = []string{"GET"}
	r.Use(cors.New(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": h.clock.Now()})
	})
	r.GET("/ws", h.handleUpgrade)
	return r
}

// Start wires the hub up to the event bus: every published Trade/Balance/Pnl
// event is translated into per-wallet frames and a global snapshot update.
func (h *Hub) Start(bus *eventbus.Bus) {
	h.ctx, h.cancel = context.WithCancel(context.Background())

	tradeCh, unsubTrade := bus.SubscribeTrades()
	balCh, unsubBal := bus.SubscribeBalances()
	pnlCh, unsubPnl := bus.SubscribePnl()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer unsubTrade()
		defer unsubBal()
		defer unsubPnl()
		for {
			select {
			case e, ok := <-tradeCh:
				if !ok {
					return
				}
				h.onTrade(e)
			case e, ok := <-balCh:
				if !ok {
					return
				}
				h.onBalance(e)
			case e, ok := <-pnlCh:
				if !ok {
					return
				}
				h.onPnl(e)
			case <-h.ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) onTrade(e models.TradeEvent) {
	h.fanOut(e.WalletAddress, Frame{Type: KindTradeUpdate, Data: e.Trade})
	h.broadcastSnapshot(e.WalletAddress)
}

func (h *Hub) onBalance(e models.BalanceEvent) {
	h.fanOut(e.WalletAddress, Frame{Type: KindBalanceUpdate, Data: e.Balance})
	h.broadcastSnapshot(e.WalletAddress)
}

func (h *Hub) onPnl(e models.PnlEvent) {
	h.fanOut(e.WalletAddress, Frame{Type: KindPnlUpdate, Data: e.DailyPnl})
	h.broadcastSnapshot(e.WalletAddress)
}

// fanOut sends frame only to connections subscribed to wallet.
func (h *Hub) fanOut(wallet string, frame Frame) {
	bs, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[pushhub] marshal frame: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isSubscribed(wallet) {
			h.send(c, bs)
		}
	}
}

// broadcastSnapshot sends a USERS_UPDATE with the affected wallet's full
// snapshot to every connected client, regardless of subscription.
func (h *Hub) broadcastSnapshot(wallet string) {
	snap, err := h.buildSnapshot(context.Background(), wallet)
	if err != nil {
		log.Printf("[pushhub] build snapshot for %s: %v", wallet, err)
		return
	}
	bs, err := json.Marshal(Frame{Type: KindUsersUpdate, Data: snap})
	if err != nil {
		log.Printf("[pushhub] marshal snapshot: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.send(c, bs)
	}
}

// send is a non-blocking best-effort write; a full buffer drops the frame
// (the client stays registered), mirroring the teacher's broadcast-with-select
// idiom. A client whose socket has closed is already out of the client set,
// since readLoop removes it before closing its send channel.
func (h *Hub) send(c *client, bs []byte) {
	select {
	case c.send <- bs:
	default:
	}
}

func (h *Hub) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[pushhub] upgrade: %v", err)
		return
	}
	cl := &client{
		conn:              conn,
		send:              make(chan []byte, 256),
		subscribedWallets: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	h.sendUsersList(cl)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.readLoop(cl)
	}()
	go func() {
		defer wg.Done()
		h.writeLoop(cl)
	}()
	wg.Wait()

	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
	}()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(c, msg)
	}
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

type inboundFrame struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type walletPayload struct {
	WalletAddress string `json:"walletAddress"`
}

func (h *Hub) handleMessage(c *client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(c, "Invalid message format")
		return
	}

	switch frame.Type {
	case KindSubscribeWallet:
		var p walletPayload
		if json.Unmarshal(frame.Data, &p) != nil || p.WalletAddress == "" {
			h.sendError(c, "Invalid message format")
			return
		}
		c.subscribe(p.WalletAddress)
		h.reply(c, KindSubscribeWallet, gin.H{"walletAddress": p.WalletAddress, "success": true})
	case KindUnsubscribeWallet:
		var p walletPayload
		if json.Unmarshal(frame.Data, &p) != nil || p.WalletAddress == "" {
			h.sendError(c, "Invalid message format")
			return
		}
		c.unsubscribe(p.WalletAddress)
		h.reply(c, KindUnsubscribeWallet, gin.H{"walletAddress": p.WalletAddress, "success": true})
	default:
		h.sendError(c, fmt.Sprintf("unknown message type: %s", frame.Type))
	}
}

func (h *Hub) reply(c *client, kind Kind, data any) {
	bs, err := json.Marshal(Frame{Type: kind, Data: data})
	if err != nil {
		return
	}
	h.send(c, bs)
}

func (h *Hub) sendError(c *client, message string) {
	h.reply(c, KindError, gin.H{"message": message})
}

// sendUsersList sends the initial USERS_LIST snapshot for every known user,
// ordered by lastActive descending.
func (h *Hub) sendUsersList(c *client) {
	users, err := h.allUsers(context.Background())
	if err != nil {
		log.Printf("[pushhub] list users: %v", err)
		h.sendError(c, "failed to load users")
		return
	}
	sort.Slice(users, func(i, j int) bool {
		li, lj := users[i].LastActive, users[j].LastActive
		if li == nil {
			return false
		}
		if lj == nil {
			return true
		}
		return li.After(*lj)
	})

	snaps := make([]models.Snapshot, 0, len(users))
	for _, u := range users {
		snap, err := h.buildSnapshotForUser(context.Background(), u)
		if err != nil {
			log.Printf("[pushhub] build snapshot for %s: %v", u.WalletAddress, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	h.reply(c, KindUsersList, snaps)
}

// allUsers returns every known user, unfiltered (spec decision: USERS_LIST
// is not restricted to currently-live wallets).
func (h *Hub) allUsers(ctx context.Context) ([]models.User, error) {
	return h.store.ListAllUsers(ctx)
}

func (h *Hub) buildSnapshot(ctx context.Context, wallet string) (models.Snapshot, error) {
	u, err := h.store.GetUserByWallet(ctx, wallet)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return models.Snapshot{}, fmt.Errorf("unknown wallet %s", wallet)
	}
	return h.buildSnapshotForUser(ctx, *u)
}

// buildSnapshotForUser assembles {user, lastTrade, dailyPnl, balance} for
// one user: latestTrade(wallet), getDailyPnl(wallet, today), and resolved
// token metadata for both legs of the latest trade.
func (h *Hub) buildSnapshotForUser(ctx context.Context, u models.User) (models.Snapshot, error) {
	snap := models.Snapshot{User: u}

	trade, err := h.store.LatestTrade(ctx, u.WalletAddress)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("latest trade: %w", err)
	}
	if trade != nil {
		tradeSnap := models.TradeSnapshot{Trade: *trade}
		if h.tokenmeta != nil {
			if info, err := h.tokenmeta.Get(ctx, trade.TokenA); err == nil {
				tradeSnap.TokenAMeta = models.TokenMeta{Address: info.Address, Symbol: info.Symbol, Name: info.Name}
			}
			if info, err := h.tokenmeta.Get(ctx, trade.TokenB); err == nil {
				tradeSnap.TokenBMeta = models.TokenMeta{Address: info.Address, Symbol: info.Symbol, Name: info.Name}
			}
		}
		snap.LastTrade = &tradeSnap
	}

	pnlRow, err := h.store.GetDailyPnl(ctx, u.WalletAddress, clock.DayStart(h.clock.Now()))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("get daily pnl: %w", err)
	}
	snap.DailyPnl = pnlRow
	if pnlRow != nil {
		snap.Balance = pnlRow.EndBalance
	}
	return snap, nil
}
