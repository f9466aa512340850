// Package chain talks to a Solana JSON-RPC endpoint: balances, token
// accounts, signature history, and parsed transactions. All RPC failures
// surface as ErrRpc so callers can distinguish "the chain said no" from
// "the chain never answered."
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"analysis/internal/util"
)

// ErrRpc wraps any failure talking to the RPC endpoint, including both
// transport errors and a non-null JSON-RPC "error" field in the response.
var ErrRpc = errors.New("chain rpc error")

// TokenAccount is one parsed SPL token account returned by
// getParsedTokenAccounts.
type TokenAccount struct {
	Mint     string
	UIAmount float64
	Decimals int
}

// SignatureInfo is one entry from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	BlockTime *int64 // unix seconds, nil if unavailable
}

// TokenBalanceEntry is one entry in a parsed transaction's
// preTokenBalances/postTokenBalances array.
type TokenBalanceEntry struct {
	AccountIndex int
	Mint         string
	Owner        string
	UIAmount     float64
}

// ParsedTx is the subset of a getTransaction(encoding=jsonParsed) response
// the Monitor needs to classify a trade.
type ParsedTx struct {
	Err               bool // meta.err non-null
	Fee               int64
	PreBalances       []int64
	PostBalances      []int64
	PreTokenBalances  []TokenBalanceEntry
	PostTokenBalances []TokenBalanceEntry
	AccountKeys       []string // message.accountKeys, in order
}

// Client is the ChainClient contract the Monitor and TokenMeta components
// depend on.
type Client interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	GetParsedTokenAccounts(ctx context.Context, owner string) ([]TokenAccount, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error)
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTx, error)
}

// RPCClient is the production Client, backed by a single Solana RPC HTTP
// endpoint. Outstanding requests are capped by a buffered-channel semaphore
// so a growing wallet count cannot open unbounded concurrent connections.
type RPCClient struct {
	url        string
	httpClient *http.Client
	sem        chan struct{}
	retry      util.RetryConfig
}

const defaultMaxConcurrency = 16

// NewRPCClient builds a client against the given endpoint. maxConcurrency
// <= 0 falls back to the default of 16 in-flight requests.
func NewRPCClient(url string, maxConcurrency int) *RPCClient {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sem:        make(chan struct{}, maxConcurrency),
		retry:      util.DefaultRetryConfig(),
	}
}

func (c *RPCClient) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RPCClient) release() { <-c.sem }

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call acquires a semaphore slot once, then retries the request/decode
// round trip on transient transport failures — a non-null JSON-RPC "error"
// field is an application-level answer, not a transient failure, so it is
// never retried.
func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRpc, err)
	}
	defer c.release()

	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params}
	bs, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrRpc, err)
	}

	result, err := util.RetryWithResult(ctx, func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bs))
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", ErrRpc, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRpc, method, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			b, _ := io.ReadAll(resp.Body)
			retryable := resp.StatusCode/100 == 5
			return nil, &util.RetryableError{
				Err:       fmt.Errorf("%w: %s => %d: %s", ErrRpc, method, resp.StatusCode, string(b)),
				Retryable: retryable,
			}
		}

		var envelope struct {
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("%w: %s: decode: %v", ErrRpc, method, err)
		}
		if envelope.Error != nil {
			return nil, &util.RetryableError{
				Err:       fmt.Errorf("%w: %s: %d %s", ErrRpc, method, envelope.Error.Code, envelope.Error.Message),
				Retryable: false,
			}
		}
		return envelope.Result, nil
	}, &c.retry)
	if err != nil {
		if !errors.Is(err, ErrRpc) {
			return fmt.Errorf("%w: %s: %v", ErrRpc, method, err)
		}
		return err
	}

	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("%w: %s: unmarshal result: %v", ErrRpc, method, err)
		}
	}
	return nil
}

func (c *RPCClient) GetBalance(ctx context.Context, address string) (int64, error) {
	var out struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{address}, &out); err != nil {
		return 0, err
	}
	return int64(out.Value), nil
}

func (c *RPCClient) GetParsedTokenAccounts(ctx context.Context, owner string) ([]TokenAccount, error) {
	params := []any{
		owner,
		map[string]any{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
		map[string]any{"encoding": "jsonParsed"},
	}
	var out struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmount decimal0orFloat `json:"uiAmount"`
								Decimals int             `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &out); err != nil {
		return nil, err
	}
	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, v := range out.Value {
		info := v.Account.Data.Parsed.Info
		accounts = append(accounts, TokenAccount{
			Mint:     info.Mint,
			UIAmount: float64(info.TokenAmount.UIAmount),
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}

// decimal0orFloat tolerates the RPC returning null for uiAmount (token
// accounts with zero balance sometimes omit it) by unmarshaling through
// *float64 and defaulting nil to zero.
type decimal0orFloat float64

func (d *decimal0orFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = decimal0orFloat(f)
	return nil
}

func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	if limit <= 0 {
		limit = 15
	}
	params := []any{address, map[string]any{"limit": limit}}
	var out []struct {
		Signature string `json:"signature"`
		BlockTime *int64 `json:"blockTime"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", params, &out); err != nil {
		return nil, err
	}
	infos := make([]SignatureInfo, 0, len(out))
	for _, r := range out {
		infos = append(infos, SignatureInfo{Signature: r.Signature, BlockTime: r.BlockTime})
	}
	return infos, nil
}

func (c *RPCClient) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTx, error) {
	params := []any{
		signature,
		map[string]any{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0},
	}
	var out struct {
		Meta struct {
			Err               json.RawMessage `json:"err"`
			Fee               int64           `json:"fee"`
			PreBalances       []int64         `json:"preBalances"`
			PostBalances      []int64         `json:"postBalances"`
			PreTokenBalances  []tokenBalJSON  `json:"preTokenBalances"`
			PostTokenBalances []tokenBalJSON  `json:"postTokenBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []accountKeyJSON `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}
	if err := c.call(ctx, "getTransaction", params, &out); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(out.Transaction.Message.AccountKeys))
	for _, k := range out.Transaction.Message.AccountKeys {
		keys = append(keys, k.pubkey())
	}

	tx := &ParsedTx{
		Err:          len(out.Meta.Err) > 0 && string(out.Meta.Err) != "null",
		Fee:          out.Meta.Fee,
		PreBalances:  out.Meta.PreBalances,
		PostBalances: out.Meta.PostBalances,
		AccountKeys:  keys,
	}
	for _, b := range out.Meta.PreTokenBalances {
		tx.PreTokenBalances = append(tx.PreTokenBalances, b.entry())
	}
	for _, b := range out.Meta.PostTokenBalances {
		tx.PostTokenBalances = append(tx.PostTokenBalances, b.entry())
	}
	return tx, nil
}

// accountKeyJSON tolerates both legacy (plain string) and jsonParsed
// (object with a "pubkey" field) account-key encodings.
type accountKeyJSON struct {
	raw json.RawMessage
}

func (a *accountKeyJSON) UnmarshalJSON(b []byte) error {
	a.raw = append([]byte(nil), b...)
	return nil
}

func (a accountKeyJSON) pubkey() string {
	var s string
	if err := json.Unmarshal(a.raw, &s); err == nil {
		return s
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	_ = json.Unmarshal(a.raw, &obj)
	return obj.Pubkey
}

type tokenBalJSON struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UITokenAmount struct {
		UIAmount decimal0orFloat `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

func (t tokenBalJSON) entry() TokenBalanceEntry {
	return TokenBalanceEntry{
		AccountIndex: t.AccountIndex,
		Mint:         t.Mint,
		Owner:        t.Owner,
		UIAmount:     float64(t.UITokenAmount.UIAmount),
	}
}
