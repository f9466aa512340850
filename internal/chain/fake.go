package chain

import "context"

// FakeClient is an in-memory Client for tests that drive the Monitor and
// TokenMeta without a live RPC endpoint.
type FakeClient struct {
	Balances    map[string]int64
	TokenAccts  map[string][]TokenAccount
	Signatures  map[string][]SignatureInfo
	Txs         map[string]*ParsedTx
	GetBalErr   error
	GetSigsErr  error
	GetTxErr    error
	GetAcctsErr error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Balances:   make(map[string]int64),
		TokenAccts: make(map[string][]TokenAccount),
		Signatures: make(map[string][]SignatureInfo),
		Txs:        make(map[string]*ParsedTx),
	}
}

func (f *FakeClient) GetBalance(ctx context.Context, address string) (int64, error) {
	if f.GetBalErr != nil {
		return 0, f.GetBalErr
	}
	return f.Balances[address], nil
}

func (f *FakeClient) GetParsedTokenAccounts(ctx context.Context, owner string) ([]TokenAccount, error) {
	if f.GetAcctsErr != nil {
		return nil, f.GetAcctsErr
	}
	return f.TokenAccts[owner], nil
}

func (f *FakeClient) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	if f.GetSigsErr != nil {
		return nil, f.GetSigsErr
	}
	sigs := f.Signatures[address]
	if limit > 0 && len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

func (f *FakeClient) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTx, error) {
	if f.GetTxErr != nil {
		return nil, f.GetTxErr
	}
	tx, ok := f.Txs[signature]
	if !ok {
		return nil, ErrRpc
	}
	return tx, nil
}

var _ Client = (*FakeClient)(nil)
