package tokenmeta

import (
	"context"
	"testing"

	"analysis/internal/chain"
	"analysis/internal/models"
	"analysis/internal/store"

	"github.com/stretchr/testify/require"
)

func TestNativeMintIsHardcodedToSol(t *testing.T) {
	r := New(store.NewMemStore(), chain.NewFakeClient(), nil)
	info, err := r.Get(context.Background(), models.NativeMint)
	require.NoError(t, err)
	require.Equal(t, "SOL", info.Symbol)
}

func TestGetFallsThroughToChainAndSynthesizesSymbol(t *testing.T) {
	fake := chain.NewFakeClient()
	fake.TokenAccts["MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAZZZ"] = nil

	r := New(store.NewMemStore(), fake, nil)
	info, err := r.Get(context.Background(), "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAZZZ")
	require.NoError(t, err)
	require.Equal(t, "Min...ZZZ", info.Symbol)
}

func TestGetPopulatesCacheAndStoreOnFirstResolve(t *testing.T) {
	st := store.NewMemStore()
	r := New(st, chain.NewFakeClient(), nil)

	_, err := r.Get(context.Background(), "MintBBB")
	require.NoError(t, err)

	row, err := st.GetTokenMeta(context.Background(), "MintBBB")
	require.NoError(t, err)
	require.NotNil(t, row)

	// Second call should be served from the in-memory cache without
	// touching the store or chain again.
	info2, err := r.Get(context.Background(), "MintBBB")
	require.NoError(t, err)
	require.Equal(t, row.Symbol, info2.Symbol)
}

func TestSetPriceUpdatesStoreAndCache(t *testing.T) {
	st := store.NewMemStore()
	r := New(st, chain.NewFakeClient(), nil)
	ctx := context.Background()

	_, err := r.Get(ctx, "MintCCC")
	require.NoError(t, err)

	require.NoError(t, r.SetPrice(ctx, "MintCCC", 1.23))

	row, err := st.GetTokenMeta(ctx, "MintCCC")
	require.NoError(t, err)
	require.NotNil(t, row.LastPrice)
	require.Equal(t, 1.23, *row.LastPrice)
}

func TestSetPriceCreatesRowWhenMintUnseen(t *testing.T) {
	st := store.NewMemStore()
	r := New(st, chain.NewFakeClient(), nil)

	require.NoError(t, r.SetPrice(context.Background(), "MintDDD", 5.0))

	row, err := st.GetTokenMeta(context.Background(), "MintDDD")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, 5.0, *row.LastPrice)
}
