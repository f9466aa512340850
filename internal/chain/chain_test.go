package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetBalanceParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":1500000000}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, 4)
	lamports, err := c.GetBalance(context.Background(), "Wallet1")
	require.NoError(t, err)
	require.Equal(t, int64(1500000000), lamports)
}

func TestRpcErrorFieldSurfacesAsErrRpc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, 4)
	_, err := c.GetBalance(context.Background(), "Wallet1")
	require.ErrorIs(t, err, ErrRpc)
}

func TestHttpFailureSurfacesAsErrRpc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, 4)
	_, err := c.GetSignaturesForAddress(context.Background(), "Wallet1", 15)
	require.ErrorIs(t, err, ErrRpc)
}

func TestGetParsedTransactionExtractsMetaAndAccountKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{
			"meta":{
				"err":null,
				"fee":5000,
				"preBalances":[1000000000,2000000000],
				"postBalances":[998995000,2001000000],
				"preTokenBalances":[{"accountIndex":2,"mint":"MintA","owner":"Wallet1","uiTokenAmount":{"uiAmount":10.0}}],
				"postTokenBalances":[{"accountIndex":2,"mint":"MintA","owner":"Wallet1","uiTokenAmount":{"uiAmount":5.0}}]
			},
			"transaction":{"message":{"accountKeys":[{"pubkey":"Wallet1"},{"pubkey":"Wallet2"}]}}
		}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, 4)
	tx, err := c.GetParsedTransaction(context.Background(), "sig1")
	require.NoError(t, err)
	require.False(t, tx.Err)
	require.EqualValues(t, 5000, tx.Fee)
	require.Equal(t, []string{"Wallet1", "Wallet2"}, tx.AccountKeys)
	require.Len(t, tx.PreTokenBalances, 1)
	require.Equal(t, 5.0, tx.PostTokenBalances[0].UIAmount)
}

func TestGetParsedTransactionDetectsNonNullErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{
			"meta":{"err":{"InstructionError":[0,"Custom"]},"fee":5000,"preBalances":[],"postBalances":[]},
			"transaction":{"message":{"accountKeys":[]}}
		}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, 4)
	tx, err := c.GetParsedTransaction(context.Background(), "sig-failed")
	require.NoError(t, err)
	require.True(t, tx.Err)
}

func TestConcurrencyIsBoundedBySemaphore(t *testing.T) {
	inFlight := make(chan struct{}, 100)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight <- struct{}{}
		<-release
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":1}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, 2)
	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			c.GetBalance(context.Background(), "W")
			done <- struct{}{}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, len(inFlight), 2)
	close(release)
	for i := 0; i < 5; i++ {
		<-done
	}
}
