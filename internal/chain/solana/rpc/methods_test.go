package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRequest(t *testing.T, r *http.Request) Request {
	t.Helper()
	var req Request
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestGetHealth(t *testing.T) {
	client := methodTestClient(func(r *http.Request) (*http.Response, error) {
		req := decodeRequest(t, r)
		assert.Equal(t, "getHealth", req.Method)
		return jsonHTTPResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"ok"}`), nil
	})

	require.NoError(t, client.GetHealth(context.Background()))
}

func TestGetHealth_NotOK(t *testing.T) {
	client := methodTestClient(func(*http.Request) (*http.Response, error) {
		return jsonHTTPResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"behind"}`), nil
	})

	err := client.GetHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"behind"`)
}

func TestGetSlot(t *testing.T) {
	client := methodTestClient(func(r *http.Request) (*http.Response, error) {
		req := decodeRequest(t, r)
		assert.Equal(t, "getSlot", req.Method)
		require.Len(t, req.Params, 1)
		assert.Equal(t, map[string]interface{}{"commitment": "confirmed"}, req.Params[0])
		return jsonHTTPResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":250000000}`), nil
	})

	slot, err := client.GetSlot(context.Background(), "confirmed")
	require.NoError(t, err)
	assert.Equal(t, int64(250000000), slot)
}

func TestGetSignaturesForAddress(t *testing.T) {
	client := methodTestClient(func(r *http.Request) (*http.Response, error) {
		req := decodeRequest(t, r)
		assert.Equal(t, "getSignaturesForAddress", req.Method)
		require.Len(t, req.Params, 2)
		assert.Equal(t, "addr1", req.Params[0])
		cfg := req.Params[1].(map[string]interface{})
		assert.Equal(t, float64(1), cfg["limit"])
		assert.Equal(t, "confirmed", cfg["commitment"])
		assert.NotContains(t, cfg, "before")
		return jsonHTTPResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":[{"signature":"sig1","slot":10,"blockTime":1700000000,"err":null}]}`), nil
	})

	sigs, err := client.GetSignaturesForAddress(context.Background(), "addr1", &GetSignaturesOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "sig1", sigs[0].Signature)
	assert.Equal(t, int64(10), sigs[0].Slot)
	require.NotNil(t, sigs[0].BlockTime)
	assert.Equal(t, int64(1700000000), *sigs[0].BlockTime)
}

func TestGetTokenAccountsByOwner(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":99},"value":[
		{"pubkey":"acct1","account":{"lamports":2039280,"owner":"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA","data":{"program":"spl-token","parsed":{"type":"account","info":{
			"mint":"mintA","owner":"walletX","state":"initialized","isNative":false,
			"tokenAmount":{"amount":"1500000","decimals":6,"uiAmount":1.5,"uiAmountString":"1.5"}}}}}}
	]}}`
	client := methodTestClient(func(r *http.Request) (*http.Response, error) {
		req := decodeRequest(t, r)
		assert.Equal(t, "getTokenAccountsByOwner", req.Method)
		require.Len(t, req.Params, 3)
		assert.Equal(t, "walletX", req.Params[0])
		assert.Equal(t, map[string]interface{}{"programId": TokenProgramID}, req.Params[1])
		assert.Equal(t, map[string]interface{}{"encoding": "jsonParsed", "commitment": "confirmed"}, req.Params[2])
		return jsonHTTPResponse(http.StatusOK, body), nil
	})

	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "walletX", TokenProgramID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	info := accounts[0].Account.Data.Parsed.Info
	assert.Equal(t, "acct1", accounts[0].Pubkey)
	assert.Equal(t, "mintA", info.Mint)
	assert.Equal(t, "1500000", info.TokenAmount.Amount)
	assert.Equal(t, uint8(6), info.TokenAmount.Decimals)
}

func TestGetTokenAccountsByOwner_RPCError(t *testing.T) {
	client := methodTestClient(func(*http.Request) (*http.Response, error) {
		return jsonHTTPResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid param: could not find account"}}`), nil
	})

	_, err := client.GetTokenAccountsByOwner(context.Background(), "walletX", Token2022ProgramID)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Contains(t, err.Error(), Token2022ProgramID)
}
