package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"stakeledger/core"
	"stakeledger/core/state"
	"stakeledger/crypto"
	"stakeledger/journal"
	"stakeledger/storage"
)

const (
	testSecret   = "rpc-test-secret-0123456789"
	testIssuer   = "rpc-tests"
	testAudience = "unit-tests"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func tokens(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), unit) }

func account(b byte) [20]byte {
	var a [20]byte
	a[0] = 0xB0
	a[19] = b
	return a
}

type harness struct {
	t      *testing.T
	node   *core.Node
	server *Server
	clock  *testClock
}

func newHarness(t *testing.T, cfg ServerConfig) *harness {
	t.Helper()
	j, err := journal.Open(journal.MemoryDSN("rpc_" + uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	node, err := core.NewNode(core.NodeConfig{
		TokenSymbol:    "STK",
		RewardDuration: 30 * 24 * time.Hour,
		Clock:          clock,
		Store:          state.NewStore(storage.NewMemDB()),
		Journal:        j,
	})
	require.NoError(t, err)
	require.NoError(t, node.ApplyGenesis(context.Background(), []core.Allocation{
		{Account: account(1), Amount: tokens(10_000_000)},
		{Account: account(2), Amount: tokens(1_000)},
	}))
	if cfg.Auth.HMACSecret == "" {
		cfg.Auth = AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: testAudience}
	}
	return &harness{t: t, node: node, server: NewServer(node, cfg, nil), clock: clock}
}

func (h *harness) token(raw [20]byte) string {
	h.t.Helper()
	tok, err := SignToken(testSecret, testIssuer, testAudience, crypto.AddressFromRaw(raw).String(), time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) call(bearer, method string, params ...interface{}) (int, RPCResponse) {
	h.t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(h.t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  raw,
	})
	require.NoError(h.t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	var resp RPCResponse
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error)
	out, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "unexpected result %T", resp.Result)
	return out
}

func TestStakeFlowOverRPC(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	owner, alice := account(1), account(2)
	aliceAddr := crypto.AddressFromRaw(alice).String()
	moduleAddr := crypto.AddressFromRaw(h.node.ModuleAddress()).String()

	code, resp := h.call(h.token(alice), "token_approve", map[string]string{"amount": tokens(1_000).String()})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, moduleAddr, resultMap(t, resp)["spender"])

	code, resp = h.call(h.token(alice), "stake_stake", map[string]string{"amount": tokens(100).String()})
	require.Equal(t, http.StatusOK, code)
	position := resultMap(t, resp)["position"].(map[string]interface{})
	require.Equal(t, tokens(100).String(), position["stake"])

	_, resp = h.call(h.token(owner), "token_transfer", map[string]string{"to": moduleAddr, "amount": tokens(2_592_000).String()})
	require.Nil(t, resp.Error)
	_, resp = h.call(h.token(owner), "stake_updateRewardPool")
	require.Equal(t, tokens(2_592_000).String(), resultMap(t, resp)["deposited"])

	h.clock.Advance(100 * time.Second)
	_, resp = h.call("", "stake_getPosition", map[string]string{"address": aliceAddr})
	require.Equal(t, tokens(100).String(), resultMap(t, resp)["earned"])

	_, resp = h.call("", "stake_calculateRewardPerToken")
	rates := resultMap(t, resp)
	require.Equal(t, new(big.Int).Div(unit, big.NewInt(100)).String(), rates["ratePerToken"])

	_, resp = h.call(h.token(alice), "stake_claimReward")
	require.Equal(t, tokens(100).String(), resultMap(t, resp)["amount"])

	_, resp = h.call(h.token(alice), "stake_unstake", map[string]string{"amount": tokens(100).String()})
	require.Nil(t, resp.Error)

	_, resp = h.call("", "token_balanceOf", map[string]string{"address": aliceAddr})
	require.Equal(t, tokens(1_100).String(), resultMap(t, resp)["balance"])

	_, resp = h.call("", "stake_getTotals")
	totals := resultMap(t, resp)
	require.Equal(t, "0", totals["totalStaked"])
	require.EqualValues(t, 0, totals["totalStakers"])
	require.Equal(t, h.node.Root().Hex(), totals["stateRoot"])

	_, resp = h.call("", "stake_getHistory", map[string]interface{}{"address": aliceAddr, "limit": 2})
	entries, ok := resp.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 2)
}

func TestMutationsRequireAuth(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	for _, method := range []string{"stake_stake", "stake_unstake", "stake_updateRewardPool", "stake_claimReward", "token_approve", "token_transfer"} {
		code, resp := h.call("", method, map[string]string{"amount": "1"})
		require.Equal(t, http.StatusUnauthorized, code, method)
		require.NotNil(t, resp.Error, method)
		require.Equal(t, codeUnauthorized, resp.Error.Code, method)
	}

	forged, err := SignToken("some-other-secret-value", testIssuer, testAudience, crypto.AddressFromRaw(account(2)).String(), time.Hour)
	require.NoError(t, err)
	code, _ := h.call(forged, "stake_claimReward")
	require.Equal(t, http.StatusUnauthorized, code)

	expired, err := SignToken(testSecret, testIssuer, testAudience, crypto.AddressFromRaw(account(2)).String(), -time.Hour)
	require.NoError(t, err)
	code, _ = h.call(expired, "stake_claimReward")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestLedgerErrorsMapToCodes(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	alice := account(2)

	code, resp := h.call(h.token(alice), "stake_stake", map[string]string{"amount": tokens(5).String()})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, codeInsufficient, resp.Error.Code)

	code, resp = h.call(h.token(alice), "stake_unstake", map[string]string{"amount": "1"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, codeInsufficient, resp.Error.Code)

	code, resp = h.call(h.token(alice), "stake_stake", map[string]string{"amount": "0"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	code, resp = h.call("", "stake_getBalance", map[string]string{"address": "not-an-address"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	code, resp = h.call("", "stake_nope")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	h := newHarness(t, ServerConfig{RequestsPerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		code, _ := h.call("", "stake_getTotals")
		require.Equal(t, http.StatusOK, code)
	}
	code, resp := h.call("", "stake_getTotals")
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
