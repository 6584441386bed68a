package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type recordedCall struct {
	method      string
	params      []interface{}
	requireAuth bool
}

func stubRPC(t *testing.T, results map[string]string) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	prev := rpcCall
	rpcCall = func(method string, params []interface{}, requireAuth bool) (json.RawMessage, int, *rpcError, error) {
		*calls = append(*calls, recordedCall{method: method, params: params, requireAuth: requireAuth})
		if res, ok := results[method]; ok {
			return json.RawMessage(res), 200, nil, nil
		}
		return nil, 409, &rpcError{Code: -32030, Message: "stake: amount exceeds staked balance"}, nil
	}
	prevFormat := outputFormat
	t.Cleanup(func() {
		rpcCall = prev
		outputFormat = prevFormat
	})
	return calls
}

func TestStakeCommandSendsAmount(t *testing.T) {
	calls := stubRPC(t, map[string]string{"stake_stake": `{"amount":"5"}`})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"stake", "5"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if len(*calls) != 1 || (*calls)[0].method != "stake_stake" || !(*calls)[0].requireAuth {
		t.Fatalf("unexpected calls %+v", *calls)
	}
	params := (*calls)[0].params[0].(map[string]string)
	if params["amount"] != "5" {
		t.Fatalf("unexpected params %+v", params)
	}
	if !strings.Contains(stdout.String(), `"amount": "5"`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRPCErrorIsReported(t *testing.T) {
	stubRPC(t, nil)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"unstake", "1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "RPC error -32030") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestDepositTransfersToModuleThenUpdatesPool(t *testing.T) {
	calls := stubRPC(t, map[string]string{
		"stake_getTotals":        `{"moduleAddress":"stk1module"}`,
		"token_transfer":         `{}`,
		"stake_updateRewardPool": `{"deposited":"100"}`,
	})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"deposit", "100"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var methods []string
	for _, c := range *calls {
		methods = append(methods, c.method)
	}
	if strings.Join(methods, ",") != "stake_getTotals,token_transfer,stake_updateRewardPool" {
		t.Fatalf("unexpected call order %v", methods)
	}
	transfer := (*calls)[1].params[0].(map[string]string)
	if transfer["to"] != "stk1module" || transfer["amount"] != "100" {
		t.Fatalf("unexpected transfer params %+v", transfer)
	}
}

func TestYAMLOutput(t *testing.T) {
	stubRPC(t, map[string]string{"stake_getTotals": `{"totalStaked":"10","totalStakers":1}`})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--output", "yaml", "totals"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `totalStaked: "10"`) {
		t.Fatalf("unexpected yaml %q", stdout.String())
	}
}

func TestHistoryLimitFlag(t *testing.T) {
	calls := stubRPC(t, map[string]string{"stake_getHistory": `[]`})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"history", "--limit=5"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	params := (*calls)[0].params[0].(map[string]interface{})
	if params["limit"] != 5 {
		t.Fatalf("unexpected params %+v", params)
	}
	if code := run([]string{"history", "--limit", "zero"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected invalid limit to fail")
	}
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"bogus"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1")
	}
}
