package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakeledger/cmd/internal/passphrase"
	"stakeledger/crypto"
	"stakeledger/rpc"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("STAKE_RPC_TOKEN"))
	outputFormat = "text"
	rpcCall      = callRPC
	httpClient   = &http.Client{Timeout: 15 * time.Second}
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "token":
		return runToken(rest, stdout, stderr)
	case "approve":
		return runApprove(rest, stdout, stderr)
	case "transfer":
		return runTransfer(rest, stdout, stderr)
	case "deposit":
		return runDeposit(rest, stdout, stderr)
	case "stake":
		return runAmountCommand("stake_stake", "stake", rest, stdout, stderr)
	case "unstake":
		return runAmountCommand("stake_unstake", "unstake", rest, stdout, stderr)
	case "update-pool":
		return runNoArgCommand("stake_updateRewardPool", true, rest, stdout, stderr)
	case "claim":
		return runNoArgCommand("stake_claimReward", true, rest, stdout, stderr)
	case "balance":
		return runAddressQuery("token_balanceOf", rest, stdout, stderr)
	case "stake-balance":
		return runAddressQuery("stake_getBalance", rest, stdout, stderr)
	case "position":
		return runAddressQuery("stake_getPosition", rest, stdout, stderr)
	case "totals":
		return runNoArgCommand("stake_getTotals", false, rest, stdout, stderr)
	case "rate":
		return runNoArgCommand("stake_calculateRewardPerToken", false, rest, stdout, stderr)
	case "history":
		return runHistory(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n%s\n", command, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("STAKE_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545/rpc"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--rpc", "--token", "--output":
		default:
			out = append(out, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", name)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--rpc":
			rpcEndpoint = value
		case "--token":
			rpcAuthToken = strings.TrimSpace(value)
		case "--output":
			format := strings.ToLower(strings.TrimSpace(value))
			if format != "text" && format != "json" && format != "yaml" {
				return nil, fmt.Errorf("unsupported output format %q", value)
			}
			outputFormat = format
		}
	}
	return out, nil
}

func callRPC(method string, params []interface{}, requireAuth bool) (json.RawMessage, int, *rpcError, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, 0, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return nil, 0, nil, fmt.Errorf("%s requires a bearer token; set STAKE_RPC_TOKEN or pass --token", method)
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, resp.StatusCode, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, resp.StatusCode, rpcResp.Error, nil
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	if len(err.Data) > 0 {
		fmt.Fprintf(w, "  %s\n", string(err.Data))
	}
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

// writeRPCResult renders a result in the selected output format.
func writeRPCResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	switch outputFormat {
	case "yaml":
		var decoded interface{}
		if err := json.Unmarshal(result, &decoded); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(decoded); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		_, err := fmt.Fprintln(w, string(result))
		return err
	default:
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, result, "", "  "); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, pretty.String())
		return err
	}
}

func invoke(method string, params []interface{}, requireAuth bool, stdout, stderr io.Writer) int {
	result, _, rpcErr, err := rpcCall(method, params, requireAuth)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	if err := writeRPCResult(stdout, result); err != nil {
		fmt.Fprintf(stderr, "Failed to render response: %v\n", err)
		return 1
	}
	return 0
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli generate-key <key-file>")
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to generate key: %v\n", err)
		return 1
	}
	if err := os.WriteFile(args[0], []byte(hex.EncodeToString(key.Bytes())), 0o600); err != nil {
		fmt.Fprintf(stderr, "Failed to write key file: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Address: %s\nKey written to %s\n", key.PubKey().Address().String(), args[0])
	return 0
}

var authSecret = passphrase.NewSource("STAKE_AUTH_SECRET", "RPC auth secret")

func runToken(args []string, stdout, stderr io.Writer) int {
	ttl := time.Hour
	issuer := "stakeledger"
	audience := ""
	var positional []string
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		if name != "--ttl" && name != "--issuer" && name != "--audience" {
			positional = append(positional, args[i])
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				fmt.Fprintf(stderr, "Error: missing value for %s\n", name)
				return 1
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--ttl":
			parsed, err := time.ParseDuration(value)
			if err != nil || parsed <= 0 {
				fmt.Fprintf(stderr, "Error: invalid --ttl %q\n", value)
				return 1
			}
			ttl = parsed
		case "--issuer":
			issuer = value
		case "--audience":
			audience = value
		}
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli token <address> [--ttl 1h] [--issuer stakeledger] [--audience aud]")
		return 1
	}
	addr, err := crypto.DecodeAddress(positional[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid address: %v\n", err)
		return 1
	}
	secret, err := authSecret.Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := rpc.SignToken(secret, issuer, audience, addr.String(), ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runApprove(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(stderr, "Usage: stake-cli approve <amount> [spender]")
		return 1
	}
	params := map[string]string{"amount": strings.TrimSpace(args[0])}
	if len(args) == 2 {
		params["spender"] = strings.TrimSpace(args[1])
	}
	return invoke("token_approve", []interface{}{params}, true, stdout, stderr)
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: stake-cli transfer <to> <amount>")
		return 1
	}
	params := map[string]string{"to": strings.TrimSpace(args[0]), "amount": strings.TrimSpace(args[1])}
	return invoke("token_transfer", []interface{}{params}, true, stdout, stderr)
}

// runDeposit transfers reward tokens to the ledger and starts streaming them.
func runDeposit(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli deposit <amount>")
		return 1
	}
	result, _, rpcErr, err := rpcCall("stake_getTotals", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	var totals struct {
		ModuleAddress string `json:"moduleAddress"`
	}
	if err := json.Unmarshal(result, &totals); err != nil || totals.ModuleAddress == "" {
		fmt.Fprintln(stderr, "Failed to resolve the ledger module address")
		return 1
	}
	params := map[string]string{"to": totals.ModuleAddress, "amount": strings.TrimSpace(args[0])}
	if code := invoke("token_transfer", []interface{}{params}, true, io.Discard, stderr); code != 0 {
		return code
	}
	return invoke("stake_updateRewardPool", nil, true, stdout, stderr)
}

func runAmountCommand(method, name string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "Usage: stake-cli %s <amount>\n", name)
		return 1
	}
	amount := strings.TrimSpace(args[0])
	if amount == "" {
		fmt.Fprintln(stderr, "Error: amount is required")
		return 1
	}
	return invoke(method, []interface{}{map[string]string{"amount": amount}}, true, stdout, stderr)
}

func runNoArgCommand(method string, requireAuth bool, args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintf(stderr, "Error: %s takes no arguments\n", method)
		return 1
	}
	return invoke(method, nil, requireAuth, stdout, stderr)
}

func runAddressQuery(method string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "Usage: stake-cli <command> <address>\n")
		return 1
	}
	addr := strings.TrimSpace(args[0])
	if addr == "" {
		fmt.Fprintln(stderr, "Error: address is required")
		return 1
	}
	return invoke(method, []interface{}{map[string]string{"address": addr}}, false, stdout, stderr)
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	params := map[string]interface{}{}
	var positional []string
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		if name != "--limit" {
			positional = append(positional, args[i])
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				fmt.Fprintln(stderr, "Error: missing value for --limit")
				return 1
			}
			value = args[i+1]
			i++
		}
		var limit int
		if _, err := fmt.Sscanf(value, "%d", &limit); err != nil || limit <= 0 {
			fmt.Fprintf(stderr, "Error: invalid --limit %q\n", value)
			return 1
		}
		params["limit"] = limit
	}
	if len(positional) > 1 {
		fmt.Fprintln(stderr, "Usage: stake-cli history [address] [--limit N]")
		return 1
	}
	if len(positional) == 1 {
		params["address"] = strings.TrimSpace(positional[0])
	}
	return invoke("stake_getHistory", []interface{}{params}, false, stdout, stderr)
}

func usage() string {
	return strings.TrimSpace(`Usage:
  stake-cli [--rpc URL] [--token JWT] [--output text|json|yaml] <command> [args]

Commands:
  generate-key <file>       Create a new account key
  token <address>           Sign a bearer token for address (needs STAKE_AUTH_SECRET)
  approve <amount> [spender] Allow the ledger (or spender) to pull tokens
  transfer <to> <amount>    Transfer tokens
  deposit <amount>          Send reward tokens to the ledger and start streaming them
  stake <amount>            Stake approved tokens
  unstake <amount>          Withdraw staked principal
  update-pool               Stream newly deposited rewards
  claim                     Claim accrued rewards
  balance <address>         Token wallet balance
  stake-balance <address>   Staked principal
  position <address>        Stake, checkpoint and earned rewards
  totals                    Pool totals
  rate                      Reward per token rates
  history [address]         Journaled ledger events`)
}
