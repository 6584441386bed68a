package rpc

import (
	"math/big"
	"net/http"
	"strings"
)

type tokenApproveParams struct {
	// Spender defaults to the staking ledger's module account.
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type tokenTransferParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type tokenBalanceResult struct {
	Address         string `json:"address"`
	Symbol          string `json:"symbol"`
	Balance         string `json:"balance"`
	LedgerAllowance string `json:"ledgerAllowance"`
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	writeResult(w, req.ID, tokenBalanceResult{
		Address:         encodeAddress(addr),
		Symbol:          s.node.TokenSymbol(),
		Balance:         s.node.TokenBalance(addr).String(),
		LedgerAllowance: s.node.Allowance(addr, s.node.ModuleAddress()).String(),
	})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params tokenApproveParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	spender := s.node.ModuleAddress()
	if strings.TrimSpace(params.Spender) != "" {
		decoded, err := decodeBech32(params.Spender)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender", err.Error())
			return
		}
		spender = decoded
	}
	// Zero is a valid allowance and revokes approval.
	amount, ok := new(big.Int).SetString(strings.TrimSpace(params.Amount), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", nil)
		return
	}
	if err := s.node.Approve(r.Context(), caller, spender, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"owner":     encodeAddress(caller),
		"spender":   encodeAddress(spender),
		"allowance": s.node.Allowance(caller, spender).String(),
	})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params tokenTransferParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	to, err := decodeBech32(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Transfer(r.Context(), caller, to, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"from":    encodeAddress(caller),
		"to":      encodeAddress(to),
		"amount":  amount.String(),
		"balance": s.node.TokenBalance(caller).String(),
	})
}
