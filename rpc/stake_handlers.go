package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	coreerrors "stakeledger/core/errors"
	"stakeledger/crypto"
	"stakeledger/journal"
)

type stakeAmountParams struct {
	Amount string `json:"amount"`
}

type addressParams struct {
	Address string `json:"address"`
}

type historyParams struct {
	Address string `json:"address,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type stakeBalanceResult struct {
	Address string `json:"address"`
	Stake   string `json:"stake"`
}

type stakePositionResult struct {
	Address    string `json:"address"`
	Stake      string `json:"stake"`
	Checkpoint string `json:"checkpoint"`
	Earned     string `json:"earned"`
}

type stakeTotalsResult struct {
	ModuleAddress         string `json:"moduleAddress"`
	TokenSymbol           string `json:"tokenSymbol"`
	TotalStaked           string `json:"totalStaked"`
	TotalStakers          uint64 `json:"totalStakers"`
	RewardPerTokenStored  string `json:"rewardPerTokenStored"`
	EmissionRate          string `json:"emissionRate"`
	RatePerToken          string `json:"ratePerToken"`
	Unallocated           string `json:"unallocated"`
	Distributed           string `json:"distributed"`
	LastUpdate            int64  `json:"lastUpdate"`
	RewardDurationSeconds uint64 `json:"rewardDurationSeconds"`
	StateRoot             string `json:"stateRoot"`
}

type rewardPerTokenResult struct {
	RatePerToken   string `json:"ratePerToken"`
	RewardPerToken string `json:"rewardPerToken"`
}

type stakeMutationResult struct {
	Caller   string              `json:"caller"`
	Amount   string              `json:"amount,omitempty"`
	Position stakePositionResult `json:"position"`
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func decodeBech32(addr string) ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Raw(), nil
}

func encodeAddress(raw [20]byte) string {
	return crypto.AddressFromRaw(raw).String()
}

// decodeParams unmarshals the single parameter object. When optional is set a
// missing object leaves dst untouched.
func decodeParams(w http.ResponseWriter, req *RPCRequest, dst interface{}, optional bool) bool {
	if len(req.Params) == 0 && optional {
		return true
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func requireNoParams(w http.ResponseWriter, req *RPCRequest) bool {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unexpected parameters", nil)
		return false
	}
	return true
}

// writeLedgerError maps ledger failures onto JSON-RPC error codes.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, coreerrors.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, coreerrors.ErrInsufficientStake),
		errors.Is(err, coreerrors.ErrInsufficientBalance),
		errors.Is(err, coreerrors.ErrInsufficientAllowance):
		writeError(w, http.StatusConflict, id, codeInsufficient, err.Error(), nil)
	case errors.Is(err, coreerrors.ErrArithmeticOverflow), errors.Is(err, coreerrors.ErrTokenOverflow):
		writeError(w, http.StatusUnprocessableEntity, id, codeOverflow, err.Error(), nil)
	case errors.Is(err, coreerrors.ErrLedgerImbalance), errors.Is(err, coreerrors.ErrInvalidState):
		writeError(w, http.StatusInternalServerError, id, codeInvariant, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "ledger operation failed", err.Error())
	}
}

func (s *Server) positionResult(addr [20]byte) (stakePositionResult, error) {
	pos, err := s.node.Position(addr)
	if err != nil {
		return stakePositionResult{}, err
	}
	return stakePositionResult{
		Address:    encodeAddress(addr),
		Stake:      pos.Stake.String(),
		Checkpoint: pos.Checkpoint.String(),
		Earned:     pos.Earned.String(),
	}, nil
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleStakeMutation(w, r, req, true)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleStakeMutation(w, r, req, false)
}

func (s *Server) handleStakeMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest, staking bool) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params stakeAmountParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if staking {
		err = s.node.Stake(r.Context(), caller, amount)
	} else {
		err = s.node.Unstake(r.Context(), caller, amount)
	}
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	position, err := s.positionResult(caller)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stakeMutationResult{
		Caller:   encodeAddress(caller),
		Amount:   amount.String(),
		Position: position,
	})
}

func (s *Server) handleUpdateRewardPool(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	if !requireNoParams(w, req) {
		return
	}
	deposited, err := s.node.UpdateRewardPool(r.Context(), caller)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"deposited": deposited.String(),
		"totals":    s.totalsResult(),
	})
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	if !requireNoParams(w, req) {
		return
	}
	paid, err := s.node.ClaimReward(r.Context(), caller)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	position, err := s.positionResult(caller)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stakeMutationResult{
		Caller:   encodeAddress(caller),
		Amount:   paid.String(),
		Position: position,
	})
}

func (s *Server) handleGetStakeBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	writeResult(w, req.ID, stakeBalanceResult{
		Address: encodeAddress(addr),
		Stake:   s.node.StakeBalance(addr).String(),
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	position, err := s.positionResult(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, position)
}

func (s *Server) totalsResult() stakeTotalsResult {
	totals := s.node.Totals()
	return stakeTotalsResult{
		ModuleAddress:         encodeAddress(s.node.ModuleAddress()),
		TokenSymbol:           s.node.TokenSymbol(),
		TotalStaked:           totals.TotalStaked.String(),
		TotalStakers:          totals.TotalStakers,
		RewardPerTokenStored:  totals.RewardPerTokenStored.String(),
		EmissionRate:          totals.EmissionRate.String(),
		RatePerToken:          totals.RatePerToken.String(),
		Unallocated:           totals.Unallocated.String(),
		Distributed:           totals.Distributed.String(),
		LastUpdate:            totals.LastUpdate.Unix(),
		RewardDurationSeconds: totals.RewardDurationSeconds,
		StateRoot:             s.node.Root().Hex(),
	}
}

func (s *Server) handleGetTotals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	writeResult(w, req.ID, s.totalsResult())
}

func (s *Server) handleCalculateRewardPerToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	rate, accumulator, err := s.node.RewardRates()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, rewardPerTokenResult{
		RatePerToken:   rate.String(),
		RewardPerToken: accumulator.String(),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params historyParams
	if !decodeParams(w, req, &params, true) {
		return
	}
	account := ""
	if strings.TrimSpace(params.Address) != "" {
		addr, err := decodeBech32(params.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
			return
		}
		account = encodeAddress(addr)
	}
	if params.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "limit must not be negative", nil)
		return
	}
	entries, err := s.node.History(r.Context(), account, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load history", err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeResult(w, req.ID, entries)
}
