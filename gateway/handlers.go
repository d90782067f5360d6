package gateway

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sagemarket/native/collateral"
	"sagemarket/native/fees"
	"sagemarket/native/mining"
	"sagemarket/native/orderbook"
	"sagemarket/native/vesting"
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var cursor uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("gateway: invalid cursor %q", raw))
			return
		}
		cursor = parsed
	}
	evts, next := s.engines.Feed.Since(cursor)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": evts,
		"cursor": next,
	})
}

func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"epoch": s.engines.Epochs.Current()})
}

func (s *Server) handleEpochAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := s.engines.Epochs.Advance(caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"epoch": next})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if caller != s.admin {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "gateway: only admin may pause"})
		return
	}
	module := strings.TrimSpace(req.Module)
	if module == "" {
		writeError(w, fmt.Errorf("gateway: module required"))
		return
	}
	s.engines.Pauses.SetPaused(module, req.Paused)
	writeJSON(w, http.StatusOK, map[string]interface{}{"module": module, "paused": req.Paused})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	sage, err := s.engines.Bank.BalanceOf(addr, "SAGE")
	if err != nil {
		writeError(w, err)
		return
	}
	usdc, err := s.engines.Bank.BalanceOf(addr, "USDC")
	if err != nil {
		writeError(w, err)
		return
	}
	stake, err := s.engines.Bank.StakeOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": hexAddress(addr),
		"sage":    sage.String(),
		"usdc":    usdc.String(),
		"stake":   stake.String(),
	})
}

func (s *Server) handleFeesProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Source string `json:"source"`
		Worker string `json:"worker"`
		GMV    string `json:"gmv"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	source, err := parseAddress(req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	worker, err := parseAddress(req.Worker)
	if err != nil {
		writeError(w, err)
		return
	}
	gmv, err := parseAmount(req.GMV)
	if err != nil {
		writeError(w, err)
		return
	}
	breakdown, err := s.engines.Fees.ProcessTransaction(caller, source, worker, gmv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleFeesConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engines.Fees.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleFeesSetConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller         string `json:"caller"`
		ProtocolFeeBps uint32 `json:"protocolFeeBps"`
		BurnBps        uint32 `json:"burnBps"`
		TreasuryBps    uint32 `json:"treasuryBps"`
		StakerBps      uint32 `json:"stakerBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := fees.Config{
		ProtocolFeeBps: req.ProtocolFeeBps,
		BurnBps:        req.BurnBps,
		TreasuryBps:    req.TreasuryBps,
		StakerBps:      req.StakerBps,
	}
	if err := s.engines.Fees.SetConfig(caller, cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleFeesStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engines.Fees.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStakerShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Staker   string `json:"staker"`
		ShareBps uint32 `json:"shareBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	staker, err := parseAddress(req.Staker)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engines.Fees.UpdateStakerShare(caller, staker, req.ShareBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"staker": hexAddress(staker), "shareBps": req.ShareBps})
}

func (s *Server) handleStakerClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Staker string `json:"staker"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	staker, err := s.actorAddress(r, req.Staker)
	if err != nil {
		writeError(w, err)
		return
	}
	paid, err := s.engines.Fees.ClaimStakerRewards(staker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"staker": hexAddress(staker), "amount": paid.String()})
}

func (s *Server) handleStakerReward(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	reward, err := s.engines.Fees.StakerRewardOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) handleCollateralDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participant string `json:"participant"`
		Amount      string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.actorAddress(r, req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.engines.Collateral.Deposit(participant, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWithdrawInitiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participant string `json:"participant"`
		Amount      string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.actorAddress(r, req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.engines.Collateral.InitiateWithdraw(participant, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWithdrawComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participant string `json:"participant"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.actorAddress(r, req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	released, err := s.engines.Collateral.CompleteUnbonding(participant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"participant": hexAddress(participant), "released": released.String()})
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller      string `json:"caller"`
		Participant string `json:"participant"`
		Reason      string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	participant, err := parseAddress(req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	reason, err := collateral.ParseSlashReason(req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	slashed, err := s.engines.Collateral.Slash(caller, participant, reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"participant": hexAddress(participant),
		"reason":      reason.String(),
		"slashed":     slashed.String(),
	})
}

func (s *Server) handlePotentialWeight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller      string `json:"caller"`
		Participant string `json:"participant"`
		Weight      string `json:"weight"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	participant, err := parseAddress(req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	weight, err := parseAmount(req.Weight)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.engines.Collateral.SetPotentialWeight(caller, participant, weight)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCollateralState(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.engines.Collateral.StateOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleJobCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Worker  string `json:"worker"`
		JobID   string `json:"jobId"`
		GPUTier uint8  `json:"gpuTier"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	worker, err := parseAddress(req.Worker)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := parseHash(req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	reward, err := s.engines.Mining.RecordJobCompletion(caller, worker, jobID, mining.GPUTier(req.GPUTier))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"worker": hexAddress(worker), "reward": reward.String()})
}

func (s *Server) handleMiningPool(w http.ResponseWriter, r *http.Request) {
	distributed, err := s.engines.Mining.TotalDistributed()
	if err != nil {
		writeError(w, err)
		return
	}
	remaining, err := s.engines.Mining.RemainingPool()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"distributed": distributed.String(),
		"remaining":   remaining.String(),
	})
}

func (s *Server) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.engines.Mining.WorkerStatsOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseRewardType(s string) (vesting.RewardType, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "work":
		return vesting.RewardWork, nil
	case "top_miner":
		return vesting.RewardTopMiner, nil
	case "subsidy":
		return vesting.RewardSubsidy, nil
	default:
		return 0, fmt.Errorf("gateway: unknown reward type %q", s)
	}
}

func (s *Server) handleVestingGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller      string `json:"caller"`
		Source      string `json:"source"`
		Participant string `json:"participant"`
		Amount      string `json:"amount"`
		RewardType  string `json:"rewardType"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	source, err := parseAddress(req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	participant, err := parseAddress(req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	rewardType, err := parseRewardType(req.RewardType)
	if err != nil {
		writeError(w, err)
		return
	}
	granted, err := s.engines.Vesting.Grant(caller, source, participant, amount, rewardType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participant": hexAddress(participant),
		"granted":     granted,
	})
}

func (s *Server) handleVestingClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participant string `json:"participant"`
		Entry       *int   `json:"entry"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.actorAddress(r, req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	var paid *big.Int
	if req.Entry != nil {
		paid, err = s.engines.Vesting.ClaimEntry(participant, *req.Entry)
	} else {
		paid, err = s.engines.Vesting.Claim(participant)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"participant": hexAddress(participant), "amount": paid.String()})
}

func (s *Server) handleVestingEntries(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.engines.Vesting.EntriesOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	claimable, err := s.engines.Vesting.ClaimableOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":   entries,
		"claimable": claimable.String(),
	})
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client       string `json:"client"`
		MaxCost      string `json:"maxCost"`
		DeadlineSecs int64  `json:"deadlineSecs"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	client, err := s.actorAddress(r, req.Client)
	if err != nil {
		writeError(w, err)
		return
	}
	maxCost, err := parseAmount(req.MaxCost)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.engines.Escrow.CreateEscrow(client, maxCost, req.DeadlineSecs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) escrowID(r *http.Request) ([32]byte, error) {
	return parseHash(chi.URLParam(r, "id"))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request) {
	id, err := s.escrowID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.engines.Escrow.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleEscrowAssign(w http.ResponseWriter, r *http.Request) {
	id, err := s.escrowID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Worker string `json:"worker"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	worker, err := parseAddress(req.Worker)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engines.Escrow.AssignWorker(caller, id, worker); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": hexHash(id), "worker": hexAddress(worker)})
}

func (s *Server) handleEscrowComplete(w http.ResponseWriter, r *http.Request) {
	id, err := s.escrowID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Caller     string `json:"caller"`
		ActualCost string `json:"actualCost"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	actualCost, err := parseAmount(req.ActualCost)
	if err != nil {
		writeError(w, err)
		return
	}
	breakdown, err := s.engines.Escrow.CompleteJob(caller, id, actualCost)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request) {
	id, err := s.escrowID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engines.Escrow.RequestRefund(caller, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": hexHash(id), "status": "refunded"})
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, r *http.Request) {
	id, err := s.escrowID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engines.Escrow.FlagDispute(caller, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": hexHash(id), "status": "disputed"})
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, r *http.Request) {
	id, err := s.escrowID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Caller       string `json:"caller"`
		RefundClient bool   `json:"refundClient"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engines.Escrow.ResolveDispute(caller, id, req.RefundClient); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.engines.Escrow.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func parseSide(s string) (orderbook.Side, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "buy":
		return orderbook.SideBuy, nil
	case "sell":
		return orderbook.SideSell, nil
	default:
		return 0, fmt.Errorf("gateway: unknown side %q", s)
	}
}

func (s *Server) handlePairCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		BaseToken    string `json:"baseToken"`
		QuoteToken   string `json:"quoteToken"`
		TickSize     string `json:"tickSize"`
		MinOrderSize string `json:"minOrderSize"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	tickSize, err := parseAmount(req.TickSize)
	if err != nil {
		writeError(w, err)
		return
	}
	minOrderSize, err := parseAmount(req.MinOrderSize)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := s.engines.Orderbook.CreatePair(caller, req.BaseToken, req.QuoteToken, tickSize, minOrderSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) pairID(r *http.Request) ([32]byte, error) {
	return parseHash(chi.URLParam(r, "id"))
}

func (s *Server) handlePairGet(w http.ResponseWriter, r *http.Request) {
	id, err := s.pairID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := s.engines.Orderbook.Pair(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleBestPrices(w http.ResponseWriter, r *http.Request) {
	id, err := s.pairID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	best, err := s.engines.Orderbook.BestPrices(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bid": best.Bid.String(), "ask": best.Ask.String()})
}

func (s *Server) handleTWAP(w http.ResponseWriter, r *http.Request) {
	id, err := s.pairID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	twap, err := s.engines.Orderbook.TWAP(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"twap": twap.String()})
}

func (s *Server) handleStats24h(w http.ResponseWriter, r *http.Request) {
	id, err := s.pairID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	volume, high, low, err := s.engines.Orderbook.Stats24h(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"volume": volume.String(),
		"high":   high.String(),
		"low":    low.String(),
	})
}

func (s *Server) handleExpireOrders(w http.ResponseWriter, r *http.Request) {
	id, err := s.pairID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cleared, err := s.engines.Orderbook.ExpireOrders(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Maker         string `json:"maker"`
		PairID        string `json:"pairId"`
		Side          string `json:"side"`
		Price         string `json:"price"`
		Amount        string `json:"amount"`
		ExpiresInSecs int64  `json:"expiresInSecs"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	maker, err := s.actorAddress(r, req.Maker)
	if err != nil {
		writeError(w, err)
		return
	}
	pairID, err := parseHash(req.PairID)
	if err != nil {
		writeError(w, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := s.engines.Orderbook.PlaceLimitOrder(maker, pairID, side, price, amount, req.ExpiresInSecs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Taker  string `json:"taker"`
		PairID string `json:"pairId"`
		Side   string `json:"side"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	taker, err := s.actorAddress(r, req.Taker)
	if err != nil {
		writeError(w, err)
		return
	}
	pairID, err := parseHash(req.PairID)
	if err != nil {
		writeError(w, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := s.engines.Orderbook.PlaceMarketOrder(taker, pairID, side, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: invalid order id"))
		return
	}
	order, err := s.engines.Orderbook.Order(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: invalid order id"))
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engines.Orderbook.CancelOrder(caller, id); err != nil {
		writeError(w, err)
		return
	}
	order, err := s.engines.Orderbook.Order(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleTradeGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: invalid trade id"))
		return
	}
	trade, err := s.engines.Orderbook.Trade(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleBookFeesWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Token  string `json:"token"`
		To     string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.actorAddress(r, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := normalizeToken(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	withdrawn, err := s.engines.Orderbook.WithdrawFees(caller, token, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "amount": withdrawn.String()})
}
