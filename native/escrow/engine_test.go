package escrow

import (
	"errors"
	"math/big"
	"testing"

	"sagemarket/core/state"
	"sagemarket/native/bank"
	"sagemarket/native/fees"
	"sagemarket/storage"
)

type stubEpochs struct {
	current uint64
}

func (s *stubEpochs) Current() uint64 { return s.current }

func addr(index byte) [20]byte {
	var out [20]byte
	out[19] = index
	return out
}

type escrowFixture struct {
	engine *Engine
	fees   *fees.Engine
	bank   *bank.Engine
	owner  [20]byte
	vault  [20]byte
	client [20]byte
	worker [20]byte
	now    int64
}

func newFixture(t *testing.T) *escrowFixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	transfers := bank.NewEngine(manager)
	epochs := &stubEpochs{current: 1}

	f := &escrowFixture{
		bank:   transfers,
		owner:  addr(0x01),
		vault:  addr(0xEE),
		client: addr(0x10),
		worker: addr(0x20),
		now:    1_000,
	}

	feeEngine := fees.NewEngine()
	feeEngine.SetState(manager)
	feeEngine.SetTransferor(transfers)
	feeEngine.SetEpochSource(epochs)
	feeEngine.SetOwner(f.owner)
	feeEngine.SetTreasury(addr(0xDD))
	feeEngine.SetStakerPoolAddress(addr(0xDC))
	feeEngine.SetAuthorizedCaller(f.vault, true)
	f.fees = feeEngine

	engine := NewEngine()
	engine.SetState(manager)
	engine.SetTransferor(transfers)
	engine.SetFeeProcessor(feeEngine)
	engine.SetOwner(f.owner)
	engine.SetVault(f.vault)
	engine.SetNowFunc(func() int64 { return f.now })
	f.engine = engine
	return f
}

func (f *escrowFixture) fundClient(t *testing.T, amount int64) {
	t.Helper()
	if err := f.bank.Mint(f.client, bank.TokenSAGE, big.NewInt(amount)); err != nil {
		t.Fatalf("fund client: %v", err)
	}
}

func (f *escrowFixture) balance(t *testing.T, who [20]byte) *big.Int {
	t.Helper()
	balance, err := f.bank.BalanceOf(who, bank.TokenSAGE)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (f *escrowFixture) create(t *testing.T, maxCost int64) *Entry {
	t.Helper()
	entry, err := f.engine.CreateEscrow(f.client, big.NewInt(maxCost), 3_600)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return entry
}

func TestAssignWorkerRejectsVault(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 100)
	entry := f.create(t, 100)

	// Letting the vault pay itself through the fee split would break
	// conservation; the custody address can never be the worker.
	if err := f.engine.AssignWorker(f.client, entry.ID, f.vault); !errors.Is(err, ErrWorkerIsVault) {
		t.Fatalf("expected ErrWorkerIsVault, got %v", err)
	}
	reloaded, err := f.engine.Get(entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != StatusLocked {
		t.Fatalf("rejected assignment must leave the escrow locked, got %s", reloaded.Status)
	}
}

func TestRoundTripComplete(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 100)
	entry := f.create(t, 100)

	if got := f.balance(t, f.vault); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected vault to hold 100, got %s", got)
	}
	if err := f.engine.AssignWorker(f.client, entry.ID, f.worker); err != nil {
		t.Fatalf("assign: %v", err)
	}

	breakdown, err := f.engine.CompleteJob(f.client, entry.ID, big.NewInt(60))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 60 flows through the fee path: 12 protocol fee, 48 to the worker.
	if breakdown.ProtocolFee.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("expected protocol fee 12, got %s", breakdown.ProtocolFee)
	}
	if got := f.balance(t, f.worker); got.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected worker 48, got %s", got)
	}
	if got := f.balance(t, f.client); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected client refund 40, got %s", got)
	}
	if got := f.balance(t, f.vault); got.Sign() != 0 {
		t.Fatalf("expected empty vault, got %s", got)
	}

	stored, err := f.engine.Get(entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.Amount.Sign() != 0 {
		t.Fatalf("expected zero amount, got %s", stored.Amount)
	}
	if stored.ActualCost.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected actual cost 60, got %s", stored.ActualCost)
	}
}

func TestCompleteRejectsCostAboveMax(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 100)
	entry := f.create(t, 100)
	if err := f.engine.AssignWorker(f.client, entry.ID, f.worker); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := f.engine.CompleteJob(f.client, entry.ID, big.NewInt(101)); !errors.Is(err, ErrCostExceedsMax) {
		t.Fatalf("expected ErrCostExceedsMax, got %v", err)
	}
}

func TestRefundAfterDeadline(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 100)
	entry := f.create(t, 100)

	if err := f.engine.RequestRefund(f.client, entry.ID); !errors.Is(err, ErrDeadlineNotPassed) {
		t.Fatalf("expected ErrDeadlineNotPassed, got %v", err)
	}

	f.now += 3_601
	if err := f.engine.RequestRefund(f.client, entry.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.balance(t, f.client); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected full refund, got %s", got)
	}
	stored, err := f.engine.Get(entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.Status)
	}

	// Refunded is terminal.
	if err := f.engine.AssignWorker(f.client, entry.ID, f.worker); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRefundOnlyClient(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 100)
	entry := f.create(t, 100)
	f.now += 3_601

	if err := f.engine.RequestRefund(f.worker, entry.ID); !errors.Is(err, ErrNotClient) {
		t.Fatalf("expected ErrNotClient, got %v", err)
	}
}

func TestDisputeResolution(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 200)

	// Resolved in the client's favor.
	refunded := f.create(t, 100)
	if err := f.engine.AssignWorker(f.client, refunded.ID, f.worker); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.engine.FlagDispute(f.worker, refunded.ID); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if err := f.engine.ResolveDispute(f.client, refunded.ID, true); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("expected ErrOnlyOwner, got %v", err)
	}
	if err := f.engine.ResolveDispute(f.owner, refunded.ID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := f.balance(t, f.client); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected client refunded to 200, got %s", got)
	}

	// Resolved in the worker's favor: the full lock settles through fees.
	settled := f.create(t, 100)
	if err := f.engine.AssignWorker(f.client, settled.ID, f.worker); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.engine.FlagDispute(f.client, settled.ID); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if err := f.engine.ResolveDispute(f.owner, settled.ID, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := f.balance(t, f.worker); got.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("expected worker 80 after fee split, got %s", got)
	}
}

func TestDisputeOnlyParties(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 100)
	entry := f.create(t, 100)

	if err := f.engine.FlagDispute(addr(0x66), entry.ID); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Get([32]byte{0x01}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	f.fundClient(t, 200)
	first := f.create(t, 100)
	second := f.create(t, 100)
	if first.ID == second.ID {
		t.Fatalf("expected distinct job ids")
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusLocked, StatusAssigned, true},
		{StatusLocked, StatusRefunded, true},
		{StatusLocked, StatusCompleted, false},
		{StatusAssigned, StatusCompleted, true},
		{StatusAssigned, StatusDisputed, true},
		{StatusDisputed, StatusCompleted, true},
		{StatusDisputed, StatusRefunded, true},
		{StatusDisputed, StatusAssigned, false},
		{StatusCompleted, StatusRefunded, false},
		{StatusRefunded, StatusAssigned, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}
