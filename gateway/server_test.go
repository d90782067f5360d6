package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sagemarket/core/epoch"
	"sagemarket/core/events"
	"sagemarket/core/state"
	"sagemarket/gateway/config"
	"sagemarket/gateway/idempotency"
	"sagemarket/gateway/middleware"
	"sagemarket/native/bank"
	"sagemarket/native/collateral"
	"sagemarket/native/common"
	"sagemarket/native/escrow"
	"sagemarket/native/fees"
	"sagemarket/native/mining"
	"sagemarket/native/orderbook"
	"sagemarket/native/vesting"
	"sagemarket/storage"
)

func testAddr(index byte) [20]byte {
	var out [20]byte
	out[19] = index
	return out
}

type gatewayFixture struct {
	server *httptest.Server
	bank   *bank.Engine
	admin  [20]byte
	clock  *testClock
}

type testClock struct {
	now int64
}

func (c *testClock) unix() int64   { return c.now }
func (c *testClock) unixU() uint64 { return uint64(c.now) }

func newGatewayFixture(t *testing.T, opts ...func(*config.Config)) *gatewayFixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	transfers := bank.NewEngine(manager)
	feed := events.NewFeed(256)
	pauses := common.NewPauseRegistry()
	clock := &testClock{now: 1_000_000}

	admin := testAddr(0x01)
	treasury := testAddr(0x02)
	stakerPool := testAddr(0x03)
	escrowVault := testAddr(0x04)
	collateralVault := testAddr(0x05)
	vestingVault := testAddr(0x06)
	bookVault := testAddr(0x07)

	tracker, err := epoch.NewTracker(nil)
	require.NoError(t, err)
	tracker.SetOperator(admin, true)

	feeEngine := fees.NewEngine()
	feeEngine.SetState(manager)
	feeEngine.SetTransferor(transfers)
	feeEngine.SetEpochSource(tracker)
	feeEngine.SetPauses(pauses)
	feeEngine.SetOwner(admin)
	feeEngine.SetTreasury(treasury)
	feeEngine.SetStakerPoolAddress(stakerPool)
	feeEngine.SetAuthorizedCaller(admin, true)
	feeEngine.SetAuthorizedCaller(escrowVault, true)
	feeEngine.SetEmitter(feed)

	collateralEngine := collateral.NewEngine()
	collateralEngine.SetState(manager)
	collateralEngine.SetTransferor(transfers)
	collateralEngine.SetEpochSource(tracker)
	collateralEngine.SetPauses(pauses)
	collateralEngine.SetOwner(admin)
	collateralEngine.SetVault(collateralVault)
	collateralEngine.SetSlasher(admin, true)
	collateralEngine.SetNowFunc(clock.unixU)
	collateralEngine.SetEmitter(feed)

	miningEngine := mining.NewEngine()
	miningEngine.SetState(manager)
	miningEngine.SetMinter(transfers)
	miningEngine.SetStakeSource(transfers)
	miningEngine.SetPauses(pauses)
	miningEngine.SetOwner(admin)
	miningEngine.SetAuthorizedCaller(admin, true)
	miningEngine.SetNowFunc(clock.unixU)
	miningEngine.SetEmitter(feed)
	require.NoError(t, miningEngine.SetConfig(admin, mining.Config{
		BaseReward:          big.NewInt(200),
		StartTimestamp:      0,
		HalveningPeriodSecs: 10_000_000,
		PoolCap:             big.NewInt(1_000_000),
		StakeThresholds:     [3]*big.Int{big.NewInt(1_000), big.NewInt(10_000), big.NewInt(100_000)},
		DailyCaps:           [4]*big.Int{big.NewInt(1_000), big.NewInt(2_000), big.NewInt(4_000), big.NewInt(8_000)},
	}))

	vestingEngine := vesting.NewEngine()
	vestingEngine.SetState(manager)
	vestingEngine.SetTransferor(transfers)
	vestingEngine.SetEpochSource(tracker)
	vestingEngine.SetPauses(pauses)
	vestingEngine.SetOwner(admin)
	vestingEngine.SetVault(vestingVault)
	vestingEngine.SetEmitter(feed)

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetTransferor(transfers)
	escrowEngine.SetFeeProcessor(feeEngine)
	escrowEngine.SetPauses(pauses)
	escrowEngine.SetOwner(admin)
	escrowEngine.SetVault(escrowVault)
	escrowEngine.SetNowFunc(clock.unix)
	escrowEngine.SetEmitter(feed)

	bookEngine := orderbook.NewEngine()
	bookEngine.SetState(manager)
	bookEngine.SetTransferor(transfers)
	bookEngine.SetPauses(pauses)
	bookEngine.SetOwner(admin)
	bookEngine.SetVault(bookVault)
	bookEngine.SetNowFunc(clock.unix)
	bookEngine.SetEmitter(feed)

	cfg := config.Default()
	cfg.Observability.Metrics = true
	cfg.Observability.LogRequests = false
	for _, opt := range opts {
		opt(&cfg)
	}

	idem, err := idempotency.NewStore(filepath.Join(t.TempDir(), "idem.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	srv := NewServer(cfg, slog.Default(), Engines{
		Bank:       transfers,
		Fees:       feeEngine,
		Collateral: collateralEngine,
		Mining:     miningEngine,
		Vesting:    vestingEngine,
		Escrow:     escrowEngine,
		Orderbook:  bookEngine,
		Epochs:     tracker,
		Pauses:     pauses,
		Feed:       feed,
	}, admin, idem)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &gatewayFixture{server: ts, bank: transfers, admin: admin, clock: clock}
}

func (f *gatewayFixture) post(t *testing.T, path string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return f.request(t, http.MethodPost, path, body, headers...)
}

func (f *gatewayFixture) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return f.request(t, http.MethodGet, path, nil)
}

func (f *gatewayFixture) request(t *testing.T, method, path string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (f *gatewayFixture) mint(t *testing.T, to [20]byte, token string, amount int64) {
	t.Helper()
	require.NoError(t, f.bank.Mint(to, token, big.NewInt(amount)))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFeeProcessOverHTTP(t *testing.T) {
	f := newGatewayFixture(t)
	source := testAddr(0x10)
	worker := testAddr(0x11)
	f.mint(t, source, bank.TokenSAGE, 1_000)

	resp, body := f.post(t, "/v1/fees/process", map[string]string{
		"caller": hexAddress(f.admin),
		"source": hexAddress(source),
		"worker": hexAddress(worker),
		"gmv":    "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "200", fmt.Sprint(body["protocolFee"]))
	require.Equal(t, "800", fmt.Sprint(body["workerPayment"]))

	resp, stats := f.get(t, "/v1/fees/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1000", fmt.Sprint(stats["totalGmv"]))
}

func TestBalancesEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	holder := testAddr(0x12)
	f.mint(t, holder, bank.TokenSAGE, 500)
	f.mint(t, holder, bank.TokenUSDC, 77)

	resp, body := f.get(t, "/v1/balances/"+hexAddress(holder))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "500", body["sage"])
	require.Equal(t, "77", body["usdc"])
}

func TestBearerAuthGatesActorIdentity(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	f := newGatewayFixture(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.Secret = secret
	})
	client := testAddr(0x20)
	f.mint(t, client, bank.TokenSAGE, 100)
	payload := map[string]interface{}{
		"client":       hexAddress(client),
		"maxCost":      "100",
		"deadlineSecs": 3_600,
	}

	resp, _ := f.post(t, "/v1/escrow/", payload)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	auth := middleware.NewAuth(secret, "")
	stranger, err := auth.IssueToken(hexAddress(testAddr(0x66)), time.Hour)
	require.NoError(t, err)
	resp, _ = f.post(t, "/v1/escrow/", payload, "Authorization", "Bearer "+stranger)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	token, err := auth.IssueToken(hexAddress(client), time.Hour)
	require.NoError(t, err)
	resp, created := f.post(t, "/v1/escrow/", payload, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, created["id"])
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	f := newGatewayFixture(t)
	client := testAddr(0x20)
	worker := testAddr(0x21)
	f.mint(t, client, bank.TokenSAGE, 100)

	resp, created := f.post(t, "/v1/escrow/", map[string]interface{}{
		"client":       hexAddress(client),
		"maxCost":      "100",
		"deadlineSecs": 3_600,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeHash(t, created["id"])

	resp, _ = f.post(t, "/v1/escrow/"+hexHash(id)+"/assign", map[string]string{
		"caller": hexAddress(client),
		"worker": hexAddress(worker),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, breakdown := f.post(t, "/v1/escrow/"+hexHash(id)+"/complete", map[string]string{
		"caller":     hexAddress(client),
		"actualCost": "60",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "48", fmt.Sprint(breakdown["workerPayment"]))

	workerBal, err := f.bank.BalanceOf(worker, bank.TokenSAGE)
	require.NoError(t, err)
	require.Equal(t, "48", workerBal.String())
	clientBal, err := f.bank.BalanceOf(client, bank.TokenSAGE)
	require.NoError(t, err)
	require.Equal(t, "40", clientBal.String())
}

func TestErrorStatusMapping(t *testing.T) {
	f := newGatewayFixture(t)
	stranger := testAddr(0x30)

	resp, _ := f.get(t, "/v1/escrow/"+hexHash([32]byte{0xAB}))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.post(t, "/v1/admin/pause", map[string]interface{}{
		"caller": hexAddress(stranger),
		"module": "fees",
		"paused": true,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.post(t, "/v1/epoch/advance", map[string]string{
		"caller": hexAddress(stranger),
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.post(t, "/v1/fees/process", map[string]string{
		"caller": "not-hex",
		"source": hexAddress(stranger),
		"worker": hexAddress(stranger),
		"gmv":    "10",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPauseBlocksModule(t *testing.T) {
	f := newGatewayFixture(t)
	source := testAddr(0x31)
	f.mint(t, source, bank.TokenSAGE, 100)

	resp, _ := f.post(t, "/v1/admin/pause", map[string]interface{}{
		"caller": hexAddress(f.admin),
		"module": "fees",
		"paused": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.post(t, "/v1/fees/process", map[string]string{
		"caller": hexAddress(f.admin),
		"source": hexAddress(source),
		"worker": hexAddress(testAddr(0x32)),
		"gmv":    "100",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestIdempotentReplay(t *testing.T) {
	f := newGatewayFixture(t)

	resp, body := f.post(t, "/v1/epoch/advance", map[string]string{
		"caller": hexAddress(f.admin),
	}, "Idempotency-Key", "advance-once")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["epoch"])

	resp, body = f.post(t, "/v1/epoch/advance", map[string]string{
		"caller": hexAddress(f.admin),
	}, "Idempotency-Key", "advance-once")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get("Idempotent-Replay"))
	require.Equal(t, float64(1), body["epoch"])

	resp, body = f.post(t, "/v1/epoch/advance", map[string]string{
		"caller": hexAddress(f.admin),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), body["epoch"])
}

func TestOrderbookOverHTTP(t *testing.T) {
	f := newGatewayFixture(t)
	maker := testAddr(0x40)
	taker := testAddr(0x41)
	oneE18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	units := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), oneE18) }
	require.NoError(t, f.bank.Mint(maker, bank.TokenSAGE, units(10)))
	require.NoError(t, f.bank.Mint(taker, bank.TokenUSDC, units(1_000)))

	resp, _ := f.post(t, "/v1/orderbook/pairs", map[string]string{
		"caller":       hexAddress(f.admin),
		"baseToken":    "SAGE",
		"quoteToken":   "USDC",
		"tickSize":     oneE18.String(),
		"minOrderSize": "1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pairID := orderbook.PairID(bank.TokenSAGE, bank.TokenUSDC)

	resp, _ = f.post(t, "/v1/orderbook/orders", map[string]interface{}{
		"maker":  hexAddress(maker),
		"pairId": hexHash(pairID),
		"side":   "sell",
		"price":  units(100).String(),
		"amount": units(5).String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, best := f.get(t, "/v1/orderbook/pairs/"+hexHash(pairID)+"/best")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, units(100).String(), best["ask"])

	resp, taken := f.post(t, "/v1/orderbook/orders/market", map[string]interface{}{
		"taker":  hexAddress(taker),
		"pairId": hexHash(pairID),
		"side":   "buy",
		"amount": units(5).String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, float64(orderbook.StatusFilled), taken["status"])

	resp, stats := f.get(t, "/v1/orderbook/pairs/"+hexHash(pairID)+"/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, units(5).String(), stats["volume"])
}

func TestVestingGrantOverHTTP(t *testing.T) {
	f := newGatewayFixture(t)
	funder := testAddr(0x50)
	participant := testAddr(0x51)
	f.mint(t, funder, bank.TokenSAGE, 2_000_000_000_000)

	resp, body := f.post(t, "/v1/vesting/grants", map[string]string{
		"caller":      hexAddress(f.admin),
		"source":      hexAddress(funder),
		"participant": hexAddress(participant),
		"amount":      "2000000000000",
		"rewardType":  "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["granted"])

	resp, claim := f.post(t, "/v1/vesting/claim", map[string]string{
		"participant": hexAddress(participant),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "2000000000000", claim["amount"])
}

func decodeHash(t *testing.T, raw interface{}) [32]byte {
	t.Helper()
	var out [32]byte
	encoded, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(encoded, &out))
	return out
}
