package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/indexer"
	"github.com/betbot/sealedsale/internal/indexer/sqlite"
	"github.com/betbot/sealedsale/internal/services"
	"github.com/betbot/sealedsale/pkg/ratelimit"
	"github.com/betbot/sealedsale/pkg/units"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	seller  = common.HexToAddress("0x0000000000000000000000000000000000000051")
	bidder1 = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bidder2 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

var genesis = time.Unix(1612166400, 0).UTC()

type testEnv struct {
	clock  *chain.ManualClock
	svc    *services.SettlementService
	hub    *Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	bus.Subscribe("indexer", indexer.New(store, nil, "sqlite"))
	hub := NewHub()
	bus.Subscribe("ws", hub)

	e := &testEnv{clock: chain.NewManualClock(genesis), hub: hub}
	e.svc = services.NewSettlementService(chain.New(e.clock, bus), services.Options{Admin: admin})
	for _, a := range []common.Address{seller, bidder1, bidder2} {
		e.svc.Fund(a, units.MustEther("10"))
	}

	srv := New(Config{Service: e.svc, Events: store, Hub: hub, EnableFaucet: true})
	e.server = httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hub.Close()
		e.server.Close()
	})
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, caller common.Address, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// prepare 部署代币、创建拍卖、邀请竞拍人，返回 (token, auction)
func (e *testEnv) prepare(t *testing.T) (string, string) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/tokens", seller, map[string]interface{}{
		"symbol": "MIKE", "decimals": 18, "supply": units.MustEther("100").String(),
	})
	require.Equal(t, http.StatusOK, status, body)
	tokenAddr := body["token"].(string)

	status, body = e.do(t, http.MethodPost, "/api/auctions", seller, map[string]interface{}{
		"token":        tokenAddr,
		"token_amount": units.MustEther("100").String(),
		"start_time":   genesis,
		"end_time":     genesis.Add(time.Hour),
	})
	require.Equal(t, http.StatusOK, status, body)
	auctionAddr := body["auction"].(string)

	status, body = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/bidders", seller, map[string]interface{}{
		"required_deposit": "1",
		"bidders":          []string{bidder1.Hex(), bidder2.Hex()},
	})
	require.Equal(t, http.StatusOK, status, body)
	return tokenAddr, auctionAddr
}

func TestAPI_FullSettlement(t *testing.T) {
	e := newTestEnv(t)
	tokenAddr, auctionAddr := e.prepare(t)

	status, body := e.do(t, http.MethodGet, "/api/invited/"+bidder1.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["invited"])

	status, _ = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/seller-deposit", seller, map[string]string{"value": "1"})
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/deposit", bidder1, map[string]string{"value": "1"})
	require.Equal(t, http.StatusOK, status)

	status, body = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/deposit", bidder2, map[string]string{"value": "0.5"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(domain.KindWrongAmount), body["kind"])
	assert.Equal(t, "WrongAmount", body["code"])

	status, body = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/conclude", seller, map[string]string{"buyer": bidder1.Hex(), "winning_bid": "2"})
	assert.Equal(t, http.StatusPreconditionFailed, status, body)

	e.clock.Advance(time.Hour)
	status, body = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/conclude", seller, map[string]string{"buyer": bidder1.Hex(), "winning_bid": "2"})
	require.Equal(t, http.StatusOK, status, body)
	escrowAddr := body["escrow"].(string)

	status, body = e.do(t, http.MethodPost, "/api/escrows/"+escrowAddr+"/payment", bidder2, map[string]string{"value": "2"})
	assert.Equal(t, http.StatusForbidden, status, body)
	status, _ = e.do(t, http.MethodPost, "/api/escrows/"+escrowAddr+"/payment", bidder1, map[string]string{"value": "2"})
	require.Equal(t, http.StatusOK, status)

	status, body = e.do(t, http.MethodPost, "/api/escrows/"+escrowAddr+"/delivery", seller, nil)
	assert.Equal(t, http.StatusFailedDependency, status, body)

	status, _ = e.do(t, http.MethodPost, "/api/tokens/"+tokenAddr+"/approve", seller, map[string]string{
		"to": escrowAddr, "amount": units.MustEther("100").String(),
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodPost, "/api/escrows/"+escrowAddr+"/delivery", seller, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = e.do(t, http.MethodPost, "/api/escrows/"+escrowAddr+"/payment", bidder1, map[string]string{"value": "2"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyPaid", body["code"])

	status, body = e.do(t, http.MethodGet, "/api/tokens/"+tokenAddr+"/balances/"+bidder1.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, units.MustEther("100").String(), body["balance"])

	status, body = e.do(t, http.MethodGet, "/api/escrows/"+escrowAddr, common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["settled"])

	status, body = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/withdraw", bidder1, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "1", body["amount"])

	status, body = e.do(t, http.MethodGet, "/api/events?contract="+escrowAddr, common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	evs := body["events"].([]interface{})
	require.Len(t, evs, 2)
	assert.Equal(t, events.NameBuyerPaid, evs[0].(map[string]interface{})["name"])
	assert.Equal(t, events.NameSellerDelivered, evs[1].(map[string]interface{})["name"])
}

func TestAPI_RequestValidation(t *testing.T) {
	e := newTestEnv(t)
	_, auctionAddr := e.prepare(t)

	status, body := e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/deposit", common.Address{}, map[string]string{"value": "1"})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, _ = e.do(t, http.MethodPost, "/api/auctions/not-an-address/deposit", bidder1, map[string]string{"value": "1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/api/auctions/"+auctionAddr+"/deposit", bidder1, map[string]string{"value": "abc"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodGet, "/api/auctions/"+bidder2.Hex(), common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "UnknownAuction", body["code"])

	status, _ = e.do(t, http.MethodGet, "/api/tokens/"+bidder2.Hex()+"/onchain/"+bidder1.Hex(), common.Address{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = e.do(t, http.MethodGet, "/api/auctions", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["auctions"], 1)
}

func TestAPI_DevFundAndAccount(t *testing.T) {
	e := newTestEnv(t)
	fresh := common.HexToAddress("0x0000000000000000000000000000000000000f01")

	status, body := e.do(t, http.MethodPost, "/api/dev/fund", common.Address{}, map[string]string{"address": fresh.Hex(), "value": "2.5"})
	require.Equal(t, http.StatusOK, status, body)

	status, body = e.do(t, http.MethodGet, "/api/accounts/"+fresh.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2.5", body["balance"])
	assert.Equal(t, false, body["invited"])

	status, body = e.do(t, http.MethodGet, "/healthz", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_WebSocketStream(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/events/ws?name=" + events.NameAuctionCreated
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, auctionAddr := e.prepare(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	created, ok := env.Event.(*events.AuctionCreatedEvent)
	require.True(t, ok, "got %T", env.Event)
	assert.Equal(t, common.HexToAddress(auctionAddr), created.Auction)
	assert.NotZero(t, env.Seq)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrNotInvited))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrAlreadyWithdrawn))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrNothingToWithdraw))
	assert.Equal(t, http.StatusFailedDependency, statusFor(domain.ErrInsufficientBalance))
	assert.Equal(t, http.StatusBadRequest, statusFor(badRequest("x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.Canceled))
}

func TestAPI_RateLimitPerCaller(t *testing.T) {
	e := newTestEnv(t)
	limited := httptest.NewServer(New(Config{
		Service:   e.svc,
		RateLimit: ratelimit.NewManager(0, 2),
	}).Router())
	defer limited.Close()
	orig := e.server
	e.server = limited
	defer func() { e.server = orig }()

	path := "/api/auctions/0x0000000000000000000000000000000000000099/cancel"
	for i := 0; i < 2; i++ {
		status, _ := e.do(t, http.MethodPost, path, seller, nil)
		assert.Equal(t, http.StatusNotFound, status)
	}
	status, body := e.do(t, http.MethodPost, path, seller, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", body["error"])

	status, _ = e.do(t, http.MethodPost, path, bidder1, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodGet, "/healthz", seller, nil)
	assert.Equal(t, http.StatusOK, status)
}
