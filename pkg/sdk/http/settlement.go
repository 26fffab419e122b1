package http

import (
	"context"
	"encoding/json"
	"time"
)

// Receipt 状态迁移回执
type Receipt struct {
	TxHash string            `json:"tx_hash"`
	Block  uint64            `json:"block"`
	Events []json.RawMessage `json:"events"`

	Auction string `json:"auction,omitempty"`
	Escrow  string `json:"escrow,omitempty"`
	Token   string `json:"token,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// CreateAuctionRequest 金额为代币最小单位整数字符串
type CreateAuctionRequest struct {
	Token       string    `json:"token"`
	TokenAmount string    `json:"token_amount"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Seller      string    `json:"seller,omitempty"`
}

// Balance 余额查询结果（ether 为小数字符串，代币为最小单位整数）
type Balance struct {
	Address string `json:"address,omitempty"`
	Token   string `json:"token,omitempty"`
	Holder  string `json:"holder,omitempty"`
	Balance string `json:"balance"`
	Invited bool   `json:"invited,omitempty"`
}

// EventsPage /api/events 的一页
type EventsPage struct {
	Events []json.RawMessage `json:"events"`
	Next   uint64            `json:"next"`
}

func (c *Client) post(ctx context.Context, caller, endpoint string, body any) (*Receipt, error) {
	var out Receipt
	if _, err := c.DoRequest(ctx, "POST", endpoint, &RequestOptions{Caller: caller, Data: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeployToken(ctx context.Context, caller, symbol string, decimals uint8, supply string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/tokens", map[string]any{"symbol": symbol, "decimals": decimals, "supply": supply})
}

func (c *Client) CreateAuction(ctx context.Context, caller string, req CreateAuctionRequest) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions", req)
}

// SetupBidders requiredDeposit 为 ether 小数字符串
func (c *Client) SetupBidders(ctx context.Context, caller, auction, requiredDeposit string, bidders []string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions/"+auction+"/bidders", map[string]any{
		"required_deposit": requiredDeposit,
		"bidders":          bidders,
	})
}

func (c *Client) SellerDeposit(ctx context.Context, caller, auction, value string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions/"+auction+"/seller-deposit", map[string]string{"value": value})
}

func (c *Client) BidderDeposit(ctx context.Context, caller, auction, value string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions/"+auction+"/deposit", map[string]string{"value": value})
}

func (c *Client) Conclude(ctx context.Context, caller, auction, buyer, winningBid string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions/"+auction+"/conclude", map[string]string{"buyer": buyer, "winning_bid": winningBid})
}

func (c *Client) Cancel(ctx context.Context, caller, auction string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions/"+auction+"/cancel", nil)
}

func (c *Client) Withdraw(ctx context.Context, caller, auction string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/auctions/"+auction+"/withdraw", nil)
}

func (c *Client) BuyerPayment(ctx context.Context, caller, escrow, value string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/escrows/"+escrow+"/payment", map[string]string{"value": value})
}

func (c *Client) SellerDelivery(ctx context.Context, caller, escrow string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/escrows/"+escrow+"/delivery", nil)
}

func (c *Client) Approve(ctx context.Context, caller, token, spender, amount string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/tokens/"+token+"/approve", map[string]string{"to": spender, "amount": amount})
}

func (c *Client) Transfer(ctx context.Context, caller, token, to, amount string) (*Receipt, error) {
	return c.post(ctx, caller, "/api/tokens/"+token+"/transfer", map[string]string{"to": to, "amount": amount})
}

// Auction 拍卖快照（原始 JSON）
func (c *Client) Auction(ctx context.Context, auction string) (map[string]any, error) {
	out := map[string]any{}
	if _, err := c.DoRequest(ctx, "GET", "/api/auctions/"+auction, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Escrow 托管快照（原始 JSON）
func (c *Client) Escrow(ctx context.Context, escrow string) (map[string]any, error) {
	out := map[string]any{}
	if _, err := c.DoRequest(ctx, "GET", "/api/escrows/"+escrow, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Auctions(ctx context.Context) ([]string, error) {
	var out struct {
		Auctions []string `json:"auctions"`
	}
	if _, err := c.DoRequest(ctx, "GET", "/api/auctions", nil, &out); err != nil {
		return nil, err
	}
	return out.Auctions, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, holder string) (*Balance, error) {
	var out Balance
	if _, err := c.DoRequest(ctx, "GET", "/api/tokens/"+token+"/balances/"+holder, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Account(ctx context.Context, addr string) (*Balance, error) {
	var out Balance
	if _, err := c.DoRequest(ctx, "GET", "/api/accounts/"+addr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fund 开发网络水龙头（服务端需开启 dev.enable_faucet）
func (c *Client) Fund(ctx context.Context, addr, value string) (*Balance, error) {
	var out Balance
	if _, err := c.DoRequest(ctx, "POST", "/api/dev/fund", &RequestOptions{Data: map[string]string{"address": addr, "value": value}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events 按条件分页读取事件索引
func (c *Client) Events(ctx context.Context, name, contract string, after uint64, limit int) (*EventsPage, error) {
	params := map[string]any{"after": after}
	if name != "" {
		params["name"] = name
	}
	if contract != "" {
		params["contract"] = contract
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var out EventsPage
	if _, err := c.DoRequest(ctx, "GET", "/api/events", &RequestOptions{Params: params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
