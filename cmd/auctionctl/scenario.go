package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	sdk "github.com/betbot/sealedsale/pkg/sdk/http"
)

// lotAmount 拍品数量：100 个 18 位精度代币
const lotAmount = "100000000000000000000"

// scenario 通过 HTTP 接口完整走一遍拍卖结算流程
type scenario struct {
	client  *sdk.Client
	seller  string
	bidder1 string
	bidder2 string
	window  time.Duration
	now     func() time.Time
	wait    func(ctx context.Context, until time.Time) error
	out     io.Writer
}

type scenarioResult struct {
	Token   string
	Auction string
	Escrow  string
}

func sleepUntil(ctx context.Context, until time.Time) error {
	t := time.NewTimer(time.Until(until))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scenario) logf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

// expectCode 要求 err 是带指定错误码的接口错误
func expectCode(step string, err error, code string) error {
	if err == nil {
		return fmt.Errorf("%s: expected %s, got success", step, code)
	}
	if !sdk.IsCode(err, code) {
		return errors.Wrapf(err, "%s: expected %s", step, code)
	}
	return nil
}

func (s *scenario) run(ctx context.Context) (*scenarioResult, error) {
	res := &scenarioResult{}

	rcpt, err := s.client.DeployToken(ctx, s.seller, "LOT", 18, lotAmount)
	if err != nil {
		return nil, errors.Wrap(err, "deploy token")
	}
	res.Token = rcpt.Token
	s.logf("token %s minted %s to seller %s", res.Token, lotAmount, s.seller)

	start := s.now().Truncate(time.Second)
	end := start.Add(s.window)
	rcpt, err = s.client.CreateAuction(ctx, s.seller, sdk.CreateAuctionRequest{
		Token:       res.Token,
		TokenAmount: lotAmount,
		StartTime:   start,
		EndTime:     end,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create auction")
	}
	res.Auction = rcpt.Auction
	s.logf("auction %s window %s .. %s", res.Auction, start.Format(time.RFC3339), end.Format(time.RFC3339))

	if _, err := s.client.SetupBidders(ctx, s.seller, res.Auction, "1", []string{s.bidder1, s.bidder2}); err != nil {
		return nil, errors.Wrap(err, "setup bidders")
	}
	if _, err := s.client.SellerDeposit(ctx, s.seller, res.Auction, "1"); err != nil {
		return nil, errors.Wrap(err, "seller deposit")
	}
	if _, err := s.client.BidderDeposit(ctx, s.bidder1, res.Auction, "1"); err != nil {
		return nil, errors.Wrap(err, "bidder1 deposit")
	}
	_, err = s.client.BidderDeposit(ctx, s.bidder2, res.Auction, "0.5")
	if err := expectCode("bidder2 short deposit", err, "WrongAmount"); err != nil {
		return nil, err
	}
	s.logf("bidder2 short deposit rejected")
	if _, err := s.client.BidderDeposit(ctx, s.bidder2, res.Auction, "1"); err != nil {
		return nil, errors.Wrap(err, "bidder2 deposit")
	}

	_, err = s.client.Conclude(ctx, s.seller, res.Auction, s.bidder1, "2")
	if err := expectCode("early conclude", err, "WindowOpen"); err != nil {
		return nil, err
	}
	s.logf("waiting for auction end")
	if err := s.wait(ctx, end); err != nil {
		return nil, err
	}

	rcpt, err = s.client.Conclude(ctx, s.seller, res.Auction, s.bidder1, "2")
	if err != nil {
		return nil, errors.Wrap(err, "conclude")
	}
	res.Escrow = rcpt.Escrow
	s.logf("concluded: winner %s bid 2 ETH escrow %s", s.bidder1, res.Escrow)

	if _, err := s.client.BuyerPayment(ctx, s.bidder1, res.Escrow, "2"); err != nil {
		return nil, errors.Wrap(err, "buyer payment")
	}
	_, err = s.client.BuyerPayment(ctx, s.bidder1, res.Escrow, "2")
	if err := expectCode("second payment", err, "AlreadyPaid"); err != nil {
		return nil, err
	}

	if _, err := s.client.Approve(ctx, s.seller, res.Token, res.Escrow, lotAmount); err != nil {
		return nil, errors.Wrap(err, "approve escrow")
	}
	if _, err := s.client.SellerDelivery(ctx, s.seller, res.Escrow); err != nil {
		return nil, errors.Wrap(err, "seller delivery")
	}
	_, err = s.client.SellerDelivery(ctx, s.seller, res.Escrow)
	if err := expectCode("second delivery", err, "AlreadyDelivered"); err != nil {
		return nil, err
	}
	s.logf("settled: payment and delivery done")

	for _, who := range []string{s.bidder2, s.bidder1, s.seller} {
		rcpt, err := s.client.Withdraw(ctx, who, res.Auction)
		if err != nil {
			return nil, errors.Wrapf(err, "withdraw %s", who)
		}
		s.logf("withdrawn %s ETH to %s", rcpt.Amount, who)
	}

	bal, err := s.client.TokenBalance(ctx, res.Token, s.bidder1)
	if err != nil {
		return nil, errors.Wrap(err, "token balance")
	}
	if bal.Balance != lotAmount {
		return nil, fmt.Errorf("buyer token balance %s, want %s", bal.Balance, lotAmount)
	}
	s.logf("buyer holds %s LOT base units", bal.Balance)
	return res, nil
}
