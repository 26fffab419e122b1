package api

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/betbot/sealedsale/internal/registry"
	"github.com/betbot/sealedsale/pkg/units"
)

type createAuctionRequest struct {
	Token string `json:"token" binding:"required"`
	// TokenAmount 代币最小单位整数
	TokenAmount string    `json:"token_amount" binding:"required"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	// Seller 为空时取调用方
	Seller string `json:"seller"`
}

type setupBiddersRequest struct {
	// RequiredDeposit 以太十进制字符串
	RequiredDeposit string   `json:"required_deposit" binding:"required"`
	Bidders         []string `json:"bidders"`
}

type concludeRequest struct {
	Buyer      string `json:"buyer" binding:"required"`
	WinningBid string `json:"winning_bid" binding:"required"`
}

func (s *Server) handleAuctionsList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"auctions": s.svc.Addresses()})
}

func (s *Server) handleAuctionCreate(c *gin.Context) {
	caller, err := callerOf(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createAuctionRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseBaseUnits("token_amount", req.TokenAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	seller := caller
	if req.Seller != "" {
		if seller, err = parseAddress("seller", req.Seller); err != nil {
			writeError(c, err)
			return
		}
	}

	addr, rcpt, err := s.svc.CreateAuction(c.Request.Context(), caller, registry.CreateParams{
		TokenAmount: amount,
		Token:       tokenAddr,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Seller:      seller,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, gin.H{"auction": addr.Hex()})
}

func (s *Server) handleAuctionGet(c *gin.Context) {
	addr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := s.svc.Auction(addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleSetupBidders(c *gin.Context) {
	caller, addr, err := callerAndPath(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req setupBiddersRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	deposit, err := units.ParseEther(req.RequiredDeposit)
	if err != nil {
		writeError(c, badRequest("required_deposit: %v", err))
		return
	}
	bidders := make([]common.Address, 0, len(req.Bidders))
	for _, b := range req.Bidders {
		a, err := parseAddress("bidders", b)
		if err != nil {
			writeError(c, err)
			return
		}
		bidders = append(bidders, a)
	}

	rcpt, err := s.svc.SetupBidders(c.Request.Context(), caller, addr, deposit, bidders)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, nil)
}

func (s *Server) handleSellerDeposit(c *gin.Context) {
	caller, addr, value, err := valueCall(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rcpt, err := s.svc.ReceiveSellerDeposit(c.Request.Context(), caller, addr, value)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, nil)
}

func (s *Server) handleBidderDeposit(c *gin.Context) {
	caller, addr, value, err := valueCall(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rcpt, err := s.svc.BidderDeposit(c.Request.Context(), caller, addr, value)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, nil)
}

func (s *Server) handleConclude(c *gin.Context) {
	caller, addr, err := callerAndPath(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req concludeRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	buyer, err := parseAddress("buyer", req.Buyer)
	if err != nil {
		writeError(c, err)
		return
	}
	bid, err := units.ParseEther(req.WinningBid)
	if err != nil {
		writeError(c, badRequest("winning_bid: %v", err))
		return
	}

	escrowAddr, rcpt, err := s.svc.ConcludeWithWinner(c.Request.Context(), caller, addr, buyer, bid)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, gin.H{"escrow": escrowAddr.Hex()})
}

func (s *Server) handleCancel(c *gin.Context) {
	caller, addr, err := callerAndPath(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rcpt, err := s.svc.CancelAuction(c.Request.Context(), caller, addr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, nil)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	caller, addr, err := callerAndPath(c)
	if err != nil {
		writeError(c, err)
		return
	}
	paid, rcpt, err := s.svc.WithdrawDeposit(c.Request.Context(), caller, addr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, gin.H{"amount": units.FormatEther(paid)})
}

func (s *Server) handleWithdrawable(c *gin.Context) {
	addr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	account, err := pathAddress(c, "account")
	if err != nil {
		writeError(c, err)
		return
	}
	v, err := s.svc.Withdrawable(addr, account)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction": addr.Hex(), "account": account.Hex(), "amount": units.FormatEther(v)})
}

func (s *Server) handleInvited(c *gin.Context) {
	addr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "invited": s.svc.AuctionInvited(addr)})
}

func callerAndPath(c *gin.Context) (common.Address, common.Address, error) {
	caller, err := callerOf(c)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	addr, err := pathAddress(c, "addr")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return caller, addr, nil
}

// valueCall 调用方、目标合约与附带以太
func valueCall(c *gin.Context) (common.Address, common.Address, *big.Int, error) {
	caller, addr, err := callerAndPath(c)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	var req valueRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	value, err := parseValue(req.Value)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return caller, addr, value, nil
}
