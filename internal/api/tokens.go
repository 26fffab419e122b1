package api

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/betbot/sealedsale/pkg/units"
)

type deployTokenRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Decimals uint8  `json:"decimals"`
	// Supply 最小单位整数，全部铸给调用方
	Supply string `json:"supply" binding:"required"`
}

type tokenAmountRequest struct {
	// To 接收方（transfer）或被授权方（approve）
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type fundRequest struct {
	Address string `json:"address" binding:"required"`
	Value   string `json:"value" binding:"required"`
}

func (s *Server) handleTokensList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tokens": s.svc.Tokens()})
}

func (s *Server) handleTokenDeploy(c *gin.Context) {
	caller, err := callerOf(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req deployTokenRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	supply, err := parseBaseUnits("supply", req.Supply)
	if err != nil {
		writeError(c, err)
		return
	}
	addr, rcpt, err := s.svc.DeployToken(c.Request.Context(), caller, req.Symbol, req.Decimals, supply)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, gin.H{"token": addr.Hex()})
}

func (s *Server) handleTokenApprove(c *gin.Context) {
	s.tokenAmountCall(c, func(c *gin.Context, req tokenCall) {
		rcpt, err := s.svc.TokenApprove(c.Request.Context(), req.caller, req.token, req.to, req.amount)
		if err != nil {
			writeError(c, err)
			return
		}
		writeReceipt(c, rcpt, nil)
	})
}

func (s *Server) handleTokenTransfer(c *gin.Context) {
	s.tokenAmountCall(c, func(c *gin.Context, req tokenCall) {
		rcpt, err := s.svc.TokenTransfer(c.Request.Context(), req.caller, req.token, req.to, req.amount)
		if err != nil {
			writeError(c, err)
			return
		}
		writeReceipt(c, rcpt, nil)
	})
}

func (s *Server) handleTokenBalance(c *gin.Context) {
	tokenAddr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	holder, err := pathAddress(c, "holder")
	if err != nil {
		writeError(c, err)
		return
	}
	bal, err := s.svc.TokenBalance(tokenAddr, holder)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenAddr.Hex(), "holder": holder.Hex(), "balance": bal.String()})
}

func (s *Server) handleOnchainBalance(c *gin.Context) {
	tokenAddr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	holder, err := pathAddress(c, "holder")
	if err != nil {
		writeError(c, err)
		return
	}
	bal, err := s.svc.OnchainTokenBalance(c.Request.Context(), tokenAddr, holder)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenAddr.Hex(), "holder": holder.Hex(), "balance": bal.String(), "source": "rpc"})
}

func (s *Server) handleAccount(c *gin.Context) {
	addr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr.Hex(),
		"balance": units.FormatEther(s.svc.EtherBalance(addr)),
		"invited": s.svc.AuctionInvited(addr),
	})
}

func (s *Server) handleDevFund(c *gin.Context) {
	var req fundRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	s.svc.Fund(addr, value)
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "balance": units.FormatEther(s.svc.EtherBalance(addr))})
}

type tokenCall struct {
	caller common.Address
	token  common.Address
	to     common.Address
	amount *big.Int
}

// tokenAmountCall 解析 approve/transfer 共用的请求
func (s *Server) tokenAmountCall(c *gin.Context, next func(c *gin.Context, req tokenCall)) {
	caller, tokenAddr, err := callerAndPath(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req tokenAmountRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseBaseUnits("amount", req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	next(c, tokenCall{caller: caller, token: tokenAddr, to: to, amount: amount})
}
