package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleEscrowGet(c *gin.Context) {
	addr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := s.svc.Escrow(addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleBuyerPayment(c *gin.Context) {
	caller, addr, value, err := valueCall(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rcpt, err := s.svc.BuyerPayment(c.Request.Context(), caller, addr, value)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, nil)
}

func (s *Server) handleSellerDelivery(c *gin.Context) {
	caller, addr, err := callerAndPath(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rcpt, err := s.svc.SellerDelivery(c.Request.Context(), caller, addr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeReceipt(c, rcpt, nil)
}

func (s *Server) handleEscrowTokenBalance(c *gin.Context) {
	addr, err := pathAddress(c, "addr")
	if err != nil {
		writeError(c, err)
		return
	}
	bal, err := s.svc.ContractTokenBalance(addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": addr.Hex(), "balance": bal.String()})
}
