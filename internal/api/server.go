// Package api 结算核心的 HTTP/WebSocket 接入层
package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/sealedsale/internal/indexer"
	"github.com/betbot/sealedsale/internal/services"
	"github.com/betbot/sealedsale/pkg/ratelimit"
)

var log = logrus.WithField("component", "api")

// CallerHeader 已由外部身份层认证的调用方地址
const CallerHeader = "X-Caller-Address"

type Config struct {
	Service *services.SettlementService
	// Events 事件读模型（可选；为空时 /api/events 返回 503）
	Events indexer.Store
	// Hub 事件推送（可选）
	Hub *Hub
	// EnableFaucet 开放 /api/dev/fund
	EnableFaucet bool
	// RateLimit 按调用方限制写操作频率（可选）
	RateLimit *ratelimit.Manager
}

type Server struct {
	cfg Config
	svc *services.SettlementService
}

func New(cfg Config) *Server {
	return &Server{cfg: cfg, svc: cfg.Service}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), s.rateLimit())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")

	auctions := api.Group("/auctions")
	auctions.GET("", s.handleAuctionsList)
	auctions.POST("", s.handleAuctionCreate)
	auctionAddr := auctions.Group("/:addr")
	auctionAddr.GET("", s.handleAuctionGet)
	auctionAddr.POST("/bidders", s.handleSetupBidders)
	auctionAddr.POST("/seller-deposit", s.handleSellerDeposit)
	auctionAddr.POST("/deposit", s.handleBidderDeposit)
	auctionAddr.POST("/conclude", s.handleConclude)
	auctionAddr.POST("/cancel", s.handleCancel)
	auctionAddr.POST("/withdraw", s.handleWithdraw)
	auctionAddr.GET("/withdrawable/:account", s.handleWithdrawable)

	api.GET("/invited/:addr", s.handleInvited)

	escrows := api.Group("/escrows/:addr")
	escrows.GET("", s.handleEscrowGet)
	escrows.POST("/payment", s.handleBuyerPayment)
	escrows.POST("/delivery", s.handleSellerDelivery)
	escrows.GET("/token-balance", s.handleEscrowTokenBalance)

	tokens := api.Group("/tokens")
	tokens.GET("", s.handleTokensList)
	tokens.POST("", s.handleTokenDeploy)
	tokenAddr := tokens.Group("/:addr")
	tokenAddr.POST("/approve", s.handleTokenApprove)
	tokenAddr.POST("/transfer", s.handleTokenTransfer)
	tokenAddr.GET("/balances/:holder", s.handleTokenBalance)
	tokenAddr.GET("/onchain/:holder", s.handleOnchainBalance)

	api.GET("/accounts/:addr", s.handleAccount)
	if s.cfg.EnableFaucet {
		api.POST("/dev/fund", s.handleDevFund)
	}

	api.GET("/events", s.handleEvents)
	if s.cfg.Hub != nil {
		api.GET("/events/ws", s.cfg.Hub.ServeWS)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"height":   s.svc.Height(),
		"time":     s.svc.Now().UTC(),
		"registry": s.svc.RegistryAddress().Hex(),
		"policy":   s.svc.Policy(),
	})
}

// rateLimit 只限制 POST；调用方未声明时按客户端 IP 计
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RateLimit == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := c.GetHeader(CallerHeader)
		if key == "" {
			key = c.ClientIP()
		}
		limiter := s.cfg.RateLimit.GetLimiter(key)
		if !limiter.Allow() {
			retry := time.Until(limiter.GetResetTime())
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
			"caller": c.GetHeader(CallerHeader),
		}).Debug("request")
	}
}
