package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/sealedsale/internal/api"
	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/indexer"
	"github.com/betbot/sealedsale/internal/indexer/postgres"
	"github.com/betbot/sealedsale/internal/indexer/sqlite"
	"github.com/betbot/sealedsale/internal/metrics"
	"github.com/betbot/sealedsale/internal/services"
	"github.com/betbot/sealedsale/internal/token"
	"github.com/betbot/sealedsale/pkg/config"
	"github.com/betbot/sealedsale/pkg/devaccounts"
	"github.com/betbot/sealedsale/pkg/eventlog"
	"github.com/betbot/sealedsale/pkg/logger"
	"github.com/betbot/sealedsale/pkg/ratelimit"
	"github.com/betbot/sealedsale/pkg/shutdown"
	"github.com/betbot/sealedsale/pkg/units"
)

// app 装配好的进程组件
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	chain    *chain.Chain
	svc      *services.SettlementService
	hub      *api.Hub
	journal  *eventlog.Store
	index    indexer.Store
	accounts []devaccounts.Account
	router   http.Handler
	shutdown *shutdown.Manager
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, shutdown: shutdown.NewManager(), metrics: metrics.New("sealedsale")}
	defer func() {
		if err != nil {
			a.shutdown.Shutdown(context.Background())
		}
	}()

	bus := events.NewBus()

	// 事件日志（badger）
	var resumeSeq, resumeBlock uint64
	if cfg.Storage.EventLogPath != "" {
		key, err := eventlog.ParseKey(cfg.Storage.EventLogKey)
		if err != nil {
			return nil, fmt.Errorf("eventlog key: %w", err)
		}
		a.journal, err = eventlog.Open(eventlog.OpenOptions{Path: cfg.Storage.EventLogPath, EncryptionKey: key})
		if err != nil {
			return nil, err
		}
		a.shutdown.OnShutdown("eventlog", func(context.Context) error { return a.journal.Close() })
		if resumeSeq = a.journal.LastSeq(); resumeSeq > 0 {
			if tail, err := a.journal.ReadAll(resumeSeq); err == nil && len(tail) > 0 {
				resumeBlock = tail[len(tail)-1].Block
			}
		}
		bus.Subscribe("eventlog", a.journal)
		logger.Infof("事件日志已打开: path=%s last_seq=%d", cfg.Storage.EventLogPath, resumeSeq)
	}

	// 事件索引（sqlite / postgres）
	switch cfg.Storage.IndexerDriver {
	case "sqlite":
		a.index, err = sqlite.Open(cfg.Storage.IndexerDSN)
	case "postgres":
		a.index, err = postgres.Open(ctx, cfg.Storage.IndexerDSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s indexer: %w", cfg.Storage.IndexerDriver, err)
	}
	if a.index != nil {
		a.shutdown.OnShutdown("indexer", func(context.Context) error { return a.index.Close() })
		ix := indexer.New(a.index, a.metrics, cfg.Storage.IndexerDriver)
		if a.journal != nil {
			n, err := ix.Backfill(ctx, a.journal)
			if err != nil {
				return nil, fmt.Errorf("indexer backfill: %w", err)
			}
			logger.Infof("索引回填完成: %d 条", n)
		}
		if last, err := a.index.LastSeq(ctx); err == nil && last > resumeSeq {
			resumeSeq = last
		}

		// 写入在后台进行；失败或溢出时从事件日志补齐
		workerOpts := indexer.WorkerOptions{}
		if a.journal != nil {
			workerOpts.Source = a.journal
		}
		ix.Start(context.Background(), workerOpts)
		a.shutdown.OnShutdown("indexer-worker", ix.Stop)
		bus.Subscribe("indexer", ix)
	}

	a.hub = api.NewHub()
	bus.Subscribe("websocket", a.hub)
	a.shutdown.OnShutdown("websocket", func(context.Context) error {
		a.hub.Close()
		return nil
	})

	a.chain = chain.New(chain.SystemClock{}, bus)
	a.chain.Resume(resumeSeq, resumeBlock)

	admin, err := a.setupAccounts()
	if err != nil {
		return nil, err
	}

	opts := services.Options{Admin: admin, Policy: cfg.Auction.Policy, Metrics: a.metrics}
	if cfg.Auction.MinSellerDeposit != "" {
		if opts.MinSellerDeposit, err = units.ParseEther(cfg.Auction.MinSellerDeposit); err != nil {
			return nil, fmt.Errorf("auction.min_seller_deposit: %w", err)
		}
	}
	if cfg.Chain.RPCURL != "" {
		if opts.RPC, err = token.DialRPCReader(cfg.Chain.RPCURL, cfg.Chain.CacheTTL); err != nil {
			return nil, err
		}
		logger.Infof("外部 RPC 已连接: %s", cfg.Chain.RPCURL)
	}
	a.svc = services.NewSettlementService(a.chain, opts)

	apiCfg := api.Config{
		Service:      a.svc,
		Events:       a.index,
		Hub:          a.hub,
		EnableFaucet: cfg.Dev.EnableFaucet,
	}
	if cfg.Server.RateLimitRPS > 0 {
		apiCfg.RateLimit = ratelimit.NewManager(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	a.router = api.New(apiCfg).Router()
	return a, nil
}

// setupAccounts 派生并注资开发账户，返回注册表管理员
func (a *app) setupAccounts() (common.Address, error) {
	cfg := a.cfg
	if cfg.Dev.Accounts > 0 {
		accounts, err := devaccounts.Derive(cfg.Dev.Mnemonic, cfg.Dev.Accounts)
		if err != nil {
			return common.Address{}, fmt.Errorf("derive dev accounts: %w", err)
		}
		a.accounts = accounts
		fund := new(big.Int)
		if cfg.Dev.FundEther != "" {
			if fund, err = units.ParseEther(cfg.Dev.FundEther); err != nil {
				return common.Address{}, fmt.Errorf("dev.fund_ether: %w", err)
			}
		}
		for _, acc := range accounts {
			a.chain.Fund(acc.Address, fund)
			logger.Infof("开发账户 #%d %s 余额 %s ETH", acc.Index, acc.Address.Hex(), units.FormatEther(fund))
		}
	}
	if cfg.Auction.Admin != "" {
		return common.HexToAddress(cfg.Auction.Admin), nil
	}
	if len(a.accounts) == 0 {
		return common.Address{}, fmt.Errorf("no registry admin: set auction.admin or dev accounts")
	}
	return a.accounts[0].Address, nil
}

// serve 启动 HTTP 与指标服务，阻塞直到 ctx 结束或收到信号
func (a *app) serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("sealedsale listening on %s (registry=%s)", a.cfg.Server.Listen, a.svc.RegistryAddress().Hex())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	a.shutdown.OnShutdown("http", func(ctx context.Context) error { return httpSrv.Shutdown(ctx) })

	if a.cfg.Server.MetricsListen != "" {
		msrv, err := metrics.StartAsync(ctx, a.cfg.Server.MetricsListen, a.metrics.Registry, func(err error) {
			logger.Errorf("metrics server error: %v", err)
		})
		if err != nil {
			return err
		}
		a.shutdown.OnShutdown("metrics", func(ctx context.Context) error { return msrv.Shutdown(ctx) })
	}

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		shutdown.WaitForSignal(sigCtx)
		cancel()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigCtx.Done():
		return nil
	}
}

// close 按逆序关闭全部组件
func (a *app) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.shutdown.Shutdown(ctx)
}
