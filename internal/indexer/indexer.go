// Package indexer 把已提交的事件写入可查询的读模型（sqlite / postgres）
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/metrics"
)

var log = logrus.WithField("component", "indexer")

// Record 索引表的一行
type Record struct {
	Seq      uint64          `json:"seq"`
	ID       string          `json:"id"`
	Block    uint64          `json:"block"`
	TxHash   string          `json:"tx_hash"`
	Index    int             `json:"index"`
	Name     string          `json:"name"`
	Contract string          `json:"contract"`
	Time     time.Time       `json:"time"`
	Payload  json.RawMessage `json:"payload"`
}

// Filter 查询条件（零值表示不过滤）
type Filter struct {
	Name     string
	Contract string
	AfterSeq uint64
	Limit    int
}

// DefaultLimit 未指定 Limit 时的默认条数
const DefaultLimit = 100

// MaxLimit 单次查询上限
const MaxLimit = 1000

// Normalize 填充默认值
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Store 读模型存储；Insert 按 Seq 幂等
type Store interface {
	Insert(ctx context.Context, recs ...Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	LastSeq(ctx context.Context) (uint64, error)
	Close() error
}

// Source 可按序重放的事件来源（事件日志）
type Source interface {
	Range(from uint64, fn func(env events.Envelope) error) error
}

// ContractOf 事件归属的合约地址（用于按拍卖/托管/代币过滤）
func ContractOf(ev events.Event) common.Address {
	switch e := ev.(type) {
	case *events.AuctionCreatedEvent:
		return e.Auction
	case *events.BiddersInvitedEvent:
		return e.Auction
	case *events.SellerDepositedEvent:
		return e.Auction
	case *events.BidderDepositedEvent:
		return e.Auction
	case *events.AuctionConcludedEvent:
		return e.Auction
	case *events.AuctionCancelledEvent:
		return e.Auction
	case *events.DepositWithdrawnEvent:
		return e.Auction
	case *events.BuyerPaidEvent:
		return e.Escrow
	case *events.SellerDeliveredEvent:
		return e.Escrow
	case *events.TokenTransferEvent:
		return e.Token
	case *events.TokenApprovalEvent:
		return e.Token
	}
	return common.Address{}
}

// FromEnvelope 事件 -> 索引行
func FromEnvelope(env events.Envelope) (Record, error) {
	payload, err := env.PayloadJSON()
	if err != nil {
		return Record{}, fmt.Errorf("encode %s payload: %w", env.Name(), err)
	}
	return Record{
		Seq:      env.Seq,
		ID:       env.ID.String(),
		Block:    env.Block,
		TxHash:   env.TxHash.Hex(),
		Index:    env.Index,
		Name:     env.Name(),
		Contract: ContractOf(env.Event).Hex(),
		Time:     env.Time.UTC(),
		Payload:  payload,
	}, nil
}

// WorkerOptions 异步写入配置
type WorkerOptions struct {
	// Source 写入失败或队列溢出后从这里补齐（通常是事件日志）
	Source Source
	// Buffer 队列长度
	Buffer int
	// RetryInterval 补齐重试间隔
	RetryInterval time.Duration
}

// DefaultBuffer 默认队列长度
const DefaultBuffer = 1024

// Indexer 事件总线订阅者：把事件写入 Store
//
// 未调用 Start 时在订阅回调内同步写入；Start 之后回调只入队，由后台 worker 写入。
type Indexer struct {
	store   Store
	metrics *metrics.Metrics
	label   string

	opts     WorkerOptions
	queue    chan events.Envelope
	overflow atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func New(store Store, m *metrics.Metrics, label string) *Indexer {
	return &Indexer{store: store, metrics: m, label: label}
}

// Store 底层存储
func (ix *Indexer) Store() Store { return ix.store }

// Start 启动后台写入 worker；只能调用一次
func (ix *Indexer) Start(ctx context.Context, opts WorkerOptions) {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	ix.opts = opts
	ix.queue = make(chan events.Envelope, opts.Buffer)
	ix.done = make(chan struct{})
	ctx, ix.cancel = context.WithCancel(ctx)
	go ix.run(ctx)
}

// Stop 停止 worker 并写完队列中剩余的事件
func (ix *Indexer) Stop(ctx context.Context) error {
	if ix.done == nil {
		return nil
	}
	ix.stopOnce.Do(ix.cancel)
	select {
	case <-ix.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent 实现 events.Handler
func (ix *Indexer) HandleEvent(ctx context.Context, env events.Envelope) error {
	if ix.queue == nil {
		return ix.insert(ctx, env)
	}
	select {
	case ix.queue <- env:
		metrics.IndexerBacklog.Set(int64(len(ix.queue)))
		return nil
	default:
	}
	ix.countError()
	if ix.opts.Source == nil {
		return fmt.Errorf("index queue full, dropped seq=%d", env.Seq)
	}
	ix.overflow.Store(true)
	return nil
}

func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.done)
	ticker := time.NewTicker(ix.opts.RetryInterval)
	defer ticker.Stop()

	// resync 为 true 时队列中的事件由 Source 补齐，不再逐条写入
	resync := false
	for {
		select {
		case env := <-ix.queue:
			metrics.IndexerBacklog.Set(int64(len(ix.queue)))
			if resync || ix.overflow.Load() {
				resync = ix.opts.Source != nil
				continue
			}
			if err := ix.insert(ctx, env); err != nil {
				log.WithError(err).Warn("索引写入失败")
				resync = ix.opts.Source != nil
			}
		case <-ticker.C:
			if !resync && !ix.overflow.Load() {
				continue
			}
			ix.overflow.Store(false)
			if _, err := ix.Backfill(ctx, ix.opts.Source); err != nil {
				ix.overflow.Store(true)
				log.WithError(err).Warn("索引补齐失败，稍后重试")
				continue
			}
			resync = false
		case <-ctx.Done():
			ix.drain(resync)
			return
		}
	}
}

// drain 停止前写完剩余事件
func (ix *Indexer) drain(resync bool) {
	ctx := context.Background()
	if resync || ix.overflow.Load() {
		if _, err := ix.Backfill(ctx, ix.opts.Source); err != nil {
			log.WithError(err).Warn("停止前补齐失败，留给下次启动回填")
			return
		}
	}
	for {
		select {
		case env := <-ix.queue:
			// 失败后不再写入更大的序号，留给下次启动的 Backfill
			if err := ix.insert(ctx, env); err != nil {
				log.WithError(err).Warnf("停止前索引写入失败，剩余 %d 条待回填", len(ix.queue))
				return
			}
		default:
			metrics.IndexerBacklog.Set(0)
			return
		}
	}
}

func (ix *Indexer) countError() {
	if ix.metrics != nil {
		ix.metrics.IndexerErrors.WithLabelValues(ix.label).Inc()
	}
}

func (ix *Indexer) insert(ctx context.Context, env events.Envelope) error {
	rec, err := FromEnvelope(env)
	if err != nil {
		return err
	}
	if err := ix.store.Insert(ctx, rec); err != nil {
		ix.countError()
		return fmt.Errorf("index seq=%d: %w", env.Seq, err)
	}
	return nil
}

// Backfill 从事件日志补齐 Store 中缺失的事件（启动时调用）
func (ix *Indexer) Backfill(ctx context.Context, src Source) (int, error) {
	last, err := ix.store.LastSeq(ctx)
	if err != nil {
		return 0, err
	}
	metrics.IndexerBacklog.Set(0)
	n := 0
	err = src.Range(last+1, func(env events.Envelope) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ix.insert(ctx, env); err != nil {
			return err
		}
		n++
		metrics.IndexerBacklog.Set(int64(n))
		return nil
	})
	if err != nil {
		return n, err
	}
	if n > 0 {
		log.Infof("索引补齐完成: from_seq=%d events=%d", last+1, n)
	}
	return n, nil
}
