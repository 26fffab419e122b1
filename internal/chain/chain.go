package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/events"
)

var log = logrus.WithField("component", "chain")

// Msg 一次外部调用：已认证的调用方、目标合约与附带的以太（wei）
type Msg struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Receipt 成功迁移的回执
type Receipt struct {
	TxHash common.Hash
	Block  uint64
	Time   time.Time
	Events []events.Envelope
}

// Chain 串行执行状态迁移的共享账本
//
// 同一时刻只有一个迁移在执行；迁移要么完整提交，要么撤销全部写入（包括附带的以太、
// 代币余额和合约字段），失败迁移产生的事件一律丢弃。
type Chain struct {
	mu    sync.Mutex
	state *State
	clock Clock
	bus   *events.Bus

	block uint64
	seq   uint64
}

// New 创建账本；bus 可为 nil
func New(clock Clock, bus *events.Bus) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Chain{
		state: newState(),
		clock: clock,
		bus:   bus,
	}
}

// Journal 返回撤销日志（供代币账本等同账本合约登记撤销操作）
func (c *Chain) Journal() Journal {
	return c.state
}

// Execute 执行一次状态迁移
//
// 订阅者在持锁期间按序收到事件，订阅者内部不得再调用 Chain。
func (c *Chain) Execute(ctx context.Context, msg Msg, fn func(tx *Tx) error) (*Receipt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.state.begin()
	nonce := c.state.nextNonce(msg.From)
	tx := &Tx{
		chain: c,
		msg:   msg,
		now:   now,
		hash:  txHash(msg, nonce, c.block+1),
	}

	if err := c.run(tx, fn); err != nil {
		c.state.revert()
		log.Debugf("迁移已撤销: tx=%s from=%s to=%s err=%v", tx.hash.Hex(), msg.From.Hex(), msg.To.Hex(), err)
		return nil, err
	}
	c.state.commit()
	c.block++

	envs := make([]events.Envelope, 0, len(tx.logs))
	for i, ev := range tx.logs {
		c.seq++
		envs = append(envs, events.Envelope{
			ID:     uuid.New(),
			Seq:    c.seq,
			Block:  c.block,
			TxHash: tx.hash,
			Index:  i,
			Time:   now,
			Event:  ev,
		})
	}
	if c.bus != nil && len(envs) > 0 {
		c.bus.Publish(ctx, envs)
	}

	return &Receipt{TxHash: tx.hash, Block: c.block, Time: now, Events: envs}, nil
}

func (c *Chain) run(tx *Tx, fn func(tx *Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transition panicked: %v", r)
		}
	}()

	if tx.msg.Value != nil {
		if tx.msg.Value.Sign() < 0 {
			return errors.Wrap(domain.ErrInvalidArgument, "negative attached value")
		}
		if err := c.state.transfer(tx.msg.From, tx.msg.To, tx.msg.Value); err != nil {
			return errors.Wrap(err, "attach value")
		}
	}
	return fn(tx)
}

// View 在锁内执行只读查询
func (c *Chain) View(fn func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.clock.Now())
}

// Balance 以太余额
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Balance(addr)
}

// Fund 创世分配（不经过迁移、不产生事件），仅用于开发网络与测试
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.setBalance(addr, new(big.Int).Add(c.state.Balance(addr), domain.CopyAmount(amount)))
}

// Now 当前区块时间
func (c *Chain) Now() time.Time {
	return c.clock.Now()
}

// Height 已提交的区块高度
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Resume 让区块高度与事件序号从已持久化的位置继续（账本状态不回放）
func (c *Chain) Resume(seq, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seq {
		c.seq = seq
	}
	if block > c.block {
		c.block = block
	}
}

// NextAddress 计算 deployer 下一个 CREATE 地址（不消耗 nonce）
func (c *Chain) NextAddress(deployer common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return crypto.CreateAddress(deployer, c.state.Nonce(deployer))
}

// Deploy 在迁移之外为 deployer 分配一个 CREATE 地址（用于部署注册表、代币等根合约）
func (c *Chain) Deploy(deployer common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return crypto.CreateAddress(deployer, c.state.nextNonce(deployer))
}

func txHash(msg Msg, nonce, block uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], block)
	return crypto.Keccak256Hash(msg.From.Bytes(), msg.To.Bytes(), buf[:])
}

// Tx 迁移执行上下文
type Tx struct {
	chain *Chain
	msg   Msg
	now   time.Time
	hash  common.Hash
	logs  []events.Event
}

// Caller 已认证的调用方（msg.sender）
func (tx *Tx) Caller() common.Address { return tx.msg.From }

// Self 被调用合约地址
func (tx *Tx) Self() common.Address { return tx.msg.To }

// Value 附带的以太（已在执行前记入 Self 余额）
func (tx *Tx) Value() *big.Int { return domain.CopyAmount(tx.msg.Value) }

// Now 区块时间
func (tx *Tx) Now() time.Time { return tx.now }

// Hash 交易哈希
func (tx *Tx) Hash() common.Hash { return tx.hash }

// Transfer 从 Self 转出以太；失败时调用方应返回错误以撤销整个迁移
func (tx *Tx) Transfer(to common.Address, amount *big.Int) error {
	return tx.chain.state.transfer(tx.msg.To, to, amount)
}

// BalanceOf 迁移内读取以太余额
func (tx *Tx) BalanceOf(addr common.Address) *big.Int {
	return tx.chain.state.Balance(addr)
}

// OnRevert 登记合约字段的撤销操作
func (tx *Tx) OnRevert(undo func()) {
	tx.chain.state.Record(undo)
}

// Journal 本次迁移的撤销日志
func (tx *Tx) Journal() Journal {
	return tx.chain.state
}

// Emit 记录事件；迁移失败时丢弃
func (tx *Tx) Emit(ev events.Event) {
	tx.logs = append(tx.logs, ev)
}

// CreateAddress 以 Self 为部署者分配新的合约地址
func (tx *Tx) CreateAddress() common.Address {
	return crypto.CreateAddress(tx.msg.To, tx.chain.state.nextNonce(tx.msg.To))
}
