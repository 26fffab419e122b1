package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/betbot/sealedsale/pkg/cache"
)

// ERC20ABI 只读部分（余额、授权、精度）
const ERC20ABI = `[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ContractCaller ethclient.Client 的只读调用子集
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCReader 通过以太坊节点读取真实 ERC20 合约的余额与授权
// 用于核对卖方在链上的代币余额与对托管地址的授权（交付前的外部前置条件）
type RPCReader struct {
	caller ContractCaller
	abi    abi.ABI
	cache  *cache.AmountCache
}

// DialRPCReader 连接 RPC 节点
func DialRPCReader(rpcURL string, cacheTTL time.Duration) (*RPCReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}
	return NewRPCReader(client, cacheTTL)
}

// NewRPCReader 使用已有的调用方创建
func NewRPCReader(caller ContractCaller, cacheTTL time.Duration) (*RPCReader, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析ERC20 ABI失败: %w", err)
	}
	return &RPCReader{
		caller: caller,
		abi:    parsed,
		cache:  cache.NewAmountCache(cacheTTL),
	}, nil
}

// BalanceOf 查询链上余额（命中缓存时不访问节点）
func (r *RPCReader) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	key := "balanceOf:" + token.Hex() + ":" + holder.Hex()
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	v, err := r.callUint(ctx, token, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, v)
	return v, nil
}

// Allowance 查询链上授权额度
func (r *RPCReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	key := "allowance:" + token.Hex() + ":" + owner.Hex() + ":" + spender.Hex()
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	v, err := r.callUint(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, v)
	return v, nil
}

// Decimals 查询代币精度
func (r *RPCReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := r.abi.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("打包decimals参数失败: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("调用decimals失败: %w", err)
	}
	var d uint8
	if err := r.abi.UnpackIntoInterface(&d, "decimals", out); err != nil {
		return 0, fmt.Errorf("解析decimals结果失败: %w", err)
	}
	return d, nil
}

func (r *RPCReader) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("打包%s参数失败: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用%s失败: %w", method, err)
	}
	var v *big.Int
	if err := r.abi.UnpackIntoInterface(&v, method, out); err != nil {
		return nil, fmt.Errorf("解析%s结果失败: %w", method, err)
	}
	return v, nil
}
