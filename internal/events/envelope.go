package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Envelope 已提交事件的外层信息：外部观察者无需重放所有状态迁移即可按序重建状态
type Envelope struct {
	ID     uuid.UUID   // 事件唯一 ID
	Seq    uint64      // 全局单调序号（从 1 开始）
	Block  uint64      // 所在区块高度（每次成功的状态迁移产生一个区块）
	TxHash common.Hash // 所在交易
	Index  int         // 交易内序号
	Time   time.Time   // 区块时间
	Event  Event
}

// Name 事件名称
func (e Envelope) Name() string {
	if e.Event == nil {
		return ""
	}
	return e.Event.Name()
}

type envelopeJSON struct {
	ID      uuid.UUID       `json:"id"`
	Seq     uint64          `json:"seq"`
	Block   uint64          `json:"block"`
	TxHash  common.Hash     `json:"tx_hash"`
	Index   int             `json:"index"`
	Time    time.Time       `json:"time"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON 编码为 {..., name, payload}
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		ID:      e.ID,
		Seq:     e.Seq,
		Block:   e.Block,
		TxHash:  e.TxHash,
		Index:   e.Index,
		Time:    e.Time,
		Name:    e.Name(),
		Payload: payload,
	})
}

// UnmarshalJSON 按 name 还原具体事件类型（指针）
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ev, ok := newByName(raw.Name)
	if !ok {
		return fmt.Errorf("unknown event name: %q", raw.Name)
	}
	if err := json.Unmarshal(raw.Payload, ev); err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Name, err)
	}
	*e = Envelope{
		ID:     raw.ID,
		Seq:    raw.Seq,
		Block:  raw.Block,
		TxHash: raw.TxHash,
		Index:  raw.Index,
		Time:   raw.Time,
		Event:  ev,
	}
	return nil
}

// PayloadJSON 只编码事件本体（供索引表的 payload 列使用）
func (e Envelope) PayloadJSON() ([]byte, error) {
	return json.Marshal(e.Event)
}
