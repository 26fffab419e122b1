package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sealedsale/internal/events"
)

var auctionA = common.HexToAddress("0x00000000000000000000000000000000000000a1")

// memStore 内存 Store；failures > 0 时前几次 Insert 失败
type memStore struct {
	mu       sync.Mutex
	rows     map[uint64]Record
	failures int
	blocked  chan struct{}
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uint64]Record)}
}

func (m *memStore) Insert(_ context.Context, recs ...Record) error {
	if m.blocked != nil {
		<-m.blocked
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("connection reset")
	}
	for _, r := range recs {
		if _, ok := m.rows[r.Seq]; !ok {
			m.rows[r.Seq] = r
		}
	}
	return nil
}

func (m *memStore) Query(context.Context, Filter) ([]Record, error) { return nil, nil }

func (m *memStore) LastSeq(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last uint64
	for seq := range m.rows {
		if seq > last {
			last = seq
		}
	}
	return last, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) seqs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for seq := uint64(1); ; seq++ {
		if _, ok := m.rows[seq]; !ok {
			return out
		}
		out = append(out, seq)
	}
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// journal 模拟事件日志
type journal struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (j *journal) HandleEvent(_ context.Context, env events.Envelope) error {
	j.mu.Lock()
	j.envs = append(j.envs, env)
	j.mu.Unlock()
	return nil
}

func (j *journal) Range(from uint64, fn func(env events.Envelope) error) error {
	j.mu.Lock()
	envs := append([]events.Envelope(nil), j.envs...)
	j.mu.Unlock()
	for _, env := range envs {
		if env.Seq < from {
			continue
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	return nil
}

func deposit(seq uint64) events.Envelope {
	return events.Envelope{
		ID:    uuid.New(),
		Seq:   seq,
		Block: seq,
		Time:  time.Unix(1612166400+int64(seq), 0),
		Event: &events.BidderDepositedEvent{Auction: auctionA, Amount: big.NewInt(int64(seq))},
	}
}

func publish(t *testing.T, j *journal, ix *Indexer, from, to uint64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		env := deposit(seq)
		require.NoError(t, j.HandleEvent(context.Background(), env))
		require.NoError(t, ix.HandleEvent(context.Background(), env))
	}
}

func TestIndexer_SyncWhenNotStarted(t *testing.T) {
	store := newMemStore()
	store.failures = 1
	ix := New(store, nil, "mem")

	assert.Error(t, ix.HandleEvent(context.Background(), deposit(1)))
	require.NoError(t, ix.HandleEvent(context.Background(), deposit(1)))
	assert.Equal(t, []uint64{1}, store.seqs())
	assert.NoError(t, ix.Stop(context.Background()))
}

func TestIndexer_WorkerResyncsAfterFailedInsert(t *testing.T) {
	store := newMemStore()
	store.failures = 2
	j := &journal{}
	ix := New(store, nil, "mem")
	ix.Start(context.Background(), WorkerOptions{Source: j, RetryInterval: 10 * time.Millisecond})
	defer func() { _ = ix.Stop(context.Background()) }()

	publish(t, j, ix, 1, 20)

	require.Eventually(t, func() bool { return store.len() == 20 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, store.seqs(), 20)
}

func TestIndexer_OverflowFallsBackToSource(t *testing.T) {
	store := newMemStore()
	store.blocked = make(chan struct{})
	j := &journal{}
	ix := New(store, nil, "mem")
	ix.Start(context.Background(), WorkerOptions{Source: j, Buffer: 2, RetryInterval: 10 * time.Millisecond})
	defer func() { _ = ix.Stop(context.Background()) }()

	// 存储阻塞时发布不会被卡住
	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := uint64(1); seq <= 10; seq++ {
			env := deposit(seq)
			_ = j.HandleEvent(context.Background(), env)
			assert.NoError(t, ix.HandleEvent(context.Background(), env))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled store")
	}

	close(store.blocked)
	require.Eventually(t, func() bool { return store.len() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, store.seqs(), 10)
}

func TestIndexer_StopDrainsQueue(t *testing.T) {
	store := newMemStore()
	j := &journal{}
	ix := New(store, nil, "mem")
	ix.Start(context.Background(), WorkerOptions{Source: j, RetryInterval: time.Hour})

	publish(t, j, ix, 1, 5)
	require.NoError(t, ix.Stop(context.Background()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, store.seqs())
}
