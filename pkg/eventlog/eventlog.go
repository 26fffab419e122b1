// Package eventlog 事件的追加式持久化日志（Badger）
//
// key = "ev/" + 大端序 Seq，按 Seq 有序遍历即为提交顺序。
package eventlog

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/sealedsale/internal/events"
	"github.com/betbot/sealedsale/internal/metrics"
)

var prefix = []byte("ev/")

// ErrNotOpened 日志未打开
var ErrNotOpened = errors.New("eventlog: not opened")

// Store 事件日志
type Store struct {
	db *badger.DB

	mu      sync.Mutex
	lastSeq uint64
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes；为 nil 时不加密
	InMemory      bool   // 测试使用
	ReadOnly      bool
}

// Open 打开（或创建）事件日志
func Open(opts OpenOptions) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" && !opts.InMemory {
		return nil, errors.New("eventlog: path is required")
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithLogger(nil).WithInMemory(true)
	}
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 Badger 要求开启索引缓存
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	s := &Store{db: db}
	last, err := s.scanLastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.lastSeq = last
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

func (s *Store) scanLastSeq() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		// 反向遍历需要从前缀的上界开始
		seekKey := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seekKey)
		if it.ValidForPrefix(prefix) {
			last = binary.BigEndian.Uint64(it.Item().Key()[len(prefix):])
		}
		return nil
	})
	return last, err
}

// LastSeq 已持久化的最大 Seq
func (s *Store) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Append 追加事件；Seq 不大于 LastSeq 的事件视为重放，直接跳过
func (s *Store) Append(envs ...events.Envelope) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	last := s.lastSeq
	n := 0
	for _, env := range envs {
		if env.Seq <= last {
			continue
		}
		b, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("eventlog: encode seq=%d: %w", env.Seq, err)
		}
		if err := wb.Set(key(env.Seq), b); err != nil {
			return fmt.Errorf("eventlog: write seq=%d: %w", env.Seq, err)
		}
		last = env.Seq
		n++
	}
	if n == 0 {
		return nil
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("eventlog: flush: %w", err)
	}
	s.lastSeq = last
	metrics.EventLogAppends.Add(int64(n))
	return nil
}

// HandleEvent 作为事件总线订阅者
func (s *Store) HandleEvent(_ context.Context, env events.Envelope) error {
	return s.Append(env)
}

// Range 按 Seq 顺序遍历 from（含）之后的事件，fn 返回错误时停止
func (s *Store) Range(from uint64, fn func(env events.Envelope) error) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(key(from)); it.ValidForPrefix(prefix); it.Next() {
			var env events.Envelope
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			})
			if err != nil {
				return fmt.Errorf("eventlog: decode %x: %w", it.Item().Key(), err)
			}
			if err := fn(env); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadAll 读取 from 之后的全部事件
func (s *Store) ReadAll(from uint64) ([]events.Envelope, error) {
	var out []events.Envelope
	err := s.Range(from, func(env events.Envelope) error {
		out = append(out, env)
		return nil
	})
	return out, err
}

// ParseKey 解析 32 字节加密密钥（hex 或 base64），空字符串返回 nil
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
