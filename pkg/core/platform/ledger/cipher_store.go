package ledger

import "sync"

// CipherStore 密文存储
// 不透明的键→密文映射，按键追加式：同一键下的历史版本只增不删
// 由账本持有；揭示协议也借助它归档聚合快照
type CipherStore struct {
	mu      sync.RWMutex
	entries map[string][][]byte
}

// NewCipherStore 创建新的密文存储
func NewCipherStore() *CipherStore {
	return &CipherStore{
		entries: make(map[string][][]byte),
	}
}

// Append 在指定键下追加一条密文
func (cs *CipherStore) Append(key string, blob []byte) {
	cp := make([]byte, len(blob))
	copy(cp, blob)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.entries[key] = append(cs.entries[key], cp)
}

// Latest 获取指定键下最新的密文
func (cs *CipherStore) Latest(key string) ([]byte, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	blobs := cs.entries[key]
	if len(blobs) == 0 {
		return nil, false
	}
	return blobs[len(blobs)-1], true
}

// History 获取指定键下的全部历史密文（按追加顺序）
func (cs *CipherStore) History(key string) [][]byte {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	blobs := cs.entries[key]
	out := make([][]byte, len(blobs))
	copy(out, blobs)
	return out
}

// Keys 当前存储中的键数量
func (cs *CipherStore) Keys() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.entries)
}
