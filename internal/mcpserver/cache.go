package mcpserver

import (
	"sync"
	"time"
)

// Cache는 데이터 뷰의 마지막 성공 응답을 URI별로 보관합니다.
// 팀 서버 조회가 실패하면 TTL 안의 항목만 폴백으로 첨부됩니다.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value    interface{}
	storedAt time.Time
}

// NewCache는 지정된 TTL로 캐시를 생성합니다.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get은 만료되지 않은 값을 (value, storedAt, true)로 반환합니다.
// TTL이 지난 항목은 이 시점에 삭제됩니다.
func (c *Cache) Get(key string) (interface{}, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, time.Time{}, false
	}
	return e.value, e.storedAt, true
}

// Set은 값을 현재 시각과 함께 저장합니다. 기존 값은 덮어씁니다.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value, storedAt: c.now()}
}

// Delete는 키를 삭제합니다.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Len은 저장된 항목 수를 반환합니다. 아직 조회되지 않은 만료 항목도 포함됩니다.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
