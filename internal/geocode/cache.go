package geocode

import (
	"sync"
	"time"
)

// RegionCache はPin IDをキーとする地域ラベルのTTLキャッシュ。
// Pinの座標は作成後に変化しないため、一度解決したラベルはTTLの間再利用できる。
// 集計のたびに同じPinをジオコーディングし直すことを避ける。
type RegionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	region    string
	expiresAt time.Time
}

// NewRegionCache は指定TTLのRegionCacheを生成する。
func NewRegionCache(ttl time.Duration) *RegionCache {
	return &RegionCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get はPin IDに対応するキャッシュ済み地域ラベルを返す。
// 未登録または期限切れの場合はfalseを返す。
func (c *RegionCache) Get(pinID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[pinID]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, pinID)
		return "", false
	}
	return entry.region, true
}

// Set はPin IDに対する地域ラベルを登録する。
// UnknownRegionはキャッシュしない（次回の再解決に期待する）。
func (c *RegionCache) Set(pinID, region string) {
	if region == UnknownRegion {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pinID] = cacheEntry{
		region:    region,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete はPin IDのエントリを削除する。Pinの完了削除時に呼ばれる。
func (c *RegionCache) Delete(pinID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, pinID)
}
