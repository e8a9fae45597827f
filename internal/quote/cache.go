package quote

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
)

type cacheEntry struct {
	quote     model.Quote
	expiresAt time.Time
}

// Cache は取得に成功した株価を銘柄ごとにTTLの間保持するProviderのデコレーター。
// 失敗は保持しない。
type Cache struct {
	next     Provider
	ttl      time.Duration
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache はCacheを生成する。recorderはnilでもよい。
func NewCache(next Provider, ttl time.Duration, recorder Recorder) *Cache {
	return &Cache{
		next:     next,
		ttl:      ttl,
		recorder: recorder,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// GetQuote はキャッシュが有効ならキャッシュを、そうでなければ下位Providerの結果を返す。
func (c *Cache) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[ticker]
	if ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		if c.recorder != nil {
			c.recorder.RecordQuoteFetch(ResultCached, 0)
		}
		q := e.quote
		return &q, nil
	}
	if ok {
		delete(c.entries, ticker)
	}
	c.mu.Unlock()

	q, err := c.next.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sweepLocked(now)
	c.entries[ticker] = cacheEntry{quote: *q, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return q, nil
}

// sweepLocked は期限切れのエントリを削除する。呼び出し側でmuを保持すること。
// 二度と照会されない銘柄がエントリに残り続けないよう、格納のたびに実行する。
func (c *Cache) sweepLocked(now time.Time) {
	maps.DeleteFunc(c.entries, func(_ string, e cacheEntry) bool {
		return !now.Before(e.expiresAt)
	})
}

// size は保持しているエントリ数を返す。
func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// compile-time interface check
var _ Provider = (*Cache)(nil)
