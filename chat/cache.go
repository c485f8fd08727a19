package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentHistoryCacheTTL     = 30 * time.Second
	recentHistoryCacheTimeout = 300 * time.Millisecond
)

// historyCache 缓存某用户在某知识库下的近期对话窗口。缓存不可用时所有
// 操作安全退化为直读数据库。
type historyCache struct {
	client *redis.Client
}

// newHistoryCache 使用 Redis 客户端创建历史缓存。
func newHistoryCache(client *redis.Client) *historyCache {
	if client == nil {
		return nil
	}
	return &historyCache{client: client}
}

// cacheContext 为缓存操作设置超时上下文。
func (h *historyCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), recentHistoryCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= recentHistoryCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, recentHistoryCacheTimeout)
}

// key 构造缓存键格式。
func (h *historyCache) key(kbID, userID uint64) string {
	if h == nil || h.client == nil || kbID == 0 || userID == 0 {
		return ""
	}
	return fmt.Sprintf("chat:recent:%d:%d", kbID, userID)
}

// get 从缓存中读取近期对话窗口。
func (h *historyCache) get(ctx context.Context, kbID, userID uint64) ([]ChatEntry, error) {
	if h == nil || h.client == nil {
		return nil, redis.Nil
	}
	key := h.key(kbID, userID)
	if key == "" {
		return nil, redis.Nil
	}

	ctx, cancel := h.cacheContext(ctx)
	defer cancel()

	data, err := h.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var entries []ChatEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// store 将近期对话窗口写入缓存。
func (h *historyCache) store(ctx context.Context, kbID, userID uint64, entries []ChatEntry) {
	if h == nil || h.client == nil {
		return
	}
	key := h.key(kbID, userID)
	if key == "" {
		return
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		log.Printf("chat: marshal recent history cache payload failed: %v", err)
		return
	}

	ctx, cancel := h.cacheContext(ctx)
	defer cancel()

	if err := h.client.Set(ctx, key, payload, recentHistoryCacheTTL).Err(); err != nil {
		log.Printf("chat: store recent history cache failed: %v", err)
	}
}

// invalidate 清除指定用户与知识库的缓存窗口。
func (h *historyCache) invalidate(ctx context.Context, kbID, userID uint64) {
	if h == nil || h.client == nil {
		return
	}
	key := h.key(kbID, userID)
	if key == "" {
		return
	}

	ctx, cancel := h.cacheContext(ctx)
	defer cancel()

	if err := h.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		log.Printf("chat: invalidate recent history cache failed: %v", err)
	}
}
