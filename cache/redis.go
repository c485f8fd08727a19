// Package cache 提供进程级共享的 Redis 客户端。聊天模块用它缓存
// 近期对话窗口；Redis 不可达时调用方应降级为直读数据库。
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

var (
	clientOnce sync.Once
	client     *redis.Client
	clientErr  error
)

// GetRedisClient 返回按环境变量配置的单例 Redis 客户端。首次调用时连接并
// ping 校验；失败的结果会被缓存，后续调用直接返回同一错误。
// REDIS_ADDR 缺省为 localhost:6379，REDIS_PASSWORD 与 REDIS_DB 可选。
func GetRedisClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
		if addr == "" {
			addr = "localhost:6379"
		}

		db := 0
		if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				log.Printf("cache: invalid REDIS_DB %q, using 0", raw)
			} else {
				db = parsed
			}
		}

		candidate := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()

		if err := candidate.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("cache: ping redis %s failed: %w", addr, err)
			_ = candidate.Close()
			return
		}

		client = candidate
	})

	return client, clientErr
}

// Enabled 报告 Redis 客户端是否可用。
func Enabled() bool {
	c, err := GetRedisClient()
	return err == nil && c != nil
}

// Close 释放共享连接，主要供测试使用。
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
