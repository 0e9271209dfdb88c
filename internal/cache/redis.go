package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// store 当前生效的连接与键前缀；未启用时为 nil
type store struct {
	client *redis.Client
	prefix string
}

var current atomic.Pointer[store]

// InitRedis 建立连接并 Ping；失败时保持禁用，去重与限流退化为放行
func InitRedis(cfg *config.RedisConfig) error {
	if old := current.Swap(nil); old != nil {
		_ = old.client.Close()
	}
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  pingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	current.Store(&store{client: client, prefix: normalizePrefix(cfg.Prefix)})
	return nil
}

// Close 关闭连接并禁用缓存
func Close() error {
	if s := current.Swap(nil); s != nil {
		return s.client.Close()
	}
	return nil
}

// Enabled 缓存是否可用
func Enabled() bool {
	return current.Load() != nil
}

// Client 未启用时返回 nil
func Client() *redis.Client {
	if s := current.Load(); s != nil {
		return s.client
	}
	return nil
}

// GetJSON 读取并解码；未命中返回 false
func GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	s := current.Load()
	if s == nil {
		return false, nil
	}
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dest)
}

// SetJSON 编码后写入
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s := current.Load()
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), payload, ttl).Err()
}

// SetNX 仅在 key 不存在时写入；未启用时视为写入成功
func SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	s := current.Load()
	if s == nil {
		return true, nil
	}
	return s.client.SetNX(ctx, s.key(key), value, ttl).Result()
}

// Del 删除
func Del(ctx context.Context, key string) error {
	s := current.Load()
	if s == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *store) key(key string) string {
	return joinKey(s.prefix, key)
}

func joinKey(prefix, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return prefix
	}
	return prefix + ":" + key
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return constants.RedisPrefixDefault
	}
	return prefix
}
