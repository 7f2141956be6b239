// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 在 go-redis 之上加了一个具名脚本注册表。
// 业务方在初始化时用名字注册 Lua 脚本，之后通过名字执行；
// go-redis 的 Script 会优先走 EVALSHA，脚本被淘汰时自动回落到 EVAL。
type Client struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 建立连接并做一次 PING 探活。
func NewClient(addr string) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Client{
		rdb:     rdb,
		scripts: make(map[string]*goredis.Script),
	}, nil
}

// GetClient 暴露底层客户端，供需要原生命令的地方使用。
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

// LoadScriptFromContent 注册一段 Lua 脚本并预加载到服务端。
func (c *Client) LoadScriptFromContent(name, content string) error {
	script := goredis.NewScript(content)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := script.Load(ctx, c.rdb).Err(); err != nil {
		return fmt.Errorf("failed to load script %q: %w", name, err)
	}

	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 按名字执行已注册的脚本。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
