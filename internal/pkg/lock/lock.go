// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy 表示锁被其他持有者占用。调用方应当稍后重试，而不是当成致命错误。
	ErrBusy = errors.New("lock: resource busy")

	// ErrLeaseExpired 表示操作使用了一个已经过期（或被别人接管）的租约。
	// 这是持有者自身的使用错误：临界区工作没有在租约窗口内完成。
	ErrLeaseExpired = errors.New("lock: lease expired")
)

// Lease 是一次成功加锁的凭证。Token 在每次加锁时随机生成，
// 释放和续约都要求 Token 匹配，防止过期的持有者误删别人的锁。
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Manager 是分布式锁的统一入口。
// 锁只负责串行化扣减之外的多步临界区（扣减 + 投递事件），
// 库存数量本身的正确性由原子扣减脚本保证，两层不要混为一谈。
type Manager interface {
	// Acquire 尝试获取 key 上的租约。拿不到时返回 ErrBusy。
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)

	// Release 释放租约。租约已过期时返回 ErrLeaseExpired。
	Release(ctx context.Context, lease *Lease) error

	// Extend 将租约延长到新的 ttl。租约已过期时返回 ErrLeaseExpired。
	Extend(ctx context.Context, lease *Lease, ttl time.Duration) error
}
