// internal/pkg/lock/zookeeper_lock.go
package lock

import (
	"sort"
	"strings"
	"time"

	"context"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const zkLockRoot = "/flashmart_locks"

// ZookeeperManager 用临时顺序节点实现锁。
// 节点在会话断开时由 ZooKeeper 自动删除，等价于租约到期回收；
// ttl 参数在这个后端里只影响等待行为，真正的过期由会话超时决定。
type ZookeeperManager struct {
	conn *zk.Conn
	wait time.Duration
}

func NewZookeeperManager(servers []string, sessionTimeout, wait time.Duration) (*ZookeeperManager, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "lock: zookeeper connect failed")
	}
	m := &ZookeeperManager{conn: conn, wait: wait}
	if err := m.ensurePath(zkLockRoot); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *ZookeeperManager) ensurePath(path string) error {
	exists, _, err := m.conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "lock: exists check on %s failed", path)
	}
	if exists {
		return nil
	}
	_, err = m.conn.Create(path, []byte{}, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return errors.Wrapf(err, "lock: failed to create %s", path)
	}
	return nil
}

// Acquire 在 /flashmart_locks/<key>/ 下创建临时顺序节点，
// 最小节点获得锁，其余节点只监听自己的前驱，避免惊群。
func (m *ZookeeperManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	basePath := zkLockRoot + "/" + key
	if err := m.ensurePath(basePath); err != nil {
		return nil, err
	}

	nodePath, err := m.conn.CreateProtectedEphemeralSequential(basePath+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, errors.Wrap(err, "lock: failed to create sequential node")
	}

	deadline := time.Now().Add(m.wait)
	for {
		children, _, err := m.conn.Children(basePath)
		if err != nil {
			m.conn.Delete(nodePath, -1)
			return nil, errors.Wrap(err, "lock: failed to list children")
		}
		sort.Strings(children)

		myName := strings.TrimPrefix(nodePath, basePath+"/")
		if myName == children[0] {
			return &Lease{Key: key, Token: nodePath, TTL: ttl}, nil
		}

		if m.wait <= 0 || time.Now().After(deadline) {
			m.conn.Delete(nodePath, -1)
			return nil, ErrBusy
		}

		prevIndex := -1
		for i, child := range children {
			if child == myName {
				prevIndex = i - 1
				break
			}
		}
		if prevIndex < 0 {
			m.conn.Delete(nodePath, -1)
			return nil, errors.New("lock: own node missing from children")
		}

		exists, _, eventCh, err := m.conn.ExistsW(basePath + "/" + children[prevIndex])
		if err != nil {
			m.conn.Delete(nodePath, -1)
			return nil, errors.Wrap(err, "lock: failed to watch predecessor")
		}
		if !exists {
			continue // 前驱在我们设置 watch 前已经释放了
		}

		select {
		case <-eventCh:
			continue
		case <-time.After(time.Until(deadline)):
			m.conn.Delete(nodePath, -1)
			return nil, ErrBusy
		case <-ctx.Done():
			m.conn.Delete(nodePath, -1)
			return nil, ctx.Err()
		}
	}
}

func (m *ZookeeperManager) Release(ctx context.Context, lease *Lease) error {
	err := m.conn.Delete(lease.Token, -1)
	if err == zk.ErrNoNode {
		return ErrLeaseExpired
	}
	if err != nil {
		return errors.Wrap(err, "lock: failed to delete lock node")
	}
	return nil
}

// Extend 在会话锁语义下是空操作：只要会话活着节点就在。
// 节点已经不存在说明会话曾经断开，锁早已易主。
func (m *ZookeeperManager) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	exists, _, err := m.conn.Exists(lease.Token)
	if err != nil {
		return errors.Wrap(err, "lock: exists check failed")
	}
	if !exists {
		return ErrLeaseExpired
	}
	lease.TTL = ttl
	return nil
}

func (m *ZookeeperManager) Close() {
	m.conn.Close()
}
