package goxa

import (
	"context"
	"time"
)

// XAResource 资源管理器一侧的 xa 分支句柄. jdbc、soap、文件等连接器各自实现
type XAResource interface {
	// 返回资源管理器的唯一名称
	Name() string
	Start(ctx context.Context, xid Xid, flags int) error
	End(ctx context.Context, xid Xid, flags int) error
	// 第一阶段，返回资源的投票
	Prepare(ctx context.Context, xid Xid) (Vote, error)
	// 第二阶段
	Commit(ctx context.Context, xid Xid, onePhase bool) error
	Rollback(ctx context.Context, xid Xid) error
	// 清理资源管理器启发式完成的分支
	Forget(ctx context.Context, xid Xid) error
	// 返回资源管理器中处于 prepared 状态的 xid
	Recover(ctx context.Context, flags int) ([]Xid, error)
}

// LocalConnection 客户端本地事务使用的原生连接
type LocalConnection interface {
	SetAutoCommit(ctx context.Context, autoCommit bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ConnectionProvider 根据 client id 给出其原生连接
type ConnectionProvider interface {
	LocalConnection(ctx context.Context, clientID string) (LocalConnection, error)
}

// Connector 资源管理器连接工厂，由外部在启动时按名称注册，仅供恢复流程使用
type Connector interface {
	Connect(ctx context.Context) (RecoveryConnection, error)
}

// RecoveryConnection 恢复扫描使用的连接
type RecoveryConnection interface {
	XAResource() (XAResource, error)
	Close() error
}

// RecoveryLock 保证集群中同一时刻只有一个节点在执行恢复任务（要求为分布式锁）
type RecoveryLock interface {
	Lock(ctx context.Context, expireDuration time.Duration) error
	Unlock(ctx context.Context) error
}

// DecisionLookup 查询一笔全局事务此前是否已经做出了提交决定
type DecisionLookup interface {
	Committed(ctx context.Context, xid Xid) (bool, error)
}

type nopRecoveryLock struct{}

func (nopRecoveryLock) Lock(ctx context.Context, expireDuration time.Duration) error {
	return nil
}

func (nopRecoveryLock) Unlock(ctx context.Context) error {
	return nil
}

// 缺省为 presumed abort
type presumedAbort struct{}

func (presumedAbort) Committed(ctx context.Context, xid Xid) (bool, error) {
	return false, nil
}
