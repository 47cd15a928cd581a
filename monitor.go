package goxa

import (
	"context"
	"time"

	"github.com/teiid/goxa/log"
)

func (t *TXManager) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := t.opts.MonitorTick << 3; tick > threshold {
		return threshold
	}
	return tick
}

func (t *TXManager) run() {
	defer close(t.done)
	var tick time.Duration
	var err error
	for {
		// 如果出现了失败，tick 需要避让，遵循退避策略增大 tick 间隔时长
		if err == nil {
			tick = t.opts.MonitorTick
		} else {
			tick = t.backOffTick(tick)
		}
		select {
		case <-t.ctx.Done():
			return

		case <-time.After(tick):
			// 超时回滚只涉及本节点的事务表，不需要加锁
			t.reapExpired(t.ctx)

			// 加锁，避免多个节点同时恢复同一批资源管理器
			if err = t.opts.RecoveryLock.Lock(t.ctx, t.opts.MonitorTick); err != nil {
				// 取锁失败时（大概率被其他节点占有），不对 tick 进行退避升级
				err = nil
				continue
			}

			if err = t.RecoverInDoubt(t.ctx); err != nil {
				log.WarnContextf(t.ctx, "recover in-doubt transactions failed, err: %v", err)
			}
			_ = t.opts.RecoveryLock.Unlock(t.ctx)
		}
	}
}

// reapExpired 回滚已超时且尚未 prepare 的全局事务，返回回滚的数量.
// 与 prepare/commit 通过表项锁互斥，后拿到锁的一方会得到 NoGlobalTransaction
func (t *TXManager) reapExpired(ctx context.Context) int {
	now := t.now()
	t.mu.Lock()
	var expired []*globalTX
	for _, tx := range t.globals {
		if tx.expired(now) {
			expired = append(expired, tx)
		}
	}
	t.mu.Unlock()

	var reaped int
	for _, tx := range expired {
		tx.mu.Lock()
		if tx.removed || !tx.expired(now) {
			tx.mu.Unlock()
			continue
		}
		log.WarnContextf(ctx, "global transaction timed out, xid: %s, associated client: %s", tx.xid, tx.associated)
		if err := t.rollbackGlobal(ctx, tx); err != nil {
			log.ErrorContextf(ctx, "rollback timed out transaction failed, xid: %s, err: %v", tx.xid, err)
		}
		tx.mu.Unlock()
		t.metrics.reaped.Inc()
		reaped++
	}
	return reaped
}
