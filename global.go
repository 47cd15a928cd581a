package goxa

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/teiid/goxa/log"
)

// Start 开启或重新加入一笔全局事务. timeoutSeconds <= 0 时使用默认超时
func (t *TXManager) Start(ctx context.Context, clientID string, xid Xid, flags int, timeoutSeconds int) error {
	switch flags {
	case TMNoFlags:
		return t.startNew(ctx, clientID, xid, timeoutSeconds)
	case TMJoin, TMResume:
		return t.rejoin(ctx, clientID, xid, flags)
	default:
		return errUnknownFlags()
	}
}

func (t *TXManager) startNew(ctx context.Context, clientID string, xid Xid, timeoutSeconds int) error {
	timeout := t.opts.Timeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.globals[xid.Key()]; ok {
		return errGlobalTransactionAlreadyExists(xid)
	}
	if _, ok := t.heuristics[xid.Key()]; ok {
		return errGlobalTransactionAlreadyExists(xid)
	}
	tctx := t.contextLocked(clientID)
	if _, ok := t.locals[clientID]; ok || tctx.Scope() != ScopeNone {
		return errTransactionAlreadyActive()
	}

	t.globals[xid.Key()] = newGlobalTX(xid, clientID, t.now(), timeout)
	tctx.setGlobal(xid)

	t.metrics.begin(ScopeGlobal)
	t.record(xid.String(), ScopeGlobal, TXLogBegin, OutcomeStarted, clientID)
	log.DebugContextf(ctx, "global transaction started, xid: %s, client: %s, timeout: %v", xid, clientID, timeout)
	return nil
}

func (t *TXManager) rejoin(ctx context.Context, clientID string, xid Xid, flags int) error {
	tx, err := t.lockGlobal(xid)
	if err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if err := t.associate(tx, clientID, flags); err != nil {
		return err
	}

	if flags != TMResume {
		return nil
	}
	// 恢复该客户端挂起的资源分支
	for _, name := range tx.order {
		e := tx.enlisted[name]
		if _, ok := e.owners[clientID]; !ok {
			continue
		}
		if err := e.resource.Start(ctx, xid, TMResume); err != nil {
			tx.rollbackOnly = true
			log.ErrorContextf(ctx, "resume resource failed, xid: %s, resource: %s, err: %v", xid, name, err)
		}
	}
	return nil
}

func (t *TXManager) associate(tx *globalTX, clientID string, flags int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tx.associated != "" {
		return errConcurrentEnlistment(tx.xid)
	}
	tctx := t.contextLocked(clientID)
	if _, ok := t.locals[clientID]; ok || tctx.busyElsewhere(tx.xid) {
		return errTransactionAlreadyActive()
	}
	if flags == TMResume {
		if _, ok := tx.suspendedBy[clientID]; !ok {
			return errCannotResume(tx.xid, clientID)
		}
	}
	if tx.state == StatePrepared {
		return errNotActive(tx.xid)
	}

	delete(tx.suspendedBy, clientID)
	tx.associated = clientID
	tx.state = StateActive
	tx.participants[clientID] = struct{}{}
	tctx.setGlobal(tx.xid)
	return nil
}

// End 结束客户端当前在全局事务上的工作
// SUSPEND: 挂起，客户端可以去做其他事务
// SUCCESS/FAIL: 记录分支结果，客户端保持与该事务的绑定，直到 prepare/commit/rollback
func (t *TXManager) End(ctx context.Context, clientID string, xid Xid, flags int) error {
	tx, err := t.lockGlobal(xid)
	if err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.associated != clientID {
		return errClientNotEnlisted(xid)
	}
	switch flags {
	case TMSuspend, TMSuccess, TMFail:
	default:
		return errUnknownFlags()
	}

	t.endResources(ctx, tx, clientID, flags)

	t.mu.Lock()
	defer t.mu.Unlock()
	tx.associated = ""
	switch flags {
	case TMSuspend:
		tx.suspendedBy[clientID] = struct{}{}
		delete(tx.participants, clientID)
		if tctx, ok := t.contexts[clientID]; ok {
			tctx.reset()
		}
	case TMFail:
		tx.rollbackOnly = true
	}
	tx.settle()
	return nil
}

// 对客户端登记过的资源执行 end，失败时事务只能回滚. 调用方持有 tx.mu
func (t *TXManager) endResources(ctx context.Context, tx *globalTX, clientID string, flags int) {
	for _, name := range tx.order {
		e := tx.enlisted[name]
		if _, ok := e.owners[clientID]; !ok {
			continue
		}
		if err := e.resource.End(ctx, tx.xid, flags); err != nil {
			tx.rollbackOnly = true
			log.ErrorContextf(ctx, "end resource failed, xid: %s, resource: %s, flags: %#x, err: %v", tx.xid, name, flags, err)
		}
	}
}

// Enlist 将资源登记到客户端当前关联的全局事务中
func (t *TXManager) Enlist(ctx context.Context, clientID string, xid Xid, resource XAResource) error {
	tx, err := t.lockGlobal(xid)
	if err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.associated != clientID {
		return errClientNotEnlisted(xid)
	}

	name := resource.Name()
	e, ok := tx.enlisted[name]
	flags := TMNoFlags
	if ok {
		if _, owned := e.owners[clientID]; owned {
			return nil
		}
		flags = TMJoin
	}
	if err := resource.Start(ctx, xid, flags); err != nil {
		return errors.Wrapf(err, "enlist resource %s in %s", name, xid)
	}

	if !ok {
		e = &enlistment{
			resource: resource,
			owners:   make(map[string]struct{}),
		}
		tx.enlisted[name] = e
		tx.order = append(tx.order, name)
	}
	e.owners[clientID] = struct{}{}
	return nil
}
