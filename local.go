package goxa

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/teiid/goxa/log"
)

// Begin 为客户端开启本地事务
func (t *TXManager) Begin(ctx context.Context, clientID string) error {
	t.mu.Lock()
	tctx := t.contextLocked(clientID)
	if _, ok := t.locals[clientID]; ok || tctx.Scope() != ScopeNone {
		t.mu.Unlock()
		return errTransactionAlreadyActive()
	}
	tx := &localTX{
		id:        uuid.NewString(),
		clientID:  clientID,
		createdAt: t.now(),
	}
	// 新表项对其他流程可见之前先加锁，保证 commit/rollback 等待连接初始化完成
	tx.mu.Lock()
	defer tx.mu.Unlock()
	t.locals[clientID] = tx
	tctx.setLocal()
	t.mu.Unlock()

	if provider := t.opts.ConnectionProvider; provider != nil {
		conn, err := provider.LocalConnection(ctx, clientID)
		if err == nil {
			err = conn.SetAutoCommit(ctx, false)
		}
		if err != nil {
			t.removeLocal(tx)
			log.ErrorContextf(ctx, "begin local transaction failed, client: %s, err: %v", clientID, err)
			return errors.Wrapf(err, "begin local transaction for client %s", clientID)
		}
		tx.conn = conn
	}

	t.metrics.begin(ScopeLocal)
	t.record(tx.id, ScopeLocal, TXLogBegin, OutcomeStarted, clientID)
	return nil
}

// Commit 提交客户端的本地事务
func (t *TXManager) Commit(ctx context.Context, clientID string) error {
	tx, err := t.getLocal(clientID)
	if err != nil {
		return err
	}
	return t.finishLocal(ctx, tx, true)
}

// Rollback 回滚客户端的本地事务
func (t *TXManager) Rollback(ctx context.Context, clientID string) error {
	tx, err := t.getLocal(clientID)
	if err != nil {
		return err
	}
	return t.finishLocal(ctx, tx, false)
}

func (t *TXManager) getLocal(clientID string) (*localTX, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.locals[clientID]
	if !ok {
		return nil, errNoTransactionFound(clientID)
	}
	return tx, nil
}

// 无论原生连接的提交是否成功，表项都会被移除
func (t *TXManager) finishLocal(ctx context.Context, tx *localTX, commit bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.removed {
		return errNoTransactionFound(tx.clientID)
	}

	var err error
	if tx.conn != nil {
		if commit {
			err = tx.conn.Commit(ctx)
		} else {
			err = tx.conn.Rollback(ctx)
		}
		if _err := tx.conn.SetAutoCommit(ctx, true); _err != nil {
			log.WarnContextf(ctx, "restore auto commit failed, client: %s, err: %v", tx.clientID, _err)
		}
	}
	t.removeLocal(tx)

	outcome := OutcomeRolledBack
	if commit {
		outcome = OutcomeCommitted
	}
	if err != nil {
		outcome = OutcomeFailed
		log.ErrorContextf(ctx, "complete local transaction failed, client: %s, commit: %v, err: %v", tx.clientID, commit, err)
		err = errors.Wrapf(err, "complete local transaction for client %s", tx.clientID)
	}
	t.metrics.end(ScopeLocal, outcome)
	t.record(tx.id, ScopeLocal, TXLogEnd, outcome, tx.clientID)
	return err
}

// 调用方持有 tx.mu
func (t *TXManager) removeLocal(tx *localTX) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.locals[tx.clientID]; ok && cur == tx {
		delete(t.locals, tx.clientID)
		if tctx, ok := t.contexts[tx.clientID]; ok && tctx.Scope() == ScopeLocal {
			tctx.reset()
		}
	}
	tx.removed = true
}
