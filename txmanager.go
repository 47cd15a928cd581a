package goxa

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teiid/goxa/log"
)

// TXManager 事务协调器
// 1. 维护每个客户端的事务上下文，保证本地事务与全局事务互斥、不可嵌套
// 2. 驱动已登记资源的 prepare/commit/rollback/forget
// 3. 后台回滚超时事务，恢复资源管理器中悬挂的事务
//
// 锁顺序: 事务表项的 mu -> TXManager.mu -> TransactionContext.mu. 与资源管理器交互时只持有表项的锁
type TXManager struct {
	ctx     context.Context
	stop    context.CancelFunc
	done    chan struct{}
	opts    *Options
	now     func() time.Time
	metrics *metrics
	txLog   *txLogger

	registry *ResourceManagerRegistry
	scanner  *RecoveryScanner
	// 提供给外部恢复驱动，与 scanner 的扫描进度互不影响
	external *RecoveryScanner
	// 同一时刻只允许一个恢复流程驱动 scanner
	recovering sync.Mutex
	// 恢复扫描中首次发现无主 xid 的时间，由 recovering 保护
	sightings map[string]time.Time

	mu         sync.Mutex
	globals    map[string]*globalTX
	locals     map[string]*localTX
	contexts   map[string]*TransactionContext
	heuristics map[string]*heuristicTX
}

func NewTXManager(registry *ResourceManagerRegistry, opts ...Option) *TXManager {
	if registry == nil {
		registry = NewResourceManagerRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	txManager := TXManager{
		ctx:        ctx,
		stop:       cancel,
		done:       make(chan struct{}),
		opts:       &Options{},
		now:        time.Now,
		registry:   registry,
		scanner:    NewRecoveryScanner(registry),
		external:   NewRecoveryScanner(registry),
		sightings:  make(map[string]time.Time),
		globals:    make(map[string]*globalTX),
		locals:     make(map[string]*localTX),
		contexts:   make(map[string]*TransactionContext),
		heuristics: make(map[string]*heuristicTX),
	}

	for _, opt := range opts {
		opt(txManager.opts)
	}

	repair(txManager.opts)
	txManager.metrics = newMetrics(txManager.opts.Registerer)
	txManager.txLog = newTXLogger(txManager.opts.TXLogSink, txManager.opts.LogQueueSize, txManager.opts.LogWorkers, txManager.metrics)

	go txManager.run()
	return &txManager
}

// Stop 停止后台任务，等待审计日志投递完成并关闭恢复连接
func (t *TXManager) Stop() {
	t.stop()
	<-t.done
	t.txLog.close()
	t.scanner.Close()
	t.external.Close()
}

func (t *TXManager) Registry() *ResourceManagerRegistry {
	return t.registry
}

// Scanner 返回供外部恢复驱动使用的 scanner. RecoverInDoubt 使用独立的 scanner，不受外部扫描进度影响
func (t *TXManager) Scanner() *RecoveryScanner {
	return t.external
}

// GetOrCreateTransactionContext 同一个 client id 返回同一个上下文对象
func (t *TXManager) GetOrCreateTransactionContext(clientID string) *TransactionContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contextLocked(clientID)
}

func (t *TXManager) contextLocked(clientID string) *TransactionContext {
	tctx, ok := t.contexts[clientID]
	if !ok {
		tctx = newTransactionContext(clientID, t.opts.PrincipalResolver(clientID))
		t.contexts[clientID] = tctx
	}
	return tctx
}

// GetTransactions 返回当前所有活跃事务的快照
func (t *TXManager) GetTransactions() []*TransactionInfo {
	t.mu.Lock()
	infos := make([]*TransactionInfo, 0, len(t.locals)+len(t.globals))
	for _, tx := range t.locals {
		infos = append(infos, &TransactionInfo{
			ID:         tx.id,
			Scope:      ScopeLocal,
			ClientID:   tx.clientID,
			Associated: tx.clientID,
			State:      StateActive,
			CreatedAt:  tx.createdAt,
		})
	}
	for _, tx := range t.globals {
		xid := tx.xid
		infos = append(infos, &TransactionInfo{
			ID:         xid.String(),
			Scope:      ScopeGlobal,
			ClientID:   tx.owner,
			Associated: tx.associated,
			Xid:        &xid,
			State:      tx.state,
			CreatedAt:  tx.createdAt,
			Deadline:   tx.deadline,
		})
	}
	t.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Terminate 管理员强制回滚一笔事务. id 为本地事务 id、持有本地事务的 client id 或 xid 字符串
func (t *TXManager) Terminate(ctx context.Context, id string) error {
	t.mu.Lock()
	local, ok := t.locals[id]
	if !ok {
		for _, tx := range t.locals {
			if tx.id == id {
				local, ok = tx, true
				break
			}
		}
	}
	global := t.globals[id]
	t.mu.Unlock()

	if ok {
		log.WarnContextf(ctx, "terminate local transaction, id: %s, client: %s", local.id, local.clientID)
		return t.finishLocal(ctx, local, false)
	}
	if global == nil {
		return errNoTransactionFound(id)
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if global.removed {
		return errNoTransactionFound(id)
	}
	log.WarnContextf(ctx, "terminate global transaction, xid: %s, associated client: %s", global.xid, global.associated)
	return t.rollbackGlobal(ctx, global)
}

// SessionClosed 客户端会话结束时调用. 回滚本地事务，断开与全局事务的关联并将其标记为只能回滚
func (t *TXManager) SessionClosed(ctx context.Context, clientID string) {
	t.mu.Lock()
	local := t.locals[clientID]
	var orphans []*globalTX
	for _, tx := range t.globals {
		_, suspended := tx.suspendedBy[clientID]
		_, participant := tx.participants[clientID]
		if tx.associated == clientID || suspended || participant {
			orphans = append(orphans, tx)
		}
	}
	t.mu.Unlock()

	if local != nil {
		if err := t.finishLocal(ctx, local, false); err != nil {
			log.ErrorContextf(ctx, "rollback local transaction on session close failed, client: %s, err: %v", clientID, err)
		}
	}

	for _, tx := range orphans {
		t.detach(ctx, tx, clientID)
	}

	t.mu.Lock()
	delete(t.contexts, clientID)
	t.mu.Unlock()
}

func (t *TXManager) detach(ctx context.Context, tx *globalTX, clientID string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.removed {
		return
	}

	if tx.associated == clientID {
		t.endResources(ctx, tx, clientID, TMFail)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, suspended := tx.suspendedBy[clientID]; suspended || tx.associated == clientID {
		tx.rollbackOnly = true
	}
	if tx.associated == clientID {
		tx.associated = ""
	}
	delete(tx.suspendedBy, clientID)
	delete(tx.participants, clientID)
	tx.settle()
	log.WarnContextf(ctx, "client: %s closed, detached from xid: %s, rollback only: %v", clientID, tx.xid, tx.rollbackOnly)
}

// 在持有 tx.mu 的前提下查找表项
func (t *TXManager) lockGlobal(xid Xid) (*globalTX, error) {
	t.mu.Lock()
	tx, ok := t.globals[xid.Key()]
	t.mu.Unlock()
	if !ok {
		return nil, errNoGlobalTransaction(xid)
	}

	tx.mu.Lock()
	// 等锁期间被其他流程（比如超时回滚）移除
	if tx.removed {
		tx.mu.Unlock()
		return nil, errNoGlobalTransaction(xid)
	}
	return tx, nil
}

// 调用方持有 TXManager.mu
func (t *TXManager) releaseParticipantsLocked(tx *globalTX) {
	for clientID := range tx.participants {
		if tctx, ok := t.contexts[clientID]; ok && tctx.boundTo(tx.xid) {
			tctx.reset()
		}
	}
	tx.participants = make(map[string]struct{})
}

// 从活跃表中移除. 调用方持有 tx.mu
func (t *TXManager) removeGlobal(ctx context.Context, tx *globalTX, outcome Outcome) {
	t.mu.Lock()
	if cur, ok := t.globals[tx.xid.Key()]; ok && cur == tx {
		delete(t.globals, tx.xid.Key())
	}
	if tx.associated != "" {
		tx.participants[tx.associated] = struct{}{}
		tx.associated = ""
	}
	t.releaseParticipantsLocked(tx)
	tx.removed = true
	if outcome == OutcomeCommitted {
		tx.state = StateCommitted
	} else {
		tx.state = StateRolledBack
	}
	t.mu.Unlock()

	t.metrics.end(ScopeGlobal, outcome)
	t.record(tx.xid.String(), ScopeGlobal, TXLogEnd, outcome, tx.owner)
	log.InfoContextf(ctx, "global transaction completed, xid: %s, outcome: %s", tx.xid, outcome)
}

func (t *TXManager) record(txID string, scope Scope, point TXLogPoint, outcome Outcome, clientID string) {
	if t.txLog == nil {
		return
	}
	t.txLog.offer(&TXLogEntry{
		TXID:      txID,
		Scope:     scope,
		Point:     point,
		Outcome:   outcome,
		ClientID:  clientID,
		Principal: t.opts.PrincipalResolver(clientID),
		At:        t.now(),
	})
}
