package goxa

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/teiid/goxa/log"
)

type resourceResult struct {
	name string
	vote Vote
	err  error
}

// Prepare 第一阶段. 所有资源只读或没有登记资源时事务直接结束并返回 VoteReadOnly，
// 任一资源拒绝时回滚全部资源并返回 VoteRollback
func (t *TXManager) Prepare(ctx context.Context, clientID string, xid Xid) (Vote, error) {
	tx, err := t.lockGlobal(xid)
	if err != nil {
		return VoteRollback, err
	}
	defer tx.mu.Unlock()

	if err := t.checkCompletable(tx); err != nil {
		return VoteRollback, err
	}
	if tx.state == StatePrepared {
		return VoteRollback, errNotActive(xid)
	}

	if tx.rollbackOnly {
		log.WarnContextf(ctx, "prepare rollback only transaction, xid: %s, client: %s", xid, clientID)
		t.rollbackQuietly(ctx, tx)
		t.removeGlobal(ctx, tx, OutcomeRolledBack)
		return VoteRollback, nil
	}

	switch vote := t.prepareResources(ctx, tx); vote {
	case VoteReadOnly:
		t.removeGlobal(ctx, tx, OutcomeCommitted)
		return vote, nil
	case VoteRollback:
		t.rollbackQuietly(ctx, tx)
		t.removeGlobal(ctx, tx, OutcomeRolledBack)
		return vote, nil
	}

	t.mu.Lock()
	tx.state = StatePrepared
	t.releaseParticipantsLocked(tx)
	t.mu.Unlock()
	t.record(xid.String(), ScopeGlobal, TXLogPrepare, OutcomePrepared, tx.owner)
	return VoteOK, nil
}

// CommitXA 第二阶段提交. onePhase 为 true 时允许对未 prepare 的事务直接提交，
// 登记了多个资源时内部先执行一次 prepare
func (t *TXManager) CommitXA(ctx context.Context, clientID string, xid Xid, onePhase bool) error {
	tx, err := t.lockGlobal(xid)
	if err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.associated != "" {
		return errConcurrentEnlistment(xid)
	}
	if tx.state == StatePrepared {
		return t.commitGlobal(ctx, tx, false)
	}
	if !onePhase {
		return errNotPrepared(xid)
	}

	if err := t.checkCompletable(tx); err != nil {
		return err
	}
	if tx.rollbackOnly {
		t.rollbackQuietly(ctx, tx)
		t.removeGlobal(ctx, tx, OutcomeRolledBack)
		return errRolledBack(xid)
	}
	if len(tx.order) <= 1 {
		return t.commitGlobal(ctx, tx, true)
	}

	switch t.prepareResources(ctx, tx) {
	case VoteReadOnly:
		t.removeGlobal(ctx, tx, OutcomeCommitted)
		return nil
	case VoteRollback:
		t.rollbackQuietly(ctx, tx)
		t.removeGlobal(ctx, tx, OutcomeRolledBack)
		return errRolledBack(xid)
	}
	return t.commitGlobal(ctx, tx, false)
}

// RollbackXA 回滚全局事务，挂起的分支一并回滚
func (t *TXManager) RollbackXA(ctx context.Context, clientID string, xid Xid) error {
	tx, err := t.lockGlobal(xid)
	if err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.associated != "" {
		return errConcurrentEnlistment(xid)
	}
	return t.rollbackGlobal(ctx, tx)
}

// Forget 清理启发式完成的事务. 资源全部 forget 成功后才移除记录，forget 失败的资源继续保留
func (t *TXManager) Forget(ctx context.Context, clientID string, xid Xid) error {
	t.mu.Lock()
	h, ok := t.heuristics[xid.Key()]
	t.mu.Unlock()
	if !ok {
		return errNoGlobalTransaction(xid)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removed {
		return errNoGlobalTransaction(xid)
	}

	var errs error
	var failed []XAResource
	for _, resource := range h.resources {
		if err := resource.Forget(ctx, xid); err != nil {
			failed = append(failed, resource)
			errs = multierr.Append(errs, errors.Wrapf(err, "forget on resource %s", resource.Name()))
		}
	}

	t.mu.Lock()
	h.resources = failed
	if errs == nil {
		h.removed = true
		delete(t.heuristics, xid.Key())
	}
	t.mu.Unlock()

	if errs != nil {
		log.ErrorContextf(ctx, "forget heuristic transaction failed, xid: %s, err: %v", xid, errs)
		return errs
	}
	log.InfoContextf(ctx, "heuristic transaction forgotten, xid: %s, client: %s", xid, clientID)
	return nil
}

// Recover 返回已 prepare 以及启发式完成的 xid
func (t *TXManager) Recover(ctx context.Context) []Xid {
	t.mu.Lock()
	xids := make([]Xid, 0, len(t.globals)+len(t.heuristics))
	for _, tx := range t.globals {
		if tx.state == StatePrepared {
			xids = append(xids, tx.xid)
		}
	}
	for _, h := range t.heuristics {
		xids = append(xids, h.xid)
	}
	t.mu.Unlock()

	sort.Slice(xids, func(i, j int) bool {
		return xids[i].Key() < xids[j].Key()
	})
	return xids
}

// 调用方持有 tx.mu
func (t *TXManager) checkCompletable(tx *globalTX) error {
	if tx.associated != "" {
		return errConcurrentEnlistment(tx.xid)
	}
	if t.suspendedWork(tx) {
		return errSuspendedWorkExists(tx.xid)
	}
	return nil
}

// 同一全局事务的任一分支存在挂起的工作
func (t *TXManager) suspendedWork(tx *globalTX) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(tx.suspendedBy) > 0 {
		return true
	}
	for _, other := range t.globals {
		if other != tx && other.xid.SameGlobal(tx.xid) && len(other.suspendedBy) > 0 {
			return true
		}
	}
	return false
}

func (t *TXManager) prepareResources(ctx context.Context, tx *globalTX) Vote {
	if len(tx.order) == 0 {
		return VoteReadOnly
	}

	results := t.fanOut(ctx, tx, tx.order, func(ctx context.Context, resource XAResource) (Vote, error) {
		return resource.Prepare(ctx, tx.xid)
	})

	vote := VoteReadOnly
	failed := false
	for _, result := range results {
		if result.err != nil || result.vote == VoteRollback {
			log.ErrorContextf(ctx, "prepare failed, xid: %s, resource: %s, vote: %s, err: %v", tx.xid, result.name, result.vote, result.err)
			failed = true
			continue
		}
		if result.vote == VoteReadOnly {
			tx.enlisted[result.name].readOnly = true
			continue
		}
		vote = VoteOK
	}
	if failed {
		return VoteRollback
	}
	return vote
}

func (t *TXManager) commitGlobal(ctx context.Context, tx *globalTX, onePhase bool) error {
	if !onePhase {
		t.record(tx.xid.String(), ScopeGlobal, TXLogDecision, OutcomeCommitted, tx.owner)
	}
	results := t.fanOut(ctx, tx, tx.phaseTwo(), func(ctx context.Context, resource XAResource) (Vote, error) {
		return VoteOK, resource.Commit(ctx, tx.xid, onePhase)
	})
	return t.complete(ctx, tx, OutcomeCommitted, results)
}

// 调用方持有 tx.mu
func (t *TXManager) rollbackGlobal(ctx context.Context, tx *globalTX) error {
	results := t.fanOut(ctx, tx, tx.phaseTwo(), func(ctx context.Context, resource XAResource) (Vote, error) {
		return VoteOK, resource.Rollback(ctx, tx.xid)
	})
	return t.complete(ctx, tx, OutcomeRolledBack, results)
}

// prepare 失败之后的回滚，资源侧的报错只记录日志
func (t *TXManager) rollbackQuietly(ctx context.Context, tx *globalTX) {
	results := t.fanOut(ctx, tx, tx.phaseTwo(), func(ctx context.Context, resource XAResource) (Vote, error) {
		return VoteOK, resource.Rollback(ctx, tx.xid)
	})
	for _, result := range results {
		if result.err != nil {
			log.WarnContextf(ctx, "rollback after failed prepare, xid: %s, resource: %s, err: %v", tx.xid, result.name, result.err)
		}
	}
}

// 部分资源失败时依旧移除表项，失败的资源留给 forget 或恢复流程处理
func (t *TXManager) complete(ctx context.Context, tx *globalTX, outcome Outcome, results []resourceResult) error {
	var failures error
	var failed []XAResource
	for _, result := range results {
		if result.err == nil {
			continue
		}
		failed = append(failed, tx.enlisted[result.name].resource)
		failures = multierr.Append(failures, errors.Wrapf(result.err, "resource %s", result.name))
	}

	if failures == nil {
		t.removeGlobal(ctx, tx, outcome)
		return nil
	}

	t.mu.Lock()
	t.heuristics[tx.xid.Key()] = &heuristicTX{xid: tx.xid, resources: failed, outcome: outcome}
	t.mu.Unlock()
	t.metrics.heuristics.Inc()
	t.removeGlobal(ctx, tx, OutcomeHeuristic)
	log.ErrorContextf(ctx, "heuristic outcome, xid: %s, intended: %s, err: %v", tx.xid, outcome, failures)
	return &HeuristicError{
		Xid:      tx.xid,
		Outcome:  outcome,
		Failures: failures,
	}
}

// 并发地对多个资源执行同一个操作，等待全部返回
func (t *TXManager) fanOut(ctx context.Context, tx *globalTX, names []string, do func(ctx context.Context, resource XAResource) (Vote, error)) []resourceResult {
	resultCh := make(chan resourceResult, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		// shadow
		name := name
		resource := tx.enlisted[name].resource
		wg.Add(1)
		go func() {
			defer wg.Done()
			vote, err := do(ctx, resource)
			resultCh <- resourceResult{name: name, vote: vote, err: err}
		}()
	}
	wg.Wait()
	close(resultCh)

	results := make([]resourceResult, 0, len(names))
	for result := range resultCh {
		results = append(results, result)
	}
	return results
}
