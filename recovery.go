package goxa

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/teiid/goxa/log"
)

var errScanExhausted = errors.New("no more resources in the current recovery scan")

// RecoveryScanner 按注册顺序轮询资源管理器，为恢复流程提供资源句柄.
// HasMoreResources 与 GetXAResource 需要成对交替调用，一轮结束时 HasMoreResources 返回一次 false
type RecoveryScanner struct {
	mux      sync.Mutex
	registry *ResourceManagerRegistry
	cycle    []string
	pos      int
	scanning bool
	// 成功打开过的连接，跨轮次复用
	conns map[string]RecoveryConnection
}

func NewRecoveryScanner(registry *ResourceManagerRegistry) *RecoveryScanner {
	return &RecoveryScanner{
		registry: registry,
		conns:    make(map[string]RecoveryConnection),
	}
}

func (s *RecoveryScanner) HasMoreResources() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if !s.scanning {
		s.cycle = s.registry.Names()
		s.pos = 0
		s.scanning = true
		s.pruneLocked()
	}
	if s.pos < len(s.cycle) {
		return true
	}
	s.scanning = false
	return false
}

// GetXAResource 返回下一个资源管理器的资源句柄. 获取失败时关闭半打开的连接
func (s *RecoveryScanner) GetXAResource(ctx context.Context) (XAResource, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if !s.scanning || s.pos >= len(s.cycle) {
		return nil, errResourceUnavailable("", errScanExhausted)
	}
	name := s.cycle[s.pos]
	s.pos++

	conn, ok := s.conns[name]
	if !ok {
		connector, err := s.registry.Connector(name)
		if err != nil {
			return nil, errResourceUnavailable(name, err)
		}
		if conn, err = connector.Connect(ctx); err != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return nil, errResourceUnavailable(name, errors.Wrapf(err, "connect resource manager %s", name))
		}
	}

	resource, err := conn.XAResource()
	if err == nil && resource == nil {
		err = errors.New("nil xa resource")
	}
	if err != nil {
		delete(s.conns, name)
		if _err := conn.Close(); _err != nil {
			log.WarnContextf(ctx, "close recovery connection failed, resource manager: %s, err: %v", name, _err)
		}
		return nil, errResourceUnavailable(name, errors.Wrapf(err, "get xa resource of %s", name))
	}
	s.conns[name] = conn
	return resource, nil
}

// 关闭已注销资源管理器的缓存连接
func (s *RecoveryScanner) pruneLocked() {
	alive := make(map[string]struct{}, len(s.cycle))
	for _, name := range s.cycle {
		alive[name] = struct{}{}
	}
	for name, conn := range s.conns {
		if _, ok := alive[name]; ok {
			continue
		}
		_ = conn.Close()
		delete(s.conns, name)
	}
}

func (s *RecoveryScanner) Close() {
	s.mux.Lock()
	defer s.mux.Unlock()
	for name, conn := range s.conns {
		if err := conn.Close(); err != nil {
			log.Warnf("close recovery connection failed, resource manager: %s, err: %v", name, err)
		}
		delete(s.conns, name)
	}
	s.scanning = false
}

// RecoverInDoubt 完整扫描一轮资源管理器，处理其中悬挂的 xid.
// 本节点启发式完成的 xid，在报告它的资源上重新执行记录的结局.
// 其余 xid 不在活跃表中且已持续悬挂超过 RecoveryGrace 时作为已 prepare 的事务接管，按提交决定提交，否则回滚（presumed abort）
func (t *TXManager) RecoverInDoubt(ctx context.Context) error {
	t.recovering.Lock()
	defer t.recovering.Unlock()

	var errs error
	seen := make(map[string]struct{})
	for t.scanner.HasMoreResources() {
		resource, err := t.scanner.GetXAResource(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		xids, err := resource.Recover(ctx, TMStartRScan|TMEndRScan)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "recover on resource %s", resource.Name()))
			continue
		}
		for _, xid := range xids {
			sighting := resource.Name() + "/" + xid.Key()
			seen[sighting] = struct{}{}
			if err := t.replay(ctx, resource, xid, sighting); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	// 本轮没有再出现的 xid 重新计时
	for sighting := range t.sightings {
		if _, ok := seen[sighting]; !ok {
			delete(t.sightings, sighting)
		}
	}
	return errs
}

func (t *TXManager) replay(ctx context.Context, resource XAResource, xid Xid, sighting string) error {
	t.mu.Lock()
	h := t.heuristics[xid.Key()]
	t.mu.Unlock()
	if h != nil {
		delete(t.sightings, sighting)
		return t.retryHeuristic(ctx, h, resource)
	}

	// 首次发现时只记录时间，避免接管其他节点上刚 prepare 的事务
	first, ok := t.sightings[sighting]
	if !ok {
		t.sightings[sighting] = t.now()
		return nil
	}
	if t.now().Sub(first) < t.opts.RecoveryGrace {
		return nil
	}

	committed, err := t.opts.Decisions.Committed(ctx, xid)
	if err != nil {
		return errors.Wrapf(err, "lookup decision of %s", xid)
	}
	if !t.adopt(xid, resource) {
		return nil
	}
	delete(t.sightings, sighting)

	log.InfoContextf(ctx, "replay in-doubt transaction, xid: %s, resource: %s, commit: %v", xid, resource.Name(), committed)
	if committed {
		err = t.CommitXA(ctx, "", xid, false)
	} else {
		err = t.RollbackXA(ctx, "", xid)
	}
	t.metrics.recovered.Inc()

	var heuristicErr *HeuristicError
	if !errors.As(err, &heuristicErr) {
		return err
	}
	// 资源管理器明确报告启发式完成时才 forget，其余失败留在启发式记录中由下一轮扫描重试
	if errors.Is(heuristicErr, ErrResourceHeuristic) {
		return t.Forget(ctx, "", xid)
	}
	return err
}

// retryHeuristic 在资源上重新执行启发式记录的结局，成功后从记录中移除该资源.
// 资源报告分支已被启发式完成时 forget 该分支
func (t *TXManager) retryHeuristic(ctx context.Context, h *heuristicTX, resource XAResource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := resource.Name()
	if h.removed || !h.has(name) {
		return nil
	}

	var err error
	if h.outcome == OutcomeCommitted {
		err = resource.Commit(ctx, h.xid, false)
	} else {
		err = resource.Rollback(ctx, h.xid)
	}
	if errors.Is(err, ErrResourceHeuristic) {
		log.ErrorContextf(ctx, "branch completed heuristically, forget it, xid: %s, resource: %s, err: %v", h.xid, name, err)
		err = resource.Forget(ctx, h.xid)
	}
	if err != nil {
		return errors.Wrapf(err, "retry %s of %s on resource %s", h.outcome, h.xid, name)
	}

	t.mu.Lock()
	kept := make([]XAResource, 0, len(h.resources))
	for _, r := range h.resources {
		if r.Name() != name {
			kept = append(kept, r)
		}
	}
	h.resources = kept
	if len(kept) == 0 {
		h.removed = true
		delete(t.heuristics, h.xid.Key())
	}
	t.mu.Unlock()

	t.metrics.recovered.Inc()
	log.InfoContextf(ctx, "heuristic branch resolved by recovery, xid: %s, resource: %s, outcome: %s", h.xid, name, h.outcome)
	return nil
}

// 活跃表中已有该 xid 时由其所属流程负责，不接管
func (t *TXManager) adopt(xid Xid, resource XAResource) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.globals[xid.Key()]; ok {
		return false
	}
	if _, ok := t.heuristics[xid.Key()]; ok {
		return false
	}

	tx := newGlobalTX(xid, "", t.now(), t.opts.Timeout)
	tx.associated = ""
	tx.participants = make(map[string]struct{})
	tx.state = StatePrepared
	tx.enlisted[resource.Name()] = &enlistment{
		resource: resource,
		owners:   make(map[string]struct{}),
	}
	tx.order = []string{resource.Name()}
	t.globals[xid.Key()] = tx
	t.metrics.begin(ScopeGlobal)
	return true
}
