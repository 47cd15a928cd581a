package goxa

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrContextNotSerializable 上下文持有活跃事务时不允许序列化，接收方无法接管别人的原生事务
var ErrContextNotSerializable = errors.New("transaction context holds a live transaction and cannot be serialized")

// TransactionContext 单个客户端会话的事务关联. 同一个 client id 在会话生命周期内始终返回同一个对象
type TransactionContext struct {
	mu        sync.RWMutex
	clientID  string
	principal string
	scope     Scope
	xid       *Xid
}

func newTransactionContext(clientID, principal string) *TransactionContext {
	return &TransactionContext{
		clientID:  clientID,
		principal: principal,
		scope:     ScopeNone,
	}
}

func (t *TransactionContext) ClientID() string {
	return t.clientID
}

func (t *TransactionContext) Principal() string {
	return t.principal
}

func (t *TransactionContext) Scope() Scope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scope
}

// Xid 当前绑定的全局事务，非 GLOBAL 时返回 false
func (t *TransactionContext) Xid() (Xid, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.xid == nil {
		return Xid{}, false
	}
	return *t.xid, true
}

func (t *TransactionContext) setLocal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scope = ScopeLocal
	t.xid = nil
}

func (t *TransactionContext) setGlobal(xid Xid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scope = ScopeGlobal
	t.xid = &xid
}

func (t *TransactionContext) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scope = ScopeNone
	t.xid = nil
}

// 是否绑定在给定 xid 之外的事务上
func (t *TransactionContext) busyElsewhere(xid Xid) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.scope {
	case ScopeNone:
		return false
	case ScopeGlobal:
		return !t.xid.Equal(xid)
	default:
		return true
	}
}

func (t *TransactionContext) boundTo(xid Xid) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scope == ScopeGlobal && t.xid.Equal(xid)
}

type transactionContextPO struct {
	ClientID  string `json:"clientID"`
	Principal string `json:"principal,omitempty"`
	Scope     Scope  `json:"scope"`
}

func (t *TransactionContext) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.scope != ScopeNone {
		return nil, ErrContextNotSerializable
	}
	return json.Marshal(transactionContextPO{
		ClientID:  t.clientID,
		Principal: t.principal,
		Scope:     t.scope,
	})
}
