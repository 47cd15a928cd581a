package goxa

import (
	"sync"
	"time"
)

// Scope 客户端所处的事务类型
type Scope string

const (
	ScopeNone   Scope = "NONE"
	ScopeLocal  Scope = "LOCAL"
	ScopeGlobal Scope = "GLOBAL"
)

func (s Scope) String() string {
	return string(s)
}

// TXState 全局事务状态
type TXState string

const (
	// 有客户端正在该事务上执行
	StateActive TXState = "ACTIVE"
	// 被客户端挂起，等待 resume
	StateSuspended TXState = "SUSPENDED"
	// 分支已经 end(SUCCESS/FAIL)，等待 prepare
	StateIdle     TXState = "IDLE"
	StatePrepared TXState = "PREPARED"
	// 以下两个为终态，到达后从活跃表中移除
	StateCommitted  TXState = "COMMITTED"
	StateRolledBack TXState = "ROLLEDBACK"
)

func (s TXState) String() string {
	return string(s)
}

// Outcome 事务边界上的结果
type Outcome string

const (
	OutcomeStarted    Outcome = "STARTED"
	OutcomePrepared   Outcome = "PREPARED"
	OutcomeCommitted  Outcome = "COMMITTED"
	OutcomeRolledBack Outcome = "ROLLEDBACK"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeHeuristic  Outcome = "HEURISTIC"
)

func (o Outcome) String() string {
	return string(o)
}

// 一个资源管理器在全局事务中的参与情况
type enlistment struct {
	resource XAResource
	// 通过该资源执行过 start 的客户端
	owners map[string]struct{}
	// prepare 投了只读票
	readOnly bool
}

// 全局事务表项. state、associated、participants 的写入需要同时持有 mu 与 TXManager.mu
type globalTX struct {
	mu sync.Mutex

	xid          Xid
	state        TXState
	associated   string
	owner        string
	suspendedBy  map[string]struct{}
	participants map[string]struct{}
	enlisted     map[string]*enlistment
	// 资源名的加入顺序，保证扇出顺序稳定
	order        []string
	rollbackOnly bool
	createdAt    time.Time
	deadline     time.Time
	removed      bool
}

func newGlobalTX(xid Xid, clientID string, createdAt time.Time, timeout time.Duration) *globalTX {
	return &globalTX{
		xid:          xid,
		state:        StateActive,
		associated:   clientID,
		owner:        clientID,
		suspendedBy:  make(map[string]struct{}),
		participants: map[string]struct{}{clientID: {}},
		enlisted:     make(map[string]*enlistment),
		createdAt:    createdAt,
		deadline:     createdAt.Add(timeout),
	}
}

func (g *globalTX) expired(now time.Time) bool {
	return g.state != StatePrepared && now.After(g.deadline)
}

// 本地事务表项
type localTX struct {
	mu sync.Mutex

	id        string
	clientID  string
	conn      LocalConnection
	createdAt time.Time
	removed   bool
}

// 启发式完成记录，失败的分支全部补偿完成或 forget 之后清理.
// mu 与全局事务表项的 mu 同级，先于 TXManager.mu 获取
type heuristicTX struct {
	mu sync.Mutex

	xid Xid
	// 第二阶段失败的资源，resources 的修改同时持有 mu 与 TXManager.mu
	resources []XAResource
	outcome   Outcome
	removed   bool
}

func (h *heuristicTX) has(name string) bool {
	for _, resource := range h.resources {
		if resource.Name() == name {
			return true
		}
	}
	return false
}

// TransactionInfo 事务表的一份快照，用于管理工具展示与终止
type TransactionInfo struct {
	// 本地事务为生成的 id，全局事务为 xid 的字符串形式
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	ClientID  string    `json:"clientID"`
	// 当前关联的客户端，挂起或已 end 时为空
	Associated string    `json:"associated,omitempty"`
	Xid        *Xid      `json:"xid,omitempty"`
	State      TXState   `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	Deadline   time.Time `json:"deadline,omitempty"`
}

// 没有客户端关联时，根据是否存在挂起的工作确定状态. 调用方持有 tx.mu 与 TXManager.mu
func (g *globalTX) settle() {
	if g.associated != "" || g.state == StatePrepared {
		return
	}
	if len(g.suspendedBy) > 0 {
		g.state = StateSuspended
		return
	}
	g.state = StateIdle
}

// 第二阶段需要参与的资源，只读资源除外
func (g *globalTX) phaseTwo() []string {
	names := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if !g.enlisted[name].readOnly {
			names = append(names, name)
		}
	}
	return names
}
