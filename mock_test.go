package goxa

import (
	"context"
	"errors"
	"sync"
)

type mockXAResource struct {
	name        string
	mutex       sync.Mutex
	calls       []string
	onePhase    []bool
	prepareVote Vote
	prepareErr  error
	commitErr   error
	rollbackErr error
	forgetErr   error
	// prepare 成功之后、提交或回滚成功之前的 xid
	inDoubt []Xid
	// 非空时 forget 先通知 forgetStarted，再等待 forgetRelease
	forgetStarted chan struct{}
	forgetRelease chan struct{}
}

func newMockXAResource(name string) *mockXAResource {
	return &mockXAResource{
		name:        name,
		prepareVote: VoteOK,
	}
}

func (m *mockXAResource) called(call string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockXAResource) Calls() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockXAResource) Name() string {
	return m.name
}

func (m *mockXAResource) Start(ctx context.Context, xid Xid, flags int) error {
	switch flags {
	case TMJoin:
		m.called("start:join")
	case TMResume:
		m.called("start:resume")
	default:
		m.called("start")
	}
	return nil
}

func (m *mockXAResource) End(ctx context.Context, xid Xid, flags int) error {
	switch flags {
	case TMSuspend:
		m.called("end:suspend")
	case TMFail:
		m.called("end:fail")
	default:
		m.called("end:success")
	}
	return nil
}

func (m *mockXAResource) Prepare(ctx context.Context, xid Xid) (Vote, error) {
	m.called("prepare")
	if m.prepareErr == nil && m.prepareVote == VoteOK {
		m.mutex.Lock()
		m.inDoubt = append(m.inDoubt, xid)
		m.mutex.Unlock()
	}
	return m.prepareVote, m.prepareErr
}

func (m *mockXAResource) Commit(ctx context.Context, xid Xid, onePhase bool) error {
	m.called("commit")
	m.mutex.Lock()
	m.onePhase = append(m.onePhase, onePhase)
	m.mutex.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.resolve(xid)
	return nil
}

func (m *mockXAResource) Rollback(ctx context.Context, xid Xid) error {
	m.called("rollback")
	if m.rollbackErr != nil {
		return m.rollbackErr
	}
	m.resolve(xid)
	return nil
}

func (m *mockXAResource) Forget(ctx context.Context, xid Xid) error {
	m.called("forget")
	if m.forgetRelease != nil {
		m.forgetStarted <- struct{}{}
		<-m.forgetRelease
	}
	if m.forgetErr != nil {
		return m.forgetErr
	}
	m.resolve(xid)
	return nil
}

func (m *mockXAResource) Recover(ctx context.Context, flags int) ([]Xid, error) {
	m.called("recover")
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Xid{}, m.inDoubt...), nil
}

func (m *mockXAResource) resolve(xid Xid) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	kept := m.inDoubt[:0]
	for _, x := range m.inDoubt {
		if !x.Equal(xid) {
			kept = append(kept, x)
		}
	}
	m.inDoubt = kept
}

type mockLocalConnection struct {
	mutex      sync.Mutex
	calls      []string
	commitErr  error
	autoCommit bool
}

func (m *mockLocalConnection) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.autoCommit = autoCommit
	if autoCommit {
		m.calls = append(m.calls, "autocommit:on")
	} else {
		m.calls = append(m.calls, "autocommit:off")
	}
	return nil
}

func (m *mockLocalConnection) Commit(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, "commit")
	return m.commitErr
}

func (m *mockLocalConnection) Rollback(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, "rollback")
	return nil
}

func (m *mockLocalConnection) Calls() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string{}, m.calls...)
}

type mockConnectionProvider struct {
	mutex sync.Mutex
	conns map[string]*mockLocalConnection
}

func newMockConnectionProvider() *mockConnectionProvider {
	return &mockConnectionProvider{
		conns: make(map[string]*mockLocalConnection),
	}
}

func (m *mockConnectionProvider) LocalConnection(ctx context.Context, clientID string) (LocalConnection, error) {
	if clientID == "unreachable" {
		return nil, errors.New("connection refused")
	}
	return m.conn(clientID), nil
}

func (m *mockConnectionProvider) conn(clientID string) *mockLocalConnection {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	conn, ok := m.conns[clientID]
	if !ok {
		conn = &mockLocalConnection{autoCommit: true}
		m.conns[clientID] = conn
	}
	return conn
}

type mockRecoveryConnection struct {
	mutex       sync.Mutex
	resource    XAResource
	resourceErr error
	closed      bool
}

func (m *mockRecoveryConnection) XAResource() (XAResource, error) {
	if m.resourceErr != nil {
		return nil, m.resourceErr
	}
	return m.resource, nil
}

func (m *mockRecoveryConnection) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

func (m *mockRecoveryConnection) Closed() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.closed
}

type mockConnector struct {
	mutex    sync.Mutex
	resource *mockXAResource
	// 为 true 时返回的连接拿不到资源句柄
	broken  bool
	opened  []*mockRecoveryConnection
	connErr error
}

func newMockConnector(resource *mockXAResource) *mockConnector {
	return &mockConnector{resource: resource}
}

func (m *mockConnector) Connect(ctx context.Context) (RecoveryConnection, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.connErr != nil {
		return nil, m.connErr
	}
	conn := &mockRecoveryConnection{resource: m.resource}
	if m.broken {
		conn.resourceErr = errors.New("resource adapter not ready")
	}
	m.opened = append(m.opened, conn)
	return conn, nil
}

func (m *mockConnector) Opened() []*mockRecoveryConnection {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*mockRecoveryConnection{}, m.opened...)
}

type mockTXLogSink struct {
	mutex   sync.Mutex
	entries []*TXLogEntry
	err     error
}

func (m *mockTXLogSink) Record(ctx context.Context, entry *TXLogEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockTXLogSink) Entries() []*TXLogEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*TXLogEntry{}, m.entries...)
}

type mockDecisions struct {
	committed map[string]bool
}

func (m *mockDecisions) Committed(ctx context.Context, xid Xid) (bool, error) {
	return m.committed[xid.Key()], nil
}
