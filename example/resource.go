package example

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/pkg"
)

// 资源侧记录的一个分支的状态
type BranchStatus string

func (b BranchStatus) String() string {
	return string(b)
}

const (
	BranchActive       BranchStatus = "active"       // 有客户端在分支上执行
	BranchIdle         BranchStatus = "idle"         // 已 end，等待 prepare
	BranchRollbackOnly BranchStatus = "rollbackonly" // end(FAIL)，只能回滚
	BranchPrepared     BranchStatus = "prepared"     // 已 prepare
	BranchCommitted    BranchStatus = "committed"    // 已提交
	BranchRolledBack   BranchStatus = "rolledback"   // 已回滚
)

// 一笔事务对应数据的状态
type DataStatus string

func (d DataStatus) String() string {
	return string(d)
}

const (
	DataFrozen     DataStatus = "frozen"     // 冻结态
	DataSuccessful DataStatus = "successful" // 成功态
)

// RedisResource 基于 redis 的 xa 资源. 分支内通过 Reserve 冻结业务数据，提交后置为成功态，回滚时释放
type RedisResource struct {
	id     string
	client *redis_lock.Client
}

func NewRedisResource(id string, client *redis_lock.Client) *RedisResource {
	return &RedisResource{
		id:     id,
		client: client,
	}
}

func (r *RedisResource) Name() string {
	return r.id
}

func branchID(xid goxa.Xid) string {
	text, _ := xid.MarshalText()
	return string(text)
}

func (r *RedisResource) lock(ctx context.Context, key string) (func(), error) {
	lock := redis_lock.NewRedisLock(key, r.client)
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Unlock(ctx)
	}, nil
}

func (r *RedisResource) status(ctx context.Context, xid goxa.Xid) (BranchStatus, error) {
	status, err := r.client.Get(ctx, pkg.BuildBranchKey(r.id, branchID(xid)))
	if err != nil && !errors.Is(err, redis_lock.ErrNil) {
		return "", err
	}
	return BranchStatus(status), nil
}

func (r *RedisResource) setStatus(ctx context.Context, xid goxa.Xid, status BranchStatus) error {
	_, err := r.client.Set(ctx, pkg.BuildBranchKey(r.id, branchID(xid)), status.String())
	return err
}

// 分支冻结的业务 id，未写入数据时返回空
func (r *RedisResource) bizID(ctx context.Context, xid goxa.Xid) (string, error) {
	bizID, err := r.client.Get(ctx, pkg.BuildBranchDataKey(r.id, branchID(xid)))
	if err != nil && !errors.Is(err, redis_lock.ErrNil) {
		return "", err
	}
	return bizID, nil
}

func (r *RedisResource) Start(ctx context.Context, xid goxa.Xid, flags int) error {
	// 基于分支维度加锁
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return err
	}
	defer unlock()

	status, err := r.status(ctx, xid)
	if err != nil {
		return err
	}
	switch flags {
	case goxa.TMNoFlags:
		if status != "" {
			return fmt.Errorf("duplicated branch: %s on resource: %s", xid, r.id)
		}
	case goxa.TMJoin, goxa.TMResume:
		if status != BranchActive && status != BranchIdle {
			return fmt.Errorf("invalid status: %s of branch: %s on resource: %s", status, xid, r.id)
		}
	default:
		return fmt.Errorf("invalid start flags: %#x", flags)
	}
	return r.setStatus(ctx, xid, BranchActive)
}

func (r *RedisResource) End(ctx context.Context, xid goxa.Xid, flags int) error {
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return err
	}
	defer unlock()

	status, err := r.status(ctx, xid)
	if err != nil {
		return err
	}
	if status != BranchActive && status != BranchIdle {
		return fmt.Errorf("invalid status: %s of branch: %s on resource: %s", status, xid, r.id)
	}
	if flags == goxa.TMFail {
		return r.setStatus(ctx, xid, BranchRollbackOnly)
	}
	return r.setStatus(ctx, xid, BranchIdle)
}

// Reserve 在分支内冻结业务数据. 同一个业务 id 同一时刻只能被一个分支冻结，一个分支只能冻结一个业务 id
func (r *RedisResource) Reserve(ctx context.Context, xid goxa.Xid, bizID string) error {
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return err
	}
	defer unlock()

	status, err := r.status(ctx, xid)
	if err != nil {
		return err
	}
	if status != BranchActive {
		return fmt.Errorf("branch: %s is not active on resource: %s", xid, r.id)
	}

	// 一个分支只冻结一个业务 id，重复冻结同一个 id 幂等返回
	reserved, err := r.bizID(ctx, xid)
	if err != nil {
		return err
	}
	if reserved == bizID {
		return nil
	}
	if reserved != "" {
		return fmt.Errorf("branch: %s on resource: %s already reserved data: %s", xid, r.id, reserved)
	}

	// 存储 bizID 和分支的关系
	if _, err = r.client.Set(ctx, pkg.BuildBranchDataKey(r.id, branchID(xid)), bizID); err != nil {
		return err
	}

	// 要求必须从零到一把 bizID 对应的数据置为冻结态
	reply, err := r.client.SetNX(ctx, pkg.BuildDataKey(r.id, bizID), DataFrozen.String())
	if err != nil {
		return err
	}
	if reply != 1 {
		_ = r.client.Del(ctx, pkg.BuildBranchDataKey(r.id, branchID(xid)))
		return fmt.Errorf("data: %s on resource: %s is held by another transaction", bizID, r.id)
	}
	return nil
}

func (r *RedisResource) Prepare(ctx context.Context, xid goxa.Xid) (goxa.Vote, error) {
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return goxa.VoteRollback, err
	}
	defer unlock()

	status, err := r.status(ctx, xid)
	if err != nil {
		return goxa.VoteRollback, err
	}
	switch status {
	case BranchPrepared:
		return goxa.VoteOK, nil
	case BranchIdle:
	case BranchRollbackOnly:
		return goxa.VoteRollback, nil
	default:
		return goxa.VoteRollback, fmt.Errorf("invalid status: %s of branch: %s on resource: %s", status, xid, r.id)
	}

	bizID, err := r.bizID(ctx, xid)
	if err != nil {
		return goxa.VoteRollback, err
	}
	// 分支没有写入数据，直接结束
	if bizID == "" {
		return goxa.VoteReadOnly, r.client.Del(ctx, pkg.BuildBranchKey(r.id, branchID(xid)))
	}

	if err = r.setStatus(ctx, xid, BranchPrepared); err != nil {
		return goxa.VoteRollback, err
	}
	if err = r.markInDoubt(ctx, xid, true); err != nil {
		return goxa.VoteRollback, err
	}
	return goxa.VoteOK, nil
}

func (r *RedisResource) Commit(ctx context.Context, xid goxa.Xid, onePhase bool) error {
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return err
	}
	defer unlock()

	status, err := r.status(ctx, xid)
	if err != nil {
		return err
	}
	switch status {
	case BranchCommitted: // 已提交，直接幂等响应为成功
		return nil
	case BranchPrepared:
	case BranchIdle:
		if !onePhase {
			return fmt.Errorf("branch: %s on resource: %s is not prepared", xid, r.id)
		}
	case BranchRolledBack:
		return pkgerrors.Wrapf(goxa.ErrResourceHeuristic, "branch: %s on resource: %s already rolled back", xid, r.id)
	default:
		return fmt.Errorf("invalid status: %s of branch: %s on resource: %s", status, xid, r.id)
	}

	bizID, err := r.bizID(ctx, xid)
	if err != nil {
		return err
	}
	if bizID != "" {
		// 要求对应的数据状态此前为 frozen
		dataStatus, err := r.client.Get(ctx, pkg.BuildDataKey(r.id, bizID))
		if err != nil {
			return err
		}
		if dataStatus != DataFrozen.String() {
			return fmt.Errorf("invalid data status: %s of data: %s on resource: %s", dataStatus, bizID, r.id)
		}
		if _, err = r.client.Set(ctx, pkg.BuildDataKey(r.id, bizID), DataSuccessful.String()); err != nil {
			return err
		}
	}

	if err = r.setStatus(ctx, xid, BranchCommitted); err != nil {
		return err
	}
	return r.markInDoubt(ctx, xid, false)
}

func (r *RedisResource) Rollback(ctx context.Context, xid goxa.Xid) error {
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return err
	}
	defer unlock()

	status, err := r.status(ctx, xid)
	if err != nil {
		return err
	}
	switch status {
	case "", BranchRolledBack:
		return nil
	case BranchCommitted: // 先 commit 后 rollback，分支已经被启发式完成
		return pkgerrors.Wrapf(goxa.ErrResourceHeuristic, "branch: %s on resource: %s already committed", xid, r.id)
	}

	bizID, err := r.bizID(ctx, xid)
	if err != nil {
		return err
	}
	// 删除对应的 frozen 冻结记录
	if bizID != "" {
		if err = r.client.Del(ctx, pkg.BuildDataKey(r.id, bizID)); err != nil {
			return err
		}
	}

	if err = r.setStatus(ctx, xid, BranchRolledBack); err != nil {
		return err
	}
	return r.markInDoubt(ctx, xid, false)
}

func (r *RedisResource) Forget(ctx context.Context, xid goxa.Xid) error {
	unlock, err := r.lock(ctx, pkg.BuildBranchLockKey(r.id, branchID(xid)))
	if err != nil {
		return err
	}
	defer unlock()

	if err = r.client.Del(ctx, pkg.BuildBranchKey(r.id, branchID(xid))); err != nil {
		return err
	}
	if err = r.client.Del(ctx, pkg.BuildBranchDataKey(r.id, branchID(xid))); err != nil {
		return err
	}
	return r.markInDoubt(ctx, xid, false)
}

// Recover 返回资源上已 prepare 尚未完成的分支. 带 TMStartRScan 时一次性返回全部，其余续扫调用返回空
func (r *RedisResource) Recover(ctx context.Context, flags int) ([]goxa.Xid, error) {
	if flags&goxa.TMStartRScan == 0 {
		return nil, nil
	}
	ids, err := r.inDoubt(ctx)
	if err != nil {
		return nil, err
	}

	xids := make([]goxa.Xid, 0, len(ids))
	for _, id := range ids {
		xid, err := goxa.ParseXid(id)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "parse in-doubt branch on resource %s", r.id)
		}
		xids = append(xids, xid)
	}
	return xids, nil
}

func (r *RedisResource) inDoubt(ctx context.Context) ([]string, error) {
	body, err := r.client.Get(ctx, pkg.BuildInDoubtKey(r.id))
	if errors.Is(err, redis_lock.ErrNil) || (err == nil && body == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err = json.Unmarshal([]byte(body), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// 维护已 prepare 分支列表
func (r *RedisResource) markInDoubt(ctx context.Context, xid goxa.Xid, prepared bool) error {
	unlock, err := r.lock(ctx, pkg.BuildInDoubtLockKey(r.id))
	if err != nil {
		return err
	}
	defer unlock()

	ids, err := r.inDoubt(ctx)
	if err != nil {
		return err
	}
	id := branchID(xid)
	kept := make([]string, 0, len(ids)+1)
	for _, existed := range ids {
		if existed != id {
			kept = append(kept, existed)
		}
	}
	if prepared {
		kept = append(kept, id)
	}
	if len(kept) == len(ids) && !prepared {
		return nil
	}

	body, _ := json.Marshal(kept)
	_, err = r.client.Set(ctx, pkg.BuildInDoubtKey(r.id), string(body))
	return err
}

// RedisConnector 恢复流程使用的连接工厂
type RedisConnector struct {
	resource *RedisResource
}

func NewRedisConnector(resource *RedisResource) *RedisConnector {
	return &RedisConnector{
		resource: resource,
	}
}

func (c *RedisConnector) Connect(ctx context.Context) (goxa.RecoveryConnection, error) {
	return &redisConnection{resource: c.resource}, nil
}

type redisConnection struct {
	resource *RedisResource
}

func (c *redisConnection) XAResource() (goxa.XAResource, error) {
	return c.resource, nil
}

func (c *redisConnection) Close() error {
	return nil
}
