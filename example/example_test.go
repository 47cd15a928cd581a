package example

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/config"
	"github.com/teiid/goxa/pkg"
)

// 用内存 map 模拟 redis
type fakeRedis struct {
	mux    sync.Mutex
	values map[string]string
}

func (f *fakeRedis) get(key string) (string, bool) {
	f.mux.Lock()
	defer f.mux.Unlock()
	value, ok := f.values[key]
	return value, ok
}

func patchRedis() (*fakeRedis, *gomonkey.Patches) {
	fake := fakeRedis{values: make(map[string]string)}
	patch := gomonkey.ApplyMethod(reflect.TypeOf(&redis_lock.RedisLock{}), "Lock", func(_ *redis_lock.RedisLock, ctx context.Context) error {
		return nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.RedisLock{}), "Unlock", func(_ *redis_lock.RedisLock, ctx context.Context) error {
		return nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.Client{}), "Get", func(_ *redis_lock.Client, ctx context.Context, key string) (string, error) {
		fake.mux.Lock()
		defer fake.mux.Unlock()
		value, ok := fake.values[key]
		if !ok {
			return "", redis_lock.ErrNil
		}
		return value, nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.Client{}), "Set", func(_ *redis_lock.Client, ctx context.Context, key string, value string) (int64, error) {
		fake.mux.Lock()
		defer fake.mux.Unlock()
		fake.values[key] = value
		return 1, nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.Client{}), "SetNX", func(_ *redis_lock.Client, ctx context.Context, key string, value string) (int64, error) {
		fake.mux.Lock()
		defer fake.mux.Unlock()
		if _, ok := fake.values[key]; ok {
			return 0, nil
		}
		fake.values[key] = value
		return 1, nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.Client{}), "Del", func(_ *redis_lock.Client, ctx context.Context, key string) error {
		fake.mux.Lock()
		defer fake.mux.Unlock()
		delete(fake.values, key)
		return nil
	})
	return &fake, patch
}

type decisions map[string]bool

func (d decisions) Committed(ctx context.Context, xid goxa.Xid) (bool, error) {
	return d[xid.Key()], nil
}

func newTestCoordinator(t *testing.T, resources []*RedisResource, opts ...goxa.Option) *Coordinator {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	registry := goxa.NewResourceManagerRegistry()
	for _, resource := range resources {
		assert.Nil(t, registry.Register(resource.Name(), NewRedisConnector(resource)))
	}
	return newCoordinator(cfg, registry, nil, nil, opts...)
}

func Test_Reserve(t *testing.T) {
	fake, patch := patchRedis()
	defer patch.Reset()

	ctx := context.Background()
	client := &redis_lock.Client{}
	resourceA := NewRedisResource("resourceA", client)
	resourceB := NewRedisResource("resourceB", client)
	coordinator := newTestCoordinator(t, []*RedisResource{resourceA, resourceB})
	defer coordinator.Stop()

	tests := []struct {
		name      string
		bizID     string
		prepare   func(xid goxa.Xid)
		expectErr bool
		expectA   string
		expectB   string
	}{
		{
			name:    "committed",
			bizID:   "order-1",
			expectA: DataSuccessful.String(),
			expectB: DataSuccessful.String(),
		},
		{
			name:  "heldByOther",
			bizID: "order-2",
			prepare: func(xid goxa.Xid) {
				other := goxa.MustXid(2, []byte("other"), []byte{})
				assert.Nil(t, resourceB.Start(ctx, other, goxa.TMNoFlags))
				assert.Nil(t, resourceB.Reserve(ctx, other, "order-2"))
			},
			expectErr: true,
			expectB:   DataFrozen.String(),
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xid := goxa.MustXid(1, []byte("reserve-"+cast.ToString(i)), []byte{})
			if tt.prepare != nil {
				tt.prepare(xid)
			}
			err := Reserve(ctx, coordinator.TXManager, "c"+cast.ToString(i), xid, tt.bizID, resourceA, resourceB)
			assert.Equal(t, tt.expectErr, err != nil)

			dataA, _ := fake.get(pkg.BuildDataKey("resourceA", tt.bizID))
			dataB, _ := fake.get(pkg.BuildDataKey("resourceB", tt.bizID))
			assert.Equal(t, tt.expectA, dataA)
			assert.Equal(t, tt.expectB, dataB)
			assert.Equal(t, 0, len(coordinator.GetTransactions()))
		})
	}

	inDoubt, err := resourceA.Recover(ctx, goxa.TMStartRScan|goxa.TMEndRScan)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(inDoubt))
}

func Test_Reserve_read_only(t *testing.T) {
	_, patch := patchRedis()
	defer patch.Reset()

	ctx := context.Background()
	resource := NewRedisResource("resource", &redis_lock.Client{})
	coordinator := newTestCoordinator(t, []*RedisResource{resource})
	defer coordinator.Stop()

	xid := goxa.MustXid(1, []byte("read-only"), []byte{})
	assert.Nil(t, coordinator.Start(ctx, "c1", xid, goxa.TMNoFlags, 0))
	assert.Nil(t, coordinator.Enlist(ctx, "c1", xid, resource))
	assert.Nil(t, coordinator.End(ctx, "c1", xid, goxa.TMSuccess))
	vote, err := coordinator.Prepare(ctx, "c1", xid)
	assert.Nil(t, err)
	assert.Equal(t, goxa.VoteReadOnly, vote)
}

func Test_RedisResource_branch(t *testing.T) {
	fake, patch := patchRedis()
	defer patch.Reset()

	ctx := context.Background()
	resource := NewRedisResource("resource", &redis_lock.Client{})
	assert.Equal(t, "resource", resource.Name())
	xid := goxa.MustXid(1, []byte("branch"), []byte{0x01})

	assert.NotNil(t, resource.Reserve(ctx, xid, "biz"))
	assert.NotNil(t, resource.Start(ctx, xid, goxa.TMJoin))
	assert.Nil(t, resource.Start(ctx, xid, goxa.TMNoFlags))
	assert.NotNil(t, resource.Start(ctx, xid, goxa.TMNoFlags))
	assert.Nil(t, resource.Reserve(ctx, xid, "biz"))
	assert.Nil(t, resource.End(ctx, xid, goxa.TMSuspend))
	assert.Nil(t, resource.Start(ctx, xid, goxa.TMResume))
	assert.Nil(t, resource.End(ctx, xid, goxa.TMSuccess))
	assert.NotNil(t, resource.Commit(ctx, xid, false))

	vote, err := resource.Prepare(ctx, xid)
	assert.Nil(t, err)
	assert.Equal(t, goxa.VoteOK, vote)
	inDoubt, err := resource.Recover(ctx, goxa.TMStartRScan)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(inDoubt))
	assert.True(t, inDoubt[0].Equal(xid))
	inDoubt, err = resource.Recover(ctx, goxa.TMNoFlags)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(inDoubt))

	assert.Nil(t, resource.Commit(ctx, xid, false))
	assert.Nil(t, resource.Commit(ctx, xid, false))
	data, _ := fake.get(pkg.BuildDataKey("resource", "biz"))
	assert.Equal(t, DataSuccessful.String(), data)

	err = resource.Rollback(ctx, xid)
	assert.True(t, errors.Is(err, goxa.ErrResourceHeuristic))
	assert.Nil(t, resource.Forget(ctx, xid))
	_, ok := fake.get(pkg.BuildBranchKey("resource", branchID(xid)))
	assert.False(t, ok)

	// 回滚未知分支是幂等的
	assert.Nil(t, resource.Rollback(ctx, goxa.MustXid(1, []byte("unknown"), []byte{})))
}

func Test_RedisResource_rollback_only(t *testing.T) {
	fake, patch := patchRedis()
	defer patch.Reset()

	ctx := context.Background()
	resource := NewRedisResource("resource", &redis_lock.Client{})
	xid := goxa.MustXid(1, []byte("fail"), []byte{})

	assert.Nil(t, resource.Start(ctx, xid, goxa.TMNoFlags))
	assert.Nil(t, resource.Reserve(ctx, xid, "biz"))
	// 同一分支不能再冻结其他业务 id
	assert.Nil(t, resource.Reserve(ctx, xid, "biz"))
	assert.NotNil(t, resource.Reserve(ctx, xid, "other"))
	_, ok := fake.get(pkg.BuildDataKey("resource", "other"))
	assert.False(t, ok)
	assert.Nil(t, resource.End(ctx, xid, goxa.TMFail))
	vote, err := resource.Prepare(ctx, xid)
	assert.Nil(t, err)
	assert.Equal(t, goxa.VoteRollback, vote)

	assert.Nil(t, resource.Rollback(ctx, xid))
	_, ok = fake.get(pkg.BuildDataKey("resource", "biz"))
	assert.False(t, ok)
	err = resource.Commit(ctx, xid, true)
	assert.True(t, errors.Is(err, goxa.ErrResourceHeuristic))
}

func Test_Coordinator_recover(t *testing.T) {
	fake, patch := patchRedis()
	defer patch.Reset()

	ctx := context.Background()
	client := &redis_lock.Client{}
	resourceA := NewRedisResource("resourceA", client)
	resourceB := NewRedisResource("resourceB", client)
	committed := goxa.MustXid(1, []byte("committed"), []byte{})
	aborted := goxa.MustXid(1, []byte("aborted"), []byte{})

	// 协调器崩溃前遗留的已 prepare 分支
	for _, branch := range []struct {
		resource *RedisResource
		xid      goxa.Xid
		bizID    string
	}{
		{resource: resourceA, xid: committed, bizID: "order-a"},
		{resource: resourceB, xid: aborted, bizID: "order-b"},
	} {
		assert.Nil(t, branch.resource.Start(ctx, branch.xid, goxa.TMNoFlags))
		assert.Nil(t, branch.resource.Reserve(ctx, branch.xid, branch.bizID))
		assert.Nil(t, branch.resource.End(ctx, branch.xid, goxa.TMSuccess))
		vote, err := branch.resource.Prepare(ctx, branch.xid)
		assert.Nil(t, err)
		assert.Equal(t, goxa.VoteOK, vote)
	}

	coordinator := newTestCoordinator(t, []*RedisResource{resourceA, resourceB},
		goxa.WithDecisionLookup(decisions{committed.Key(): true}),
		goxa.WithRecoveryGrace(time.Millisecond),
	)
	defer coordinator.Stop()

	// 首轮扫描只记录悬挂的分支
	assert.Nil(t, coordinator.RecoverInDoubt(ctx))
	dataA, _ := fake.get(pkg.BuildDataKey("resourceA", "order-a"))
	assert.Equal(t, DataFrozen.String(), dataA)

	time.Sleep(10 * time.Millisecond)
	assert.Nil(t, coordinator.RecoverInDoubt(ctx))

	dataA, _ = fake.get(pkg.BuildDataKey("resourceA", "order-a"))
	assert.Equal(t, DataSuccessful.String(), dataA)
	_, ok := fake.get(pkg.BuildDataKey("resourceB", "order-b"))
	assert.False(t, ok)
	for _, resource := range []*RedisResource{resourceA, resourceB} {
		inDoubt, err := resource.Recover(ctx, goxa.TMStartRScan)
		assert.Nil(t, err)
		assert.Equal(t, 0, len(inDoubt))
	}

	purged, err := coordinator.PurgeTXLogs(ctx)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), purged)
}
