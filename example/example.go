package example

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/xiaoxuxiansheng/redis_lock"
	"gorm.io/gorm"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/config"
	"github.com/teiid/goxa/dao"
	"github.com/teiid/goxa/log"
	"github.com/teiid/goxa/pkg"
	"github.com/teiid/goxa/store"
)

// Coordinator 按配置组装的协调器
type Coordinator struct {
	*goxa.TXManager
	sink      *store.GormTXLogSink
	retention time.Duration
}

// NewCoordinator mysql dsn 为空时审计日志写到日志文件，redis 地址为空时不使用分布式恢复锁
func NewCoordinator(cfg *config.Config, registry *goxa.ResourceManagerRegistry, opts ...goxa.Option) (*Coordinator, error) {
	var db *gorm.DB
	if cfg.MySQL.DSN != "" {
		var err error
		if db, err = pkg.NewDB(cfg.MySQL.DSN, pkg.NewDBConfig()); err != nil {
			return nil, pkgerrors.Wrap(err, "connect mysql")
		}
	}

	var client *redis_lock.Client
	if cfg.Redis.Address != "" {
		client = pkg.NewRedisClient(cfg.Redis.Network, cfg.Redis.Address, cfg.Redis.Password)
	}
	return newCoordinator(cfg, registry, db, client, opts...), nil
}

func newCoordinator(cfg *config.Config, registry *goxa.ResourceManagerRegistry, db *gorm.DB, client *redis_lock.Client, opts ...goxa.Option) *Coordinator {
	coordinator := Coordinator{
		retention: cfg.MySQL.Retention,
	}

	options := cfg.CoordinatorOptions()
	if db != nil {
		txLogDAO := dao.NewTXLogDAO(db)
		coordinator.sink = store.NewGormTXLogSink(txLogDAO)
		options = append(options, goxa.WithTXLogSink(coordinator.sink), goxa.WithDecisionLookup(store.NewDecisionLog(txLogDAO)))
	} else {
		options = append(options, goxa.WithTXLogSink(goxa.LoggerTXLogSink{}))
	}
	if client != nil {
		options = append(options, goxa.WithRecoveryLock(store.NewRedisRecoveryLock(client, pkg.BuildRecoveryLockKey(cfg.Redis.Cluster))))
	}
	options = append(options, opts...)

	coordinator.TXManager = goxa.NewTXManager(registry, options...)
	return &coordinator
}

// PurgeTXLogs 清理超过保留时长的审计记录
func (c *Coordinator) PurgeTXLogs(ctx context.Context) (int64, error) {
	if c.sink == nil || c.retention <= 0 {
		return 0, nil
	}
	return c.sink.Purge(ctx, c.retention)
}

// Reserve 在一笔全局事务中冻结各资源上的同一个业务 id，全部成功后两阶段提交，否则回滚
func Reserve(ctx context.Context, txManager *goxa.TXManager, clientID string, xid goxa.Xid, bizID string, resources ...*RedisResource) error {
	ctx = log.WithContextFields(ctx, "xid", xid.String(), "client", clientID)
	if err := txManager.Start(ctx, clientID, xid, goxa.TMNoFlags, 0); err != nil {
		return err
	}

	for _, resource := range resources {
		err := txManager.Enlist(ctx, clientID, xid, resource)
		if err == nil {
			err = resource.Reserve(ctx, xid, bizID)
		}
		if err != nil {
			log.ErrorContextf(ctx, "reserve failed, resource: %s, biz id: %s, err: %v", resource.Name(), bizID, err)
			if _err := txManager.End(ctx, clientID, xid, goxa.TMFail); _err != nil {
				return _err
			}
			if _err := txManager.RollbackXA(ctx, clientID, xid); _err != nil {
				return _err
			}
			return err
		}
	}

	if err := txManager.End(ctx, clientID, xid, goxa.TMSuccess); err != nil {
		return err
	}

	vote, err := txManager.Prepare(ctx, clientID, xid)
	if err != nil {
		return err
	}
	switch vote {
	case goxa.VoteReadOnly:
		return nil
	case goxa.VoteRollback:
		return fmt.Errorf("transaction %s rolled back by resource managers", xid)
	}
	return txManager.CommitXA(ctx, clientID, xid, false)
}

// Run 读取配置，在两个 redis 资源上冻结同一个业务 id
func Run(ctx context.Context, cfgPath string, bizID string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Redis.Address == "" {
		return errors.New("redis address is required")
	}
	log.SetDefaultLogger(log.NewSugarLogger(log.NewOptions(cfg.LogOptions()...)))
	defer func() {
		_ = log.Sync()
	}()

	redisClient := pkg.NewRedisClient(cfg.Redis.Network, cfg.Redis.Address, cfg.Redis.Password)
	resourceA := NewRedisResource("resourceA", redisClient)
	resourceB := NewRedisResource("resourceB", redisClient)

	// 完成各资源管理器的注册，供恢复流程使用
	registry := goxa.NewResourceManagerRegistry()
	for _, resource := range []*RedisResource{resourceA, resourceB} {
		if err := registry.Register(resource.Name(), NewRedisConnector(resource)); err != nil {
			return err
		}
	}

	coordinator, err := NewCoordinator(cfg, registry)
	if err != nil {
		return err
	}
	defer coordinator.Stop()

	id := uuid.New()
	xid := goxa.MustXid(1, id[:], []byte{})
	if err := Reserve(ctx, coordinator.TXManager, "example", xid, bizID, resourceA, resourceB); err != nil {
		return err
	}
	log.InfoContextf(ctx, "reserve biz id: %s succeeded, xid: %s", bizID, xid)
	return nil
}
