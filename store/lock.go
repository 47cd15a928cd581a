package store

import (
	"context"
	"time"

	"github.com/xiaoxuxiansheng/redis_lock"
)

// RedisRecoveryLock 基于 redis 的分布式锁，集群中同一时刻只有一个节点执行悬挂事务恢复
type RedisRecoveryLock struct {
	client *redis_lock.Client
	key    string
}

func NewRedisRecoveryLock(client *redis_lock.Client, key string) *RedisRecoveryLock {
	return &RedisRecoveryLock{
		client: client,
		key:    key,
	}
}

func (r *RedisRecoveryLock) Lock(ctx context.Context, expireDuration time.Duration) error {
	expireSeconds := int64(expireDuration.Seconds())
	if expireSeconds <= 0 {
		expireSeconds = 1
	}
	lock := redis_lock.NewRedisLock(r.key, r.client, redis_lock.WithExpireSeconds(expireSeconds))
	return lock.Lock(ctx)
}

func (r *RedisRecoveryLock) Unlock(ctx context.Context) error {
	lock := redis_lock.NewRedisLock(r.key, r.client)
	return lock.Unlock(ctx)
}
