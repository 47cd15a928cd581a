package pkg

import (
	"fmt"

	"github.com/xiaoxuxiansheng/redis_lock"
)

func NewRedisClient(network, address, password string) *redis_lock.Client {
	return redis_lock.NewClient(network, address, password)
}

// 构造分支状态 key
func BuildBranchKey(resourceID, xid string) string {
	return fmt.Sprintf("goxa:branch:%s:%s", resourceID, xid)
}

// 构造分支与业务 id 的关联 key
func BuildBranchDataKey(resourceID, xid string) string {
	return fmt.Sprintf("goxa:branch:data:%s:%s", resourceID, xid)
}

// 构造业务数据 key，记录数据的冻结状态
func BuildDataKey(resourceID, bizID string) string {
	return fmt.Sprintf("goxa:data:%s:%s", resourceID, bizID)
}

// 构造分支锁 key
func BuildBranchLockKey(resourceID, xid string) string {
	return fmt.Sprintf("goxa:branch:lock:%s:%s", resourceID, xid)
}

// 构造资源上已 prepare 分支列表的 key，供恢复流程使用
func BuildInDoubtKey(resourceID string) string {
	return fmt.Sprintf("goxa:indoubt:%s", resourceID)
}

func BuildInDoubtLockKey(resourceID string) string {
	return fmt.Sprintf("goxa:indoubt:lock:%s", resourceID)
}

// 构造恢复流程的分布式锁 key，同一个集群内只允许一个节点执行恢复
func BuildRecoveryLockKey(cluster string) string {
	return fmt.Sprintf("goxa:recovery:lock:%s", cluster)
}
