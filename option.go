package goxa

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	// start 未指定超时时长时使用的事务超时
	Timeout time.Duration
	// 轮询监控任务间隔时长，负责超时回滚与悬挂事务恢复
	MonitorTick time.Duration
	// 本地事务使用的原生连接
	ConnectionProvider ConnectionProvider
	RecoveryLock       RecoveryLock
	Decisions          DecisionLookup
	// 资源上不属于本节点活跃事务的 xid，至少在两轮扫描中出现且间隔超过该时长才被恢复流程接管
	RecoveryGrace time.Duration
	// 事务审计日志，为空时不记录
	TXLogSink    TXLogSink
	LogQueueSize int
	LogWorkers   int
	// 根据 client id 获取登录用户
	PrincipalResolver func(clientID string) string
	Registerer        prometheus.Registerer
}

type Option func(*Options)

func WithTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = 10 * time.Second
	}

	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func WithConnectionProvider(provider ConnectionProvider) Option {
	return func(o *Options) {
		o.ConnectionProvider = provider
	}
}

func WithRecoveryLock(lock RecoveryLock) Option {
	return func(o *Options) {
		o.RecoveryLock = lock
	}
}

func WithRecoveryGrace(grace time.Duration) Option {
	return func(o *Options) {
		o.RecoveryGrace = grace
	}
}

func WithDecisionLookup(decisions DecisionLookup) Option {
	return func(o *Options) {
		o.Decisions = decisions
	}
}

func WithTXLogSink(sink TXLogSink) Option {
	return func(o *Options) {
		o.TXLogSink = sink
	}
}

func WithLogQueueSize(size int) Option {
	return func(o *Options) {
		o.LogQueueSize = size
	}
}

func WithLogWorkers(workers int) Option {
	return func(o *Options) {
		o.LogWorkers = workers
	}
}

func WithPrincipalResolver(resolver func(clientID string) string) Option {
	return func(o *Options) {
		o.PrincipalResolver = resolver
	}
}

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = registerer
	}
}

func repair(o *Options) {
	if o.MonitorTick <= 0 {
		o.MonitorTick = 10 * time.Second
	}

	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}

	if o.RecoveryGrace <= 0 {
		o.RecoveryGrace = o.Timeout
	}

	if o.RecoveryLock == nil {
		o.RecoveryLock = nopRecoveryLock{}
	}

	if o.Decisions == nil {
		o.Decisions = presumedAbort{}
	}

	if o.LogQueueSize <= 0 {
		o.LogQueueSize = 1024
	}

	if o.LogWorkers <= 0 {
		o.LogWorkers = 1
	}

	if o.PrincipalResolver == nil {
		o.PrincipalResolver = func(string) string { return "" }
	}
}
