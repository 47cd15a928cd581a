package goxa

import (
	"context"
	"sync"
	"time"

	"github.com/teiid/goxa/log"
)

// TXLogPoint 事务边界
type TXLogPoint string

const (
	TXLogBegin TXLogPoint = "BEGIN"
	// 全局事务 prepare 成功
	TXLogPrepare TXLogPoint = "PREPARE"
	// 第二阶段提交之前记录的提交决定，恢复时据此判断是否提交
	TXLogDecision TXLogPoint = "DECISION"
	TXLogEnd      TXLogPoint = "END"
)

// TXLogEntry 一条事务审计记录
type TXLogEntry struct {
	// 本地事务 id 或 xid 字符串
	TXID      string
	Scope     Scope
	Point     TXLogPoint
	Outcome   Outcome
	ClientID  string
	Principal string
	At        time.Time
}

// TXLogSink 事务审计日志的落地，失败只会丢失审计记录，不影响事务本身
type TXLogSink interface {
	Record(ctx context.Context, entry *TXLogEntry) error
}

// LoggerTXLogSink 把审计记录写到日志文件
type LoggerTXLogSink struct{}

func (LoggerTXLogSink) Record(ctx context.Context, entry *TXLogEntry) error {
	log.InfoContextf(ctx, "txlog %s %s txid: %s, scope: %s, client: %s, principal: %s",
		entry.Point, entry.Outcome, entry.TXID, entry.Scope, entry.ClientID, entry.Principal)
	return nil
}

// 有界队列 + 固定数量的 worker 异步投递
type txLogger struct {
	mux     sync.RWMutex
	closed  bool
	sink    TXLogSink
	entries chan *TXLogEntry
	wg      sync.WaitGroup
	metrics *metrics
}

func newTXLogger(sink TXLogSink, size, workers int, m *metrics) *txLogger {
	if sink == nil {
		return nil
	}
	l := txLogger{
		sink:    sink,
		entries: make(chan *TXLogEntry, size),
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.work()
	}
	return &l
}

func (l *txLogger) work() {
	defer l.wg.Done()
	for entry := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.sink.Record(ctx, entry); err != nil {
			log.Warnf("record txlog failed, txid: %s, point: %s, err: %v", entry.TXID, entry.Point, err)
		}
		cancel()
	}
}

// 队列满时直接丢弃，不阻塞事务流程
func (l *txLogger) offer(entry *TXLogEntry) {
	if l == nil {
		return
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.entries <- entry:
	default:
		l.metrics.droppedLogs.Inc()
		log.Warnf("txlog queue full, drop entry, txid: %s, point: %s", entry.TXID, entry.Point)
	}
}

// close 等待已入队的记录全部投递完成
func (l *txLogger) close() {
	if l == nil {
		return
	}
	l.mux.Lock()
	if l.closed {
		l.mux.Unlock()
		return
	}
	l.closed = true
	close(l.entries)
	l.mux.Unlock()
	l.wg.Wait()
}
