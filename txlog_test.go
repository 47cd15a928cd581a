package goxa

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
)

// 阻塞在 Record 上，直到 release 被关闭
type blockingTXLogSink struct {
	mockTXLogSink
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingTXLogSink) Record(ctx context.Context, entry *TXLogEntry) error {
	b.once.Do(func() {
		close(b.started)
	})
	<-b.release
	return b.mockTXLogSink.Record(ctx, entry)
}

func Test_txlog_drop_when_full(t *testing.T) {
	sink := &blockingTXLogSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newMetrics(nil)
	txLog := newTXLogger(sink, 2, 1, m)

	txLog.offer(&TXLogEntry{TXID: "tx-0"})
	<-sink.started
	// worker 阻塞中，队列容量为 2
	for i := 1; i <= 4; i++ {
		txLog.offer(&TXLogEntry{TXID: "tx-" + cast.ToString(i)})
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.droppedLogs))

	close(sink.release)
	txLog.close()
	entries := sink.Entries()
	assert.Equal(t, 3, len(entries))
	assert.Equal(t, "tx-0", entries[0].TXID)
	assert.Equal(t, "tx-2", entries[2].TXID)

	// 关闭之后的投递直接忽略
	txLog.offer(&TXLogEntry{TXID: "tx-5"})
	txLog.close()
	assert.Equal(t, 3, len(sink.Entries()))
}

func Test_txlog_sink_error(t *testing.T) {
	sink := &mockTXLogSink{err: errors.New("disk full")}
	txLog := newTXLogger(sink, 8, 2, newMetrics(nil))
	for i := 0; i < 5; i++ {
		txLog.offer(&TXLogEntry{TXID: "tx-" + cast.ToString(i), Point: TXLogBegin})
	}
	txLog.close()
	assert.Equal(t, 5, len(sink.Entries()))
}

func Test_txlog_nil_sink(t *testing.T) {
	txLog := newTXLogger(nil, 8, 1, newMetrics(nil))
	assert.Nil(t, txLog)
	txLog.offer(&TXLogEntry{TXID: "tx"})
	txLog.close()
	assert.Nil(t, LoggerTXLogSink{}.Record(context.Background(), &TXLogEntry{TXID: "tx", Point: TXLogEnd, Outcome: OutcomeCommitted}))
}
