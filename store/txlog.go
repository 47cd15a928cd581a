package store

import (
	"context"
	"errors"
	"time"

	"github.com/demdxx/gocast"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/dao"
	"github.com/teiid/goxa/log"
)

// GormTXLogSink 事务审计日志落到 mysql 的 tx_log 表
type GormTXLogSink struct {
	dao *dao.TXLogDAO
}

func NewGormTXLogSink(txLogDAO *dao.TXLogDAO) *GormTXLogSink {
	return &GormTXLogSink{
		dao: txLogDAO,
	}
}

func (g *GormTXLogSink) Record(ctx context.Context, entry *goxa.TXLogEntry) error {
	id, err := g.dao.CreateTXLog(ctx, &dao.TXLogPO{
		TXID:      entry.TXID,
		Scope:     entry.Scope.String(),
		Point:     string(entry.Point),
		Outcome:   entry.Outcome.String(),
		ClientID:  entry.ClientID,
		Principal: entry.Principal,
		At:        entry.At,
	})
	if err != nil {
		return err
	}
	log.DebugContextf(ctx, "txlog persisted, id: %s, txid: %s, point: %s", gocast.ToString(id), entry.TXID, entry.Point)
	return nil
}

// History 按写入顺序返回一笔事务的全部审计记录
func (g *GormTXLogSink) History(ctx context.Context, txID string) ([]*goxa.TXLogEntry, error) {
	records, err := g.dao.GetTXLogs(ctx, dao.WithTXID(txID))
	if err != nil {
		return nil, err
	}

	entries := make([]*goxa.TXLogEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, toEntry(record))
	}
	return entries, nil
}

// Get 按记录 id 获取一条审计记录
func (g *GormTXLogSink) Get(ctx context.Context, id string) (*goxa.TXLogEntry, error) {
	records, err := g.dao.GetTXLogs(ctx, dao.WithID(gocast.ToUint(id)))
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, errors.New("get tx log failed")
	}
	return toEntry(records[0]), nil
}

// Purge 清理 retention 之前的审计记录
func (g *GormTXLogSink) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return g.dao.DeleteTXLogs(ctx, dao.WithBefore(time.Now().Add(-retention)))
}

func toEntry(record *dao.TXLogPO) *goxa.TXLogEntry {
	return &goxa.TXLogEntry{
		TXID:      record.TXID,
		Scope:     goxa.Scope(record.Scope),
		Point:     goxa.TXLogPoint(record.Point),
		Outcome:   goxa.Outcome(record.Outcome),
		ClientID:  record.ClientID,
		Principal: record.Principal,
		At:        record.At,
	}
}
