package store

import (
	"context"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/dao"
)

// DecisionLog 根据审计日志中的提交决定判断悬挂事务的结局，没有记录时按回滚处理
type DecisionLog struct {
	dao *dao.TXLogDAO
}

func NewDecisionLog(txLogDAO *dao.TXLogDAO) *DecisionLog {
	return &DecisionLog{
		dao: txLogDAO,
	}
}

func (d *DecisionLog) Committed(ctx context.Context, xid goxa.Xid) (bool, error) {
	records, err := d.dao.GetTXLogs(ctx,
		dao.WithTXID(xid.String()),
		dao.WithOutcome(goxa.OutcomeCommitted.String()),
	)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}
