package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type TXLogPO struct {
	gorm.Model
	TXID      string    `gorm:"column:tx_id"`
	Scope     string    `gorm:"column:scope"`
	Point     string    `gorm:"column:point"`
	Outcome   string    `gorm:"column:outcome"`
	ClientID  string    `gorm:"column:client_id"`
	Principal string    `gorm:"column:principal"`
	At        time.Time `gorm:"column:at"`
}

func (t TXLogPO) TableName() string {
	return "tx_log"
}

type TXLogDAO struct {
	db *gorm.DB
}

func NewTXLogDAO(db *gorm.DB) *TXLogDAO {
	return &TXLogDAO{
		db: db,
	}
}

func (t *TXLogDAO) GetTXLogs(ctx context.Context, opts ...QueryOption) ([]*TXLogPO, error) {
	db := t.db.WithContext(ctx).Model(&TXLogPO{})
	for _, opt := range opts {
		db = opt(db)
	}

	var logs []*TXLogPO
	return logs, db.Order("id").Scan(&logs).Error
}

func (t *TXLogDAO) CreateTXLog(ctx context.Context, log *TXLogPO) (uint, error) {
	err := t.db.WithContext(ctx).Model(&TXLogPO{}).Create(log).Error
	return log.ID, err
}

// DeleteTXLogs 软删除满足条件的记录，不允许无条件删除
func (t *TXLogDAO) DeleteTXLogs(ctx context.Context, opts ...QueryOption) (int64, error) {
	if len(opts) == 0 {
		return 0, errors.New("delete tx logs without condition")
	}
	db := t.db.WithContext(ctx)
	for _, opt := range opts {
		db = opt(db)
	}
	res := db.Delete(&TXLogPO{})
	return res.RowsAffected, res.Error
}
