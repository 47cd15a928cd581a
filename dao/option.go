package dao

import (
	"time"

	"gorm.io/gorm"
)

type QueryOption func(db *gorm.DB) *gorm.DB

func WithID(id uint) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithTXID(txID string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tx_id = ?", txID)
	}
}

func WithPoint(point string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("point = ?", point)
	}
}

func WithOutcome(outcome string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("outcome = ?", outcome)
	}
}

// WithBefore 记录时间早于 t
func WithBefore(t time.Time) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("at < ?", t)
	}
}
