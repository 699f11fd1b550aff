// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Querier 查询接口，*sqlx.DB、*sqlx.Tx 和 *database.DB 都满足
type Querier interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxRunner 事务执行接口
type TxRunner interface {
	Querier
	Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// nullFloat 坐标为 0 视为未知
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}
