package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// AssignmentRepository 派单结果历史仓储
type AssignmentRepository struct {
	db  TxRunner
	now func() time.Time
}

// NewAssignmentRepository 创建派单结果仓储
func NewAssignmentRepository(db TxRunner) *AssignmentRepository {
	return &AssignmentRepository{db: db, now: time.Now}
}

// SaveBatch 在一个事务中保存一个批次的全部记录（已派、失败、延后）
func (r *AssignmentRepository) SaveBatch(ctx context.Context, batchID string, records []model.AssignmentRecord) error {
	if len(records) == 0 {
		return nil
	}

	const query = `
		INSERT INTO assignments (
			batch_id, job_id, technician_id, job_date, service_type, status,
			start_time, end_time, travel_minutes, fallback_details, error_reason, memo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	now := r.now()
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, rec := range records {
			_, err := tx.ExecContext(ctx, query,
				batchID, rec.JobID, rec.TechnicianID, rec.Date, rec.ServiceType, rec.Status,
				nullString(rec.StartTime), nullString(rec.EndTime), rec.TravelTimeMinutes,
				pq.Array(rec.FallbackDetails), rec.ErrorReason, rec.Memo, now,
			)
			if err != nil {
				return fmt.Errorf("保存作业 %s 的派单记录失败: %w", rec.JobID, err)
			}
		}
		return nil
	})
}

// batchSummaryRow 批次汇总行
type batchSummaryRow struct {
	BatchID   string    `db:"batch_id"`
	Status    string    `db:"status"`
	Count     int       `db:"count"`
	CreatedAt time.Time `db:"created_at"`
}

// BatchSummary 批次汇总
type BatchSummary struct {
	BatchID   string         `json:"batch_id"`
	Counts    map[string]int `json:"counts"`
	CreatedAt time.Time      `json:"created_at"`
}

// Summary 查询批次内各状态的作业数
func (r *AssignmentRepository) Summary(ctx context.Context, batchID string) (*BatchSummary, error) {
	const query = `
		SELECT batch_id, status, COUNT(*) AS count, MIN(created_at) AS created_at
		FROM assignments
		WHERE batch_id = $1
		GROUP BY batch_id, status
	`

	var rows []batchSummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, batchID); err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}

	summary := &BatchSummary{BatchID: batchID, Counts: make(map[string]int), CreatedAt: rows[0].CreatedAt}
	for _, row := range rows {
		summary.Counts[row.Status] = row.Count
		if row.CreatedAt.Before(summary.CreatedAt) {
			summary.CreatedAt = row.CreatedAt
		}
	}
	return summary, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
