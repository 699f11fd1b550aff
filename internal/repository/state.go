package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

type stateRow struct {
	TechnicianID string          `db:"technician_id"`
	LastAddress  sql.NullString  `db:"last_address"`
	LastLat      sql.NullFloat64 `db:"last_lat"`
	LastLng      sql.NullFloat64 `db:"last_lng"`
	LastEndTime  sql.NullString  `db:"last_end_time"`
}

func (r stateRow) toModel() model.TechnicianState {
	state := model.TechnicianState{
		TechnicianID: r.TechnicianID,
		LastEndTime:  r.LastEndTime.String,
	}
	loc := model.Location{
		Address:   r.LastAddress.String,
		Latitude:  r.LastLat.Float64,
		Longitude: r.LastLng.Float64,
	}
	if !loc.IsZero() {
		state.LastLocation = &loc
	}
	return state
}

const upsertStateQuery = `
	INSERT INTO technician_states (technician_id, last_address, last_lat, last_lng, last_end_time, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (technician_id) DO UPDATE SET
		last_address = EXCLUDED.last_address, last_lat = EXCLUDED.last_lat,
		last_lng = EXCLUDED.last_lng, last_end_time = EXCLUDED.last_end_time,
		updated_at = EXCLUDED.updated_at
`

// TechnicianStateRepository 技师批次结束状态仓储
type TechnicianStateRepository struct {
	db  TxRunner
	now func() time.Time
}

// NewTechnicianStateRepository 创建状态仓储
func NewTechnicianStateRepository(db TxRunner) *TechnicianStateRepository {
	return &TechnicianStateRepository{db: db, now: time.Now}
}

// List 查询全部技师状态
func (r *TechnicianStateRepository) List(ctx context.Context) ([]model.TechnicianState, error) {
	const query = `
		SELECT technician_id, last_address, last_lat, last_lng, last_end_time
		FROM technician_states
		ORDER BY technician_id ASC
	`

	var rows []stateRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("查询技师状态失败: %w", err)
	}

	states := make([]model.TechnicianState, 0, len(rows))
	for _, row := range rows {
		states = append(states, row.toModel())
	}
	return states, nil
}

// Upsert 保存单个技师状态
func (r *TechnicianStateRepository) Upsert(ctx context.Context, state model.TechnicianState) error {
	return upsertState(ctx, r.db, state, r.now())
}

// UpsertAll 在一个事务中保存批次结束后的全部状态
func (r *TechnicianStateRepository) UpsertAll(ctx context.Context, states []model.TechnicianState) error {
	if len(states) == 0 {
		return nil
	}
	now := r.now()
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, state := range states {
			if err := upsertState(ctx, tx, state, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertState(ctx context.Context, db Querier, state model.TechnicianState, now time.Time) error {
	if state.TechnicianID == "" {
		return fmt.Errorf("技师状态缺少 technician_id")
	}

	var loc model.Location
	if state.LastLocation != nil {
		loc = *state.LastLocation
	}
	endTime := sql.NullString{String: state.LastEndTime, Valid: state.LastEndTime != ""}

	_, err := db.ExecContext(ctx, upsertStateQuery,
		state.TechnicianID,
		sql.NullString{String: loc.Address, Valid: loc.Address != ""},
		nullFloat(loc.Latitude), nullFloat(loc.Longitude),
		endTime, now,
	)
	if err != nil {
		return fmt.Errorf("保存技师 %s 状态失败: %w", state.TechnicianID, err)
	}
	return nil
}
