package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// technicianRow technicians 表行
type technicianRow struct {
	TechnicianID    string          `db:"technician_id"`
	Name            sql.NullString  `db:"name"`
	HomeAddress     sql.NullString  `db:"home_address"`
	HomeLat         sql.NullFloat64 `db:"home_lat"`
	HomeLng         sql.NullFloat64 `db:"home_lng"`
	ServiceTypes    pq.StringArray  `db:"service_types"`
	OvertimeAllowed bool            `db:"overtime_allowed"`
	ServiceFactors  []byte          `db:"service_factors"`
	DaysOff         pq.StringArray  `db:"days_off"`
}

func (r technicianRow) toModel() (*model.Technician, error) {
	tech := &model.Technician{
		TechnicianID: r.TechnicianID,
		Name:         r.Name.String,
		Home: model.Location{
			Address:   r.HomeAddress.String,
			Latitude:  r.HomeLat.Float64,
			Longitude: r.HomeLng.Float64,
		},
		ServiceTypes:    []string(r.ServiceTypes),
		OvertimeAllowed: r.OvertimeAllowed,
		DaysOff:         []string(r.DaysOff),
	}
	if len(r.ServiceFactors) > 0 {
		if err := json.Unmarshal(r.ServiceFactors, &tech.ServiceFactors); err != nil {
			return nil, fmt.Errorf("技师 %s 的 service_factors 无法解析: %w", r.TechnicianID, err)
		}
	}
	return tech, nil
}

// TechnicianRepository 技师名册仓储
type TechnicianRepository struct {
	db Querier
}

// NewTechnicianRepository 创建技师仓储
func NewTechnicianRepository(db Querier) *TechnicianRepository {
	return &TechnicianRepository{db: db}
}

// ListActive 查询在职技师，按ID排序以保证名册顺序稳定
func (r *TechnicianRepository) ListActive(ctx context.Context) ([]*model.Technician, error) {
	const query = `
		SELECT technician_id, name, home_address, home_lat, home_lng,
			service_types, overtime_allowed, service_factors, days_off
		FROM technicians
		WHERE active = TRUE
		ORDER BY technician_id ASC
	`

	var rows []technicianRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("查询技师失败: %w", err)
	}

	techs := make([]*model.Technician, 0, len(rows))
	for _, row := range rows {
		tech, err := row.toModel()
		if err != nil {
			return nil, err
		}
		if err := tech.ValidateFactors(); err != nil {
			return nil, err
		}
		techs = append(techs, tech)
	}
	return techs, nil
}

// Upsert 新增或更新技师
func (r *TechnicianRepository) Upsert(ctx context.Context, tech *model.Technician) error {
	factors, err := json.Marshal(tech.ServiceFactors)
	if err != nil {
		return fmt.Errorf("序列化 service_factors 失败: %w", err)
	}

	const query = `
		INSERT INTO technicians (
			technician_id, name, home_address, home_lat, home_lng,
			service_types, overtime_allowed, service_factors, days_off, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (technician_id) DO UPDATE SET
			name = EXCLUDED.name, home_address = EXCLUDED.home_address,
			home_lat = EXCLUDED.home_lat, home_lng = EXCLUDED.home_lng,
			service_types = EXCLUDED.service_types, overtime_allowed = EXCLUDED.overtime_allowed,
			service_factors = EXCLUDED.service_factors, days_off = EXCLUDED.days_off, active = TRUE
	`

	_, err = r.db.ExecContext(ctx, query,
		tech.TechnicianID, tech.Name, tech.Home.Address,
		nullFloat(tech.Home.Latitude), nullFloat(tech.Home.Longitude),
		pq.Array(tech.ServiceTypes), tech.OvertimeAllowed, factors, pq.Array(tech.DaysOff),
	)
	if err != nil {
		return fmt.Errorf("保存技师失败: %w", err)
	}
	return nil
}
